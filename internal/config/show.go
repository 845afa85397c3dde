package config

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

const redacted = "<redacted>"

// RenderEffective writes the resolved configuration as annotated TOML-ish
// text for the "config show" command. Secrets are redacted.
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration from %s\n\n", r.Path)

	if r.ProviderName != "" {
		ew.printf("active_provider = %q\n\n", r.ProviderName)
	}

	ew.printf("[logging]\n")
	ew.printf("  log_level  = %q\n", r.Logging.LogLevel)
	ew.printf("  log_format = %q\n\n", r.Logging.LogFormat)

	ew.printf("[network]\n")
	ew.printf("  user_agent      = %q\n", r.Network.UserAgent)
	ew.printf("  connect_timeout = %q\n\n", r.Network.ConnectTimeout)

	renderSync(ew, &r.Sync)

	if r.Metrics.Listen != "" {
		ew.printf("[metrics]\n  listen = %q\n\n", r.Metrics.Listen)
	}

	for _, name := range r.ProviderNames() {
		pc := r.Providers[name]
		renderProvider(ew, name, &pc)
	}

	return ew.err
}

// errWriter captures the first write error so printf calls can be chained.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func renderSync(ew *errWriter, s *SyncConfig) {
	ew.printf("[sync]\n")
	ew.printf("  stale_after    = %q\n", s.StaleAfter)
	ew.printf("  watch_debounce = %q\n", s.WatchDebounce)
	ew.printf("  include        = [%s]\n", joinQuoted(s.Include))
	ew.printf("  exclude        = [%s]\n", joinQuoted(s.Exclude))

	roles := make([]string, 0, len(s.Roles))
	for role := range s.Roles {
		roles = append(roles, role)
	}

	sort.Strings(roles)

	ew.printf("\n[sync.roles]\n")

	for _, role := range roles {
		ew.printf("  %s = %q\n", role, s.Roles[role])
	}

	ew.printf("\n")
}

func renderProvider(ew *errWriter, name string, p *ProviderConfig) {
	ew.printf("[providers.%s]\n", name)
	ew.printf("  type = %q\n", p.Type)

	field := func(key, value string) {
		if value != "" {
			ew.printf("  %s = %q\n", key, value)
		}
	}

	secret := func(key, value string) {
		if value != "" {
			ew.printf("  %s = %q\n", key, redacted)
		}
	}

	field("client_id", p.ClientID)
	secret("client_secret", p.ClientSecret)
	field("redirect_uri", p.RedirectURI)
	field("base_url", p.BaseURL)
	field("bucket", p.Bucket)
	field("region", p.Region)
	field("endpoint", p.Endpoint)
	field("access_key_id", p.AccessKeyID)
	secret("secret_access_key", p.SecretAccessKey)
	field("root", p.Root)

	if p.PathStyle {
		ew.printf("  path_style = true\n")
	}

	if p.MaxKeys != 0 {
		ew.printf("  max_keys = %d\n", p.MaxKeys)
	}

	ew.printf("\n")
}

func joinQuoted(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = fmt.Sprintf("%q", s)
	}

	return strings.Join(quoted, ", ")
}
