package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/tonimelisma/savesync/internal/cloud"
)

const (
	minConnectTimeout = 1 * time.Second
	maxS3Keys         = 1000
)

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

var validLogFormats = map[string]bool{"auto": true, "text": true, "json": true}

var validProviderTypes = map[string]bool{TypeOneDrive: true, TypeGDrive: true, TypeS3: true, TypeLocal: true}

// Validate checks all configuration values and returns every error found,
// joined, so one run reports everything that needs fixing.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)
	errs = append(errs, validateSync(&cfg.Sync)...)

	for _, name := range cfg.ProviderNames() {
		pc := cfg.Providers[name]
		errs = append(errs, validateProvider(name, &pc)...)
	}

	if cfg.DefaultProvider != "" {
		if _, ok := cfg.Providers[cfg.DefaultProvider]; !ok {
			errs = append(errs, fmt.Errorf("default_provider: no [providers.%s] section", cfg.DefaultProvider))
		}
	}

	return errors.Join(errs...)
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("log_format: must be one of auto, text, json; got %q", l.LogFormat))
	}

	return errs
}

func validateNetwork(n *NetworkConfig) []error {
	d, err := time.ParseDuration(n.ConnectTimeout)
	if err != nil {
		return []error{fmt.Errorf("connect_timeout: invalid duration %q", n.ConnectTimeout)}
	}

	if d < minConnectTimeout {
		return []error{fmt.Errorf("connect_timeout: must be at least %s, got %s", minConnectTimeout, d)}
	}

	return nil
}

func validateSync(s *SyncConfig) []error {
	var errs []error

	for name, dir := range s.Roles {
		if _, err := cloud.ParseRole(name); err != nil {
			errs = append(errs, fmt.Errorf("sync.roles: %w", err))
		}

		if dir == "" {
			errs = append(errs, fmt.Errorf("sync.roles.%s: directory must not be empty", name))
		}
	}

	for _, p := range s.Include {
		if !doublestar.ValidatePattern(p) {
			errs = append(errs, fmt.Errorf("sync.include: invalid pattern %q", p))
		}
	}

	for _, p := range s.Exclude {
		if !doublestar.ValidatePattern(p) {
			errs = append(errs, fmt.Errorf("sync.exclude: invalid pattern %q", p))
		}
	}

	if d, err := time.ParseDuration(s.StaleAfter); err != nil || d < 0 {
		errs = append(errs, fmt.Errorf("sync.stale_after: must be a non-negative duration, got %q", s.StaleAfter))
	}

	if d, err := time.ParseDuration(s.WatchDebounce); err != nil || d < 0 {
		errs = append(errs, fmt.Errorf("sync.watch_debounce: must be a non-negative duration, got %q", s.WatchDebounce))
	}

	return errs
}

func validateProvider(name string, p *ProviderConfig) []error {
	var errs []error

	prefix := "providers." + name

	if !validProviderTypes[p.Type] {
		return []error{fmt.Errorf("%s.type: must be one of onedrive, gdrive, s3, local; got %q", prefix, p.Type)}
	}

	for field, raw := range map[string]string{"base_url": p.BaseURL, "endpoint": p.Endpoint, "redirect_uri": p.RedirectURI} {
		if raw == "" {
			continue
		}

		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s.%s: must be an absolute URL, got %q", prefix, field, raw))
		}
	}

	switch p.Type {
	case TypeS3:
		if p.Bucket == "" {
			errs = append(errs, fmt.Errorf("%s.bucket: required for s3", prefix))
		}

		if (p.AccessKeyID == "") != (p.SecretAccessKey == "") {
			errs = append(errs, fmt.Errorf("%s: access_key_id and secret_access_key must be set together", prefix))
		}

		if p.MaxKeys < 0 || p.MaxKeys > maxS3Keys {
			errs = append(errs, fmt.Errorf("%s.max_keys: must be between 0 and %d, got %d", prefix, maxS3Keys, p.MaxKeys))
		}
	case TypeLocal:
		if p.Root == "" {
			errs = append(errs, fmt.Errorf("%s.root: required for local", prefix))
		}
	case TypeGDrive:
		if p.ClientID != "" && p.ClientSecret == "" {
			errs = append(errs, fmt.Errorf("%s.client_secret: required with client_id for gdrive", prefix))
		}
	}

	return errs
}

// LocalRoot returns the tilde-expanded root of a local provider.
func (p *ProviderConfig) LocalRoot() string {
	return expandTilde(p.Root)
}
