// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for savesync. Values resolve through a
// four-layer chain: defaults, config file, environment, CLI flags.
package config

import (
	"path/filepath"
	"sort"
	"time"

	"github.com/tonimelisma/savesync/internal/cloud"
)

// Provider types accepted in [providers.<name>] sections.
const (
	TypeOneDrive = "onedrive"
	TypeGDrive   = "gdrive"
	TypeS3       = "s3"
	TypeLocal    = "local"
)

// Config is the top-level configuration parsed from a TOML file.
type Config struct {
	DefaultProvider string                    `toml:"default_provider"`
	Logging         LoggingConfig             `toml:"logging"`
	Network         NetworkConfig             `toml:"network"`
	Sync            SyncConfig                `toml:"sync"`
	Metrics         MetricsConfig             `toml:"metrics"`
	Providers       map[string]ProviderConfig `toml:"providers"`
}

// LoggingConfig controls log level and output format.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls the HTTP client shared by the REST backends.
type NetworkConfig struct {
	UserAgent      string `toml:"user_agent"`
	ConnectTimeout string `toml:"connect_timeout"`
}

// SyncConfig maps folder roles to local directories and filters which
// files take part. Include and exclude are doublestar patterns matched
// against the file name relative to its role directory.
type SyncConfig struct {
	Roles         map[string]string `toml:"roles"`
	Include       []string          `toml:"include"`
	Exclude       []string          `toml:"exclude"`
	StaleAfter    string            `toml:"stale_after"`
	WatchDebounce string            `toml:"watch_debounce"`
}

// MetricsConfig controls the Prometheus endpoint served in watch mode.
type MetricsConfig struct {
	Listen string `toml:"listen"`
}

// ProviderConfig is one [providers.<name>] section. Which fields apply
// depends on Type.
type ProviderConfig struct {
	Type string `toml:"type"`

	// OAuth backends.
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURI  string `toml:"redirect_uri"`
	BaseURL      string `toml:"base_url"`

	// S3.
	Bucket          string `toml:"bucket"`
	Region          string `toml:"region"`
	Endpoint        string `toml:"endpoint"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	PathStyle       bool   `toml:"path_style"`
	MaxKeys         int    `toml:"max_keys"`

	// S3 key prefix, or the directory of a local provider.
	Root string `toml:"root"`
}

// CLIOverrides holds values from CLI flags. Empty means not specified.
type CLIOverrides struct {
	ConfigPath string // --config
	Provider   string // --provider
}

// ProviderNames returns the configured provider names in sorted order.
func (c *Config) ProviderNames() []string {
	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// RoleDirs returns the configured roles with tilde-expanded directories.
// Unknown role names are dropped; Validate reports them.
func (s *SyncConfig) RoleDirs() map[cloud.Role]string {
	out := make(map[cloud.Role]string, len(s.Roles))

	for name, dir := range s.Roles {
		role, err := cloud.ParseRole(name)
		if err != nil {
			continue
		}

		out[role] = filepath.Clean(expandTilde(dir))
	}

	return out
}

// StaleAfterDuration parses stale_after, falling back to the default.
func (s *SyncConfig) StaleAfterDuration() time.Duration {
	return durationOr(s.StaleAfter, defaultStaleAfter)
}

// WatchDebounceDuration parses watch_debounce, falling back to the default.
func (s *SyncConfig) WatchDebounceDuration() time.Duration {
	return durationOr(s.WatchDebounce, defaultWatchDebounce)
}

// ConnectTimeoutDuration parses connect_timeout, falling back to the default.
func (n *NetworkConfig) ConnectTimeoutDuration() time.Duration {
	return durationOr(n.ConnectTimeout, defaultConnectTimeout)
}

func durationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}

	return d
}
