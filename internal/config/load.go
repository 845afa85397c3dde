package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

var (
	// ErrNoProvider is returned when no provider is selected and the
	// choice is ambiguous.
	ErrNoProvider = errors.New("config: no provider selected")

	// ErrUnknownProvider is returned when the selected provider has no
	// [providers.<name>] section.
	ErrUnknownProvider = errors.New("config: unknown provider")
)

// Load reads, parses and validates a TOML config file. Unknown keys are
// fatal, with "did you mean" suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validating %s: %w", path, err)
	}

	return cfg, nil
}

// LoadOrDefault reads path if it exists and otherwise returns defaults.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolved is the configuration after the override chain, with the active
// provider selected.
type Resolved struct {
	*Config

	Path         string
	ProviderName string
	Provider     ProviderConfig
}

// Resolve applies the chain defaults -> file -> env -> CLI. A provider is
// selected by --provider, then SAVESYNC_PROVIDER, then default_provider,
// then the only configured provider. With none of those, ProviderName is
// empty and commands needing a provider call Select.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	path := DefaultConfigPath()
	if env.ConfigPath != "" {
		path = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		path = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(path)
	if err != nil {
		return nil, err
	}

	r := &Resolved{Config: cfg, Path: path}

	name := cli.Provider
	if name == "" {
		name = env.Provider
	}

	if name == "" {
		name = cfg.DefaultProvider
	}

	if name == "" && len(cfg.Providers) == 1 {
		name = cfg.ProviderNames()[0]
	}

	if name == "" {
		return r, nil
	}

	if err := r.Select(name); err != nil {
		return nil, err
	}

	return r, nil
}

// Select makes name the active provider.
func (r *Resolved) Select(name string) error {
	pc, ok := r.Providers[name]
	if !ok {
		if s := closestMatch(name, r.ProviderNames()); s != "" {
			return fmt.Errorf("%w %q: did you mean %q?", ErrUnknownProvider, name, s)
		}

		return fmt.Errorf("%w %q", ErrUnknownProvider, name)
	}

	r.ProviderName = name
	r.Provider = pc

	return nil
}

// RequireProvider returns ErrNoProvider when none is selected.
func (r *Resolved) RequireProvider() error {
	if r.ProviderName != "" {
		return nil
	}

	if len(r.Providers) == 0 {
		return fmt.Errorf("%w: add a [providers.<name>] section to %s", ErrNoProvider, r.Path)
	}

	return fmt.Errorf("%w: pass --provider or set default_provider (have %v)", ErrNoProvider, r.ProviderNames())
}
