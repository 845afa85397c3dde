package config

import "time"

// Default values for configuration options, the first layer of the
// override chain.
const (
	defaultLogLevel       = "info"
	defaultLogFormat      = "auto"
	defaultConnectTimeout = 10 * time.Second
	defaultStaleAfter     = 30 * time.Second
	defaultWatchDebounce  = 2 * time.Second
)

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding, so unset fields keep defaults.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		Network: NetworkConfig{
			ConnectTimeout: defaultConnectTimeout.String(),
		},
		Sync: SyncConfig{
			Roles:         map[string]string{},
			StaleAfter:    defaultStaleAfter.String(),
			WatchDebounce: defaultWatchDebounce.String(),
		},
		Providers: map[string]ProviderConfig{},
	}
}
