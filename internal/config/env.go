package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig   = "SAVESYNC_CONFIG"
	EnvProvider = "SAVESYNC_PROVIDER"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // SAVESYNC_CONFIG: override config file path
	Provider   string // SAVESYNC_PROVIDER: active provider name
}

// ReadEnvOverrides reads the override environment variables.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		Provider:   os.Getenv(EnvProvider),
	}
}
