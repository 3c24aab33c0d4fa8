package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig      = "BOOKMARKER_CONFIG"
	EnvBaseURL     = "BOOKMARKER_BASE_URL"
	EnvStoragePath = "BOOKMARKER_STORAGE_PATH"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath  string // BOOKMARKER_CONFIG: override config file path
	BaseURL     string // BOOKMARKER_BASE_URL: service base URL
	StoragePath string // BOOKMARKER_STORAGE_PATH: session store path
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; Resolve applies the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:  os.Getenv(EnvConfig),
		BaseURL:     os.Getenv(EnvBaseURL),
		StoragePath: os.Getenv(EnvStoragePath),
	}
}
