// Package config implements TOML configuration loading, validation, and
// override resolution for bookmarker.
//
// Settings are layered: built-in defaults, then the config file, then
// environment variables, then command-line flags. The config file is
// optional; a missing file means "all defaults". Unknown keys are fatal and
// come with "did you mean" suggestions.
package config

// Config is the top-level configuration, mapping directly to the TOML file.
type Config struct {
	BaseURL     string            `toml:"base_url"`
	Storage     StorageConfig     `toml:"storage"`
	Renewal     RenewalConfig     `toml:"renewal"`
	Network     NetworkConfig     `toml:"network"`
	Logging     LoggingConfig     `toml:"logging"`
	Maintenance MaintenanceConfig `toml:"maintenance"`
}

// StorageConfig selects the key-value backend that holds the credential and
// the persisted base URL.
type StorageConfig struct {
	Backend       string `toml:"backend"`
	Path          string `toml:"path"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPrefix   string `toml:"redis_prefix"`
	CredentialKey string `toml:"credential_key"`
	BaseURLKey    string `toml:"base_url_key"`
}

// RenewalConfig controls the background renewal scheduler run by the daemon.
type RenewalConfig struct {
	Interval  string `toml:"interval"`
	Threshold string `toml:"threshold"`
}

// NetworkConfig controls HTTP behavior.
type NetworkConfig struct {
	Timeout   string `toml:"timeout"`
	UserAgent string `toml:"user_agent"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// MaintenanceConfig controls the archive maintenance commands.
type MaintenanceConfig struct {
	PurgeAfter string `toml:"purge_after"`
}
