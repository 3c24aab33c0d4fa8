package config

import (
	"path/filepath"

	"github.com/bookmarker/bookmarker-go/internal/credstore"
	"github.com/bookmarker/bookmarker-go/internal/kvstore"
)

// Default values for configuration options. These are chosen to work out of
// the box for a single user on one machine.
const (
	defaultBackend     = kvstore.BackendFile
	defaultStoreFile   = "session.json"
	defaultRenewal     = "25m"
	defaultThreshold   = "20m"
	defaultTimeout     = "30s"
	defaultLogLevel    = "warn"
	defaultLogFormat   = "auto"
	defaultPurgeAfter  = "30d"
	defaultSQLiteFile  = "session.db"
	defaultRedisPrefix = kvstore.DefaultRedisPrefix
)

// DefaultConfig returns a Config populated with all default values. Used as
// the starting point before TOML decoding so that unset keys keep their
// defaults.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend:       defaultBackend,
			RedisPrefix:   defaultRedisPrefix,
			CredentialKey: credstore.DefaultCredentialKey,
			BaseURLKey:    credstore.DefaultBaseURLKey,
		},
		Renewal: RenewalConfig{
			Interval:  defaultRenewal,
			Threshold: defaultThreshold,
		},
		Network: NetworkConfig{
			Timeout: defaultTimeout,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		Maintenance: MaintenanceConfig{
			PurgeAfter: defaultPurgeAfter,
		},
	}
}

// StorePath returns the backend path to use: the configured path, or a file
// in the data directory named after the backend.
func (s *StorageConfig) StorePath() string {
	if s.Path != "" {
		return s.Path
	}

	dir := DefaultDataDir()
	if dir == "" {
		return ""
	}

	if s.Backend == kvstore.BackendSQLite {
		return filepath.Join(dir, defaultSQLiteFile)
	}

	return filepath.Join(dir, defaultStoreFile)
}

// StoreOptions converts the storage section to kvstore options.
func (s *StorageConfig) StoreOptions() kvstore.Options {
	return kvstore.Options{
		Backend:     s.Backend,
		Path:        s.StorePath(),
		RedisAddr:   s.RedisAddr,
		RedisPrefix: s.RedisPrefix,
	}
}

// Keys returns the credstore key names for the storage section.
func (s *StorageConfig) Keys() credstore.Keys {
	return credstore.Keys{Credential: s.CredentialKey, BaseURL: s.BaseURLKey}
}
