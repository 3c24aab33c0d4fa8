package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/bookmarker/bookmarker-go/internal/kvstore"
)

// Validation bounds.
const (
	minRenewalInterval = time.Second
	minTimeout         = time.Second
	minPurgeAfter      = time.Hour
)

// Validate checks all configuration values and returns every error found,
// not just the first, so the user can fix the whole file in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateBaseURL("base_url", cfg.BaseURL)...)
	errs = append(errs, validateStorage(&cfg.Storage)...)
	errs = append(errs, validateRenewal(&cfg.Renewal)...)
	errs = append(errs, validateDurationMin("network.timeout", cfg.Network.Timeout, minTimeout)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateDurationMin("maintenance.purge_after", cfg.Maintenance.PurgeAfter, minPurgeAfter)...)

	return errors.Join(errs...)
}

// ValidateBaseURL reports whether raw is an absolute http or https URL.
func ValidateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL %q must use http or https", raw)
	}

	if u.Host == "" {
		return fmt.Errorf("URL %q has no host", raw)
	}

	return nil
}

// validateBaseURL accepts an empty value, which means "not set here".
func validateBaseURL(field, raw string) []error {
	if raw == "" {
		return nil
	}

	if err := ValidateBaseURL(raw); err != nil {
		return []error{fmt.Errorf("%s: %w", field, err)}
	}

	return nil
}

var validBackends = map[string]bool{
	kvstore.BackendFile:   true,
	kvstore.BackendSQLite: true,
	kvstore.BackendRedis:  true,
	kvstore.BackendMemory: true,
}

func validateStorage(s *StorageConfig) []error {
	var errs []error

	if !validBackends[s.Backend] {
		errs = append(errs, fmt.Errorf("storage.backend: must be one of file, sqlite, redis, memory; got %q", s.Backend))
	}

	if s.Backend == kvstore.BackendRedis && s.RedisAddr == "" {
		errs = append(errs, errors.New("storage.redis_addr: required when backend is \"redis\""))
	}

	if s.CredentialKey == "" {
		errs = append(errs, errors.New("storage.credential_key: must not be empty"))
	}

	if s.BaseURLKey == "" {
		errs = append(errs, errors.New("storage.base_url_key: must not be empty"))
	}

	if s.CredentialKey != "" && s.CredentialKey == s.BaseURLKey {
		errs = append(errs, fmt.Errorf("storage.base_url_key: must differ from credential_key, both are %q", s.BaseURLKey))
	}

	return errs
}

func validateRenewal(r *RenewalConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("renewal.interval", r.Interval, minRenewalInterval)...)
	errs = append(errs, validateDurationNonNeg("renewal.threshold", r.Threshold)...)

	return errs
}

// validateDuration checks that a duration string is valid and meets a minimum.
func validateDuration(field, value string, minimum time.Duration) error {
	d, err := ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	if d < minimum {
		return fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)
	}

	return nil
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	if err := validateDuration(field, value, minimum); err != nil {
		return []error{err}
	}

	return nil
}

func validateDurationNonNeg(field, value string) []error {
	return validateDurationMin(field, value, 0)
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("logging.log_level: must be one of debug, info, warn, error; got %q", l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("logging.log_format: must be one of auto, text, json; got %q", l.LogFormat))
	}

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}
