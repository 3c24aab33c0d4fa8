package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/bookmarker/bookmarker-go/internal/credstore"
)

// CLIOverrides holds values from command-line flags. Empty strings mean
// "not specified on the command line".
type CLIOverrides struct {
	ConfigPath string // --config
	BaseURL    string // --base-url
}

// Load reads and parses a TOML config file, validates all values, and
// returns the resulting Config. Unset keys keep their defaults.
func Load(path string, logger *slog.Logger) (*Config, error) {
	logger.Debug("loading config file", slog.String("path", path))

	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	logger.Debug("config loaded",
		slog.String("path", path),
		slog.String("backend", cfg.Storage.Backend),
	)

	return cfg, nil
}

// LoadOrDefault reads the config file if it exists, or returns defaults if
// it does not. A missing config file is not an error.
func LoadOrDefault(path string, logger *slog.Logger) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		logger.Debug("config file not found, using defaults", slog.String("path", path))

		return DefaultConfig(), nil
	}

	return Load(path, logger)
}

// ResolveConfigPath picks the config file path: --config, then
// BOOKMARKER_CONFIG, then the platform default.
func ResolveConfigPath(env EnvOverrides, cli CLIOverrides) string {
	switch {
	case cli.ConfigPath != "":
		return cli.ConfigPath
	case env.ConfigPath != "":
		return env.ConfigPath
	default:
		return DefaultConfigPath()
	}
}

// Resolve loads the config file chosen by ResolveConfigPath and applies
// the environment overrides. It returns the config and the path it came
// from. The base URL is not merged here; see EffectiveBaseURL.
func Resolve(env EnvOverrides, cli CLIOverrides, logger *slog.Logger) (*Config, string, error) {
	path := ResolveConfigPath(env, cli)

	cfg, err := LoadOrDefault(path, logger)
	if err != nil {
		return nil, path, err
	}

	if env.StoragePath != "" {
		cfg.Storage.Path = env.StoragePath
	}

	if err := validateBaseURL("--base-url", cli.BaseURL); err != nil {
		return nil, path, errors.Join(err...)
	}

	if err := validateBaseURL(EnvBaseURL, env.BaseURL); err != nil {
		return nil, path, errors.Join(err...)
	}

	return cfg, path, nil
}

// EffectiveBaseURL picks the service base URL: the --base-url flag, then
// BOOKMARKER_BASE_URL, then the value persisted with "config set-url", then
// the config file, then the unconfigured placeholder.
func EffectiveBaseURL(cfg *Config, env EnvOverrides, cli CLIOverrides, persisted string) string {
	for _, candidate := range []string{cli.BaseURL, env.BaseURL} {
		if candidate != "" {
			return credstore.NormalizeBaseURL(candidate)
		}
	}

	if credstore.IsConfigured(persisted) {
		return persisted
	}

	if cfg.BaseURL != "" {
		return credstore.NormalizeBaseURL(cfg.BaseURL)
	}

	return credstore.DefaultBaseURL
}
