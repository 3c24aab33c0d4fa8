package config

import (
	"log/slog"
	"sync"
)

// Holder provides thread-safe access to a mutable *Config and an immutable
// config file path. The daemon reads settings through one Holder, so a reload
// updates config in exactly one place.
type Holder struct {
	mu   sync.RWMutex
	cfg  *Config
	path string // immutable after construction
}

// NewHolder creates a Holder with the initial config and config file path.
func NewHolder(cfg *Config, path string) *Holder {
	return &Holder{
		cfg:  cfg,
		path: path,
	}
}

// Config returns the current config snapshot.
func (h *Holder) Config() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.cfg
}

// Path returns the config file path.
func (h *Holder) Path() string {
	return h.path
}

// Update replaces the config.
func (h *Holder) Update(cfg *Config) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.cfg = cfg
}

// Reload re-reads the config file and swaps it in. On error the current
// config is kept. Environment overrides are applied as at startup.
func (h *Holder) Reload(env EnvOverrides, logger *slog.Logger) (*Config, error) {
	cfg, err := LoadOrDefault(h.path, logger)
	if err != nil {
		return nil, err
	}

	if env.StoragePath != "" {
		cfg.Storage.Path = env.StoragePath
	}

	h.Update(cfg)

	return cfg, nil
}
