package config

import (
	"fmt"
	"io"

	"github.com/bookmarker/bookmarker-go/internal/kvstore"
)

// RenderEffective writes the resolved configuration as a human-readable
// annotated summary to w. This powers "config show"; baseURL is the
// effective service URL after every override layer.
func RenderEffective(cfg *Config, path, baseURL string, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n\n", path)
	ew.printf("base_url = %q\n\n", baseURL)

	s := &cfg.Storage
	ew.printf("[storage]\n")
	ew.printf("  backend        = %q\n", s.Backend)

	switch s.Backend {
	case kvstore.BackendRedis:
		ew.printf("  redis_addr     = %q\n", s.RedisAddr)
		ew.printf("  redis_prefix   = %q\n", s.RedisPrefix)
	case kvstore.BackendFile, kvstore.BackendSQLite:
		ew.printf("  path           = %q\n", s.StorePath())
	}

	ew.printf("  credential_key = %q\n", s.CredentialKey)
	ew.printf("  base_url_key   = %q\n\n", s.BaseURLKey)

	ew.printf("[renewal]\n")
	ew.printf("  interval  = %q\n", cfg.Renewal.Interval)
	ew.printf("  threshold = %q\n\n", cfg.Renewal.Threshold)

	ew.printf("[network]\n")
	ew.printf("  timeout    = %q\n", cfg.Network.Timeout)

	if cfg.Network.UserAgent != "" {
		ew.printf("  user_agent = %q\n", cfg.Network.UserAgent)
	}

	ew.printf("\n[logging]\n")
	ew.printf("  log_level  = %q\n", cfg.Logging.LogLevel)
	ew.printf("  log_format = %q\n\n", cfg.Logging.LogFormat)

	ew.printf("[maintenance]\n")
	ew.printf("  purge_after = %q\n", cfg.Maintenance.PurgeAfter)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
