// Package kvstore provides the persistent key-value backends that hold the
// client's credential and settings. Every backend stores opaque byte values
// by string key; absence is reported with found=false rather than an error.
//
// Backends are interchangeable: the file backend suits a single user on one
// machine, SQLite adds crash-safe durability with schema migrations, Redis
// lets several hosts share one session, and the memory backend serves tests
// and one-shot runs.
package kvstore

import (
	"context"
	"fmt"
	"log/slog"
)

// Store is the capability every backend implements.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Options selects and configures a backend.
type Options struct {
	Backend     string
	Path        string // file and sqlite backends
	RedisAddr   string
	RedisPrefix string
}

// Open constructs the backend named by opts.Backend.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch opts.Backend {
	case BackendFile:
		return NewFile(opts.Path), nil
	case BackendSQLite:
		return OpenSQLite(ctx, opts.Path, logger)
	case BackendRedis:
		return NewRedis(opts.RedisAddr, opts.RedisPrefix), nil
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("kvstore: unknown backend %q", opts.Backend)
	}
}
