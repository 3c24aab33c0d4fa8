package kvstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	sqlGet = `SELECT value FROM kv WHERE key = ?`

	sqlUpsert = `INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
		 value = excluded.value,
		 updated_at = excluded.updated_at`

	sqlDelete = `DELETE FROM kv WHERE key = ?`
)

// SQLite stores keys in a single table. Writes go through one connection
// and the database runs in WAL mode with synchronous=FULL.
type SQLite struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time
}

// OpenSQLite opens (creating if needed) the database at dbPath and applies
// pending migrations.
func OpenSQLite(ctx context.Context, dbPath string, logger *slog.Logger) (*SQLite, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, DirPerms); err != nil {
			return nil, fmt.Errorf("kvstore: creating directory %s: %w", dir, err)
		}
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("kvstore: opening database %s: %w", dbPath, err)
	}

	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("sqlite store ready", slog.String("db_path", dbPath))

	return &SQLite{db: db, logger: logger, nowFunc: time.Now}, nil
}

// runMigrations applies all pending schema migrations with the goose v3
// Provider API.
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("kvstore: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("kvstore: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("kvstore: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

func (s *SQLite) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte

	err := s.db.QueryRowContext(ctx, sqlGet, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("kvstore: reading %q: %w", key, err)
	}

	return value, true, nil
}

func (s *SQLite) Set(ctx context.Context, key string, value []byte) error {
	if _, err := s.db.ExecContext(ctx, sqlUpsert, key, value, s.nowFunc().UnixMilli()); err != nil {
		return fmt.Errorf("kvstore: writing %q: %w", key, err)
	}

	return nil
}

func (s *SQLite) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, sqlDelete, key); err != nil {
		return fmt.Errorf("kvstore: deleting %q: %w", key, err)
	}

	return nil
}

// Close releases the database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}
