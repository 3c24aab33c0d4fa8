package kvstore

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseStore runs the behavior every backend must share.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()

	ctx := context.Background()

	_, found, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Set(ctx, "auth", []byte(`{"a":1}`)))

	v, found, err := s.Get(ctx, "auth")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, `{"a":1}`, string(v))

	// Overwrite replaces wholesale.
	require.NoError(t, s.Set(ctx, "auth", []byte(`{"a":2}`)))

	v, _, err = s.Get(ctx, "auth")
	require.NoError(t, err)
	assert.Equal(t, `{"a":2}`, string(v))

	require.NoError(t, s.Set(ctx, "url", []byte("http://x")))
	require.NoError(t, s.Remove(ctx, "auth"))

	_, found, err = s.Get(ctx, "auth")
	require.NoError(t, err)
	assert.False(t, found)

	// Other keys survive a removal.
	v, found, err = s.Get(ctx, "url")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "http://x", string(v))

	// Removing an absent key is not an error.
	require.NoError(t, s.Remove(ctx, "never-set"))
}

func TestMemory(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestMemory_ValuesAreCopied(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	buf := []byte("abc")
	require.NoError(t, m.Set(ctx, "k", buf))
	buf[0] = 'X'

	v, _, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(v))
}

func TestFile(t *testing.T) {
	exerciseStore(t, NewFile(filepath.Join(t.TempDir(), "state", "state.json")))
}

func TestFile_Permissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	f := NewFile(path)

	require.NoError(t, f.Set(context.Background(), "k", []byte("v")))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(FilePerms), info.Mode().Perm())
}

func TestFile_SharedBetweenInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	writer := NewFile(path)
	reader := NewFile(path)
	ctx := context.Background()

	require.NoError(t, writer.Set(ctx, "k", []byte("v1")))

	v, found, err := reader.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v1", string(v))
}

func TestFile_CorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, _, err := NewFile(path).Get(context.Background(), "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding")
}

func TestFile_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	f := NewFile(filepath.Join(dir, "state.json"))

	require.NoError(t, f.Set(context.Background(), "k", []byte("v")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "state.json", entries[0].Name())
}

func TestSQLite(t *testing.T) {
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "state.db"), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	exerciseStore(t, s)
}

func TestSQLite_ReopenKeepsValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	s, err := OpenSQLite(ctx, path, slog.Default())
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "k", []byte("persisted")))
	require.NoError(t, s.Close())

	// Migrations are idempotent on reopen.
	s, err = OpenSQLite(ctx, path, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	v, found, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "persisted", string(v))
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	tests := []struct {
		name string
		opts Options
	}{
		{"memory", Options{Backend: BackendMemory}},
		{"file", Options{Backend: BackendFile, Path: filepath.Join(dir, "state.json")}},
		{"sqlite", Options{Backend: BackendSQLite, Path: filepath.Join(dir, "state.db")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Open(ctx, tt.opts, nil)
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })

			exerciseStore(t, s)
		})
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), Options{Backend: "etcd"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown backend "etcd"`)
}
