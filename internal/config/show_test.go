package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderEffective_File(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Path = "/data/session.json"

	var buf bytes.Buffer
	require.NoError(t, RenderEffective(cfg, "/etc/config.toml", "https://api.example", &buf))

	out := buf.String()
	assert.Contains(t, out, "(file: /etc/config.toml)")
	assert.Contains(t, out, `base_url = "https://api.example"`)
	assert.Contains(t, out, `"/data/session.json"`)
	assert.NotContains(t, out, "redis_addr")
	assert.NotContains(t, out, "user_agent")

	for _, section := range []string{"[storage]", "[renewal]", "[network]", "[logging]", "[maintenance]"} {
		assert.Contains(t, out, section)
	}
}

func TestRenderEffective_Redis(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Backend = "redis"
	cfg.Storage.RedisAddr = "cache:6379"
	cfg.Network.UserAgent = "ua/1"

	var buf bytes.Buffer
	require.NoError(t, RenderEffective(cfg, "p", "u", &buf))

	assert.Contains(t, buf.String(), `redis_addr     = "cache:6379"`)
	assert.Contains(t, buf.String(), `user_agent = "ua/1"`)
	assert.NotContains(t, buf.String(), "  path ")
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestRenderEffective_WriteError(t *testing.T) {
	err := RenderEffective(DefaultConfig(), "p", "u", failingWriter{})
	assert.EqualError(t, err, "disk full")
}

func TestWriteTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	require.NoError(t, WriteTemplate(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, configTemplate, string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(configFilePermissions), info.Mode().Perm())

	err = WriteTemplate(path)
	require.ErrorIs(t, err, ErrConfigExists)
}
