package config

import (
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultPaths_XDG(t *testing.T) {
	if runtime.GOOS != platformLinux {
		t.Skip("XDG variables only apply on Linux")
	}

	t.Setenv("XDG_CONFIG_HOME", "/xdg/config")
	t.Setenv("XDG_DATA_HOME", "/xdg/data")

	assert.Equal(t, "/xdg/config/bookmarker", DefaultConfigDir())
	assert.Equal(t, "/xdg/config/bookmarker/config.toml", DefaultConfigPath())
	assert.Equal(t, "/xdg/data/bookmarker", DefaultDataDir())
}

func TestDefaultPaths_HomeFallback(t *testing.T) {
	if runtime.GOOS != platformLinux {
		t.Skip("layout checked on Linux only")
	}

	t.Setenv("HOME", "/home/alice")
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("XDG_DATA_HOME", "")

	assert.Equal(t, filepath.Join("/home/alice", ".config", appName), DefaultConfigDir())
	assert.Equal(t, filepath.Join("/home/alice", ".local", "share", appName), DefaultDataDir())
}

func TestStorePath(t *testing.T) {
	if runtime.GOOS != platformLinux {
		t.Skip("layout checked on Linux only")
	}

	t.Setenv("XDG_DATA_HOME", "/xdg/data")

	s := DefaultConfig().Storage
	assert.Equal(t, "/xdg/data/bookmarker/session.json", s.StorePath())

	s.Backend = "sqlite"
	assert.Equal(t, "/xdg/data/bookmarker/session.db", s.StorePath())

	s.Path = "/explicit.db"
	assert.Equal(t, "/explicit.db", s.StoreOptions().Path)
}
