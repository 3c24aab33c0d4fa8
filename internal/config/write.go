package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// configFilePermissions is the standard permission mode for config files.
const configFilePermissions = 0o644

// configDirPermissions is the standard permission mode for config directories.
const configDirPermissions = 0o755

// ErrConfigExists is returned by WriteTemplate when the file already exists.
var ErrConfigExists = errors.New("config: file already exists")

// configTemplate is the starter config file written by "config init". Every
// setting is present as a commented-out default.
const configTemplate = `# bookmarker configuration

# Service base URL. "bookmarker config set-url" persists one in the session
# store instead, which takes precedence over this value.
# base_url = "https://bookmarks.example.com/api"

[storage]
# Where the session is kept: file, sqlite, redis, memory
# backend = "file"
# path = ""                 # file/sqlite; default is the data directory
# redis_addr = ""           # required for redis
# redis_prefix = "bookmarker:"
# credential_key = "bookmarker_auth"
# base_url_key = "bookmarker_api_url"

[renewal]
# How often the daemon checks the session, and the credential age past
# which it renews.
# interval = "25m"
# threshold = "20m"

[network]
# timeout = "30s"
# user_agent = ""

[logging]
# log_level = "warn"        # debug, info, warn, error
# log_format = "auto"       # auto, text, json

[maintenance]
# How long a bookmark stays archived before "purge" deletes it.
# purge_after = "30d"
`

// WriteTemplate creates a starter config file at path. It refuses to
// overwrite an existing file.
func WriteTemplate(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrConfigExists, path)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config: checking %s: %w", path, err)
	}

	return atomicWriteFile(path, []byte(configTemplate))
}

// atomicWriteFile writes data to a temporary file in the same directory as
// path, then renames it to the target path, so a crash never leaves a
// partial file. Parent directories are created as needed.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
