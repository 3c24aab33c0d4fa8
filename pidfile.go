package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/bookmarker/bookmarker-go/internal/config"
)

const (
	pidFilePermissions = 0o644
	pidDirPermissions  = 0o700
	pidFileName        = "daemon.pid"
)

// defaultPIDPath returns the daemon PID file in the data directory.
func defaultPIDPath() string {
	dir := config.DefaultDataDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, pidFileName)
}

// writePIDFile records the current PID at path under an exclusive flock held
// for the life of the daemon. The returned cleanup removes the file and drops
// the lock. A held lock means another daemon owns this PID file.
func writePIDFile(path string) (cleanup func(), err error) {
	if path == "" {
		return nil, errors.New("no PID file path: data directory unknown, use --pid-file")
	}

	if err := os.MkdirAll(filepath.Dir(path), pidDirPermissions); err != nil {
		return nil, fmt.Errorf("creating PID file directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, pidFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("opening PID file: %w", err)
	}

	fail := func(format string, args ...any) (func(), error) {
		f.Close()
		return nil, fmt.Errorf(format, args...)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		return fail("another bookmarker daemon is already running (could not lock %s)", path)
	}

	if err := f.Truncate(0); err != nil {
		return fail("truncating PID file: %w", err)
	}

	if _, err := f.WriteString(strconv.Itoa(os.Getpid()) + "\n"); err != nil {
		return fail("writing PID file: %w", err)
	}

	if err := f.Sync(); err != nil {
		return fail("syncing PID file: %w", err)
	}

	return func() {
		os.Remove(path)
		f.Close()
	}, nil
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in %s: %w", path, err)
	}

	return pid, nil
}

// sendSIGHUP asks the daemon named by pidPath to reload its config. A PID
// file left behind by a dead daemon is removed.
func sendSIGHUP(pidPath string) error {
	pid, err := readPIDFile(pidPath)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("no running daemon found (no PID file at %s)", pidPath)
	}

	if err != nil {
		return err
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}

	// Signal 0 probes for a live process.
	if proc.Signal(syscall.Signal(0)) != nil {
		os.Remove(pidPath)
		return fmt.Errorf("daemon (PID %d) is not running, removed stale PID file", pid)
	}

	if err := proc.Signal(syscall.SIGHUP); err != nil {
		return fmt.Errorf("signaling daemon (PID %d): %w", pid, err)
	}

	return nil
}
