package main

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWritePIDFile_LocksAndCleansUp(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", pidFileName)

	cleanup, err := writePIDFile(path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	// A second daemon cannot take the lock.
	again, err := writePIDFile(path)
	require.Error(t, err)
	assert.Nil(t, again)
	assert.Contains(t, err.Error(), "already running")

	cleanup()

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestWritePIDFile_EmptyPath(t *testing.T) {
	t.Parallel()

	cleanup, err := writePIDFile("")
	require.Error(t, err)
	assert.Nil(t, cleanup)
}

func TestReadPIDFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	good := filepath.Join(dir, "good.pid")
	require.NoError(t, os.WriteFile(good, []byte("12345\n"), 0o644))

	pid, err := readPIDFile(good)
	require.NoError(t, err)
	assert.Equal(t, 12345, pid)

	bad := filepath.Join(dir, "bad.pid")
	require.NoError(t, os.WriteFile(bad, []byte("not-a-pid\n"), 0o644))

	_, err = readPIDFile(bad)
	assert.ErrorContains(t, err, "invalid PID")

	_, err = readPIDFile(filepath.Join(dir, "missing.pid"))
	assert.Error(t, err)
}

func TestSendSIGHUP_NoDaemon(t *testing.T) {
	t.Parallel()

	err := sendSIGHUP(filepath.Join(t.TempDir(), "missing.pid"))
	assert.ErrorContains(t, err, "no running daemon")
}

func TestSendSIGHUP_StalePIDFileRemoved(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), pidFileName)
	// PID 999999999 is almost certainly not a running process.
	require.NoError(t, os.WriteFile(path, []byte("999999999\n"), 0o644))

	err := sendSIGHUP(path)
	assert.ErrorContains(t, err, "not running")

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestSendSIGHUP_ReachesReloadSignals(t *testing.T) {
	// Trap SIGHUP so it doesn't kill the test process.
	sighup, stop := reloadSignals()
	defer stop()

	path := filepath.Join(t.TempDir(), pidFileName)
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644))

	require.NoError(t, sendSIGHUP(path))

	select {
	case sig := <-sighup:
		assert.Equal(t, syscall.SIGHUP, sig)
	case <-time.After(2 * time.Second):
		t.Fatal("SIGHUP not delivered")
	}
}
