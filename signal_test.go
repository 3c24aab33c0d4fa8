package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests signal the whole test process, so none of them run in parallel.

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestShutdownContext_SignalCancels(t *testing.T) {
	parent, cancel := context.WithCancel(t.Context())
	defer cancel()

	ctx := shutdownContext(parent, quietLogger())

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not canceled after SIGTERM")
	}
}

func TestShutdownContext_SecondSignalExits(t *testing.T) {
	exited := make(chan int, 1)

	forceExit = func(code int) {
		select {
		case exited <- code:
		default:
		}
	}
	t.Cleanup(func() { forceExit = os.Exit })

	parent, cancel := context.WithCancel(t.Context())
	defer cancel()

	ctx := shutdownContext(parent, quietLogger())

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGINT))
	<-ctx.Done()

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGINT))

	select {
	case code := <-exited:
		assert.Equal(t, 1, code)
	case <-time.After(2 * time.Second):
		t.Fatal("second SIGINT did not force exit")
	}
}

func TestShutdownContext_ParentCancel(t *testing.T) {
	parent, cancel := context.WithCancel(t.Context())
	ctx := shutdownContext(parent, quietLogger())

	cancel()

	select {
	case <-ctx.Done():
		assert.ErrorIs(t, ctx.Err(), context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("context not canceled with its parent")
	}
}
