package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// forceExit ends the process on a second shutdown signal. Tests replace it.
var forceExit = os.Exit

// shutdownContext returns a context canceled by the first SIGINT or SIGTERM.
// A second signal exits immediately with status 1, for when a renewal request
// hangs past the first one.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("shutting down", slog.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn("second signal, exiting now", slog.String("signal", sig.String()))
			forceExit(1)
		case <-parent.Done():
		}
	}()

	return ctx
}

// reloadSignals returns a channel that receives SIGHUP and a function that
// stops delivery.
func reloadSignals() (<-chan os.Signal, func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP)

	return ch, func() { signal.Stop(ch) }
}
