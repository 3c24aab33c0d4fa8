package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookmarker/bookmarker-go/internal/config"
	"github.com/bookmarker/bookmarker-go/internal/renewal"
)

type reloadFixture struct {
	path    string
	holder  *config.Holder
	sched   *renewal.Scheduler
	sighup  chan os.Signal
	changes chan struct{}
	done    chan struct{}
}

func startReloadLoop(t *testing.T, content string) *reloadFixture {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg, err := config.Load(path, logger)
	require.NoError(t, err)

	f := &reloadFixture{
		path:    path,
		holder:  config.NewHolder(cfg, path),
		sched:   renewal.NewScheduler(nil, nil, logger, cfg.RenewalInterval(), cfg.RenewalThreshold()),
		sighup:  make(chan os.Signal, 1),
		changes: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(t.Context())

	go func() {
		defer close(f.done)

		reloadLoop(ctx, daemonDeps{
			holder:  f.holder,
			sched:   f.sched,
			logger:  logger,
			sighup:  f.sighup,
			changes: f.changes,
		})
	}()

	t.Cleanup(func() {
		cancel()
		<-f.done
	})

	return f
}

func (f *reloadFixture) rewrite(t *testing.T, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(f.path, []byte(content), 0o600))
}

func (f *reloadFixture) waitTiming(t *testing.T, interval, threshold time.Duration) {
	t.Helper()

	assert.Eventually(t, func() bool {
		i, th := f.sched.Timing()
		return i == interval && th == threshold
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReloadLoop_SIGHUPAppliesTiming(t *testing.T) {
	f := startReloadLoop(t, "[renewal]\ninterval = \"10m\"\nthreshold = \"5m\"\n")
	f.waitTiming(t, 10*time.Minute, 5*time.Minute)

	f.rewrite(t, "[renewal]\ninterval = \"2m\"\nthreshold = \"1m\"\n")
	f.sighup <- syscall.SIGHUP

	f.waitTiming(t, 2*time.Minute, time.Minute)
	assert.Equal(t, "2m", f.holder.Config().Renewal.Interval)
}

func TestReloadLoop_FileChangeAppliesTiming(t *testing.T) {
	f := startReloadLoop(t, "[renewal]\ninterval = \"10m\"\n")

	f.rewrite(t, "[renewal]\ninterval = \"1h\"\nthreshold = \"50m\"\n")
	f.changes <- struct{}{}

	f.waitTiming(t, time.Hour, 50*time.Minute)
}

func TestReloadConfig_InvalidConfigKeepsCurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[renewal]\ninterval = \"10m\"\n"), 0o600))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg, err := config.Load(path, logger)
	require.NoError(t, err)

	d := daemonDeps{
		holder: config.NewHolder(cfg, path),
		sched:  renewal.NewScheduler(nil, nil, logger, cfg.RenewalInterval(), cfg.RenewalThreshold()),
		logger: logger,
	}

	require.NoError(t, os.WriteFile(path, []byte("[renewal]\nintervl = \"1m\"\n"), 0o600))
	reloadConfig(d)

	assert.Same(t, cfg, d.holder.Config())

	interval, _ := d.sched.Timing()
	assert.Equal(t, 10*time.Minute, interval)
}

func TestReloadLoop_ClosedChangesChannel(t *testing.T) {
	f := startReloadLoop(t, "")
	close(f.changes)

	f.rewrite(t, "[renewal]\ninterval = \"7m\"\n")
	f.sighup <- syscall.SIGHUP

	f.waitTiming(t, 7*time.Minute, renewal.DefaultThreshold)
}
