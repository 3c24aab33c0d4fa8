package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bookmarker/bookmarker-go/internal/config"
	"github.com/bookmarker/bookmarker-go/internal/renewal"
)

func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Keep the session fresh in the background",
		Long: `Run the renewal scheduler until interrupted. The credential is renewed
once it is older than renewal.threshold, checked every renewal.interval.
A failed renewal ends the session.

The daemon re-reads its config on SIGHUP and whenever the config file
changes. Only one daemon runs per PID file. Stop it with SIGINT or SIGTERM;
a second signal forces exit.`,
		Args: cobra.NoArgs,
		RunE: runDaemon,
	}

	cmd.PersistentFlags().String("pid-file", "", "PID file path (default: data directory)")

	cmd.AddCommand(&cobra.Command{
		Use:         "reload",
		Short:       "Ask the running daemon to re-read its config",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			if err := sendSIGHUP(pidPath(cmd)); err != nil {
				return err
			}

			cc.Statusf("Reload requested.\n")

			return nil
		},
	})

	return cmd
}

func pidPath(cmd *cobra.Command) string {
	if p, _ := cmd.Flags().GetString("pid-file"); p != "" {
		return p
	}

	return defaultPIDPath()
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	logger := cc.Logger

	cleanup, err := writePIDFile(pidPath(cmd))
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := shutdownContext(cmd.Context(), logger)

	sighup, stop := reloadSignals()
	defer stop()

	changes, err := config.Watch(ctx, cc.CfgPath, config.DefaultWatchDebounce, logger)
	if err != nil {
		// Reload on SIGHUP still works.
		logger.Warn("not watching config file", slog.String("error", err.Error()))
	}

	holder := config.NewHolder(cc.Cfg, cc.CfgPath)
	sched := renewal.NewScheduler(cc.Creds, cc.Client, logger,
		cc.Cfg.RenewalInterval(), cc.Cfg.RenewalThreshold())

	cc.Statusf("Renewal daemon running against %s (pid %d).\n", cc.BaseURL, os.Getpid())

	return runDaemonLoop(ctx, daemonDeps{
		holder:  holder,
		sched:   sched,
		env:     cc.Env,
		logger:  logger,
		sighup:  sighup,
		changes: changes,
	})
}

// daemonDeps is what the daemon loop runs on; tests build it directly.
type daemonDeps struct {
	holder  *config.Holder
	sched   *renewal.Scheduler
	env     config.EnvOverrides
	logger  *slog.Logger
	sighup  <-chan os.Signal
	changes <-chan struct{}
}

// runDaemonLoop runs the scheduler and the reload watcher until ctx ends.
func runDaemonLoop(ctx context.Context, d daemonDeps) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return d.sched.Run(gctx)
	})

	g.Go(func() error {
		reloadLoop(gctx, d)
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("daemon: %w", err)
	}

	d.logger.Info("daemon stopped")

	return nil
}

// reloadLoop re-reads the config on SIGHUP or a config file change and
// applies the new renewal timing. Storage and service URL changes need a
// restart; they are logged, not applied.
func reloadLoop(ctx context.Context, d daemonDeps) {
	changes := d.changes

	for {
		select {
		case <-ctx.Done():
			return

		case <-d.sighup:
			d.logger.Info("SIGHUP received, reloading config")
			reloadConfig(d)

		case _, ok := <-changes:
			if !ok {
				// Watcher gone; a nil channel blocks forever.
				changes = nil
				continue
			}

			d.logger.Info("config file changed, reloading")
			reloadConfig(d)
		}
	}
}

func reloadConfig(d daemonDeps) {
	old := d.holder.Config()

	cfg, err := d.holder.Reload(d.env, d.logger)
	if err != nil {
		d.logger.Warn("config reload failed, keeping current settings",
			slog.String("path", d.holder.Path()),
			slog.String("error", err.Error()),
		)

		return
	}

	d.sched.SetTiming(cfg.RenewalInterval(), cfg.RenewalThreshold())

	if cfg.Storage != old.Storage || cfg.BaseURL != old.BaseURL {
		d.logger.Warn("storage or base_url changed; restart the daemon to apply")
	}

	d.logger.Info("config reload complete",
		slog.Duration("interval", cfg.RenewalInterval()),
		slog.Duration("threshold", cfg.RenewalThreshold()),
	)
}
