package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/bookmarker/bookmarker-go/internal/config"
	"github.com/bookmarker/bookmarker-go/internal/credstore"
	"github.com/bookmarker/bookmarker-go/internal/kvstore"
	"github.com/bookmarker/bookmarker-go/internal/session"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagBaseURL    string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// skipConfigAnnotation marks commands that must run without opening the
// session store, such as "config init" which may run before any valid
// config exists.
const skipConfigAnnotation = "skipConfig"

// CLIFlags is a snapshot of the global flags for one invocation.
type CLIFlags struct {
	ConfigPath string
	BaseURL    string
	JSON       bool
	Verbose    bool
	Quiet      bool
}

// CLIContext carries everything a subcommand needs. It is built once in
// PersistentPreRunE and stored in the command's context.
type CLIContext struct {
	Flags   CLIFlags
	Env     config.EnvOverrides
	Logger  *slog.Logger
	Cfg     *config.Config
	CfgPath string
	BaseURL string
	Store   kvstore.Store
	Creds   *credstore.Store
	Client  *session.Client

	In  io.Reader
	Out io.Writer
	Err io.Writer
}

type cliContextKey struct{}

func withCLIContext(ctx context.Context, cc *CLIContext) context.Context {
	return context.WithValue(ctx, cliContextKey{}, cc)
}

// mustCLIContext returns the CLIContext installed by the root pre-run. A
// missing context is a programming error.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("bookmarker: command run without CLI context")
	}

	return cc
}

// Close releases the session store.
func (cc *CLIContext) Close() error {
	if cc.Store == nil {
		return nil
	}

	return cc.Store.Close()
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "bookmarker",
		Short:   "Bookmark service client",
		Long:    "A command-line client for a bookmark service: sign in, keep the session fresh, manage bookmarks.",
		Version: version,
		// Silence Cobra's default error/usage printing; main handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := newCLIContext(cmd)
			if err != nil {
				return err
			}

			cmd.SetContext(withCLIContext(cmd.Context(), cc))

			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return mustCLIContext(cmd.Context()).Close()
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagBaseURL, "base-url", "", "service base URL (overrides config and saved URL)")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newRegisterCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newPingCmd())
	cmd.AddCommand(newLsCmd())
	cmd.AddCommand(newAddCmd())
	cmd.AddCommand(newShowCmd())
	cmd.AddCommand(newArchiveCmd(true))
	cmd.AddCommand(newArchiveCmd(false))
	cmd.AddCommand(newRmCmd())
	cmd.AddCommand(newRestoreLastCmd())
	cmd.AddCommand(newPurgeCmd())
	cmd.AddCommand(newDaemonCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

func currentFlags() CLIFlags {
	return CLIFlags{
		ConfigPath: flagConfigPath,
		BaseURL:    flagBaseURL,
		JSON:       flagJSON,
		Verbose:    flagVerbose,
		Quiet:      flagQuiet,
	}
}

// newCLIContext resolves config, opens the session store, and builds the
// session client. Commands annotated with skipConfigAnnotation get only the
// flags, the config path, and a logger.
func newCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	flags := currentFlags()
	env := config.ReadEnvOverrides()
	cli := config.CLIOverrides{ConfigPath: flags.ConfigPath, BaseURL: flags.BaseURL}

	cc := &CLIContext{
		Flags:   flags,
		Env:     env,
		CfgPath: config.ResolveConfigPath(env, cli),
		In:      cmd.InOrStdin(),
		Out:     cmd.OutOrStdout(),
		Err:     cmd.ErrOrStderr(),
	}

	if cmd.Annotations[skipConfigAnnotation] == "true" {
		cc.Logger = buildLogger(nil, flags, cc.Err)
		return cc, nil
	}

	cfg, path, err := config.Resolve(env, cli, buildLogger(nil, flags, cc.Err))
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	cc.Cfg = cfg
	cc.CfgPath = path
	cc.Logger = buildLogger(cfg, flags, cc.Err)

	ctx := cmd.Context()

	store, err := kvstore.Open(ctx, cfg.Storage.StoreOptions(), cc.Logger)
	if err != nil {
		return nil, fmt.Errorf("opening session store: %w", err)
	}

	cc.Store = store
	cc.Creds = credstore.New(store, cfg.Storage.Keys())

	persisted, err := cc.Creds.BaseURL(ctx)
	if err != nil {
		store.Close()
		return nil, err
	}

	cc.BaseURL = config.EffectiveBaseURL(cfg, env, cli, persisted)
	cc.Client = session.NewClient(cc.BaseURL, &http.Client{Timeout: cfg.NetworkTimeout()},
		cc.Creds, cc.Logger, userAgent(cfg))

	cc.Logger.Debug("cli context ready",
		slog.String("command", cmd.CommandPath()),
		slog.String("config", path),
		slog.String("base_url", cc.BaseURL),
		slog.String("backend", cfg.Storage.Backend),
	)

	return cc, nil
}

func userAgent(cfg *config.Config) string {
	if cfg.Network.UserAgent != "" {
		return cfg.Network.UserAgent
	}

	return "bookmarker/" + version
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. Config-file log level provides the baseline; --verbose and
// --quiet override it because CLI flags always win. A nil cfg means
// defaults.
func buildLogger(cfg *config.Config, flags CLIFlags, w io.Writer) *slog.Logger {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	level := slog.LevelWarn

	switch cfg.Logging.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	}

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if useJSONLogs(cfg.Logging.LogFormat, w) {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

// useJSONLogs resolves the "auto" log format: text for a terminal, JSON
// otherwise.
func useJSONLogs(format string, w io.Writer) bool {
	switch format {
	case "json":
		return true
	case "text":
		return false
	default:
		return !isTerminal(w)
	}
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// requireLogin turns a logged-out state into an actionable message.
func requireLogin(err error) error {
	if errors.Is(err, session.ErrUnauthenticated) || errors.Is(err, session.ErrAuthenticationFailed) {
		return fmt.Errorf("not logged in, run 'bookmarker login' first: %w", err)
	}

	return err
}
