package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bookmarker/bookmarker-go/internal/bookmarks"
	"github.com/bookmarker/bookmarker-go/internal/config"
)

func newRestoreLastCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore-last",
		Short: "Un-archive the most recently archived bookmark",
		Args:  cobra.NoArgs,
		RunE:  runRestoreLast,
	}

	cmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")

	return cmd
}

func newPurgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Permanently delete bookmarks archived long ago",
		Long: `Permanently delete every bookmark archived longer ago than --older-than
(default: maintenance.purge_after, 30 days). Durations accept a "d" suffix.`,
		Args: cobra.NoArgs,
		RunE: runPurge,
	}

	cmd.Flags().String("older-than", "", "age cutoff, e.g. 30d or 72h")
	cmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")

	return cmd
}

func newMaintenanceSync(cc *CLIContext) *bookmarks.Synchronizer {
	return bookmarks.NewSynchronizer(bookmarks.NewService(cc.Client), cc.Logger, nil)
}

func runRestoreLast(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	yes, _ := cmd.Flags().GetBool("yes")

	e, err := newMaintenanceSync(cc).RestoreLastArchived(cmd.Context(), cc.confirmer(yes))

	switch {
	case errors.Is(err, bookmarks.ErrNothingArchived):
		cc.Statusf("No archived bookmarks.\n")
		return nil
	case errors.Is(err, bookmarks.ErrCanceled):
		cc.Statusf("Canceled.\n")
		return nil
	case err != nil:
		return requireLogin(err)
	}

	if cc.Flags.JSON {
		return printJSON(cc.Out, e)
	}

	cc.Statusf("Restored %d: %s\n", e.ID, e.Title)

	return nil
}

func runPurge(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	yes, _ := cmd.Flags().GetBool("yes")

	olderThan := cc.Cfg.PurgeAfter()

	if raw, _ := cmd.Flags().GetString("older-than"); raw != "" {
		d, err := config.ParseDuration(raw)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid --older-than %q", raw)
		}

		olderThan = d
	}

	n, err := newMaintenanceSync(cc).PurgeArchived(cmd.Context(), olderThan, cc.confirmer(yes))

	switch {
	case errors.Is(err, bookmarks.ErrNothingArchived):
		cc.Statusf("No archived bookmarks.\n")
		return nil
	case errors.Is(err, bookmarks.ErrCanceled):
		cc.Statusf("Canceled.\n")
		return nil
	case err != nil:
		if n > 0 {
			cc.Statusf("Deleted %d bookmark(s) before the failure.\n", n)
		}

		return requireLogin(err)
	}

	cc.Statusf("Deleted %d bookmark(s).\n", n)

	return nil
}
