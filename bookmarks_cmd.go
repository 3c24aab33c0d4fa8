package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/spf13/cobra"

	"github.com/bookmarker/bookmarker-go/internal/bookmarks"
)

func newLsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List bookmarks",
		Args:  cobra.NoArgs,
		RunE:  runLs,
	}

	cmd.Flags().Bool("archived", false, "show archived bookmarks only")
	cmd.Flags().Bool("all", false, "show active and archived bookmarks")
	cmd.MarkFlagsMutuallyExclusive("archived", "all")

	return cmd
}

func newAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <url>",
		Short: "Add a bookmark",
		Args:  cobra.ExactArgs(1),
		RunE:  runAdd,
	}

	cmd.Flags().String("title", "", "title (defaults to the URL)")
	cmd.Flags().String("notes", "", "free-form notes")

	return cmd
}

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one bookmark",
		Args:  cobra.ExactArgs(1),
		RunE:  runShow,
	}
}

func newArchiveCmd(archive bool) *cobra.Command {
	use, short := "archive <id>...", "Archive bookmarks"
	if !archive {
		use, short = "unarchive <id>...", "Move archived bookmarks back to the active list"
	}

	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMutations(cmd, args, func(s *bookmarks.Synchronizer, id int64) *bookmarks.Pending {
				return s.Archive(cmd.Context(), id, archive)
			})
		},
	}
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>...",
		Short: "Delete bookmarks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMutations(cmd, args, func(s *bookmarks.Synchronizer, id int64) *bookmarks.Pending {
				return s.Remove(cmd.Context(), id)
			})
		},
	}
}

func listFilter(cmd *cobra.Command) bookmarks.Filter {
	if all, _ := cmd.Flags().GetBool("all"); all {
		return bookmarks.All
	}

	if archived, _ := cmd.Flags().GetBool("archived"); archived {
		return bookmarks.Archived
	}

	return bookmarks.Active
}

func runLs(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	s := bookmarks.NewSynchronizer(bookmarks.NewService(cc.Client), cc.Logger, nil)

	if _, err := s.Load(cmd.Context(), listFilter(cmd)); err != nil {
		return requireLogin(err)
	}

	entries := s.Visible()

	if cc.Flags.JSON {
		return printJSON(cc.Out, entries)
	}

	if len(entries) == 0 {
		cc.Statusf("No bookmarks.\n")
		return nil
	}

	printEntries(cc, entries)

	return nil
}

func printEntries(cc *CLIContext, entries []bookmarks.Entry) {
	const titleWidth = 40

	rows := make([][]string, 0, len(entries))

	for _, e := range entries {
		state := ""
		if e.Archived {
			state = "archived"
			if e.ArchivedAt != nil {
				state += " " + formatTime(e.ArchivedAt.Time)
			}
		}

		rows = append(rows, []string{
			strconv.FormatInt(e.ID, 10),
			truncate(e.Title, titleWidth),
			e.URL,
			formatTime(e.CreatedAt.Time),
			state,
		})
	}

	printTable(cc.Out, []string{"ID", "TITLE", "URL", "ADDED", "STATE"}, rows)
}

func runAdd(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	nb := bookmarks.NewBookmark{URL: args[0]}
	nb.Title, _ = cmd.Flags().GetString("title")

	if cmd.Flags().Changed("notes") {
		notes, _ := cmd.Flags().GetString("notes")
		nb.Notes = &notes
	}

	s := bookmarks.NewSynchronizer(bookmarks.NewService(cc.Client), cc.Logger, nil)

	e, err := s.Create(cmd.Context(), nb)
	if err != nil {
		return requireLogin(err)
	}

	if cc.Flags.JSON {
		return printJSON(cc.Out, e)
	}

	cc.Statusf("Added %d: %s\n", e.ID, e.Title)

	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	ids, err := parseIDs(args)
	if err != nil {
		return err
	}

	e, err := bookmarks.NewService(cc.Client).Get(cmd.Context(), ids[0])
	if err != nil {
		return requireLogin(err)
	}

	if cc.Flags.JSON {
		return printJSON(cc.Out, e)
	}

	notes := "-"
	if e.Notes != nil && *e.Notes != "" {
		notes = *e.Notes
	}

	state := "active"
	if e.Archived {
		state = "archived"
		if e.ArchivedAt != nil {
			state += " " + formatTime(e.ArchivedAt.Time)
		}
	}

	fmt.Fprintf(cc.Out, "ID:     %d\n", e.ID)
	fmt.Fprintf(cc.Out, "Title:  %s\n", e.Title)
	fmt.Fprintf(cc.Out, "URL:    %s\n", e.URL)
	fmt.Fprintf(cc.Out, "Notes:  %s\n", notes)
	fmt.Fprintf(cc.Out, "Added:  %s\n", formatTime(e.CreatedAt.Time))
	fmt.Fprintf(cc.Out, "State:  %s\n", state)

	return nil
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))

	for _, a := range args {
		id, err := strconv.ParseInt(a, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid bookmark ID %q", a)
		}

		ids = append(ids, id)
	}

	return ids, nil
}

// runMutations applies one optimistic change per ID through a Synchronizer
// loaded with every bookmark, then waits for the service to settle them.
// Refused changes are rolled back in the mirror and reported.
func runMutations(
	cmd *cobra.Command, args []string,
	apply func(*bookmarks.Synchronizer, int64) *bookmarks.Pending,
) error {
	cc := mustCLIContext(cmd.Context())

	ids, err := parseIDs(args)
	if err != nil {
		return err
	}

	var (
		mu       sync.Mutex
		failures []bookmarks.Failure
	)

	s := bookmarks.NewSynchronizer(bookmarks.NewService(cc.Client), cc.Logger, func(f bookmarks.Failure) {
		mu.Lock()
		failures = append(failures, f)
		mu.Unlock()
	})

	if _, err := s.Load(cmd.Context(), bookmarks.All); err != nil {
		return requireLogin(err)
	}

	for _, id := range ids {
		if _, ok := s.Lookup(id); !ok {
			cc.Logger.Debug("id not in listing, sending anyway", slog.Int64("id", id))
		}

		apply(s, id)
	}

	s.Wait()

	for _, f := range failures {
		fmt.Fprintf(cc.Err, "%s %s %d: %v\n", colorErr.Sprint("failed:"), f.Op, f.ID, requireLogin(f.Err))
	}

	if done := len(ids) - len(failures); done > 0 {
		cc.Statusf("%s %d bookmark(s).\n", pastTense(cmd.Name()), done)
	}

	if len(failures) > 0 {
		return errors.Join(errMutationsFailed, failures[0].Err)
	}

	return nil
}

var errMutationsFailed = errors.New("some changes were refused and rolled back")

func pastTense(verb string) string {
	switch verb {
	case "rm":
		return "Deleted"
	case "archive":
		return "Archived"
	case "unarchive":
		return "Restored"
	default:
		return verb
	}
}
