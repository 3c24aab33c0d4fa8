package bookmarks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// Sentinel errors for the maintenance actions.
var (
	ErrNothingArchived = errors.New("bookmarks: no archived bookmarks")
	ErrCanceled        = errors.New("bookmarks: canceled")
)

// DefaultPurgeAge is how long a bookmark stays archived before a purge
// removes it.
const DefaultPurgeAge = 30 * 24 * time.Hour

// Confirm asks the user to approve the action described by prompt. A nil
// Confirm declines.
type Confirm func(prompt string) bool

func (c Confirm) ask(prompt string) bool {
	return c != nil && c(prompt)
}

// RestoreLastArchived un-archives the bookmark archived most recently. It
// works from a fresh archived listing, not the mirror, and reloads the
// mirror afterwards.
func (s *Synchronizer) RestoreLastArchived(ctx context.Context, confirm Confirm) (*Entry, error) {
	archived, err := s.remote.List(ctx, Archived)
	if err != nil {
		return nil, err
	}

	if len(archived) == 0 {
		return nil, ErrNothingArchived
	}

	sortByArchivedDesc(archived)
	last := archived[0]

	if !confirm.ask(fmt.Sprintf("Restore %s?", describe(last))) {
		return nil, ErrCanceled
	}

	restored, err := s.remote.Update(ctx, last.ID, ArchivePatch(false))
	if err != nil {
		return nil, err
	}

	s.logger.Info("restored last archived bookmark", slog.Int64("id", last.ID))

	s.reload(ctx)

	return restored, nil
}

// PurgeArchived deletes, one at a time, every bookmark archived before
// now - olderThan. Bookmarks with no archive time are kept. It returns how
// many were deleted; on a failed delete it stops and returns the count so
// far along with the error. Zero matches is not an error.
func (s *Synchronizer) PurgeArchived(ctx context.Context, olderThan time.Duration, confirm Confirm) (int, error) {
	if olderThan <= 0 {
		olderThan = DefaultPurgeAge
	}

	archived, err := s.remote.List(ctx, Archived)
	if err != nil {
		return 0, err
	}

	if len(archived) == 0 {
		return 0, ErrNothingArchived
	}

	cutoff := s.nowFunc().Add(-olderThan)

	var stale []Entry

	for _, e := range archived {
		if e.ArchivedAt != nil && e.ArchivedAt.Before(cutoff) {
			stale = append(stale, e)
		}
	}

	if len(stale) == 0 {
		return 0, nil
	}

	prompt := fmt.Sprintf("Permanently delete %d bookmark(s) archived more than %s ago?",
		len(stale), formatAge(olderThan))
	if !confirm.ask(prompt) {
		return 0, ErrCanceled
	}

	deleted := 0

	for _, e := range stale {
		if err := s.remote.Delete(ctx, e.ID); err != nil {
			s.reload(ctx)
			return deleted, err
		}

		deleted++
	}

	s.logger.Info("purged archived bookmarks",
		slog.Int("count", deleted),
		slog.Duration("older_than", olderThan),
	)

	s.reload(ctx)

	return deleted, nil
}

// reload refreshes the mirror with its current filter. Failures are logged;
// the maintenance action itself already succeeded or failed on its own.
func (s *Synchronizer) reload(ctx context.Context) {
	if _, err := s.Load(ctx, s.Filter()); err != nil {
		s.logger.Warn("reloading mirror after maintenance",
			slog.String("error", err.Error()),
		)
	}
}

// sortByArchivedDesc orders entries newest-archived first. Entries without
// an archive time go last.
func sortByArchivedDesc(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].ArchivedAt, entries[j].ArchivedAt

		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(b.Time)
		}
	})
}

func describe(e Entry) string {
	if e.Title != "" {
		return fmt.Sprintf("%q", e.Title)
	}

	return e.URL
}

// formatAge renders whole days as "30 days" and anything else as a
// duration.
func formatAge(d time.Duration) string {
	const day = 24 * time.Hour

	if d%day == 0 {
		n := int(d / day)
		if n == 1 {
			return "1 day"
		}

		return fmt.Sprintf("%d days", n)
	}

	return d.String()
}
