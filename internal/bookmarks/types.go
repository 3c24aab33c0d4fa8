package bookmarks

import (
	"fmt"
	"strings"
	"time"

	"github.com/bookmarker/bookmarker-go/internal/session"
)

// Entry is one bookmark as the service reports it.
type Entry struct {
	ID         int64              `json:"id"`
	UserID     int64              `json:"user_id"`
	URL        string             `json:"url"`
	Title      string             `json:"title"`
	Notes      *string            `json:"notes"`
	Archived   bool               `json:"archived"`
	CreatedAt  session.Timestamp  `json:"created_at"`
	ArchivedAt *session.Timestamp `json:"archived_at"`
}

// clone returns a copy that shares no pointers with e.
func (e Entry) clone() Entry {
	if e.Notes != nil {
		n := *e.Notes
		e.Notes = &n
	}

	if e.ArchivedAt != nil {
		at := *e.ArchivedAt
		e.ArchivedAt = &at
	}

	return e
}

// Filter selects which bookmarks a list shows.
type Filter int

const (
	Active Filter = iota
	Archived
	All
)

func (f Filter) String() string {
	switch f {
	case Active:
		return "active"
	case Archived:
		return "archived"
	case All:
		return "all"
	default:
		return fmt.Sprintf("Filter(%d)", int(f))
	}
}

// ParseFilter parses "active", "archived" or "all".
func ParseFilter(s string) (Filter, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "active", "":
		return Active, nil
	case "archived":
		return Archived, nil
	case "all":
		return All, nil
	default:
		return Active, fmt.Errorf("bookmarks: unknown filter %q (want active, archived or all)", s)
	}
}

// query returns the list endpoint for f.
func (f Filter) query() string {
	switch f {
	case Active:
		return "/bookmarks/?archived=false"
	case Archived:
		return "/bookmarks/?archived=true"
	default:
		return "/bookmarks/"
	}
}

// Matches reports whether e belongs in a list filtered by f.
func (f Filter) Matches(e Entry) bool {
	switch f {
	case Active:
		return !e.Archived
	case Archived:
		return e.Archived
	default:
		return true
	}
}

// Patch is a partial update. Nil fields are left alone.
type Patch struct {
	Archived *bool   `json:"archived,omitempty"`
	Notes    *string `json:"notes,omitempty"`
}

// ArchivePatch sets the archived flag.
func ArchivePatch(archived bool) Patch {
	return Patch{Archived: &archived}
}

// applyTo applies p to e the way the service does: archiving stamps
// ArchivedAt with now, unarchiving clears it.
func (p Patch) applyTo(e *Entry, now time.Time) {
	if p.Archived != nil {
		e.Archived = *p.Archived

		if e.Archived {
			at := session.NewTimestamp(now)
			e.ArchivedAt = &at
		} else {
			e.ArchivedAt = nil
		}
	}

	if p.Notes != nil {
		n := *p.Notes
		e.Notes = &n
	}
}

// NewBookmark is the body of a create call.
type NewBookmark struct {
	URL   string  `json:"url"`
	Title string  `json:"title"`
	Notes *string `json:"notes,omitempty"`
}
