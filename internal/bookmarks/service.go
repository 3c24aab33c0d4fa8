// Package bookmarks talks to the bookmark endpoints of the service and keeps
// an optimistic local mirror of the user's list.
package bookmarks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/bookmarker/bookmarker-go/internal/session"
)

// Requester sends authenticated calls. Implemented by session.Client.
type Requester interface {
	Request(
		ctx context.Context,
		method, endpoint string,
		body []byte,
		opts ...session.RequestOption,
	) (*http.Response, error)
}

// Service is the typed client for the bookmark endpoints.
type Service struct {
	client Requester
}

// NewService returns a Service that sends calls through client.
func NewService(client Requester) *Service {
	return &Service{client: client}
}

// List returns the bookmarks matching f, newest first.
func (s *Service) List(ctx context.Context, f Filter) ([]Entry, error) {
	var out []Entry
	if err := s.do(ctx, http.MethodGet, f.query(), nil, &out); err != nil {
		return nil, fmt.Errorf("bookmarks: listing %s: %w", f, err)
	}

	if out == nil {
		out = []Entry{}
	}

	return out, nil
}

// Get returns one bookmark.
func (s *Service) Get(ctx context.Context, id int64) (*Entry, error) {
	var e Entry
	if err := s.do(ctx, http.MethodGet, itemPath(id), nil, &e); err != nil {
		return nil, fmt.Errorf("bookmarks: getting %d: %w", id, err)
	}

	return &e, nil
}

// Create adds a bookmark. Title and notes are NFC-normalized so the same
// text typed on different platforms compares equal.
func (s *Service) Create(ctx context.Context, nb NewBookmark) (*Entry, error) {
	nb.URL = strings.TrimSpace(nb.URL)
	if nb.URL == "" {
		return nil, errors.New("bookmarks: URL must not be empty")
	}

	nb.Title = norm.NFC.String(strings.TrimSpace(nb.Title))
	if nb.Title == "" {
		nb.Title = nb.URL
	}

	if nb.Notes != nil {
		n := norm.NFC.String(*nb.Notes)
		nb.Notes = &n
	}

	body, err := json.Marshal(nb)
	if err != nil {
		return nil, fmt.Errorf("bookmarks: encoding bookmark: %w", err)
	}

	var e Entry
	if err := s.do(ctx, http.MethodPost, "/bookmarks/", body, &e); err != nil {
		return nil, fmt.Errorf("bookmarks: creating: %w", err)
	}

	return &e, nil
}

// Update applies p on the service and returns the updated bookmark.
func (s *Service) Update(ctx context.Context, id int64, p Patch) (*Entry, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("bookmarks: encoding patch: %w", err)
	}

	var e Entry
	if err := s.do(ctx, http.MethodPatch, itemPath(id), body, &e); err != nil {
		return nil, fmt.Errorf("bookmarks: updating %d: %w", id, err)
	}

	return &e, nil
}

// Delete removes a bookmark.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.do(ctx, http.MethodDelete, itemPath(id), nil, nil); err != nil {
		return fmt.Errorf("bookmarks: deleting %d: %w", id, err)
	}

	return nil
}

// do sends one call and decodes a 2xx body into out (if non-nil).
func (s *Service) do(ctx context.Context, method, endpoint string, body []byte, out any) error {
	resp, err := s.client.Request(ctx, method, endpoint, body)
	if err != nil {
		return err
	}

	if err := session.CheckResponse(resp); err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	return nil
}

func itemPath(id int64) string {
	return "/bookmarks/" + strconv.FormatInt(id, 10)
}
