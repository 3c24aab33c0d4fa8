// Package credstore holds the client's current credential pair and the
// configured service base URL on top of an opaque key-value backend.
//
// A Credential is immutable: renewal replaces it wholesale through Save,
// never by editing fields in place. Absence of a credential means the user
// is logged out. Token shape is not validated here; that is the service's
// job. Save does refuse empty tokens so that a present credential always
// carries both.
package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultBaseURL is the placeholder base URL meaning "not configured yet".
const DefaultBaseURL = "http://localhost:3001/api"

// Default storage keys.
const (
	DefaultCredentialKey = "bookmarker_auth"
	DefaultBaseURLKey    = "bookmarker_api_url"
)

// ErrEmptyToken is returned by Save when either token is empty.
var ErrEmptyToken = errors.New("credstore: access and refresh tokens must be non-empty")

// Backend is the key-value capability the store is built on. Implemented by
// the kvstore package; defined here at the consumer.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}

// Keys names the backend keys the store owns.
type Keys struct {
	Credential string
	BaseURL    string
}

// DefaultKeys returns the standard key names.
func DefaultKeys() Keys {
	return Keys{Credential: DefaultCredentialKey, BaseURL: DefaultBaseURLKey}
}

// Credential is the access/refresh token pair of an authenticated session
// and the time it was issued to this client.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	IssuedAt     time.Time `json:"issued_at"`
}

// Age returns how long ago the credential was issued.
func (c *Credential) Age(now time.Time) time.Duration {
	return now.Sub(c.IssuedAt)
}

// Store reads and writes the credential and base URL keys.
type Store struct {
	backend Backend
	keys    Keys
	nowFunc func() time.Time
}

// New returns a Store over backend. Zero-valued key names fall back to the
// defaults.
func New(backend Backend, keys Keys) *Store {
	if keys.Credential == "" {
		keys.Credential = DefaultCredentialKey
	}

	if keys.BaseURL == "" {
		keys.BaseURL = DefaultBaseURLKey
	}

	return &Store{backend: backend, keys: keys, nowFunc: time.Now}
}

// Save replaces the stored credential with a new pair stamped with the
// current time.
func (s *Store) Save(ctx context.Context, access, refresh string) error {
	if access == "" || refresh == "" {
		return ErrEmptyToken
	}

	data, err := json.Marshal(Credential{
		AccessToken:  access,
		RefreshToken: refresh,
		IssuedAt:     s.nowFunc().UTC(),
	})
	if err != nil {
		return fmt.Errorf("credstore: encoding credential: %w", err)
	}

	if err := s.backend.Set(ctx, s.keys.Credential, data); err != nil {
		return fmt.Errorf("credstore: saving credential: %w", err)
	}

	return nil
}

// Load returns the stored credential, or nil if the user is logged out.
// A record missing either token is reported as absent.
func (s *Store) Load(ctx context.Context) (*Credential, error) {
	data, found, err := s.backend.Get(ctx, s.keys.Credential)
	if err != nil {
		return nil, fmt.Errorf("credstore: loading credential: %w", err)
	}

	if !found {
		return nil, nil //nolint:nilnil // nil credential means logged out
	}

	var c Credential
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("credstore: decoding credential: %w", err)
	}

	if c.AccessToken == "" || c.RefreshToken == "" {
		return nil, nil //nolint:nilnil // incomplete record is treated as logged out
	}

	return &c, nil
}

// Clear removes the stored credential.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.backend.Remove(ctx, s.keys.Credential); err != nil {
		return fmt.Errorf("credstore: clearing credential: %w", err)
	}

	return nil
}

// BaseURL returns the persisted service base URL, or DefaultBaseURL when
// none has been set.
func (s *Store) BaseURL(ctx context.Context) (string, error) {
	data, found, err := s.backend.Get(ctx, s.keys.BaseURL)
	if err != nil {
		return "", fmt.Errorf("credstore: loading base URL: %w", err)
	}

	if !found || len(data) == 0 {
		return DefaultBaseURL, nil
	}

	return string(data), nil
}

// SetBaseURL persists the service base URL with any trailing slash removed.
func (s *Store) SetBaseURL(ctx context.Context, url string) error {
	url = NormalizeBaseURL(url)
	if url == "" {
		return fmt.Errorf("credstore: base URL must not be empty")
	}

	if err := s.backend.Set(ctx, s.keys.BaseURL, []byte(url)); err != nil {
		return fmt.Errorf("credstore: saving base URL: %w", err)
	}

	return nil
}

// NormalizeBaseURL trims surrounding space and a single trailing slash.
func NormalizeBaseURL(url string) string {
	url = strings.TrimSpace(url)

	return strings.TrimSuffix(url, "/")
}

// IsConfigured reports whether url is something other than the placeholder.
func IsConfigured(url string) bool {
	return url != "" && url != DefaultBaseURL
}
