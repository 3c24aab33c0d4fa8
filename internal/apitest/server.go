// Package apitest runs an in-process fake of the bookmark service for
// tests. It speaks the same JSON protocol as the real service: HS256 access
// tokens, rotating opaque refresh tokens, naive UTC timestamps and FastAPI
// style {"detail": ...} error bodies. Counters, failure injection and a
// refresh gate let tests observe and steer the client under concurrency.
package apitest

import (
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TimeLayout is the naive datetime layout the service emits.
const TimeLayout = "2006-01-02T15:04:05.000000"

// AccessTokenLifetime matches the service's access token expiry.
const AccessTokenLifetime = 30 * time.Minute

// Bookmark is the service-side record.
type Bookmark struct {
	ID         int64
	UserID     int64
	URL        string
	Title      string
	Notes      *string
	Archived   bool
	CreatedAt  time.Time
	ArchivedAt *time.Time
}

type account struct {
	id        int64
	username  string
	password  string
	active    bool
	createdAt time.Time
}

// Server is the fake service. Its URL (plus "/api") is the client base URL.
type Server struct {
	srv    *httptest.Server
	secret []byte

	mu         sync.Mutex
	now        func() time.Time
	accounts   map[string]*account
	nextUserID int64
	access     map[string]string // live access token -> username
	refresh    map[string]string // live refresh token -> username
	bookmarks  map[int64]*Bookmark
	nextID     int64
	failures   map[string]int
	calls      map[string]int
	seenAuth   map[string][]string

	refreshGate chan struct{}
}

// New starts a Server and stops it when the test ends.
func New(tb testing.TB) *Server {
	tb.Helper()

	s := &Server{
		secret:    []byte("apitest-" + uuid.NewString()),
		now:       time.Now,
		accounts:  make(map[string]*account),
		access:    make(map[string]string),
		refresh:   make(map[string]string),
		bookmarks: make(map[int64]*Bookmark),
		failures:  make(map[string]int),
		calls:     make(map[string]int),
		seenAuth:  make(map[string][]string),
	}

	s.srv = httptest.NewServer(s.routes())
	tb.Cleanup(s.srv.Close)

	return s
}

// URL returns the client base URL, including the /api prefix.
func (s *Server) URL() string {
	return s.srv.URL + "/api"
}

// Client returns an http.Client wired to the server.
func (s *Server) Client() *http.Client {
	return s.srv.Client()
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.track)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/refresh", s.handleRefresh)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)

			r.Post("/auth/logout", s.handleLogout)
			r.Get("/auth/me", s.handleMe)
			r.Get("/bookmarks/", s.handleList)
			r.Post("/bookmarks/", s.handleCreate)
			r.Get("/bookmarks/{id}", s.handleGet)
			r.Patch("/bookmarks/{id}", s.handleUpdate)
			r.Delete("/bookmarks/{id}", s.handleDelete)
		})
	})

	return r
}

// CallKey builds the key used by Calls and Fail, e.g. "PATCH /bookmarks/3".
func CallKey(method, path string) string {
	return method + " " + path
}

// track counts calls, records bearer tokens and applies injected failures.
func (s *Server) track(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := CallKey(r.Method, strings.TrimPrefix(r.URL.Path, "/api"))

		s.mu.Lock()
		s.calls[key]++
		s.seenAuth[key] = append(s.seenAuth[key], strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		status, fail := s.failures[key]
		s.mu.Unlock()

		if fail {
			writeDetail(w, status, "injected failure")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Fail makes every call to method+path answer status until Recover.
func (s *Server) Fail(method, path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures[CallKey(method, path)] = status
}

// Recover removes an injected failure.
func (s *Server) Recover(method, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.failures, CallKey(method, path))
}

// Calls returns how many times method+path was hit.
func (s *Server) Calls(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls[CallKey(method, path)]
}

// BearerTokens returns the bearer tokens sent to method+path, in order.
// Unauthenticated calls record an empty string.
func (s *Server) BearerTokens(method, path string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.seenAuth[CallKey(method, path)]...)
}

// SetNow overrides the server clock.
func (s *Server) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.now = now
}

// HoldRefresh makes /auth/refresh block until the returned release func is
// called.
func (s *Server) HoldRefresh() (release func()) {
	gate := make(chan struct{})

	s.mu.Lock()
	s.refreshGate = gate
	s.mu.Unlock()

	var once sync.Once

	return func() {
		once.Do(func() { close(gate) })
	}
}

// AddUser creates an active account.
func (s *Server) AddUser(username, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.addUserLocked(username, password)
}

func (s *Server) addUserLocked(username, password string) *account {
	s.nextUserID++
	a := &account{
		id:        s.nextUserID,
		username:  username,
		password:  password,
		active:    true,
		createdAt: s.now().UTC(),
	}
	s.accounts[username] = a

	return a
}

// Deactivate marks an account inactive.
func (s *Server) Deactivate(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.accounts[username]; ok {
		a.active = false
	}
}

// IssueTokens logs username in directly and returns the token pair.
func (s *Server) IssueTokens(username string) (access, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.issueLocked(username)
}

func (s *Server) issueLocked(username string) (string, string) {
	now := s.now()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   username,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(AccessTokenLifetime)),
	})

	access, err := token.SignedString(s.secret)
	if err != nil {
		panic(err) // HMAC signing with a []byte key cannot fail
	}

	refresh := uuid.NewString()
	s.access[access] = username
	s.refresh[refresh] = username

	return access, refresh
}

// ExpireAccessTokens invalidates every live access token, as if their
// lifetime had run out. Refresh tokens stay valid.
func (s *Server) ExpireAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()

	clear(s.access)
}

// RevokeRefreshTokens invalidates every refresh token.
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()

	clear(s.refresh)
}

// RefreshTokenValid reports whether token is still accepted.
func (s *Server) RefreshTokenValid(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.refresh[token]

	return ok
}

// AddBookmark stores b for username and returns its ID. A zero CreatedAt is
// set to now.
func (s *Server) AddBookmark(username string, b Bookmark) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.accounts[username]
	if a == nil {
		a = s.addUserLocked(username, "")
	}

	s.nextID++
	b.ID = s.nextID
	b.UserID = a.id

	if b.CreatedAt.IsZero() {
		b.CreatedAt = s.now().UTC()
	}

	s.bookmarks[b.ID] = &b

	return b.ID
}

// Bookmark returns a copy of the stored bookmark.
func (s *Server) Bookmark(id int64) (Bookmark, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookmarks[id]
	if !ok {
		return Bookmark{}, false
	}

	return *b, true
}

// BookmarkIDs returns all stored IDs in ascending order.
func (s *Server) BookmarkIDs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0, len(s.bookmarks))
	for id := range s.bookmarks {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if raw == "" {
			writeDetail(w, http.StatusUnauthorized, "Not authenticated")
			return
		}

		claims := &jwt.RegisteredClaims{}

		_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
			return s.secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
		if err != nil {
			writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}

		s.mu.Lock()
		username, live := s.access[raw]
		a := s.accounts[username]
		s.mu.Unlock()

		if !live || a == nil || username != claims.Subject {
			writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}

		if !a.active {
			writeDetail(w, http.StatusBadRequest, "Inactive user")
			return
		}

		next.ServeHTTP(w, r.WithContext(withAccount(r.Context(), a)))
	})
}
