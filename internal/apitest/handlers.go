package apitest

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

type accountKey struct{}

func withAccount(ctx context.Context, a *account) context.Context {
	return context.WithValue(ctx, accountKey{}, a)
}

func accountFrom(ctx context.Context) *account {
	a, _ := ctx.Value(accountKey{}).(*account)
	return a
}

type wireBookmark struct {
	ID         int64   `json:"id"`
	UserID     int64   `json:"user_id"`
	URL        string  `json:"url"`
	Title      string  `json:"title"`
	Notes      *string `json:"notes"`
	Archived   bool    `json:"archived"`
	CreatedAt  string  `json:"created_at"`
	ArchivedAt *string `json:"archived_at"`
}

func toWire(b *Bookmark) wireBookmark {
	w := wireBookmark{
		ID:        b.ID,
		UserID:    b.UserID,
		URL:       b.URL,
		Title:     b.Title,
		Notes:     b.Notes,
		Archived:  b.Archived,
		CreatedAt: b.CreatedAt.UTC().Format(TimeLayout),
	}

	if b.ArchivedAt != nil {
		s := b.ArchivedAt.UTC().Format(TimeLayout)
		w.ArchivedAt = &s
	}

	return w
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshBody struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenBody struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if !decodeBody(w, r, &in) {
		return
	}

	if in.Username == "" || in.Password == "" {
		writeValidation(w, "Field required")
		return
	}

	s.mu.Lock()
	if _, exists := s.accounts[in.Username]; exists {
		s.mu.Unlock()
		writeDetail(w, http.StatusBadRequest, "Username already registered")

		return
	}

	a := s.addUserLocked(in.Username, in.Password)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, userJSON(a))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if !decodeBody(w, r, &in) {
		return
	}

	s.mu.Lock()
	a := s.accounts[in.Username]

	if a == nil || a.password != in.Password {
		s.mu.Unlock()
		writeDetail(w, http.StatusUnauthorized, "Incorrect username or password")

		return
	}

	if !a.active {
		s.mu.Unlock()
		writeDetail(w, http.StatusBadRequest, "Inactive user")

		return
	}

	access, refresh := s.issueLocked(a.username)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, tokenBody{AccessToken: access, RefreshToken: refresh, TokenType: "bearer"})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var in refreshBody
	if !decodeBody(w, r, &in) {
		return
	}

	s.mu.Lock()
	gate := s.refreshGate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	username, ok := s.refresh[in.RefreshToken]
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Invalid or expired refresh token")
		return
	}

	a := s.accounts[username]
	if a == nil || !a.active {
		writeDetail(w, http.StatusBadRequest, "User not found or inactive")
		return
	}

	// Rotation: the presented token is revoked.
	delete(s.refresh, in.RefreshToken)

	access, refresh := s.issueLocked(username)

	writeJSON(w, http.StatusOK, tokenBody{AccessToken: access, RefreshToken: refresh, TokenType: "bearer"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var in refreshBody
	if !decodeBody(w, r, &in) {
		return
	}

	s.mu.Lock()
	delete(s.refresh, in.RefreshToken)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"message": "Successfully logged out"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, userJSON(accountFrom(r.Context())))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	a := accountFrom(r.Context())

	var filter *bool

	if raw := r.URL.Query().Get("archived"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeValidation(w, "Input should be a valid boolean")
			return
		}

		filter = &v
	}

	s.mu.Lock()
	out := make([]*Bookmark, 0, len(s.bookmarks))

	for _, b := range s.bookmarks {
		if b.UserID != a.id {
			continue
		}

		if filter != nil && b.Archived != *filter {
			continue
		}

		out = append(out, b)
	}

	// Newest first, ID as tie-break.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}

		return out[i].ID > out[j].ID
	})

	body := make([]wireBookmark, 0, len(out))
	for _, b := range out {
		body = append(body, toWire(b))
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	a := accountFrom(r.Context())

	var in struct {
		URL   string  `json:"url"`
		Title string  `json:"title"`
		Notes *string `json:"notes"`
	}

	if !decodeBody(w, r, &in) {
		return
	}

	if in.URL == "" {
		writeValidation(w, "Field required")
		return
	}

	s.mu.Lock()
	s.nextID++
	b := &Bookmark{
		ID:        s.nextID,
		UserID:    a.id,
		URL:       in.URL,
		Title:     in.Title,
		Notes:     in.Notes,
		CreatedAt: s.now().UTC(),
	}
	s.bookmarks[b.ID] = b
	body := toWire(b)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	a := accountFrom(r.Context())

	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.ownedLocked(r, a)
	if b == nil {
		writeDetail(w, http.StatusNotFound, "Bookmark not found")
		return
	}

	writeJSON(w, http.StatusOK, toWire(b))
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	a := accountFrom(r.Context())

	var in struct {
		Archived *bool   `json:"archived"`
		Notes    *string `json:"notes"`
	}

	if !decodeBody(w, r, &in) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.ownedLocked(r, a)
	if b == nil {
		writeDetail(w, http.StatusNotFound, "Bookmark not found")
		return
	}

	if in.Archived != nil {
		b.Archived = *in.Archived

		if b.Archived {
			now := s.now().UTC()
			b.ArchivedAt = &now
		} else {
			b.ArchivedAt = nil
		}
	}

	if in.Notes != nil {
		b.Notes = in.Notes
	}

	writeJSON(w, http.StatusOK, toWire(b))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	a := accountFrom(r.Context())

	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.ownedLocked(r, a)
	if b == nil {
		writeDetail(w, http.StatusNotFound, "Bookmark not found")
		return
	}

	delete(s.bookmarks, b.ID)

	writeJSON(w, http.StatusOK, map[string]string{"message": "Bookmark deleted successfully"})
}

func (s *Server) ownedLocked(r *http.Request, a *account) *Bookmark {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return nil
	}

	b := s.bookmarks[id]
	if b == nil || b.UserID != a.id {
		return nil
	}

	return b
}

func userJSON(a *account) map[string]any {
	return map[string]any{
		"id":         a.id,
		"username":   a.username,
		"is_active":  a.active,
		"created_at": a.createdAt.Format(TimeLayout),
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeValidation(w, "JSON decode error: "+strings.TrimSpace(err.Error()))
		return false
	}

	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// writeValidation mimics FastAPI's 422 body, where detail is a list.
func writeValidation(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
		"detail": []map[string]any{{"loc": []string{"body"}, "msg": msg, "type": "value_error"}},
	})
}

// ArchivedDaysAgo is a helper for seeding archived bookmarks relative to now.
func ArchivedDaysAgo(now time.Time, days int) *time.Time {
	t := now.AddDate(0, 0, -days).UTC()
	return &t
}
