package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookmarker/bookmarker-go/internal/apitest"
	"github.com/bookmarker/bookmarker-go/internal/bookmarks"
	"github.com/bookmarker/bookmarker-go/internal/config"
)

// Global flag reset pattern: newRootCmd() binds flags via StringVar/BoolVar,
// which reset the global flag variables to their zero values, so every run
// goes through a fresh root command.

// cliEnv runs commands against a fake service with a file session store in
// a temp directory. Tests using it set environment variables and must not
// run in parallel.
type cliEnv struct {
	t   *testing.T
	srv *apitest.Server
	dir string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()

	color.NoColor = true

	e := &cliEnv{t: t, srv: apitest.New(t), dir: t.TempDir()}

	t.Setenv(config.EnvConfig, filepath.Join(e.dir, "config.toml"))
	t.Setenv(config.EnvStoragePath, filepath.Join(e.dir, "session.json"))
	t.Setenv(config.EnvBaseURL, e.srv.URL())
	t.Setenv("XDG_DATA_HOME", e.dir)

	return e
}

func (e *cliEnv) run(stdin string, args ...string) (string, string, error) {
	e.t.Helper()

	var stdout, stderr bytes.Buffer

	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)

	err := cmd.ExecuteContext(e.t.Context())

	return stdout.String(), stderr.String(), err
}

func (e *cliEnv) mustRun(stdin string, args ...string) string {
	e.t.Helper()

	out, errOut, err := e.run(stdin, args...)
	require.NoError(e.t, err, "stderr: %s", errOut)

	return out
}

func (e *cliEnv) login() {
	e.t.Helper()

	e.srv.AddUser("alice", "pw")
	e.mustRun("pw\n", "login", "-u", "alice")
}

func TestLogin_StatusWhoamiLogout(t *testing.T) {
	e := newCLIEnv(t)
	e.srv.AddUser("alice", "pw")

	_, errOut, err := e.run("alice\npw\n", "login")
	require.NoError(t, err)
	assert.Contains(t, errOut, "Logged in as alice.")

	out := e.mustRun("", "status")
	assert.Contains(t, out, "Session:  logged in")
	assert.Contains(t, out, e.srv.URL())
	assert.Contains(t, out, "Expires:")

	out = e.mustRun("", "whoami")
	assert.Contains(t, out, "User:    alice")

	e.mustRun("", "logout")
	assert.Equal(t, 1, e.srv.Calls(http.MethodPost, "/auth/logout"))

	out = e.mustRun("", "status")
	assert.Contains(t, out, "Session:  logged out")

	_, _, err = e.run("", "whoami")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not logged in")
}

func TestLogin_Rejected(t *testing.T) {
	e := newCLIEnv(t)
	e.srv.AddUser("alice", "pw")

	_, _, err := e.run("wrong\n", "login", "--username", "alice")
	require.EqualError(t, err, "Incorrect username or password")

	out := e.mustRun("", "status", "--json")

	var st statusOutput
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, "logged out", st.State)
	assert.Nil(t, st.IssuedAt)
}

func TestLogin_EmptyInput(t *testing.T) {
	e := newCLIEnv(t)

	_, _, err := e.run("\n", "login")
	assert.ErrorContains(t, err, "username must not be empty")

	_, _, err = e.run("", "login", "-u", "alice")
	assert.ErrorContains(t, err, "password must not be empty")
}

func TestRegister(t *testing.T) {
	e := newCLIEnv(t)

	_, errOut, err := e.run("bob\nsecret\n", "register")
	require.NoError(t, err)
	assert.Contains(t, errOut, "Account bob created")

	// Registration does not sign in.
	assert.Contains(t, e.mustRun("", "status"), "logged out")

	_, _, err = e.run("secret\n", "register", "-u", "bob")
	require.EqualError(t, err, "Username already registered")

	e.mustRun("secret\n", "login", "-u", "bob")
}

func TestBookmarkCommands(t *testing.T) {
	e := newCLIEnv(t)
	e.login()

	out := e.mustRun("", "add", "https://go.dev", "--title", "Go", "--notes", "docs", "--json")

	var added bookmarks.Entry
	require.NoError(t, json.Unmarshal([]byte(out), &added))
	assert.Equal(t, "Go", added.Title)
	require.NotNil(t, added.Notes)
	assert.Equal(t, "docs", *added.Notes)

	id := strconv.FormatInt(added.ID, 10)

	out = e.mustRun("", "ls")
	assert.Contains(t, out, "TITLE")
	assert.Contains(t, out, "https://go.dev")

	_, errOut, err := e.run("", "archive", id)
	require.NoError(t, err)
	assert.Contains(t, errOut, "Archived 1 bookmark(s).")

	stored, ok := e.srv.Bookmark(added.ID)
	require.True(t, ok)
	assert.True(t, stored.Archived)

	_, errOut, err = e.run("", "ls")
	require.NoError(t, err)
	assert.Contains(t, errOut, "No bookmarks.")

	out = e.mustRun("", "ls", "--archived")
	assert.Contains(t, out, "archived")

	e.mustRun("", "unarchive", id)
	stored, _ = e.srv.Bookmark(added.ID)
	assert.False(t, stored.Archived)

	e.mustRun("", "rm", id)
	_, ok = e.srv.Bookmark(added.ID)
	assert.False(t, ok)
}

func TestArchive_RefusedIsReported(t *testing.T) {
	e := newCLIEnv(t)
	e.login()

	id := e.srv.AddBookmark("alice", apitest.Bookmark{URL: "https://a.example", CreatedAt: time.Now()})
	e.srv.Fail(http.MethodPatch, "/bookmarks/"+strconv.FormatInt(id, 10), http.StatusInternalServerError)

	_, errOut, err := e.run("", "archive", strconv.FormatInt(id, 10))
	require.ErrorIs(t, err, errMutationsFailed)
	assert.Contains(t, errOut, "failed: update")

	stored, _ := e.srv.Bookmark(id)
	assert.False(t, stored.Archived)
}

func TestMutations_InvalidID(t *testing.T) {
	e := newCLIEnv(t)
	e.login()

	_, _, err := e.run("", "rm", "abc")
	assert.ErrorContains(t, err, `invalid bookmark ID "abc"`)
}

func TestLs_NotLoggedIn(t *testing.T) {
	e := newCLIEnv(t)

	_, _, err := e.run("", "ls")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run 'bookmarker login' first")
	assert.Zero(t, e.srv.Calls(http.MethodGet, "/bookmarks/"))
}

func TestPurgeAndRestoreLast(t *testing.T) {
	e := newCLIEnv(t)
	e.login()

	now := time.Now().UTC()
	old := e.srv.AddBookmark("alice", apitest.Bookmark{
		URL: "https://old.example", Archived: true, ArchivedAt: apitest.ArchivedDaysAgo(now, 40), CreatedAt: now,
	})
	recent := e.srv.AddBookmark("alice", apitest.Bookmark{
		URL: "https://recent.example", Title: "Recent", Archived: true, ArchivedAt: apitest.ArchivedDaysAgo(now, 1), CreatedAt: now,
	})

	// Declined at the prompt.
	_, errOut, err := e.run("n\n", "purge")
	require.NoError(t, err)
	assert.Contains(t, errOut, "Permanently delete 1 bookmark(s)")
	assert.Contains(t, errOut, "Canceled.")

	_, errOut, err = e.run("", "purge", "--yes")
	require.NoError(t, err)
	assert.Contains(t, errOut, "Deleted 1 bookmark(s).")

	_, ok := e.srv.Bookmark(old)
	assert.False(t, ok)

	_, errOut, err = e.run("y\n", "restore-last")
	require.NoError(t, err)
	assert.Contains(t, errOut, `Restore "Recent"?`)

	stored, _ := e.srv.Bookmark(recent)
	assert.False(t, stored.Archived)

	_, errOut, err = e.run("", "restore-last", "-y")
	require.NoError(t, err)
	assert.Contains(t, errOut, "No archived bookmarks.")
}

func TestPurge_OlderThanFlag(t *testing.T) {
	e := newCLIEnv(t)
	e.login()

	now := time.Now().UTC()
	id := e.srv.AddBookmark("alice", apitest.Bookmark{
		URL: "https://x.example", Archived: true, ArchivedAt: apitest.ArchivedDaysAgo(now, 3), CreatedAt: now,
	})

	e.mustRun("", "purge", "--older-than", "2d", "-y")

	_, ok := e.srv.Bookmark(id)
	assert.False(t, ok)

	_, _, err := e.run("", "purge", "--older-than", "soon")
	assert.ErrorContains(t, err, "invalid --older-than")
}

func TestShow(t *testing.T) {
	e := newCLIEnv(t)
	e.login()

	notes := "read later"
	id := e.srv.AddBookmark("alice", apitest.Bookmark{
		URL: "https://go.dev/blog", Title: "Go Blog", Notes: &notes, CreatedAt: time.Now(),
	})

	out := e.mustRun("", "show", strconv.FormatInt(id, 10))
	assert.Contains(t, out, "Title:  Go Blog")
	assert.Contains(t, out, "Notes:  read later")
	assert.Contains(t, out, "State:  active")
	assert.Equal(t, 1, e.srv.Calls(http.MethodGet, "/bookmarks/"+strconv.FormatInt(id, 10)))

	_, _, err := e.run("", "show", "999")
	assert.ErrorContains(t, err, "Bookmark not found")
}

func TestLs_Filters(t *testing.T) {
	e := newCLIEnv(t)
	e.login()

	now := time.Now().UTC()
	e.srv.AddBookmark("alice", apitest.Bookmark{URL: "https://active.example", Title: "Active", CreatedAt: now})
	e.srv.AddBookmark("alice", apitest.Bookmark{
		URL: "https://old.example", Title: "Old", Archived: true, ArchivedAt: apitest.ArchivedDaysAgo(now, 2), CreatedAt: now,
	})

	out := e.mustRun("", "ls")
	assert.Contains(t, out, "Active")
	assert.NotContains(t, out, "Old")

	out = e.mustRun("", "ls", "--all", "--json")

	var listed []bookmarks.Entry
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	assert.Len(t, listed, 2)
}

func TestPing(t *testing.T) {
	e := newCLIEnv(t)

	out := e.mustRun("", "ping")
	assert.Contains(t, out, "OK")
	assert.Contains(t, out, "status: healthy")

	_, _, err := e.run("", "ping", "--base-url", "http://127.0.0.1:1/api")
	assert.ErrorContains(t, err, "unreachable")
}

func TestConfigCommands(t *testing.T) {
	e := newCLIEnv(t)

	_, errOut, err := e.run("", "config", "init")
	require.NoError(t, err)
	assert.Contains(t, errOut, "config.toml")

	_, _, err = e.run("", "config", "init")
	require.ErrorIs(t, err, config.ErrConfigExists)

	_, _, err = e.run("", "config", "set-url", "not-a-url")
	require.Error(t, err)

	_, errOut, err = e.run("", "config", "set-url", "https://saved.example/api/")
	require.NoError(t, err)
	assert.Contains(t, errOut, "Service URL set to https://saved.example/api.")
	assert.Contains(t, errOut, "currently overrides it")

	// The environment override wins over the saved URL.
	out := e.mustRun("", "config", "show")
	assert.Contains(t, out, `base_url = "`+e.srv.URL()+`"`)

	t.Setenv(config.EnvBaseURL, "")

	out = e.mustRun("", "config", "show")
	assert.Contains(t, out, `base_url = "https://saved.example/api"`)
	assert.Contains(t, out, "session.json")
}

func TestBadConfigFileIsFatal(t *testing.T) {
	e := newCLIEnv(t)

	require.NoError(t, os.WriteFile(filepath.Join(e.dir, "config.toml"), []byte("[renewal]\nintervall = \"1m\"\n"), 0o600))

	_, _, err := e.run("", "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `did you mean "interval"?`)
}

func TestBuildLogger(t *testing.T) {
	var buf bytes.Buffer

	enabled := func(l *slog.Logger, level slog.Level) bool {
		return l.Handler().Enabled(context.Background(), level)
	}

	logger := buildLogger(nil, CLIFlags{}, &buf)
	assert.True(t, enabled(logger, slog.LevelWarn))
	assert.False(t, enabled(logger, slog.LevelInfo))

	cfg := config.DefaultConfig()
	cfg.Logging.LogLevel = "info"
	assert.True(t, enabled(buildLogger(cfg, CLIFlags{}, &buf), slog.LevelInfo))

	assert.True(t, enabled(buildLogger(cfg, CLIFlags{Verbose: true}, &buf), slog.LevelDebug))
	assert.False(t, enabled(buildLogger(cfg, CLIFlags{Quiet: true}, &buf), slog.LevelWarn))

	// A non-terminal writer gets JSON under "auto".
	buildLogger(cfg, CLIFlags{}, &buf).Info("hello")
	assert.True(t, strings.HasPrefix(buf.String(), "{"))

	buf.Reset()
	cfg.Logging.LogFormat = "text"
	buildLogger(cfg, CLIFlags{}, &buf).Info("hello")
	assert.Contains(t, buf.String(), "msg=hello")
}
