package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookmarker/bookmarker-go/internal/apitest"
)

func closedServerURL() string {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	return url
}

func TestLogin(t *testing.T) {
	srv := apitest.New(t)
	srv.AddUser("alice", "secret")

	c, store := newTestClient(t, srv.URL(), srv.Client())

	res, err := c.Login(t.Context(), "alice", "secret")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Empty(t, res.Message)

	cred, err := store.Load(t.Context())
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.True(t, srv.RefreshTokenValid(cred.RefreshToken))
	assert.Equal(t, []string{""}, srv.BearerTokens(http.MethodPost, "/auth/login"))
}

func TestLogin_RejectedIsNotAnError(t *testing.T) {
	srv := apitest.New(t)
	srv.AddUser("alice", "secret")

	c, store := newTestClient(t, srv.URL(), srv.Client())

	res, err := c.Login(t.Context(), "alice", "wrong")
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, "Incorrect username or password", res.Message)
	assert.Zero(t, srv.Calls(http.MethodPost, "/auth/refresh"), "login 401 never triggers renewal")

	cred, err := store.Load(t.Context())
	require.NoError(t, err)
	assert.Nil(t, cred)
}

func TestLogin_FallbackMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	c, _ := newTestClient(t, ts.URL, ts.Client())

	res, err := c.Login(t.Context(), "alice", "secret")
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, "Login failed", res.Message)
}

func TestLogin_NetworkErrorPropagates(t *testing.T) {
	c, _ := newTestClient(t, closedServerURL(), nil)

	_, err := c.Login(t.Context(), "alice", "secret")
	require.ErrorIs(t, err, ErrNetwork)
}

func TestRegister(t *testing.T) {
	srv := apitest.New(t)
	c, store := newTestClient(t, srv.URL(), srv.Client())

	res, err := c.Register(t.Context(), "bob", "pw")
	require.NoError(t, err)
	assert.True(t, res.OK)

	cred, err := store.Load(t.Context())
	require.NoError(t, err)
	assert.Nil(t, cred, "registration does not log in")

	res, err = c.Register(t.Context(), "bob", "pw")
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, "Username already registered", res.Message)
}

func TestRegister_ValidationDetailList(t *testing.T) {
	srv := apitest.New(t)
	c, _ := newTestClient(t, srv.URL(), srv.Client())

	res, err := c.Register(t.Context(), "bob", "")
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, "Field required", res.Message)
}

func TestLogout_RevokesAndClears(t *testing.T) {
	srv := apitest.New(t)
	c, store := newTestClient(t, srv.URL(), srv.Client())
	_, refresh := loginAs(t, srv, store, "alice")

	require.NoError(t, c.Logout(t.Context()))

	assert.False(t, srv.RefreshTokenValid(refresh))
	assert.Equal(t, 1, srv.Calls(http.MethodPost, "/auth/logout"))

	cred, err := store.Load(t.Context())
	require.NoError(t, err)
	assert.Nil(t, cred)
}

func TestLogout_ClearsEvenOnNetworkError(t *testing.T) {
	c, store := newTestClient(t, closedServerURL(), nil)
	require.NoError(t, store.Save(t.Context(), "acc", "ref"))

	require.NoError(t, c.Logout(t.Context()))

	cred, err := store.Load(t.Context())
	require.NoError(t, err)
	assert.Nil(t, cred)
}

func TestLogout_ClearsEvenWhenServiceRejects(t *testing.T) {
	srv := apitest.New(t)
	c, store := newTestClient(t, srv.URL(), srv.Client())
	loginAs(t, srv, store, "alice")

	srv.Fail(http.MethodPost, "/auth/logout", http.StatusInternalServerError)

	require.NoError(t, c.Logout(t.Context()))

	cred, err := store.Load(t.Context())
	require.NoError(t, err)
	assert.Nil(t, cred)
}

func TestLogout_WhenLoggedOut(t *testing.T) {
	srv := apitest.New(t)
	c, _ := newTestClient(t, srv.URL(), srv.Client())

	require.NoError(t, c.Logout(t.Context()))
	assert.Zero(t, srv.Calls(http.MethodPost, "/auth/logout"))
}

func TestMe(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	srv := apitest.New(t)
	srv.SetNow(func() time.Time { return now })

	c, store := newTestClient(t, srv.URL(), srv.Client())
	loginAs(t, srv, store, "alice")

	u, err := c.Me(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.True(t, u.IsActive)
	assert.True(t, now.Equal(u.CreatedAt.Time))
}

func TestMe_LoggedOut(t *testing.T) {
	srv := apitest.New(t)
	c, _ := newTestClient(t, srv.URL(), srv.Client())

	_, err := c.Me(t.Context())
	require.ErrorIs(t, err, ErrUnauthenticated)
}

func TestMe_InactiveUserIsRemoteRejection(t *testing.T) {
	srv := apitest.New(t)
	c, store := newTestClient(t, srv.URL(), srv.Client())
	loginAs(t, srv, store, "alice")
	srv.Deactivate("alice")

	_, err := c.Me(t.Context())

	var rerr *RemoteError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, http.StatusBadRequest, rerr.StatusCode)
	assert.Equal(t, "Inactive user", rerr.Message("fallback"))
	assert.NotEmpty(t, rerr.RequestID)
}
