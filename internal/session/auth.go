package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// State is the derived session state.
type State int

const (
	LoggedOut State = iota
	LoggedIn
	Renewing
)

func (s State) String() string {
	switch s {
	case LoggedOut:
		return "logged out"
	case LoggedIn:
		return "logged in"
	case Renewing:
		return "renewing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// State reports whether a credential is stored and whether a renewal is in
// flight on this client.
func (c *Client) State(ctx context.Context) (State, error) {
	if c.renewing.Load() {
		return Renewing, nil
	}

	cred, err := c.store.Load(ctx)
	if err != nil {
		return LoggedOut, fmt.Errorf("session: loading credential: %w", err)
	}

	if cred == nil {
		return LoggedOut, nil
	}

	return LoggedIn, nil
}

// Login exchanges a username and password for a credential pair and saves
// it. The call carries no bearer token. A rejection by the service is
// reported in the result, not as an error; transport failures are errors
// wrapping ErrNetwork.
func (c *Client) Login(ctx context.Context, username, password string) (AuthResult, error) {
	body, err := json.Marshal(credentialsRequest{Username: username, Password: password})
	if err != nil {
		return AuthResult{}, fmt.Errorf("session: encoding login request: %w", err)
	}

	resp, err := c.Request(ctx, http.MethodPost, "/auth/login", body, WithoutAuth())
	if err != nil {
		return AuthResult{}, err
	}

	if err := CheckResponse(resp); err != nil {
		return rejected(err, "Login failed")
	}
	defer resp.Body.Close()

	var pair tokenPair
	if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil {
		return AuthResult{}, fmt.Errorf("session: decoding login response: %w", err)
	}

	if err := c.store.Save(ctx, pair.AccessToken, pair.RefreshToken); err != nil {
		return AuthResult{}, fmt.Errorf("session: saving credential: %w", err)
	}

	c.logger.Info("login successful", slog.String("username", username))

	return AuthResult{OK: true}, nil
}

// Register creates an account. It does not log in.
func (c *Client) Register(ctx context.Context, username, password string) (AuthResult, error) {
	body, err := json.Marshal(credentialsRequest{Username: username, Password: password})
	if err != nil {
		return AuthResult{}, fmt.Errorf("session: encoding register request: %w", err)
	}

	resp, err := c.Request(ctx, http.MethodPost, "/auth/register", body, WithoutAuth())
	if err != nil {
		return AuthResult{}, err
	}

	if err := CheckResponse(resp); err != nil {
		return rejected(err, "Registration failed")
	}

	drainAndClose(resp)

	c.logger.Info("registration successful", slog.String("username", username))

	return AuthResult{OK: true}, nil
}

// rejected converts a RemoteError into a failed AuthResult.
func rejected(err error, fallback string) (AuthResult, error) {
	rerr, ok := err.(*RemoteError) //nolint:errorlint // CheckResponse returns the concrete type
	if !ok {
		return AuthResult{}, err
	}

	return AuthResult{Message: rerr.Message(fallback)}, nil
}

// Logout tells the service to revoke the refresh token (best effort) and
// then always clears the local credential. Only a failure to clear local
// storage is returned.
func (c *Client) Logout(ctx context.Context) error {
	cred, err := c.store.Load(ctx)
	if err != nil {
		c.logger.Warn("logout: could not read credential",
			slog.String("error", err.Error()),
		)
	}

	if cred != nil && cred.RefreshToken != "" {
		c.notifyLogout(ctx, cred.RefreshToken)
	}

	if err := c.store.Clear(ctx); err != nil {
		return fmt.Errorf("session: logout: %w", err)
	}

	c.logger.Info("logged out")

	return nil
}

// notifyLogout posts the refresh token to the service. Failures are logged
// and dropped.
func (c *Client) notifyLogout(ctx context.Context, refreshToken string) {
	body, err := json.Marshal(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		c.logger.Warn("logout: encoding request", slog.String("error", err.Error()))
		return
	}

	resp, err := c.Request(ctx, http.MethodPost, "/auth/logout", body)
	if err != nil {
		c.logger.Warn("logout: service call failed", slog.String("error", err.Error()))
		return
	}

	if err := CheckResponse(resp); err != nil {
		c.logger.Warn("logout: service rejected call", slog.String("error", err.Error()))
		return
	}

	drainAndClose(resp)
}

// Refresh renews the credential. Concurrent callers share one in-flight
// renewal and all receive its result. The shared call is detached from the
// first caller's cancellation so one impatient caller cannot fail the
// others; a caller whose own context ends stops waiting.
//
// On failure the stored credential is left untouched; deciding to end the
// session is up to the caller.
func (c *Client) Refresh(ctx context.Context) error {
	ch := c.renewals.DoChan(renewKey, func() (any, error) {
		c.renewing.Store(true)
		defer c.renewing.Store(false)

		return nil, c.refresh(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Shared {
			c.logger.Debug("joined in-flight renewal")
		}

		return res.Err
	case <-ctx.Done():
		return fmt.Errorf("session: renewal wait canceled: %w", ctx.Err())
	}
}

// refresh performs one renewal against the service.
func (c *Client) refresh(ctx context.Context) error {
	cred, err := c.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("session: loading credential: %w", err)
	}

	if cred == nil || cred.RefreshToken == "" {
		return ErrNoRefreshToken
	}

	body, err := json.Marshal(refreshRequest{RefreshToken: cred.RefreshToken})
	if err != nil {
		return fmt.Errorf("session: encoding refresh request: %w", err)
	}

	resp, err := c.Request(ctx, http.MethodPost, "/auth/refresh", body, WithoutAuth())
	if err != nil {
		return err
	}

	if err := CheckResponse(resp); err != nil {
		return fmt.Errorf("session: refresh: %w", err)
	}
	defer resp.Body.Close()

	var pair tokenPair
	if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil {
		return fmt.Errorf("session: decoding refresh response: %w", err)
	}

	if err := c.store.Save(ctx, pair.AccessToken, pair.RefreshToken); err != nil {
		return fmt.Errorf("session: saving renewed credential: %w", err)
	}

	c.logger.Info("credential renewed")

	return nil
}

// Me returns the profile of the logged-in user.
func (c *Client) Me(ctx context.Context) (*User, error) {
	resp, err := c.Request(ctx, http.MethodGet, "/auth/me", nil)
	if err != nil {
		return nil, err
	}

	if err := CheckResponse(resp); err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var u User
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return nil, fmt.Errorf("session: decoding user: %w", err)
	}

	return &u, nil
}
