// Package session is the client side of the bookmark service's
// authentication protocol. A Client attaches the stored bearer credential
// to every call, renews it when the service answers 401, retries the call
// once with the renewed token, and ends the session when renewal fails.
//
// Renewal is single-flight per Client: concurrent callers that all see a
// 401 share one refresh call instead of each rotating the refresh token
// and invalidating the others. The proactive renewal scheduler goes
// through the same gate via Refresh.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/bookmarker/bookmarker-go/internal/credstore"
)

const (
	defaultUserAgent = "bookmarker-go/0.1"
	requestIDHeader  = "X-Request-ID"
	renewKey         = "renew"

	// DefaultProbeTimeout bounds a connectivity probe.
	DefaultProbeTimeout = 5 * time.Second
)

// CredentialStore persists the credential pair. Implemented by
// credstore.Store.
type CredentialStore interface {
	Load(ctx context.Context) (*credstore.Credential, error)
	Save(ctx context.Context, access, refresh string) error
	Clear(ctx context.Context) error
}

// Client talks to the bookmark service on behalf of one user.
type Client struct {
	baseURL    string
	httpClient *http.Client
	store      CredentialStore
	logger     *slog.Logger
	userAgent  string

	renewals singleflight.Group
	renewing atomic.Bool

	probeTimeout time.Duration
	newRequestID func() string
}

// NewClient returns a Client for the service at baseURL (for example
// "https://bookmarks.example.com/api"). Endpoints are appended verbatim.
func NewClient(
	baseURL string,
	httpClient *http.Client,
	store CredentialStore,
	logger *slog.Logger,
	userAgent string,
) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	return &Client{
		baseURL:      credstore.NormalizeBaseURL(baseURL),
		httpClient:   httpClient,
		store:        store,
		logger:       logger,
		userAgent:    userAgent,
		probeTimeout: DefaultProbeTimeout,
		newRequestID: uuid.NewString,
	}
}

// BaseURL returns the service base URL the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// RequestOption adjusts a single Request call.
type RequestOption func(*requestOptions)

type requestOptions struct {
	auth   bool
	header http.Header
}

// WithoutAuth sends the request without a bearer token. A 401 on such a
// request is returned to the caller and never triggers renewal.
func WithoutAuth() RequestOption {
	return func(o *requestOptions) {
		o.auth = false
	}
}

// WithHeader adds a header. Caller headers override the client's defaults,
// except Authorization, which the client always owns.
func WithHeader(key, value string) RequestOption {
	return func(o *requestOptions) {
		o.header.Add(key, value)
	}
}

// Request sends method to endpoint with the stored credential attached.
//
// If the service answers 401 the credential is renewed (sharing any renewal
// already in flight) and the call is retried exactly once. The retried
// response is returned as-is, even if it is another 401. If renewal fails
// the stored credential is cleared and the error wraps
// ErrAuthenticationFailed. Every other response is returned unmodified;
// the caller owns the body.
func (c *Client) Request(
	ctx context.Context,
	method, endpoint string,
	body []byte,
	opts ...RequestOption,
) (*http.Response, error) {
	ro := requestOptions{auth: true, header: make(http.Header)}
	for _, opt := range opts {
		opt(&ro)
	}

	if !ro.auth {
		return c.send(ctx, method, endpoint, body, ro.header, "")
	}

	cred, err := c.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: loading credential: %w", err)
	}

	if cred == nil {
		return nil, ErrUnauthenticated
	}

	resp, err := c.send(ctx, method, endpoint, body, ro.header, cred.AccessToken)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	drainAndClose(resp)

	c.logger.Info("access token rejected, renewing",
		slog.String("method", method),
		slog.String("endpoint", endpoint),
	)

	if err := c.renewAfter(ctx, cred.AccessToken); err != nil {
		// A caller that gave up is not evidence the session is dead.
		if ctx.Err() != nil {
			return nil, fmt.Errorf("session: request canceled: %w", ctx.Err())
		}

		if c.endSession(ctx, cred.RefreshToken, err) {
			return nil, fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
		}
	}

	fresh, err := c.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: reloading credential: %w", err)
	}

	if fresh == nil {
		return nil, fmt.Errorf("%w: credential missing after renewal", ErrAuthenticationFailed)
	}

	c.logger.Debug("retrying with renewed token",
		slog.String("method", method),
		slog.String("endpoint", endpoint),
	)

	return c.send(ctx, method, endpoint, body, ro.header, fresh.AccessToken)
}

// renewAfter renews the credential unless the token that drew the 401 has
// already been replaced by another caller's renewal.
func (c *Client) renewAfter(ctx context.Context, staleAccess string) error {
	current, err := c.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading credential: %w", err)
	}

	if current != nil && current.AccessToken != staleAccess {
		c.logger.Debug("credential already renewed by another caller")
		return nil
	}

	return c.Refresh(ctx)
}

// endSession clears the stored credential after a failed renewal and
// reports whether it did. If the stored refresh token is no longer
// failedRefresh, another process sharing the store rotated it meanwhile and
// the newer credential is kept.
func (c *Client) endSession(ctx context.Context, failedRefresh string, cause error) bool {
	ctx = context.WithoutCancel(ctx)

	if current, err := c.store.Load(ctx); err == nil && current != nil && current.RefreshToken != failedRefresh {
		c.logger.Info("renewal failed but the credential was rotated elsewhere, keeping it",
			slog.String("error", cause.Error()),
		)

		return false
	}

	c.logger.Warn("renewal failed, ending session",
		slog.String("error", cause.Error()),
	)

	if err := c.store.Clear(ctx); err != nil {
		c.logger.Error("clearing credential after failed renewal",
			slog.String("error", err.Error()),
		)
	}

	return true
}

// send executes one HTTP call with no renewal logic.
func (c *Client) send(
	ctx context.Context,
	method, endpoint string,
	body []byte,
	header http.Header,
	accessToken string,
) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("session: creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set(requestIDHeader, c.newRequestID())

	for k, vs := range header {
		req.Header[k] = vs
	}

	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("session: request canceled: %w", ctx.Err())
		}

		return nil, fmt.Errorf("%w: %s %s: %w", ErrNetwork, method, endpoint, err)
	}

	c.logger.Debug("request completed",
		slog.String("method", method),
		slog.String("endpoint", endpoint),
		slog.Int("status", resp.StatusCode),
		slog.String("request_id", req.Header.Get(requestIDHeader)),
	)

	return resp, nil
}

// drainAndClose discards the rest of the body so the connection can be
// reused.
func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
}

// isCanceled reports whether err stems from context cancellation or a
// deadline.
func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
