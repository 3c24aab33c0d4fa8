package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Probe checks that the service is reachable. It is the one call with a
// fixed deadline: running out of time yields ErrTimeout, which callers can
// tell apart from ErrNetwork and ErrRemoteRejected.
func (c *Client) Probe(ctx context.Context) (*Health, error) {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	resp, err := c.Request(ctx, http.MethodGet, "/health", nil, WithoutAuth())
	if err != nil {
		if isCanceled(err) && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, c.probeTimeout)
		}

		return nil, err
	}

	if err := CheckResponse(resp); err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, c.probeTimeout)
		}

		return nil, fmt.Errorf("session: decoding health: %w", err)
	}

	return &h, nil
}

// AccessTokenExpiry reads the exp claim of a JWT access token without
// verifying its signature. It is for display only; the service remains the
// authority on validity. ok is false for opaque or exp-less tokens.
func AccessTokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}

	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}

	return exp.Time, true
}
