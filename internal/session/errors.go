package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Sentinel errors. Use errors.Is(err, session.ErrUnauthenticated) to check.
var (
	// ErrUnauthenticated: no credential is stored but the call needs one.
	ErrUnauthenticated = errors.New("session: not logged in")
	// ErrAuthenticationFailed: renewal failed and the stored credential
	// was cleared. The session is over.
	ErrAuthenticationFailed = errors.New("session: authentication failed")
	// ErrNetwork: the service could not be reached.
	ErrNetwork = errors.New("session: network error")
	// ErrRemoteRejected: the service answered with a non-2xx status.
	ErrRemoteRejected = errors.New("session: rejected by service")
	// ErrTimeout: a connectivity probe did not finish in time.
	ErrTimeout = errors.New("session: timed out")
	// ErrNoRefreshToken: renewal was requested with no refresh token stored.
	ErrNoRefreshToken = errors.New("session: no refresh token")
)

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// RemoteError carries the status code and the service-supplied detail
// message of a rejected call.
type RemoteError struct {
	StatusCode int
	Detail     string
	RequestID  string
}

func (e *RemoteError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("session: HTTP %d", e.StatusCode)
	}

	return fmt.Sprintf("session: HTTP %d: %s", e.StatusCode, e.Detail)
}

func (e *RemoteError) Unwrap() error {
	return ErrRemoteRejected
}

// Message returns the detail if the service sent one, otherwise fallback.
func (e *RemoteError) Message(fallback string) string {
	if e.Detail != "" {
		return e.Detail
	}

	return fallback
}

// CheckResponse returns nil for a 2xx response. For anything else it reads
// and closes the body and returns a *RemoteError.
func CheckResponse(resp *http.Response) error {
	if isSuccess(resp.StatusCode) {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()

	rerr := &RemoteError{
		StatusCode: resp.StatusCode,
		Detail:     parseDetail(body),
	}

	if resp.Request != nil {
		rerr.RequestID = resp.Request.Header.Get(requestIDHeader)
	}

	return rerr
}

// parseDetail extracts the "detail" field of an error body. The service
// sends either a string or, for validation failures, a list of objects
// with a "msg" field.
func parseDetail(body []byte) string {
	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}

	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Detail) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(envelope.Detail, &s); err == nil {
		return s
	}

	var items []struct {
		Msg string `json:"msg"`
	}

	if err := json.Unmarshal(envelope.Detail, &items); err == nil {
		msgs := make([]string, 0, len(items))
		for _, it := range items {
			if it.Msg != "" {
				msgs = append(msgs, it.Msg)
			}
		}

		return strings.Join(msgs, "; ")
	}

	return ""
}

func isSuccess(code int) bool {
	return code >= http.StatusOK && code < http.StatusMultipleChoices
}
