package token

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized matches *AuthError: the request was still rejected after one refresh and retry.
	ErrUnauthorized = errors.New("token: unauthorized after refresh")
	// ErrRefresh matches *RefreshError.
	ErrRefresh = errors.New("token: refresh failed")
	// ErrNoRefreshToken is wrapped by a RefreshError when neither the store nor
	// Options.RefreshToken holds a refresh token.
	ErrNoRefreshToken = errors.New("token: no refresh token")
)

// AuthError is terminal for the call that got it: the retry after a fresh
// refresh was rejected again. No further refresh is attempted.
type AuthError struct {
	Scope      string
	StatusCode int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("token: scope %q: request rejected after refresh (status %d)", e.Scope, e.StatusCode)
}

func (e *AuthError) Is(target error) bool { return target == ErrUnauthorized }

// RefreshError means the refresh round trip failed. Stored credentials are untouched,
// so a later attempt starts from the same refresh token.
type RefreshError struct {
	Scope string
	Err   error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("token: scope %q: refresh failed: %v", e.Scope, e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }

func (e *RefreshError) Is(target error) bool { return target == ErrRefresh }

// StatusError captures an unexpected non-authorization status and its body.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d, body: %s", e.StatusCode, string(e.Body))
}
