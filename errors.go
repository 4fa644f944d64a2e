package capsuleauth

import (
	"errors"
	"fmt"

	"github.com/photocapsule/capsuleauth/jwt"
	"github.com/photocapsule/capsuleauth/refresh"
)

var (
	// ErrUnauthorized is returned by Fetch when no usable token exists after one refresh attempt.
	// No business call is made.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrRefreshFailed matches every refresh failure. The persisted token has
	// been cleared unless the failure also matches ErrRefreshSuperseded.
	ErrRefreshFailed = refresh.ErrRefreshFailed
	// ErrRefreshSuperseded matches a refresh overtaken by Login or Logout; the
	// store keeps what they wrote.
	ErrRefreshSuperseded = refresh.ErrSuperseded
	// ErrTokenDecode matches a token that is present but cannot be read.
	ErrTokenDecode = jwt.ErrDecode
	// ErrRequestFailed wraps transport failures of business calls.
	ErrRequestFailed = errors.New("request failed")
	// ErrClientNotStarted is returned by operations that need Start to have run.
	ErrClientNotStarted = errors.New("client not started")
	// ErrClientClosed is returned after Close.
	ErrClientClosed = errors.New("client closed")
	// ErrInvalidCredentials is matched by sign-in failures the backend answers with 401.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountExists is matched by sign-up failures the backend answers with 409.
	ErrAccountExists = errors.New("account already exists")
)

// RefreshError describes a failed refresh exchange.
type RefreshError = refresh.Error

// APIError is a non-success answer from a sign-in or sign-up call.
type APIError struct {
	Op      string
	Status  int
	Message string
	kind    error
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Message)
}

// Unwrap returns ErrInvalidCredentials or ErrAccountExists when the status
// maps to one of them.
func (e *APIError) Unwrap() error {
	return e.kind
}
