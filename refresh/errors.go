package refresh

import (
	"errors"
	"fmt"
)

// ErrRefreshFailed is the sentinel matched by every refresh failure.
var ErrRefreshFailed = errors.New("refresh failed")

// ErrSuperseded is matched by an exchange whose outcome was discarded because
// a login or logout changed the store while it was outstanding. The store
// holds whatever that login or logout wrote.
var ErrSuperseded = errors.New("superseded by login or logout")

// Error describes a failed exchange. Status is zero when no response arrived.
type Error struct {
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := ErrRefreshFailed.Error()
	if e.Status != 0 {
		msg = fmt.Sprintf("%s: status %d", msg, e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both ErrRefreshFailed and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrRefreshFailed}
	}
	return []error{ErrRefreshFailed, e.Err}
}
