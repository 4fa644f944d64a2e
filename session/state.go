package session

import (
	"time"

	"github.com/photocapsule/capsuleauth/jwt"
)

// State is the sign-in state of a client.
type State int

const (
	// StateLoading is the initial state until the persisted token has been read.
	StateLoading State = iota
	// StateAuthenticated means a usable token is persisted.
	StateAuthenticated
	// StateAnonymous means there is no usable token.
	StateAnonymous
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateAuthenticated:
		return "authenticated"
	case StateAnonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

// Identity is the decoded payload of the current token.
type Identity struct {
	UserID    string
	Email     string
	ExpiresAt time.Time
	Claims    map[string]any
}

func identityFrom(c *jwt.Claims) *Identity {
	return &Identity{
		UserID:    c.UserID,
		Email:     c.Email,
		ExpiresAt: c.ExpiresAt,
		Claims:    c.Raw,
	}
}

// Snapshot is an immutable view of the session. Identity is nil unless State
// is StateAuthenticated.
type Snapshot struct {
	State    State
	Identity *Identity
}

// IsAuthenticated reports whether a usable token backs the snapshot.
func (s Snapshot) IsAuthenticated() bool {
	return s.State == StateAuthenticated
}

// IsLoading reports whether the persisted token has not been read yet.
func (s Snapshot) IsLoading() bool {
	return s.State == StateLoading
}

// EventKind names a session event.
type EventKind string

const (
	EventLogin              EventKind = "login"
	EventLogout             EventKind = "logout"
	EventExternalChange     EventKind = "external_change"
	EventLogoutNotifyFailed EventKind = "logout_notify_failed"
)

// Event is passed to the hook installed with [WithEventHook].
type Event struct {
	Kind     EventKind
	Snapshot Snapshot
	Err      error
}
