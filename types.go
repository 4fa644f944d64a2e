package capsuleauth

import (
	"io"
	"net/http"

	"github.com/photocapsule/capsuleauth/session"
)

// State is the sign-in state of a client.
type State = session.State

// Session states.
const (
	StateLoading       = session.StateLoading
	StateAuthenticated = session.StateAuthenticated
	StateAnonymous     = session.StateAnonymous
)

// Identity is the decoded, unverified payload of the current token. It is fit
// for rendering and gating a UI and must never drive authorization.
type Identity = session.Identity

// Snapshot is an immutable view of the session.
type Snapshot = session.Snapshot

// FetchOptions configures [Client.Fetch]. The Authorization header is owned by
// the client and any value supplied here is replaced.
type FetchOptions struct {
	// Method defaults to GET.
	Method string
	Header http.Header
	Body   io.Reader
}
