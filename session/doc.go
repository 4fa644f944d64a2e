// Package session holds the observable sign-in state of one client: Loading
// until the persisted token has been read, then Authenticated or Anonymous.
//
// # Architecture boundaries
//
// The [Store] derives its state from the persisted bearer token and nothing
// else. It re-reads the token store after every change notification, whichever
// client caused it, so a sign-out in one process signs out all of them.
// Identity is decoded, not verified; it is fit for rendering and gating a UI,
// never for authorization.
//
// # What this package must NOT do
//
//   - Call the refresh endpoint; refreshing belongs to the refresh package.
//   - Block a local logout on the backend logout call.
//   - Cache identity past a token change.
package session
