// Package refresh exchanges the refresh credential held by the HTTP runtime for
// a new bearer token, with at most one exchange in flight per [Refresher].
//
// # Coalescing
//
// Concurrent Refresh calls join the outstanding flight and receive its exact
// outcome. The flight is keyed by a constant, so "one per Refresher" is the
// whole rule; once it completes, the next call starts a new exchange.
//
// # Write gate
//
// The persisted token is written by the flight (after success), deleted by the
// flight (after failure) and written by login/logout. [Refresher.Exclusive]
// serializes the latter with the former, and a login or logout that lands while
// a flight is outstanding wins: the flight's pending write is dropped and its
// callers get [ErrSuperseded] instead of the unsaved token.
//
// # What this package must NOT do
//
//   - Send the bearer token on the refresh call; the credential travels as a cookie.
//   - Retry a failed exchange.
//   - Decide session state; callers re-derive it from the store.
package refresh
