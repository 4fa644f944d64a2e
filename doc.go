// Package capsuleauth is the client session core of photo-capsule: it keeps
// the short-lived bearer token, renews it through the refresh cookie and
// attaches it to every authenticated request.
//
// A [Client] is built once through [Builder.Build] and started with
// [Client.Start]. Its methods are safe to call from multiple goroutines.
// Clients sharing a token store (in memory within one process, or Redis across
// processes) share one session the way browser tabs share local storage.
//
// # Architecture boundaries
//
// capsuleauth is the public surface. It exposes [Client], [Builder], [Config],
// the error sentinels and value types ([Snapshot], [Identity],
// [MetricsSnapshot]). Token decoding lives in jwt, persistence in tokenstore,
// coalesced renewal in refresh and the observable state machine in session.
//
// # What this package must NOT do
//
//   - Make authorization decisions from decoded claims. Tokens are decoded
//     without signature checks and only drive the UI state and expiry.
//   - Retry business calls, or refresh more than once per call.
//   - Perform I/O during Build.
//   - Log or audit token values.
package capsuleauth
