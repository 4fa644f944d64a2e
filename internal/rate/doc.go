// Package rate provides Redis-backed fixed-window attempt counters used to
// throttle sign-in on the dev backend.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Keys are
// <prefix>:<identifier>.
//
// # What this package must NOT do
//
//   - Decide what counts as a failed attempt (callers report failures).
//   - Be imported outside the capsuleauth module.
package rate
