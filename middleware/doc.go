// Package middleware exposes the server-side HTTP guard that verifies bearer
// tokens issued by jwt.Manager.
//
// # Guards
//
//   - [Guard]: verifies signature, algorithm and expiry and injects the
//     verified claims into the request context.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Verifier calls. It is used by
// the dev backend and by services that accept capsuleauth clients. Client code
// never needs it.
//
// # What this package must NOT do
//
//   - Trust claims decoded without a signature check.
//   - Access the token store or the refresh cookie.
//   - Make authorization decisions beyond pass/reject from the Verifier.
package middleware
