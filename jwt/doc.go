// Package jwt covers both halves of the access-token contract.
//
// Client code uses [Decode] and [Validity] to read a bearer token without
// verifying its signature, which is enough to decide whether the token is
// still worth sending and to render who is signed in. Server code uses
// [Manager] to mint tokens and to verify them before trusting any claim.
//
// # Architecture boundaries
//
// Decoded claims are never a trust boundary. Authorization decisions belong to
// [Manager.ParseAccess] (or the backend that owns the signing key).
//
// # What this package must NOT do
//
//   - Cache expiry decisions past the token's exp instant.
//   - Return decode errors from IsExpired; a token that cannot be read is expired.
//   - Perform network or storage I/O.
package jwt
