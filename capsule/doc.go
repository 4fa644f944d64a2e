// Package capsule is a typed client for the photo-capsule vault API.
//
// Every call goes through capsuleauth.Client.Fetch, so it carries a bearer
// token and refreshes it once when needed. Non-2xx answers become
// [*StatusError]; authentication failures keep their capsuleauth errors.
//
// # What this package must NOT do
//
//   - Enforce release-time rules (the server owns them).
//   - Touch tokens or the session directly.
package capsule
