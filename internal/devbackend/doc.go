// Package devbackend is an in-memory photo-capsule backend used by tests, the
// example server and capsulectl's local mode.
//
// It issues HS256 access tokens through jwt.Manager, keeps rotating refresh
// sessions in Redis behind an HttpOnly refresh_token cookie, guards the vault
// API with middleware.Guard and throttles failed sign-ins with internal/rate.
// Users and vaults live in memory and vanish with the process.
//
// # What this package must NOT do
//
//   - Be used as a production backend.
//   - Be imported outside the capsuleauth module.
package devbackend
