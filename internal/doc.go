// Package internal contains helper utilities that are intentionally private to
// capsuleauth, including refresh credential generation for the dev backend.
//
// # Sub-packages
//
//   - audit: async session event dispatch (Dispatcher + Sink implementations)
//   - devbackend: in-memory photo-capsule backend for tests and local runs
//   - rate: Redis-backed fixed-window attempt counters
//
// # What this package must NOT do
//
//   - Export types that appear in the public capsuleauth API.
//   - Be imported by any package outside the capsuleauth module.
package internal
