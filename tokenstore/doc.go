// Package tokenstore persists the single bearer token a client holds and tells
// every interested party when it changes.
//
// A [Store] plays the role of browser storage shared by all tabs of one origin:
// one value under one fixed key, readable and writable by any client attached
// to it, with change notifications delivered to every watcher regardless of
// which client made the change.
//
// # Architecture boundaries
//
// Stores move opaque strings. They never decode tokens, never talk to the
// backend and never decide session state; the session package does that after
// re-reading the store on each notification.
//
// # What this package must NOT do
//
//   - Persist anything besides the bearer token.
//   - Put the token itself on a cross-process notification channel.
//   - Block a writer on a slow watcher.
package tokenstore
