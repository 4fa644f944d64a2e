// Package audit relays session events to a caller-supplied sink without
// slowing down the operation that produced them.
//
// # Components
//
//   - [Sink]: event consumer (channel, JSON lines, zap, no-op).
//   - [Dispatcher]: buffered async relay that either drops or waits when full.
//   - [Event]: one login, logout, refresh or fetch outcome.
//
// # What this package must NOT do
//
//   - Decide which events exist; the client does.
//   - Import capsuleauth or a sibling internal package.
package audit
