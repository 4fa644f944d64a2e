package capsuleauth

import (
	"io"

	internalaudit "github.com/photocapsule/capsuleauth/internal/audit"
	"go.uber.org/zap"
)

// AuditEvent is one audited session occurrence: a login, logout, refresh
// outcome, external change or unauthorized fetch. Tokens are never included.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the client's background dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink discards audit events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink buffers audit events in a channel, mostly for tests.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON object per event per line.
type JSONWriterSink = internalaudit.JSONWriterSink

// ZapSink logs audit events through zap.
type ZapSink = internalaudit.ZapSink

// Audit event types.
const (
	AuditLogin              = internalaudit.TypeLogin
	AuditLoginRejected      = internalaudit.TypeLoginRejected
	AuditLogout             = internalaudit.TypeLogout
	AuditLogoutNotifyFailed = internalaudit.TypeLogoutNotifyFail
	AuditRefreshSuccess     = internalaudit.TypeRefreshSuccess
	AuditRefreshFailure     = internalaudit.TypeRefreshFailure
	AuditExternalChange     = internalaudit.TypeExternalChange
	AuditFetchUnauthorized  = internalaudit.TypeFetchUnauthorized
)

// NewChannelSink returns a ChannelSink holding up to buffer events.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a sink writing JSON lines to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewZapSink returns a sink logging through logger, or the global logger when nil.
func NewZapSink(logger *zap.Logger) *ZapSink {
	return internalaudit.NewZapSink(logger)
}
