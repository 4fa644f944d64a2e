package capsuleauth

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	internalaudit "github.com/photocapsule/capsuleauth/internal/audit"
	"github.com/photocapsule/capsuleauth/jwt"
	"github.com/photocapsule/capsuleauth/refresh"
	"github.com/photocapsule/capsuleauth/session"
	"github.com/photocapsule/capsuleauth/tokenstore"
)

// Client is one photo-capsule session: the persisted bearer token, the
// refresh exchange that renews it and the authenticated request path.
//
// Client is safe for concurrent use after [Client.Start]. Several Clients built
// on the same token store behave like browser tabs sharing one session.
type Client struct {
	config Config
	id     string
	origin string
	logger *zap.Logger

	tokens     tokenstore.Store
	ownsTokens bool
	ownedRedis redis.UniversalClient

	base     *http.Client
	business *http.Client

	validity  *jwt.Validity
	refresher *refresh.Refresher
	session   *session.Store
	metrics   *Metrics
	audit     *internalaudit.Dispatcher

	mu      sync.RWMutex
	started bool
	closed  bool
}

// Start reads the persisted token and starts following changes made by other
// clients sharing the token store. The session leaves StateLoading before
// Start returns, even when the store cannot be read.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	c.started = true
	c.mu.Unlock()

	return c.session.Start(ctx)
}

// Close stops watching the token store and waits for background logout
// notifications. Stores and Redis clients created by Build are closed; ones
// supplied by the caller are not. Close is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.session.Close()
	c.audit.Close()
	return errors.Join(err, c.closeOwned())
}

// closeOwned releases the token store and Redis client created by Build.
func (c *Client) closeOwned() error {
	var err error
	if c.ownsTokens && c.tokens != nil {
		err = c.tokens.Close()
	}
	if c.ownedRedis != nil {
		err = errors.Join(err, c.ownedRedis.Close())
	}
	return err
}

func (c *Client) ready() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClientClosed
	}
	if !c.started {
		return ErrClientNotStarted
	}
	return nil
}

// ID identifies this client in audit events and change notifications.
func (c *Client) ID() string {
	return c.id
}

// Session returns the current session snapshot.
func (c *Client) Session() Snapshot {
	return c.session.Snapshot()
}

// Subscribe returns a channel receiving every session change, starting with the
// current snapshot. A slow reader only misses intermediate snapshots, never the
// latest one. Call cancel to stop.
func (c *Client) Subscribe(buffer int) (<-chan Snapshot, func()) {
	return c.session.Subscribe(buffer)
}

// Login persists token and marks the session authenticated. A token that
// cannot be decoded logs the session out and an error matching
// [ErrTokenDecode] is returned.
func (c *Client) Login(ctx context.Context, token string) error {
	if err := c.ready(); err != nil {
		return err
	}
	err := c.session.Login(ctx, token)
	if errors.Is(err, ErrTokenDecode) {
		c.metrics.Inc(MetricLoginRejected)
		c.emitAudit(ctx, internalaudit.Event{
			EventType: AuditLoginRejected,
			Error:     err.Error(),
		})
	}
	return err
}

// Logout clears the persisted token in every client sharing it and tells the
// backend to revoke the refresh credential. The backend call happens in the
// background and its failure never blocks the local logout.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.session.Logout(ctx)
}

// Refresh exchanges the refresh cookie for a new access token and persists it.
// Concurrent calls share one exchange. On failure the persisted token is
// cleared and the error matches [ErrRefreshFailed]. An exchange overtaken by
// Login or Logout returns no token and an error matching
// [ErrRefreshSuperseded]; the store keeps what they wrote.
func (c *Client) Refresh(ctx context.Context) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	token, err := c.refresher.Refresh(ctx)
	if rerr := c.session.Reload(context.WithoutCancel(ctx)); rerr != nil {
		c.logger.Warn("reloading session after refresh failed", zap.Error(rerr))
	}
	return token, err
}

// IsExpired reports whether token is unusable at the client's current time.
// Unreadable and empty tokens are expired.
func (c *Client) IsExpired(token string) bool {
	return c.validity.IsExpired(token)
}

// MetricsSnapshot returns the client's counters.
func (c *Client) MetricsSnapshot() MetricsSnapshot {
	return c.metrics.Snapshot()
}

// AuditDropped reports how many audit events were dropped.
func (c *Client) AuditDropped() uint64 {
	return c.audit.Dropped()
}

func (c *Client) onSessionEvent(e session.Event) {
	event := internalaudit.Event{Success: true}
	if id := e.Snapshot.Identity; id != nil {
		event.UserID = id.UserID
		event.Email = id.Email
	}

	switch e.Kind {
	case session.EventLogin:
		c.metrics.Inc(MetricLogin)
		event.EventType = AuditLogin
	case session.EventLogout:
		c.metrics.Inc(MetricLogout)
		event.EventType = AuditLogout
	case session.EventExternalChange:
		c.metrics.Inc(MetricExternalChange)
		event.EventType = AuditExternalChange
		event.Metadata = map[string]string{"state": e.Snapshot.State.String()}
	case session.EventLogoutNotifyFailed:
		c.metrics.Inc(MetricLogoutNotifyFailure)
		event.EventType = AuditLogoutNotifyFailed
		event.Endpoint = c.config.Endpoints.LogoutPath
		event.Success = false
	default:
		return
	}
	if e.Err != nil {
		event.Error = e.Err.Error()
	}
	c.emitAudit(context.Background(), event)
}

func (c *Client) emitAudit(ctx context.Context, event internalaudit.Event) {
	event.ClientID = c.id
	c.audit.Emit(ctx, event)
}

// clientRecorder feeds refresh outcomes into metrics and the audit trail.
// RefreshFinished runs once per exchange, not once per waiter.
type clientRecorder struct {
	c *Client
}

func (r clientRecorder) RefreshRequested() { refreshRecorder{r.c.metrics}.RefreshRequested() }
func (r clientRecorder) RefreshStarted()   { refreshRecorder{r.c.metrics}.RefreshStarted() }

func (r clientRecorder) RefreshFinished(elapsed time.Duration, err error) {
	refreshRecorder{r.c.metrics}.RefreshFinished(elapsed, err)

	event := internalaudit.Event{
		EventType: AuditRefreshSuccess,
		Endpoint:  r.c.config.Endpoints.RefreshPath,
		Success:   err == nil,
		Metadata:  map[string]string{"elapsed_ms": strconv.FormatInt(elapsed.Milliseconds(), 10)},
	}
	if err != nil {
		event.EventType = AuditRefreshFailure
		event.Error = err.Error()
		var rerr *refresh.Error
		if errors.As(err, &rerr) {
			event.Status = rerr.Status
		}
	}
	r.c.emitAudit(context.Background(), event)
}
