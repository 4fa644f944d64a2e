package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/photocapsule/capsuleauth/jwt"
	"github.com/photocapsule/capsuleauth/tokenstore"
)

// ErrAlreadyStarted is returned by a second Start.
var ErrAlreadyStarted = errors.New("session store already started")

// ErrClosed is returned by operations after Close.
var ErrClosed = errors.New("session store closed")

const defaultNotifyTimeout = 5 * time.Second

// Gate serializes writes to the persisted token with an in-flight refresh.
// *refresh.Refresher implements it.
type Gate interface {
	Exclusive(fn func() error) error
}

// LogoutNotifier tells the backend to revoke the refresh credential.
type LogoutNotifier interface {
	NotifyLogout(ctx context.Context) error
}

// LogoutNotifierFunc adapts a function to [LogoutNotifier].
type LogoutNotifierFunc func(ctx context.Context) error

// NotifyLogout calls f(ctx).
func (f LogoutNotifierFunc) NotifyLogout(ctx context.Context) error {
	return f(ctx)
}

// Option customizes a [Store].
type Option func(*Store)

// WithValidity sets the expiry checker, mostly to inject a clock.
func WithValidity(v *jwt.Validity) Option {
	return func(s *Store) {
		if v != nil {
			s.validity = v
		}
	}
}

// WithGate routes token writes through g.
func WithGate(g Gate) Option {
	return func(s *Store) {
		if g != nil {
			s.gate = g
		}
	}
}

// WithLogoutNotifier sets the best-effort backend logout call.
func WithLogoutNotifier(n LogoutNotifier) Option {
	return func(s *Store) {
		s.notifier = n
	}
}

// WithNotifyTimeout bounds the backend logout call.
func WithNotifyTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.notifyTimeout = d
		}
	}
}

// WithLogger sets the logger. The global zap logger is used otherwise.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithEventHook installs fn, called synchronously for every [Event]. fn must
// not call back into the Store.
func WithEventHook(fn func(Event)) Option {
	return func(s *Store) {
		s.hook = fn
	}
}

// Store is the session state machine of one client.
type Store struct {
	tokens        tokenstore.Store
	validity      *jwt.Validity
	gate          Gate
	notifier      LogoutNotifier
	notifyTimeout time.Duration
	logger        *zap.Logger
	hook          func(Event)

	mu      sync.RWMutex
	snap    Snapshot
	token   string
	started bool
	closed  bool

	// syncMu pairs each token store access with the state it produces, so a
	// reload can never apply a value read before a concurrent login or logout.
	syncMu sync.Mutex

	subMu  sync.Mutex
	subs   map[int]chan Snapshot
	nextID int

	watchCancel context.CancelFunc
	watchDone   chan struct{}
	background  sync.WaitGroup
}

// NewStore returns a Store in StateLoading. Nothing is read until Start.
func NewStore(tokens tokenstore.Store, opts ...Option) *Store {
	s := &Store{
		tokens:        tokens,
		validity:      jwt.NewValidity(),
		gate:          &localGate{},
		notifyTimeout: defaultNotifyTimeout,
		logger:        zap.L(),
		subs:          make(map[int]chan Snapshot),
		snap:          Snapshot{State: StateLoading},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start reads the persisted token and begins watching for changes.
//
// A usable token moves the store to StateAuthenticated. An absent, expired or
// unreadable token moves it to StateAnonymous and a stale token is deleted. If
// the token store cannot be read the store still leaves StateLoading (as
// Anonymous) and the error is returned.
func (s *Store) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	changes, watchErr := s.tokens.Watch(watchCtx)
	if watchErr != nil {
		cancel()
		s.logger.Warn("watching persisted token failed, external changes will be missed", zap.Error(watchErr))
	} else {
		s.watchCancel = cancel
		s.watchDone = make(chan struct{})
		go s.watch(watchCtx, changes)
	}

	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	token, err := s.tokens.Get(ctx)
	if err != nil {
		s.apply(Snapshot{State: StateAnonymous}, "")
		return err
	}

	claims, ok := s.validity.Usable(token)
	if ok {
		s.apply(Snapshot{State: StateAuthenticated, Identity: identityFrom(claims)}, token)
		return nil
	}

	if token != "" {
		s.logger.Debug("discarding stale persisted token at startup")
		if err := s.gate.Exclusive(func() error { return s.tokens.Delete(ctx) }); err != nil {
			s.logger.Warn("deleting stale token failed", zap.Error(err))
		}
	}
	s.apply(Snapshot{State: StateAnonymous}, "")
	return nil
}

// Login persists token and moves to StateAuthenticated. A token that cannot be
// decoded is treated as a logout and the decode error is returned.
//
// Expiry is not checked here; an expired token is accepted and the next
// request refreshes it.
func (s *Store) Login(ctx context.Context, token string) error {
	if s.isClosed() {
		return ErrClosed
	}

	claims, err := jwt.Decode(token)
	if err != nil {
		s.logger.Debug("login token unreadable, logging out", zap.Error(err))
		_ = s.Logout(ctx)
		return err
	}

	s.syncMu.Lock()
	if err := s.gate.Exclusive(func() error { return s.tokens.Set(ctx, token) }); err != nil {
		s.syncMu.Unlock()
		return err
	}
	snap := Snapshot{State: StateAuthenticated, Identity: identityFrom(claims)}
	s.apply(snap, token)
	s.syncMu.Unlock()

	s.emit(Event{Kind: EventLogin, Snapshot: snap})
	return nil
}

// Logout clears the persisted token, moves to StateAnonymous and notifies the
// backend in the background. The local transition happens even when deleting
// the token fails; that error is returned.
func (s *Store) Logout(ctx context.Context) error {
	s.syncMu.Lock()
	err := s.gate.Exclusive(func() error { return s.tokens.Delete(ctx) })
	snap := Snapshot{State: StateAnonymous}
	s.apply(snap, "")
	s.syncMu.Unlock()

	if err != nil {
		s.logger.Warn("deleting persisted token during logout failed", zap.Error(err))
	}
	s.emit(Event{Kind: EventLogout, Snapshot: snap})
	s.notifyBackend(ctx)
	return err
}

func (s *Store) notifyBackend(ctx context.Context) {
	if s.notifier == nil {
		return
	}

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return
	}
	s.background.Add(1)
	s.mu.RUnlock()

	go func() {
		defer s.background.Done()
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
		defer cancel()
		if err := s.notifier.NotifyLogout(nctx); err != nil {
			s.logger.Warn("backend logout notification failed", zap.Error(err))
			s.emit(Event{Kind: EventLogoutNotifyFailed, Snapshot: s.Snapshot(), Err: err})
		}
	}()
}

// Reload re-derives the state from the persisted token. An expired or
// unreadable token yields StateAnonymous but is left in place so the next
// request can refresh it.
func (s *Store) Reload(ctx context.Context) error {
	_, err := s.reload(ctx)
	return err
}

func (s *Store) reload(ctx context.Context) (bool, error) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	token, err := s.tokens.Get(ctx)
	if err != nil {
		return false, err
	}
	if claims, ok := s.validity.Usable(token); ok {
		return s.apply(Snapshot{State: StateAuthenticated, Identity: identityFrom(claims)}, token), nil
	}
	return s.apply(Snapshot{State: StateAnonymous}, ""), nil
}

func (s *Store) watch(ctx context.Context, changes <-chan tokenstore.Change) {
	defer close(s.watchDone)
	for change := range changes {
		changed, err := s.reload(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("reloading session after token change failed", zap.Error(err))
			}
			continue
		}
		if changed {
			s.logger.Debug("session changed by token store notification",
				zap.String("origin", change.Origin),
				zap.Bool("deleted", change.Deleted))
			s.emit(Event{Kind: EventExternalChange, Snapshot: s.Snapshot()})
		}
	}
}

// Snapshot returns the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Subscribe returns a channel receiving the current snapshot followed by every
// change. A slow reader skips intermediate snapshots and always gets the latest
// one. The channel is closed by cancel or Close.
func (s *Store) Subscribe(buffer int) (<-chan Snapshot, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Snapshot, buffer)

	s.mu.RLock()
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	if s.subs == nil {
		s.subMu.Unlock()
		s.mu.RUnlock()
		close(ch)
		return ch, func() {}
	}
	s.subs[id] = ch
	offer(ch, s.snap)
	s.subMu.Unlock()
	s.mu.RUnlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
}

// Close stops watching, waits for background logout notifications and closes
// every subscription. The token store is not closed.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.watchCancel != nil {
		s.watchCancel()
		<-s.watchDone
	}
	s.background.Wait()

	s.subMu.Lock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	s.subs = nil
	s.subMu.Unlock()
	return nil
}

// apply installs snap and reports whether anything observable changed.
func (s *Store) apply(snap Snapshot, token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.State == snap.State && s.token == token {
		return false
	}
	s.snap = snap
	s.token = token
	s.publish(snap)
	return true
}

// publish runs with s.mu held so subscribers see snapshots in apply order.
func (s *Store) publish(snap Snapshot) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		offer(ch, snap)
	}
}

func (s *Store) emit(e Event) {
	if s.hook != nil {
		s.hook(e)
	}
}

func (s *Store) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func offer(ch chan Snapshot, snap Snapshot) {
	select {
	case ch <- snap:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snap:
	default:
	}
}

type localGate struct {
	mu sync.Mutex
}

func (g *localGate) Exclusive(fn func() error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn()
}
