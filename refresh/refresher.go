package refresh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/photocapsule/capsuleauth/tokenstore"
)

const (
	flightKey = "refresh"

	defaultTimeout      = 10 * time.Second
	defaultMaxErrorBody = 4 << 10
	maxResponseBody     = 1 << 20
)

// Doer sends HTTP requests. *http.Client satisfies it; its cookie jar carries the
// refresh credential.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Recorder observes refresh activity. Implementations must be safe for
// concurrent use and must not block.
type Recorder interface {
	// RefreshRequested is called once per Refresh call.
	RefreshRequested()
	// RefreshStarted is called once per network exchange.
	RefreshStarted()
	// RefreshFinished is called when an exchange settles.
	RefreshFinished(elapsed time.Duration, err error)
}

// Config configures a [Refresher].
type Config struct {
	// Endpoint is the absolute URL of the refresh endpoint.
	Endpoint string
	// Timeout bounds one exchange, independent of any caller's context.
	Timeout time.Duration
	// MaxErrorBody caps how much of a failure response ends up in Error.Message.
	MaxErrorBody int64
}

// Option customizes a [Refresher].
type Option func(*Refresher)

// WithLogger sets the logger. The global zap logger is used otherwise.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Refresher) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRecorder installs a metrics hook.
func WithRecorder(rec Recorder) Option {
	return func(r *Refresher) {
		if rec != nil {
			r.recorder = rec
		}
	}
}

// Refresher owns the single in-flight refresh exchange for one client.
type Refresher struct {
	cfg      Config
	store    tokenstore.Store
	client   Doer
	logger   *zap.Logger
	recorder Recorder

	group singleflight.Group

	gate  sync.Mutex
	epoch uint64
}

// New returns a Refresher that persists results into store and talks to the
// backend through client.
func New(cfg Config, store tokenstore.Store, client Doer, opts ...Option) (*Refresher, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("refresh endpoint is required")
	}
	if store == nil {
		return nil, errors.New("refresh requires a token store")
	}
	if client == nil {
		client = http.DefaultClient
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxErrorBody <= 0 {
		cfg.MaxErrorBody = defaultMaxErrorBody
	}

	r := &Refresher{
		cfg:      cfg,
		store:    store,
		client:   client,
		logger:   zap.L(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Refresh exchanges the refresh credential for a new bearer token.
//
// Callers arriving while an exchange is outstanding share it. The exchange is
// not cancelled when ctx ends; only this caller stops waiting and gets ctx.Err().
// On success the returned token is the persisted one; on failure the persisted
// token has been deleted and the error wraps [ErrRefreshFailed]. An exchange
// overtaken by [Refresher.Exclusive] returns an error matching [ErrSuperseded]
// and never hands out its token.
func (r *Refresher) Refresh(ctx context.Context) (string, error) {
	r.recorder.RefreshRequested()

	ch := r.group.DoChan(flightKey, func() (interface{}, error) {
		return r.run(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Exclusive runs fn with the token write gate held. Any exchange outstanding
// when Exclusive is entered will not write to or delete from the store.
func (r *Refresher) Exclusive(fn func() error) error {
	r.gate.Lock()
	defer r.gate.Unlock()
	r.epoch++
	return fn()
}

func (r *Refresher) currentEpoch() uint64 {
	r.gate.Lock()
	defer r.gate.Unlock()
	return r.epoch
}

func (r *Refresher) run(ctx context.Context) (string, error) {
	epoch := r.currentEpoch()
	r.recorder.RefreshStarted()
	start := time.Now()

	exchangeCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	token, err := r.exchange(exchangeCtx)
	cancel()

	commitCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	token, err = r.commit(commitCtx, epoch, token, err)
	cancel()

	r.recorder.RefreshFinished(time.Since(start), err)
	return token, err
}

// commit applies the outcome to the store unless login/logout got there first.
func (r *Refresher) commit(ctx context.Context, epoch uint64, token string, err error) (string, error) {
	r.gate.Lock()
	defer r.gate.Unlock()

	if r.epoch != epoch {
		r.logger.Debug("refresh outcome superseded by login or logout, store left untouched")
		if errors.Is(err, ErrRefreshFailed) {
			return "", fmt.Errorf("%w: %w", ErrSuperseded, err)
		}
		if err != nil {
			return "", &Error{Err: fmt.Errorf("%w: %w", ErrSuperseded, err)}
		}
		return "", &Error{Err: ErrSuperseded}
	}

	if err != nil {
		r.logger.Warn("token refresh failed, clearing persisted token", zap.Error(err))
		if delErr := r.store.Delete(ctx); delErr != nil {
			r.logger.Warn("clearing persisted token failed", zap.Error(delErr))
		}
		return "", err
	}

	if setErr := r.store.Set(ctx, token); setErr != nil {
		r.logger.Warn("persisting refreshed token failed", zap.Error(setErr))
		return "", &Error{Message: "persist refreshed token", Err: setErr}
	}
	r.logger.Debug("token refreshed")
	return token, nil
}

func (r *Refresher) exchange(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.Endpoint, nil)
	if err != nil {
		return "", &Error{Message: "build refresh request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := r.client.Do(req)
	if err != nil {
		return "", &Error{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, r.cfg.MaxErrorBody))
		return "", &Error{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(&payload); err != nil {
		return "", &Error{Status: resp.StatusCode, Message: "malformed refresh response", Err: err}
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		return "", &Error{Status: resp.StatusCode, Message: "refresh response has no access_token"}
	}
	return payload.AccessToken, nil
}

type nopRecorder struct{}

func (nopRecorder) RefreshRequested()                       {}
func (nopRecorder) RefreshStarted()                         {}
func (nopRecorder) RefreshFinished(_ time.Duration, _ error) {}
