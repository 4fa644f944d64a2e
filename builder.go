package capsuleauth

import (
	"errors"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	internalaudit "github.com/photocapsule/capsuleauth/internal/audit"
	"github.com/photocapsule/capsuleauth/jwt"
	"github.com/photocapsule/capsuleauth/refresh"
	"github.com/photocapsule/capsuleauth/session"
	"github.com/photocapsule/capsuleauth/tokenstore"
)

// Builder defines a public type used by capsuleauth APIs.
//
// Builder instances are intended to be configured during initialization and then treated as immutable.
// A Builder produces at most one [Client].
type Builder struct {
	config Config

	redis      redis.UniversalClient
	tokens     tokenstore.Store
	httpClient *http.Client
	logger     *zap.Logger
	clock      func() time.Time
	auditSink  AuditSink

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis supplies the Redis client used when Storage.Type is "redis".
// The caller keeps ownership and closes it.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithTokenStore supplies the token store directly, overriding Storage and
// Redis settings. Clients built on the same store share one session, the way
// browser tabs share storage. The caller keeps ownership and closes it.
func (b *Builder) WithTokenStore(store tokenstore.Store) *Builder {
	b.tokens = store
	return b
}

// WithHTTPClient supplies the HTTP client for backend calls. A cookie jar is
// attached when the client has none, since the refresh credential is a cookie.
func (b *Builder) WithHTTPClient(client *http.Client) *Builder {
	b.httpClient = client
	return b
}

// WithLogger sets the logger. The global zap logger is used otherwise.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock replaces the clock used for expiry decisions.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

// WithAuditSink sets the audit sink and enables auditing.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	b.config.Audit.Enabled = sink != nil
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles refresh and fetch latency histograms.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires a [Client]. It performs no I/O;
// call [Client.Start] to read the persisted token.
func (b *Builder) Build() (*Client, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = zap.L()
	}
	logger = logger.Named("capsuleauth")

	baseURL, err := url.Parse(cfg.Endpoints.BaseURL)
	if err != nil {
		return nil, err
	}

	c := &Client{
		config:  cfg,
		id:      uuid.NewString(),
		origin:  originOf(baseURL),
		logger:  logger,
		metrics: NewMetrics(cfg.Metrics),
	}

	// -------- TOKEN STORE --------
	tokens := b.tokens
	if tokens == nil {
		rdb := b.redis
		if cfg.Storage.Type == tokenstore.TypeRedis && rdb == nil {
			rdb = redis.NewClient(&redis.Options{
				Addr:        cfg.Redis.Addr,
				Password:    cfg.Redis.Password,
				DB:          cfg.Redis.DB,
				DialTimeout: cfg.Redis.DialTimeout,
			})
			c.ownedRedis = rdb
		}
		store, err := tokenstore.New(tokenstore.Config{
			Type:     cfg.Storage.Type,
			Prefix:   cfg.Storage.Prefix,
			TokenKey: cfg.Storage.TokenKey,
			Origin:   c.id,
		}, rdb)
		if err != nil {
			_ = c.closeOwned()
			return nil, err
		}
		tokens = store
		c.ownsTokens = true
	}
	c.tokens = tokens

	// -------- HTTP --------
	base, err := credentialedClient(b.httpClient)
	if err != nil {
		_ = c.closeOwned()
		return nil, err
	}
	c.base = base
	c.business = &http.Client{
		Transport:     base.Transport,
		CheckRedirect: c.redirectPolicy(base.CheckRedirect),
		Jar:           base.Jar,
		Timeout:       cfg.HTTP.Timeout,
	}

	// -------- VALIDITY --------
	validityOpts := []jwt.ValidityOption{jwt.WithLogger(logger)}
	if b.clock != nil {
		validityOpts = append(validityOpts, jwt.WithClock(b.clock))
	}
	c.validity = jwt.NewValidity(validityOpts...)

	// -------- AUDIT --------
	c.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:     cfg.Audit.Enabled,
		BufferSize:  cfg.Audit.BufferSize,
		DropIfFull:  cfg.Audit.DropIfFull,
		SinkTimeout: cfg.Audit.SinkTimeout,
	}, b.auditSink)

	// -------- REFRESHER --------
	refresher, err := refresh.New(refresh.Config{
		Endpoint:     cfg.endpoint(cfg.Endpoints.RefreshPath),
		Timeout:      cfg.HTTP.RefreshTimeout,
		MaxErrorBody: cfg.HTTP.MaxErrorBody,
	}, tokens, base,
		refresh.WithLogger(logger),
		refresh.WithRecorder(clientRecorder{c: c}),
	)
	if err != nil {
		c.audit.Close()
		_ = c.closeOwned()
		return nil, err
	}
	c.refresher = refresher

	// -------- SESSION --------
	c.session = session.NewStore(tokens,
		session.WithValidity(c.validity),
		session.WithGate(refresher),
		session.WithLogoutNotifier(session.LogoutNotifierFunc(c.notifyLogout)),
		session.WithNotifyTimeout(cfg.HTTP.LogoutTimeout),
		session.WithLogger(logger),
		session.WithEventHook(c.onSessionEvent),
	)

	b.built = true

	return c, nil
}

func credentialedClient(in *http.Client) (*http.Client, error) {
	var out http.Client
	if in != nil {
		out = *in
	}
	if out.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		out.Jar = jar
	}
	return &out, nil
}
