package devbackend

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/photocapsule/capsuleauth/internal/rate"
	"github.com/photocapsule/capsuleauth/jwt"
	"github.com/photocapsule/capsuleauth/middleware"
)

// RefreshCookie is the name of the HttpOnly refresh credential cookie.
const RefreshCookie = "refresh_token"

// Config configures a [Backend].
type Config struct {
	// Secret signs access tokens with HS256.
	Secret     []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// Redis holds refresh sessions and sign-in counters. Required.
	Redis  redis.UniversalClient
	Prefix string
	// SecureCookie marks the refresh cookie Secure. Leave false for plain
	// http test servers, or cookie jars will not send it back.
	SecureCookie bool
	// SignInAttempts failed sign-ins per email per SignInWindow; zero disables
	// throttling.
	SignInAttempts int
	SignInWindow   time.Duration
	Logger         *zap.Logger
}

type user struct {
	id           uint64
	email        string
	passwordHash string
}

// Backend serves the photo-capsule API in memory.
type Backend struct {
	cfg      Config
	manager  *jwt.Manager
	sessions *sessionStore
	limiter  *rate.Limiter
	logger   *zap.Logger

	mu     sync.Mutex
	users  map[string]*user
	nextID uint64

	vaults *vaultStore

	signInCalls  atomic.Int64
	refreshCalls atomic.Int64
	logoutCalls  atomic.Int64
	apiCalls     atomic.Int64

	failRefresh  atomic.Bool
	refreshDelay atomic.Int64
}

// New validates cfg and returns a Backend.
func New(cfg Config) (*Backend, error) {
	if cfg.Redis == nil {
		return nil, errors.New("devbackend: redis client is required")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "capsule:dev"
	}
	if cfg.SignInWindow <= 0 {
		cfg.SignInWindow = 15 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.L()
	}

	manager, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.AccessTTL,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    cfg.Secret,
	})
	if err != nil {
		return nil, err
	}

	return &Backend{
		cfg:     cfg,
		manager: manager,
		sessions: &sessionStore{
			redis:  cfg.Redis,
			prefix: cfg.Prefix,
			ttl:    cfg.RefreshTTL,
		},
		limiter: rate.New(cfg.Redis, rate.Config{
			Enabled:     cfg.SignInAttempts > 0,
			MaxAttempts: cfg.SignInAttempts,
			Window:      cfg.SignInWindow,
			Prefix:      cfg.Prefix + ":signin",
		}),
		logger: logger.Named("devbackend"),
		users:  make(map[string]*user),
		vaults: newVaultStore(),
	}, nil
}

// Handler returns the backend's routes.
func (b *Backend) Handler() http.Handler {
	guard := middleware.Guard(b.manager)
	api := func(h http.HandlerFunc) http.Handler {
		guarded := guard(h)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			b.apiCalls.Add(1)
			guarded.ServeHTTP(w, r)
		})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /signup", b.handleSignUp)
	mux.HandleFunc("POST /signin", b.handleSignIn)
	mux.HandleFunc("POST /auth/refresh", b.handleRefresh)
	mux.HandleFunc("POST /logout", b.handleLogout)

	mux.Handle("GET /api/me", api(b.handleMe))
	mux.Handle("GET /api/getvaults", api(b.handleListVaults))
	mux.Handle("POST /api/addvaults", api(b.handleAddVault))
	mux.Handle("DELETE /vault/delete/{id}", api(b.handleDeleteVault))
	mux.Handle("GET /images/{id}", api(b.handleListImages))
	mux.Handle("POST /upload/{id}", api(b.handleUpload))
	mux.Handle("PATCH /api/upload/trash/{id}", api(b.handleTrashImage))
	mux.Handle("GET /images/trash/{id}", api(b.handleListTrash))
	mux.Handle("PATCH /images/trash/recover/{id}", api(b.handleRecoverImage))
	mux.Handle("DELETE /images/trash/delete/{id}", api(b.handleDeleteTrashed))
	mux.Handle("POST /api/update-order", api(b.handleUpdateOrder))
	mux.Handle("POST /time/set/{id}", api(b.handleSetReleaseTime))
	mux.Handle("GET /time/get/{id}", api(b.handleGetReleaseTime))
	return mux
}

// Manager returns the token manager, for tests that need to mint tokens.
func (b *Backend) Manager() *jwt.Manager {
	return b.manager
}

// CreateUser registers a user directly and returns its id.
func (b *Backend) CreateUser(email, password string) (uint64, error) {
	hash, err := hashPassword(password, devArgon)
	if err != nil {
		return 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.users[email]; ok {
		return 0, errEmailTaken
	}
	b.nextID++
	b.users[email] = &user{id: b.nextID, email: email, passwordHash: hash}
	return b.nextID, nil
}

// SignInCalls reports how many sign-in requests arrived.
func (b *Backend) SignInCalls() int64 { return b.signInCalls.Load() }

// RefreshCalls reports how many refresh requests arrived.
func (b *Backend) RefreshCalls() int64 { return b.refreshCalls.Load() }

// LogoutCalls reports how many logout requests arrived.
func (b *Backend) LogoutCalls() int64 { return b.logoutCalls.Load() }

// APICalls reports how many guarded API requests arrived, authorized or not.
func (b *Backend) APICalls() int64 { return b.apiCalls.Load() }

// FailRefresh makes every refresh answer 401 while fail is true.
func (b *Backend) FailRefresh(fail bool) { b.failRefresh.Store(fail) }

// SetRefreshDelay delays every refresh answer by d.
func (b *Backend) SetRefreshDelay(d time.Duration) { b.refreshDelay.Store(int64(d)) }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
