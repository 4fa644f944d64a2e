package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrUnavailable wraps backend failures while reading, writing or watching.
var ErrUnavailable = errors.New("token store unavailable")

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("token store closed")

// Change notifies a watcher that the persisted token changed.
//
// A Change is a hint. Token may be empty even when a token was written (Redis
// notifications never carry it), and several writes may collapse into one
// notification, so watchers should call Get to learn the current value.
type Change struct {
	Token   string
	Deleted bool
	Origin  string
	At      time.Time
}

// Store holds exactly one bearer token.
type Store interface {
	// Get returns the current token, or "" when none is stored.
	Get(ctx context.Context) (string, error)
	Set(ctx context.Context, token string) error
	// Delete removes the token. Deleting an absent token is not an error.
	Delete(ctx context.Context) error
	// Watch streams changes until ctx ends or the store is closed, then closes
	// the returned channel.
	Watch(ctx context.Context) (<-chan Change, error)
	Close() error
}

// Type selects a Store implementation.
type Type string

const (
	// TypeMemory keeps the token in process memory.
	TypeMemory Type = "memory"
	// TypeRedis keeps the token in Redis and fans out changes with pub/sub.
	TypeRedis Type = "redis"
)

// Config configures [New].
type Config struct {
	Type     Type
	Prefix   string
	TokenKey string
	// Origin identifies the writer on notifications. A random id is used when empty.
	Origin string
}

// DefaultConfig returns an in-memory store using the "capsule:token" key.
func DefaultConfig() Config {
	return Config{
		Type:     TypeMemory,
		Prefix:   "capsule",
		TokenKey: "token",
	}
}

// Key is the storage key of the token.
func (c Config) Key() string {
	prefix := strings.TrimSpace(c.Prefix)
	key := strings.TrimSpace(c.TokenKey)
	if key == "" {
		key = "token"
	}
	if prefix == "" {
		return key
	}
	return prefix + ":" + key
}

// Channel is the pub/sub channel carrying change notifications.
func (c Config) Channel() string {
	return c.Key() + ":changes"
}

// New builds the Store selected by cfg.Type. rdb is required for TypeRedis and
// ignored otherwise.
func New(cfg Config, rdb redis.UniversalClient) (Store, error) {
	if cfg.Origin == "" {
		cfg.Origin = uuid.NewString()
	}
	switch cfg.Type {
	case "", TypeMemory:
		return NewMemoryStore(cfg.Origin), nil
	case TypeRedis:
		if rdb == nil {
			return nil, errors.New("redis token store requires a redis client")
		}
		return NewRedisStore(rdb, cfg), nil
	default:
		return nil, fmt.Errorf("unsupported token store type: %s", cfg.Type)
	}
}

// offer delivers c without blocking. A watcher that has not consumed its
// previous notification gets the newer one in its place.
func offer(ch chan Change, c Change) {
	select {
	case ch <- c:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- c:
	default:
	}
}
