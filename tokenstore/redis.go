package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the token under one Redis key and publishes a notification on
// every write. Every client pointed at the same key is a tab of the same origin.
type RedisStore struct {
	redis   redis.UniversalClient
	key     string
	channel string
	origin  string

	mu     sync.Mutex
	closed bool
	done   chan struct{}
	subs   map[*redis.PubSub]struct{}
}

type changeMessage struct {
	Origin  string `json:"origin"`
	Deleted bool   `json:"deleted"`
	At      int64  `json:"at"`
}

// NewRedisStore creates a [RedisStore] on rdb using the key and channel derived
// from cfg. The caller keeps ownership of rdb.
func NewRedisStore(rdb redis.UniversalClient, cfg Config) *RedisStore {
	return &RedisStore{
		redis:   rdb,
		key:     cfg.Key(),
		channel: cfg.Channel(),
		origin:  cfg.Origin,
		done:    make(chan struct{}),
		subs:    make(map[*redis.PubSub]struct{}),
	}
}

// Get returns the stored token, or "" when the key is absent.
//
//	Performance: 1 Redis GET.
func (s *RedisStore) Get(ctx context.Context) (string, error) {
	if s.isClosed() {
		return "", ErrClosed
	}
	token, err := s.redis.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return token, nil
}

// Set writes the token and publishes a change in one MULTI/EXEC.
func (s *RedisStore) Set(ctx context.Context, token string) error {
	return s.write(ctx, func(pipe redis.Pipeliner) {
		pipe.Set(ctx, s.key, token, 0)
	}, false)
}

// Delete removes the token and publishes a change in one MULTI/EXEC.
func (s *RedisStore) Delete(ctx context.Context) error {
	return s.write(ctx, func(pipe redis.Pipeliner) {
		pipe.Del(ctx, s.key)
	}, true)
}

func (s *RedisStore) write(ctx context.Context, op func(redis.Pipeliner), deleted bool) error {
	if s.isClosed() {
		return ErrClosed
	}
	msg, err := json.Marshal(changeMessage{Origin: s.origin, Deleted: deleted, At: time.Now().UnixMilli()})
	if err != nil {
		return err
	}
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		op(pipe)
		pipe.Publish(ctx, s.channel, msg)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Watch subscribes to the change channel. The subscription is confirmed before
// Watch returns, so any write that completes afterwards is observed.
func (s *RedisStore) Watch(ctx context.Context) (<-chan Change, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}

	ps := s.redis.Subscribe(ctx, s.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ps.Close()
		return nil, ErrClosed
	}
	s.subs[ps] = struct{}{}
	s.mu.Unlock()

	out := make(chan Change, 1)
	msgs := ps.Channel()
	go func() {
		defer close(out)
		defer s.release(ps)
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				offer(out, decodeChange(msg.Payload))
			}
		}
	}()

	return out, nil
}

// Close ends every active subscription. It does not close the Redis client.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	subs := s.subs
	s.subs = make(map[*redis.PubSub]struct{})
	s.mu.Unlock()

	var firstErr error
	for ps := range subs {
		if err := ps.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *RedisStore) release(ps *redis.PubSub) {
	s.mu.Lock()
	_, owned := s.subs[ps]
	delete(s.subs, ps)
	s.mu.Unlock()
	if owned {
		_ = ps.Close()
	}
}

func (s *RedisStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// decodeChange never fails: an unreadable payload still means "something changed".
func decodeChange(payload string) Change {
	var msg changeMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return Change{At: time.Now()}
	}
	return Change{
		Deleted: msg.Deleted,
		Origin:  msg.Origin,
		At:      time.UnixMilli(msg.At),
	}
}
