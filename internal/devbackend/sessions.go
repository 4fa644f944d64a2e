package devbackend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/photocapsule/capsuleauth/internal"
)

var errUnknownSession = errors.New("unknown refresh session")

type refreshSession struct {
	UserID uint64 `json:"user_id"`
	Email  string `json:"email"`
}

// sessionStore keeps refresh sessions in Redis keyed by the hash of the
// refresh credential.
type sessionStore struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func (s *sessionStore) key(hash string) string {
	return s.prefix + ":rt:" + hash
}

// issue creates a session and returns the credential for the cookie.
func (s *sessionStore) issue(ctx context.Context, sess refreshSession) (string, error) {
	token, err := internal.NewRefreshToken()
	if err != nil {
		return "", err
	}
	hash, err := internal.HashRefreshToken(token)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(sess)
	if err != nil {
		return "", err
	}
	if err := s.redis.Set(ctx, s.key(hash), raw, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("store refresh session: %w", err)
	}
	return token, nil
}

// consume removes the session behind token and returns it. A credential can
// be consumed once.
func (s *sessionStore) consume(ctx context.Context, token string) (refreshSession, error) {
	var sess refreshSession

	hash, err := internal.HashRefreshToken(token)
	if err != nil {
		return sess, errUnknownSession
	}
	raw, err := s.redis.GetDel(ctx, s.key(hash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return sess, errUnknownSession
		}
		return sess, fmt.Errorf("load refresh session: %w", err)
	}
	if err := json.Unmarshal(raw, &sess); err != nil {
		return sess, errUnknownSession
	}
	return sess, nil
}

// revoke deletes the session behind token if it exists.
func (s *sessionStore) revoke(ctx context.Context, token string) error {
	hash, err := internal.HashRefreshToken(token)
	if err != nil {
		return nil
	}
	return s.redis.Del(ctx, s.key(hash)).Err()
}
