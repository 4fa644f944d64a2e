package rate

import "errors"

var (
	// ErrRateLimited is returned once an identifier has used its attempts for the window.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps Redis failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
