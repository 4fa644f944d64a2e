package jwt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// ErrDecode reports a token that is present but cannot be read.
var ErrDecode = errors.New("token decode failed")

// Claims is the unverified payload of a bearer token.
//
// Claims are derived data for display and gating. They are rebuilt from the
// current token on every use and must not be used for authorization.
type Claims struct {
	UserID    string
	Email     string
	ExpiresAt time.Time
	IssuedAt  time.Time
	Raw       map[string]any
}

// Expired reports whether the claims are past their expiry at now.
func (c *Claims) Expired(now time.Time) bool {
	return c == nil || !now.Before(c.ExpiresAt)
}

var unverifiedParser = jwt.NewParser(jwt.WithJSONNumber())

// Decode reads the payload of token without checking its signature.
//
// A missing or non-numeric exp claim is a decode error.
func Decode(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrDecode)
	}

	raw := jwt.MapClaims{}
	if _, _, err := unverifiedParser.ParseUnverified(token, raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	exp, err := raw.GetExpirationTime()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if exp == nil {
		return nil, fmt.Errorf("%w: missing exp claim", ErrDecode)
	}

	claims := &Claims{
		ExpiresAt: exp.Time,
		Raw:       map[string]any(raw),
	}
	if iat, err := raw.GetIssuedAt(); err == nil && iat != nil {
		claims.IssuedAt = iat.Time
	}
	if email, ok := raw["email"].(string); ok {
		claims.Email = email
	}
	claims.UserID = userIDOf(raw)

	return claims, nil
}

func userIDOf(raw jwt.MapClaims) string {
	switch v := raw["user_id"].(type) {
	case json.Number:
		return v.String()
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	sub, err := raw.GetSubject()
	if err != nil {
		return ""
	}
	return sub
}

// Validity decides whether bearer tokens are usable right now.
//
// Every call re-reads the clock; no decision is cached.
type Validity struct {
	now    func() time.Time
	logger *zap.Logger
}

// ValidityOption configures a [Validity].
type ValidityOption func(*Validity)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(now func() time.Time) ValidityOption {
	return func(v *Validity) {
		if now != nil {
			v.now = now
		}
	}
}

// WithLogger sets the logger used for swallowed decode failures.
func WithLogger(logger *zap.Logger) ValidityOption {
	return func(v *Validity) {
		v.logger = logger
	}
}

// NewValidity returns a Validity using the wall clock and the global zap logger
// unless options override them.
func NewValidity(opts ...ValidityOption) *Validity {
	v := &Validity{now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Now returns the current time as seen by v.
func (v *Validity) Now() time.Time {
	return v.now()
}

// IsExpired reports whether token is absent, unreadable or at/after its exp.
func (v *Validity) IsExpired(token string) bool {
	_, ok := v.Usable(token)
	return !ok
}

// Usable decodes token and reports whether it can be sent right now. The claims
// are returned whenever decoding succeeded, even for expired tokens.
func (v *Validity) Usable(token string) (*Claims, bool) {
	if token == "" {
		return nil, false
	}
	claims, err := Decode(token)
	if err != nil {
		v.log().Debug("bearer token unreadable, treating as expired", zap.Error(err))
		return nil, false
	}
	return claims, !claims.Expired(v.now())
}

func (v *Validity) log() *zap.Logger {
	if v.logger != nil {
		return v.logger
	}
	return zap.L()
}

var defaultValidity = NewValidity()

// IsExpired reports whether token is unusable according to the wall clock.
func IsExpired(token string) bool {
	return defaultValidity.IsExpired(token)
}
