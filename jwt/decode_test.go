package jwt

import (
	"encoding/base64"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func signMap(t *testing.T, claims gjwt.MapClaims) string {
	t.Helper()
	token, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString([]byte("unrelated-secret"))
	require.NoError(t, err)
	return token
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestDecodeReadsCapsuleClaims(t *testing.T) {
	exp := time.Unix(1_900_000_000, 0)
	token := signMap(t, gjwt.MapClaims{
		"user_id": uint64(18446744073709551000),
		"email":   "ada@example.com",
		"exp":     exp.Unix(),
		"iat":     exp.Add(-15 * time.Minute).Unix(),
		"role":    "owner",
	})

	claims, err := Decode(token)
	require.NoError(t, err)
	assert.Equal(t, "18446744073709551000", claims.UserID)
	assert.Equal(t, "ada@example.com", claims.Email)
	assert.True(t, claims.ExpiresAt.Equal(exp))
	assert.True(t, claims.IssuedAt.Equal(exp.Add(-15*time.Minute)))
	assert.Equal(t, "owner", claims.Raw["role"])
}

func TestDecodeFallsBackToSubject(t *testing.T) {
	token := signMap(t, gjwt.MapClaims{"sub": "user-9", "exp": time.Now().Add(time.Hour).Unix()})

	claims, err := Decode(token)
	require.NoError(t, err)
	assert.Equal(t, "user-9", claims.UserID)
}

func TestDecodeRejectsUnreadableTokens(t *testing.T) {
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"exp":"soon"}`))
	cases := map[string]string{
		"empty":           "",
		"garbage":         "not-a-token",
		"two segments":    "abc.def",
		"bad base64":      "eyJhbGciOiJIUzI1NiJ9.%%%.sig",
		"missing exp":     signMap(t, gjwt.MapClaims{"user_id": 1}),
		"non numeric exp": "eyJhbGciOiJIUzI1NiJ9." + payload + ".sig",
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(token)
			require.ErrorIs(t, err, ErrDecode)
		})
	}
}

func TestIsExpiredFollowsExpClaim(t *testing.T) {
	now := time.Unix(1_800_000_000, 0)
	v := NewValidity(WithClock(fixedClock(now)))

	for _, offset := range []time.Duration{-24 * time.Hour, -time.Minute, -time.Second} {
		token := signMap(t, gjwt.MapClaims{"exp": now.Add(offset).Unix()})
		assert.True(t, v.IsExpired(token), "exp %v in the past", offset)
	}
	for _, offset := range []time.Duration{time.Second, time.Minute, 24 * time.Hour} {
		token := signMap(t, gjwt.MapClaims{"exp": now.Add(offset).Unix()})
		assert.False(t, v.IsExpired(token), "exp %v in the future", offset)
	}

	atBoundary := signMap(t, gjwt.MapClaims{"exp": now.Unix()})
	assert.True(t, v.IsExpired(atBoundary), "now == exp counts as expired")
}

func TestIsExpiredRechecksClockEveryCall(t *testing.T) {
	now := time.Unix(1_800_000_000, 0)
	v := NewValidity(WithClock(func() time.Time { return now }))
	token := signMap(t, gjwt.MapClaims{"exp": now.Add(10 * time.Minute).Unix()})

	require.False(t, v.IsExpired(token))
	now = now.Add(11 * time.Minute)
	require.True(t, v.IsExpired(token))
}

func TestIsExpiredSwallowsDecodeErrors(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	v := NewValidity(WithLogger(zap.New(core)))

	assert.True(t, v.IsExpired(""))
	assert.True(t, v.IsExpired("definitely.not.jwt"))
	assert.True(t, IsExpired("   "))
	assert.Equal(t, 1, logs.FilterMessage("bearer token unreadable, treating as expired").Len())
}

func TestUsableReturnsClaimsForExpiredTokens(t *testing.T) {
	now := time.Unix(1_800_000_000, 0)
	v := NewValidity(WithClock(fixedClock(now)))
	token := signMap(t, gjwt.MapClaims{"user_id": 5, "exp": now.Add(-time.Minute).Unix()})

	claims, ok := v.Usable(token)
	require.False(t, ok)
	require.NotNil(t, claims)
	assert.Equal(t, "5", claims.UserID)
}
