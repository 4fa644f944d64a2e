package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
)

const refreshTokenSize = 32

// NewRefreshToken returns an opaque base64url refresh credential.
func NewRefreshToken() (string, error) {
	var raw [refreshTokenSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	// base64url, no padding, cookie-safe
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// HashRefreshToken returns the lookup key stored for token. The token itself is
// never stored.
func HashRefreshToken(token string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", err
	}
	if len(raw) != refreshTokenSize {
		return "", errors.New("invalid refresh token size")
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
