package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/photocapsule/capsuleauth/jwt"
)

func newTestManager(t *testing.T) *jwt.Manager {
	t.Helper()
	m, err := jwt.NewManager(jwt.Config{
		AccessTTL:     time.Minute,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    []byte("guard-test-secret-0123456789abcdef"),
	})
	require.NoError(t, err)
	return m
}

func TestGuard(t *testing.T) {
	m := newTestManager(t)
	valid, err := m.CreateAccess(7, "a@example.com")
	require.NoError(t, err)
	expired, err := m.CreateAccessAt(7, "a@example.com", time.Now().Add(-time.Hour))
	require.NoError(t, err)

	var seen *jwt.AccessClaims
	h := Guard(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{name: "valid", header: "Bearer " + valid, status: http.StatusNoContent},
		{name: "missing", header: "", status: http.StatusUnauthorized, body: "Unauthorized: missing token\n"},
		{name: "no prefix", header: valid, status: http.StatusUnauthorized, body: "Unauthorized: missing token\n"},
		{name: "empty bearer", header: "Bearer ", status: http.StatusUnauthorized, body: "Unauthorized: missing token\n"},
		{name: "expired", header: "Bearer " + expired, status: http.StatusUnauthorized, body: "Unauthorized: invalid token\n"},
		{name: "garbage", header: "Bearer x.y.z", status: http.StatusUnauthorized, body: "Unauthorized: invalid token\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, "/api/getvaults", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
				assert.Nil(t, seen)
				return
			}
			require.NotNil(t, seen)
			assert.Equal(t, uint64(7), seen.UserID)
			assert.Equal(t, "a@example.com", seen.Email)
		})
	}
}

func TestGuardNilVerifier(t *testing.T) {
	h := Guard(nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
