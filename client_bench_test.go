package capsuleauth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/photocapsule/capsuleauth/jwt"
)

func newBenchmarkClient(b *testing.B) *Client {
	b.Helper()
	manager, err := jwt.NewManager(jwt.Config{
		AccessTTL:     time.Hour,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    []byte("benchmark-secret-0123456789abcdef"),
	})
	if err != nil {
		b.Fatalf("manager: %v", err)
	}
	token, err := manager.CreateAccess(7, "bench@example.com")
	if err != nil {
		b.Fatalf("token: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	b.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.Endpoints.BaseURL = srv.URL
	c, err := New().WithConfig(cfg).Build()
	if err != nil {
		b.Fatalf("build: %v", err)
	}
	b.Cleanup(func() { _ = c.Close() })
	if err := c.Start(context.Background()); err != nil {
		b.Fatalf("start: %v", err)
	}
	if err := c.Login(context.Background(), token); err != nil {
		b.Fatalf("login: %v", err)
	}
	return c
}

func BenchmarkIsExpired(b *testing.B) {
	c := newBenchmarkClient(b)
	token, _ := c.tokens.Get(context.Background())
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if c.IsExpired(token) {
			b.Fatal("token reported expired")
		}
	}
}

func BenchmarkFetchAuthorizedParallel(b *testing.B) {
	c := newBenchmarkClient(b)
	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			resp, err := c.Fetch(context.Background(), "/api/me", nil)
			if err != nil {
				b.Errorf("fetch: %v", err)
				return
			}
			_ = resp.Body.Close()
		}
	})
}
