package refresh

import (
	"context"
	"errors"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/photocapsule/capsuleauth/tokenstore"
)

type countingRecorder struct {
	requested atomic.Int64
	started   atomic.Int64
	failed    atomic.Int64
}

func (c *countingRecorder) RefreshRequested() { c.requested.Add(1) }
func (c *countingRecorder) RefreshStarted()   { c.started.Add(1) }
func (c *countingRecorder) RefreshFinished(_ time.Duration, err error) {
	if err != nil {
		c.failed.Add(1)
	}
}

type fakeBackend struct {
	srv     *httptest.Server
	hits    atomic.Int64
	release chan struct{}
	status  int
	body    string
}

func newFakeBackend(t *testing.T, status int, body string, gated bool) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{status: status, body: body}
	if gated {
		fb.release = make(chan struct{})
	}
	fb.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fb.hits.Add(1)
		if fb.release != nil {
			<-fb.release
		}
		w.WriteHeader(fb.status)
		_, _ = w.Write([]byte(fb.body))
	}))
	t.Cleanup(fb.srv.Close)
	return fb
}

func newTestRefresher(t *testing.T, endpoint string, store tokenstore.Store, rec Recorder) *Refresher {
	t.Helper()
	r, err := New(Config{Endpoint: endpoint, Timeout: 5 * time.Second}, store, &http.Client{}, WithRecorder(rec))
	require.NoError(t, err)
	return r
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type outcome struct {
	token string
	err   error
}

func refreshConcurrently(r *Refresher, n int) []outcome {
	results := make([]outcome, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			tok, err := r.Refresh(context.Background())
			results[i] = outcome{token: tok, err: err}
		}(i)
	}
	wg.Wait()
	return results
}

func TestConcurrentRefreshSharesOneExchange(t *testing.T) {
	fb := newFakeBackend(t, http.StatusOK, `{"access_token":"fresh-token"}`, true)
	store := tokenstore.NewMemoryStore("test")
	rec := &countingRecorder{}
	r := newTestRefresher(t, fb.srv.URL, store, rec)

	const n = 25
	done := make(chan []outcome)
	go func() { done <- refreshConcurrently(r, n) }()

	waitFor(t, func() bool { return rec.requested.Load() == n && fb.hits.Load() == 1 })
	time.Sleep(20 * time.Millisecond)
	close(fb.release)
	results := <-done

	assert.EqualValues(t, 1, fb.hits.Load())
	assert.EqualValues(t, 1, rec.started.Load())
	for _, res := range results {
		require.NoError(t, res.err)
		assert.Equal(t, "fresh-token", res.token)
	}

	persisted, err := store.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", persisted)
}

func TestConcurrentRefreshFailureIsSharedAndClearsToken(t *testing.T) {
	fb := newFakeBackend(t, http.StatusUnauthorized, "invalid refresh token\n", true)
	store := tokenstore.NewMemoryStore("test")
	require.NoError(t, store.Set(context.Background(), "stale"))
	rec := &countingRecorder{}
	r := newTestRefresher(t, fb.srv.URL, store, rec)

	const n = 10
	done := make(chan []outcome)
	go func() { done <- refreshConcurrently(r, n) }()
	waitFor(t, func() bool { return rec.requested.Load() == n && fb.hits.Load() == 1 })
	time.Sleep(20 * time.Millisecond)
	close(fb.release)
	results := <-done

	assert.EqualValues(t, 1, fb.hits.Load())
	first := results[0].err
	require.ErrorIs(t, first, ErrRefreshFailed)
	for _, res := range results {
		assert.Same(t, first, res.err, "every caller sees the identical error")
		assert.Empty(t, res.token)
	}

	var refreshErr *Error
	require.ErrorAs(t, first, &refreshErr)
	assert.Equal(t, http.StatusUnauthorized, refreshErr.Status)
	assert.Equal(t, "invalid refresh token", refreshErr.Message)

	persisted, err := store.Get(context.Background())
	require.NoError(t, err)
	assert.Empty(t, persisted)
}

func TestRefreshStartsNewExchangeAfterSettling(t *testing.T) {
	fb := newFakeBackend(t, http.StatusOK, `{"access_token":"t"}`, false)
	r := newTestRefresher(t, fb.srv.URL, tokenstore.NewMemoryStore("test"), &countingRecorder{})

	for i := 0; i < 3; i++ {
		_, err := r.Refresh(context.Background())
		require.NoError(t, err)
	}
	assert.EqualValues(t, 3, fb.hits.Load())
}

func TestRefreshRejectsResponsesWithoutToken(t *testing.T) {
	for name, body := range map[string]string{
		"missing field": `{"message":"ok"}`,
		"empty field":   `{"access_token":""}`,
		"not json":      `<html>`,
	} {
		t.Run(name, func(t *testing.T) {
			fb := newFakeBackend(t, http.StatusOK, body, false)
			store := tokenstore.NewMemoryStore("test")
			require.NoError(t, store.Set(context.Background(), "stale"))
			r := newTestRefresher(t, fb.srv.URL, store, &countingRecorder{})

			_, err := r.Refresh(context.Background())
			require.ErrorIs(t, err, ErrRefreshFailed)

			persisted, _ := store.Get(context.Background())
			assert.Empty(t, persisted)
		})
	}
}

func TestRefreshTransportFailureKeepsCause(t *testing.T) {
	fb := newFakeBackend(t, http.StatusOK, "", false)
	endpoint := fb.srv.URL
	fb.srv.Close()

	r := newTestRefresher(t, endpoint, tokenstore.NewMemoryStore("test"), &countingRecorder{})
	_, err := r.Refresh(context.Background())
	require.ErrorIs(t, err, ErrRefreshFailed)

	var urlErr *url.Error
	require.ErrorAs(t, err, &urlErr)

	var refreshErr *Error
	require.ErrorAs(t, err, &refreshErr)
	assert.Zero(t, refreshErr.Status)
}

func TestRefreshSendsCookieButNoBearer(t *testing.T) {
	var sawCookie, sawAuth, method string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		sawAuth = r.Header.Get("Authorization")
		if c, err := r.Cookie("refresh_token"); err == nil {
			sawCookie = c.Value
		}
		http.SetCookie(w, &http.Cookie{Name: "refresh_token", Value: "rotated", Path: "/", HttpOnly: true})
		_, _ = w.Write([]byte(`{"access_token":"new"}`))
	}))
	defer srv.Close()

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	u, _ := url.Parse(srv.URL)
	jar.SetCookies(u, []*http.Cookie{{Name: "refresh_token", Value: "opaque-1", Path: "/"}})

	r, err := New(Config{Endpoint: srv.URL + "/auth/refresh"}, tokenstore.NewMemoryStore("t"), &http.Client{Jar: jar})
	require.NoError(t, err)

	_, err = r.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, "opaque-1", sawCookie)
	assert.Empty(t, sawAuth)
	assert.Equal(t, "rotated", jar.Cookies(u)[0].Value)
}

func TestRefreshErrorBodyIsCapped(t *testing.T) {
	fb := newFakeBackend(t, http.StatusInternalServerError, strings.Repeat("x", 10_000), false)
	r, err := New(Config{Endpoint: fb.srv.URL, MaxErrorBody: 64}, tokenstore.NewMemoryStore("t"), nil)
	require.NoError(t, err)

	_, err = r.Refresh(context.Background())
	var refreshErr *Error
	require.ErrorAs(t, err, &refreshErr)
	assert.Len(t, refreshErr.Message, 64)
}

func TestCancelledWaiterDoesNotCancelExchange(t *testing.T) {
	fb := newFakeBackend(t, http.StatusOK, `{"access_token":"late"}`, true)
	store := tokenstore.NewMemoryStore("test")
	r := newTestRefresher(t, fb.srv.URL, store, &countingRecorder{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := r.Refresh(ctx)
		errCh <- err
	}()
	waitFor(t, func() bool { return fb.hits.Load() == 1 })
	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)

	close(fb.release)
	waitFor(t, func() bool {
		tok, _ := store.Get(context.Background())
		return tok == "late"
	})
}

func TestExclusiveWriteSupersedesOutstandingExchange(t *testing.T) {
	fb := newFakeBackend(t, http.StatusUnauthorized, "expired", true)
	store := tokenstore.NewMemoryStore("test")
	r := newTestRefresher(t, fb.srv.URL, store, &countingRecorder{})

	errCh := make(chan error, 1)
	go func() {
		_, err := r.Refresh(context.Background())
		errCh <- err
	}()
	waitFor(t, func() bool { return fb.hits.Load() == 1 })

	require.NoError(t, r.Exclusive(func() error {
		return store.Set(context.Background(), "login-token")
	}))
	close(fb.release)

	err := <-errCh
	require.ErrorIs(t, err, ErrRefreshFailed, "caller still learns the exchange failed")
	assert.ErrorIs(t, err, ErrSuperseded)
	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, http.StatusUnauthorized, rerr.Status)

	persisted, _ := store.Get(context.Background())
	assert.Equal(t, "login-token", persisted, "login made during the exchange survives")
}

func TestSupersededSuccessDoesNotHandOutToken(t *testing.T) {
	fb := newFakeBackend(t, http.StatusOK, `{"access_token":"fresh"}`, true)
	store := tokenstore.NewMemoryStore("test")
	require.NoError(t, store.Set(context.Background(), "stale"))
	r := newTestRefresher(t, fb.srv.URL, store, &countingRecorder{})

	type result struct {
		token string
		err   error
	}
	done := make(chan result, 1)
	go func() {
		token, err := r.Refresh(context.Background())
		done <- result{token, err}
	}()
	waitFor(t, func() bool { return fb.hits.Load() == 1 })

	require.NoError(t, r.Exclusive(func() error {
		return store.Delete(context.Background())
	}))
	close(fb.release)

	res := <-done
	assert.Empty(t, res.token)
	require.ErrorIs(t, res.err, ErrSuperseded)
	assert.ErrorIs(t, res.err, ErrRefreshFailed)

	persisted, _ := store.Get(context.Background())
	assert.Empty(t, persisted, "logout made during the exchange survives")
}

func TestNewValidatesInputs(t *testing.T) {
	_, err := New(Config{}, tokenstore.NewMemoryStore("t"), nil)
	require.Error(t, err)
	_, err = New(Config{Endpoint: "http://x"}, nil, nil)
	require.Error(t, err)
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Status: 401, Message: "nope"}
	assert.Equal(t, "refresh failed: status 401: nope", err.Error())
	assert.True(t, errors.Is(err, ErrRefreshFailed))
}
