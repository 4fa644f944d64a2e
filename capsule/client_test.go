package capsule

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/photocapsule/capsuleauth"
	"github.com/photocapsule/capsuleauth/internal/devbackend"
)

func newSignedInClient(t *testing.T) (*Client, *capsuleauth.Client, string) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	backend, err := devbackend.New(devbackend.Config{
		Secret: []byte("capsule-test-secret-0123456789abcdef"),
		Redis:  rdb,
	})
	require.NoError(t, err)
	srv := httptest.NewServer(backend.Handler())
	t.Cleanup(srv.Close)

	cfg := capsuleauth.DefaultConfig()
	cfg.Endpoints.BaseURL = srv.URL
	auth, err := capsuleauth.New().WithConfig(cfg).Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = auth.Close() })

	ctx := context.Background()
	require.NoError(t, auth.Start(ctx))
	require.NoError(t, auth.SignUp(ctx, "owner@example.com", "pw"))
	require.NoError(t, auth.SignIn(ctx, "owner@example.com", "pw"))

	return New(auth), auth, srv.URL
}

func TestVaultLifecycle(t *testing.T) {
	c, _, _ := newSignedInClient(t)
	ctx := context.Background()

	vid, err := c.CreateVault(ctx, NewVault{Name: "Summer", Description: "beach"})
	require.NoError(t, err)

	_, err = c.CreateVault(ctx, NewVault{Name: "Summer"})
	assert.ErrorIs(t, err, ErrConflict)

	vaults, err := c.ListVaults(ctx)
	require.NoError(t, err)
	require.Len(t, vaults, 1)
	assert.Equal(t, vid, vaults[0].ID)
	assert.Equal(t, "Summer", vaults[0].Title)
	assert.Equal(t, "beach", vaults[0].Description)
	assert.Nil(t, vaults[0].UnlockDate)

	name, err := c.UploadImage(ctx, vid, "a.jpg", strings.NewReader("aaaa"))
	require.NoError(t, err)
	assert.Equal(t, "a.jpg", name)
	_, err = c.UploadImage(ctx, vid, "b.jpg", bytes.NewReader([]byte("bb")))
	require.NoError(t, err)

	images, err := c.ListImages(ctx, vid)
	require.NoError(t, err)
	require.Len(t, images, 2)
	assert.Equal(t, "a.jpg", images[0].Filename)

	require.NoError(t, c.UpdateOrder(ctx, []Order{
		{ID: images[0].ID, OrderIndex: 1},
		{ID: images[1].ID, OrderIndex: 0},
	}))
	images, err = c.ListImages(ctx, vid)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.jpg", "a.jpg"}, []string{images[0].Filename, images[1].Filename})

	trashed := images[0].ID
	require.NoError(t, c.TrashImage(ctx, trashed))
	trash, err := c.ListTrash(ctx, vid)
	require.NoError(t, err)
	require.Len(t, trash, 1)
	assert.Equal(t, trashed, trash[0].ID)

	require.NoError(t, c.RecoverImage(ctx, trashed))
	trash, err = c.ListTrash(ctx, vid)
	require.NoError(t, err)
	assert.Empty(t, trash)

	require.NoError(t, c.TrashImage(ctx, trashed))
	require.NoError(t, c.DeleteTrashedImage(ctx, trashed))
	assert.ErrorIs(t, c.RecoverImage(ctx, trashed), ErrNotFound)

	at := time.Date(2031, 6, 1, 12, 0, 0, 0, time.UTC)
	release, err := c.ReleaseTime(ctx, vid)
	require.NoError(t, err)
	assert.Nil(t, release)
	require.NoError(t, c.SetReleaseTime(ctx, vid, at))
	release, err = c.ReleaseTime(ctx, vid)
	require.NoError(t, err)
	require.NotNil(t, release)
	assert.True(t, at.Equal(*release))

	require.NoError(t, c.DeleteVault(ctx, vid))
	assert.ErrorIs(t, c.DeleteVault(ctx, vid), ErrNotFound)
	_, err = c.ListImages(ctx, vid)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestCallsWithoutSessionFailBeforeTheAPI(t *testing.T) {
	c, auth, base := newSignedInClient(t)
	ctx := context.Background()
	require.NoError(t, auth.Logout(ctx))

	// Logout revokes the refresh cookie in the background.
	u, err := url.Parse(base)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(auth.HTTPClient().Jar.Cookies(u)) == 0
	}, 2*time.Second, 10*time.Millisecond)

	_, err = c.ListVaults(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, capsuleauth.ErrRefreshFailed)
}

type fetcherFunc func(ctx context.Context, endpoint string, opts *capsuleauth.FetchOptions) (*http.Response, error)

func (f fetcherFunc) Fetch(ctx context.Context, endpoint string, opts *capsuleauth.FetchOptions) (*http.Response, error) {
	return f(ctx, endpoint, opts)
}

func TestStatusErrors(t *testing.T) {
	var gotEndpoint, gotMethod string
	f := fetcherFunc(func(_ context.Context, endpoint string, opts *capsuleauth.FetchOptions) (*http.Response, error) {
		gotEndpoint, gotMethod = endpoint, opts.Method
		return &http.Response{
			StatusCode: http.StatusForbidden,
			Body:       io.NopCloser(strings.NewReader("Vault not found or forbidden\n")),
		}, nil
	})

	_, err := New(f).ListImages(context.Background(), 42)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusForbidden, se.Status)
	assert.Equal(t, "Vault not found or forbidden", se.Message)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "/images/42", gotEndpoint)
	assert.Equal(t, http.MethodGet, gotMethod)
	assert.Equal(t, "capsule list images: status 403: Vault not found or forbidden", err.Error())
}

func TestTransportErrorsAreWrapped(t *testing.T) {
	f := fetcherFunc(func(context.Context, string, *capsuleauth.FetchOptions) (*http.Response, error) {
		return nil, capsuleauth.ErrUnauthorized
	})

	err := New(f).DeleteVault(context.Background(), 1)
	assert.ErrorIs(t, err, capsuleauth.ErrUnauthorized)
}
