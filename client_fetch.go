package capsuleauth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	internalaudit "github.com/photocapsule/capsuleauth/internal/audit"
)

// Fetch sends an authenticated request to BaseURL+endpoint.
//
// A missing or expired token is refreshed once before the call. If no usable
// token exists afterwards Fetch returns [ErrUnauthorized] and makes no
// business call; a refresh failure is returned as is. The response is
// returned whatever its status, and the caller closes its body. Business
// calls are never retried.
func (c *Client) Fetch(ctx context.Context, endpoint string, opts *FetchOptions) (*http.Response, error) {
	if opts == nil {
		opts = &FetchOptions{}
	}
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.endpoint(endpoint), opts.Body)
	if err != nil {
		return nil, err
	}
	for k, vs := range opts.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	return c.Do(req)
}

// Do runs req through the same path as [Client.Fetch]. req is not modified;
// its Authorization header is replaced on a copy. A req addressed to another
// origin than BaseURL is sent as is, without the bearer token.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	authorized, err := c.authorize(req)
	if err != nil {
		closeRequestBody(req)
		return nil, err
	}

	start := time.Now()
	resp, err := c.business.Do(authorized)
	c.metrics.Observe(MetricFetchLatency, time.Since(start))
	if err != nil {
		c.metrics.Inc(MetricFetchTransportError)
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	return resp, nil
}

// HTTPClient returns an *http.Client whose transport authenticates every
// request to BaseURL's origin the way [Client.Do] does, redirects included.
// Other origins never see the token. It suits code that already takes an
// *http.Client.
func (c *Client) HTTPClient() *http.Client {
	return &http.Client{
		Transport:     gatewayTransport{c: c},
		CheckRedirect: c.redirectPolicy(c.base.CheckRedirect),
		Jar:           c.base.Jar,
		Timeout:       c.config.HTTP.Timeout,
	}
}

type gatewayTransport struct {
	c *Client
}

func (t gatewayTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	authorized, err := t.c.authorize(req)
	if err != nil {
		closeRequestBody(req)
		return nil, err
	}

	start := time.Now()
	resp, err := t.c.transport().RoundTrip(authorized)
	t.c.metrics.Observe(MetricFetchLatency, time.Since(start))
	if err != nil {
		t.c.metrics.Inc(MetricFetchTransportError)
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	return resp, nil
}

func (c *Client) transport() http.RoundTripper {
	if c.base.Transport != nil {
		return c.base.Transport
	}
	return http.DefaultTransport
}

// authorize returns a copy of req carrying a usable bearer token. Requests to
// any origin other than BaseURL are returned untouched.
func (c *Client) authorize(req *http.Request) (*http.Request, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	if req.URL == nil || originOf(req.URL) != c.origin {
		c.logger.Debug("not attaching bearer token to foreign origin", zap.String("host", hostOf(req.URL)))
		return req, nil
	}

	ctx := req.Context()
	token, err := c.bearer(ctx)
	if err != nil {
		return nil, err
	}

	out := req.Clone(ctx)
	out.Header.Set("Authorization", "Bearer "+token)
	if out.Header.Get("X-Request-ID") == "" {
		id := requestIDFromContext(ctx)
		if id == "" {
			id = uuid.NewString()
		}
		out.Header.Set("X-Request-ID", id)
	}
	if out.Header.Get("User-Agent") == "" && c.config.HTTP.UserAgent != "" {
		out.Header.Set("User-Agent", c.config.HTTP.UserAgent)
	}

	c.metrics.Inc(MetricFetchAuthorized)
	return out, nil
}

// bearer returns the persisted token, refreshing it once when it is missing or
// expired. A refresh overtaken by Login or Logout falls through to whatever
// they stored.
func (c *Client) bearer(ctx context.Context) (string, error) {
	token, err := c.tokens.Get(ctx)
	if err != nil {
		return "", err
	}
	if !c.validity.IsExpired(token) {
		return token, nil
	}

	if _, err := c.Refresh(ctx); err != nil && !errors.Is(err, ErrRefreshSuperseded) {
		return "", err
	}

	token, err = c.tokens.Get(ctx)
	if err != nil {
		return "", err
	}
	if c.validity.IsExpired(token) {
		c.metrics.Inc(MetricFetchUnauthorized)
		c.emitAudit(ctx, internalaudit.Event{
			EventType: AuditFetchUnauthorized,
			Error:     ErrUnauthorized.Error(),
		})
		return "", ErrUnauthorized
	}
	return token, nil
}

// redirectPolicy strips the bearer token from redirects leaving BaseURL's
// origin, then applies next, or the default limit of 10 redirects when next
// is nil. net/http alone keeps the header for another port on the same host.
func (c *Client) redirectPolicy(next func(*http.Request, []*http.Request) error) func(*http.Request, []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if originOf(req.URL) != c.origin {
			req.Header.Del("Authorization")
		}
		if next != nil {
			return next(req, via)
		}
		if len(via) >= 10 {
			return errors.New("stopped after 10 redirects")
		}
		return nil
	}
}

// originOf returns scheme://host:port with the default port filled in.
func originOf(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	port := u.Port()
	if port == "" {
		switch scheme {
		case "http":
			port = "80"
		case "https":
			port = "443"
		}
	}
	return scheme + "://" + net.JoinHostPort(strings.ToLower(u.Hostname()), port)
}

func hostOf(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.Host
}

func closeRequestBody(req *http.Request) {
	if req.Body != nil {
		_ = req.Body.Close()
	}
}
