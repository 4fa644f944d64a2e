package capsuleauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signInResponse struct {
	Token       string `json:"token"`
	AccessToken string `json:"access_token"`
}

// SignIn posts credentials to the sign-in endpoint and logs the returned
// token in. The refresh cookie set by the backend is kept in the client's
// cookie jar. A 401 answer matches [ErrInvalidCredentials].
func (c *Client) SignIn(ctx context.Context, email, password string) error {
	if err := c.ready(); err != nil {
		return err
	}

	resp, err := c.postJSON(ctx, c.config.Endpoints.SignInPath, credentials{Email: email, Password: password})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.apiError("signin", resp)
	}

	var body signInResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return fmt.Errorf("signin: decode response: %w", err)
	}
	token := body.Token
	if token == "" {
		token = body.AccessToken
	}
	if token == "" {
		return errors.New("signin: response carried no token")
	}

	return c.Login(ctx, token)
}

// SignUp registers an account. It does not sign in. A 409 answer matches
// [ErrAccountExists].
func (c *Client) SignUp(ctx context.Context, email, password string) error {
	if err := c.ready(); err != nil {
		return err
	}

	resp, err := c.postJSON(ctx, c.config.Endpoints.SignUpPath, credentials{Email: email, Password: password})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.apiError("signup", resp)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, c.config.HTTP.MaxErrorBody))
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any) (*http.Response, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.endpoint(path), bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.config.HTTP.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.HTTP.UserAgent)
	}

	resp, err := c.business.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	return resp, nil
}

func (c *Client) apiError(op string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, c.config.HTTP.MaxErrorBody))
	e := &APIError{
		Op:      op,
		Status:  resp.StatusCode,
		Message: strings.TrimSpace(string(raw)),
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		e.kind = ErrInvalidCredentials
	case http.StatusConflict:
		e.kind = ErrAccountExists
	}
	return e
}

// notifyLogout asks the backend to revoke the refresh cookie. It carries the
// cookie jar but no bearer token.
func (c *Client) notifyLogout(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.endpoint(c.config.Endpoints.LogoutPath), nil)
	if err != nil {
		return err
	}
	if c.config.HTTP.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.HTTP.UserAgent)
	}

	resp, err := c.base.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("logout: status %d", resp.StatusCode)
	}
	return nil
}
