package capsule

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/photocapsule/capsuleauth"
)

const maxErrorBody = 4 << 10

// Fetcher sends authenticated requests. *capsuleauth.Client satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, endpoint string, opts *capsuleauth.FetchOptions) (*http.Response, error)
}

// Client calls the vault API through a Fetcher.
type Client struct {
	f Fetcher
}

// New returns a Client sending requests through f.
func New(f Fetcher) *Client {
	return &Client{f: f}
}

// ListVaults returns the caller's vaults.
func (c *Client) ListVaults(ctx context.Context) ([]Vault, error) {
	var out []Vault
	err := c.call(ctx, "list vaults", http.MethodGet, "/api/getvaults", nil, "", &out)
	return out, err
}

// CreateVault creates a vault and returns its id.
func (c *Client) CreateVault(ctx context.Context, v NewVault) (uint64, error) {
	body, err := jsonBody(v)
	if err != nil {
		return 0, err
	}
	var out struct {
		VaultID uint64 `json:"vaultId"`
	}
	if err := c.call(ctx, "create vault", http.MethodPost, "/api/addvaults", body, "application/json", &out); err != nil {
		return 0, err
	}
	return out.VaultID, nil
}

// DeleteVault deletes a vault and its images.
func (c *Client) DeleteVault(ctx context.Context, vaultID uint64) error {
	return c.call(ctx, "delete vault", http.MethodDelete, "/vault/delete/"+id(vaultID), nil, "", nil)
}

// ListImages returns the live images of a vault in display order.
func (c *Client) ListImages(ctx context.Context, vaultID uint64) ([]Image, error) {
	var out []Image
	err := c.call(ctx, "list images", http.MethodGet, "/images/"+id(vaultID), nil, "", &out)
	return out, err
}

// UploadImage uploads r as filename into a vault and returns the stored
// filename.
func (c *Client) UploadImage(ctx context.Context, vaultID uint64, filename string, r io.Reader) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("image", filename)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	var out struct {
		Filename string `json:"filename"`
	}
	if err := c.call(ctx, "upload image", http.MethodPost, "/upload/"+id(vaultID), &buf, mw.FormDataContentType(), &out); err != nil {
		return "", err
	}
	return out.Filename, nil
}

// TrashImage moves an image to the trash.
func (c *Client) TrashImage(ctx context.Context, imageID uint64) error {
	return c.call(ctx, "trash image", http.MethodPatch, "/api/upload/trash/"+id(imageID), nil, "", nil)
}

// ListTrash returns the trashed images of a vault.
func (c *Client) ListTrash(ctx context.Context, vaultID uint64) ([]Image, error) {
	var out []Image
	err := c.call(ctx, "list trash", http.MethodGet, "/images/trash/"+id(vaultID), nil, "", &out)
	return out, err
}

// RecoverImage moves a trashed image back into its vault.
func (c *Client) RecoverImage(ctx context.Context, imageID uint64) error {
	return c.call(ctx, "recover image", http.MethodPatch, "/images/trash/recover/"+id(imageID), nil, "", nil)
}

// DeleteTrashedImage deletes a trashed image for good.
func (c *Client) DeleteTrashedImage(ctx context.Context, imageID uint64) error {
	return c.call(ctx, "delete image", http.MethodDelete, "/images/trash/delete/"+id(imageID), nil, "", nil)
}

// UpdateOrder sets the display position of images.
func (c *Client) UpdateOrder(ctx context.Context, orders []Order) error {
	body, err := jsonBody(orders)
	if err != nil {
		return err
	}
	return c.call(ctx, "update order", http.MethodPost, "/api/update-order", body, "application/json", nil)
}

// SetReleaseTime sets when a vault opens. It is sent as RFC 3339.
func (c *Client) SetReleaseTime(ctx context.Context, vaultID uint64, at time.Time) error {
	body, err := jsonBody(map[string]string{"release_time": at.Format(time.RFC3339)})
	if err != nil {
		return err
	}
	return c.call(ctx, "set release time", http.MethodPost, "/time/set/"+id(vaultID), body, "application/json", nil)
}

// ReleaseTime returns when a vault opens, or nil when no time is set.
func (c *Client) ReleaseTime(ctx context.Context, vaultID uint64) (*time.Time, error) {
	var out struct {
		ReleaseTime *time.Time `json:"release_time"`
	}
	if err := c.call(ctx, "release time", http.MethodGet, "/time/get/"+id(vaultID), nil, "", &out); err != nil {
		return nil, err
	}
	return out.ReleaseTime, nil
}

func (c *Client) call(ctx context.Context, op, method, endpoint string, body io.Reader, contentType string, out any) error {
	opts := &capsuleauth.FetchOptions{
		Method: method,
		Header: http.Header{"Accept": []string{"application/json"}},
		Body:   body,
	}
	if contentType != "" {
		opts.Header.Set("Content-Type", contentType)
	}

	resp, err := c.f.Fetch(ctx, endpoint, opts)
	if err != nil {
		return fmt.Errorf("capsule %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Op: op, Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("capsule %s: decode response: %w", op, err)
	}
	return nil
}

func jsonBody(v any) (io.Reader, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(raw), nil
}

func id(v uint64) string {
	return strconv.FormatUint(v, 10)
}
