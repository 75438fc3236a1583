// Package platform wraps outbound calls to the Anypoint Platform REST APIs.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mulekit/anypoint-hub/internal/util"
)

// ErrAuthenticationFailed marks a 401 from the platform so callers can
// trigger a token refresh instead of reporting a generic failure.
var ErrAuthenticationFailed = errors.New("authentication failed")

// TokenFunc supplies the bearer token for outbound requests, normally the
// active account's access token.
type TokenFunc func(ctx context.Context) (string, error)

// StaticToken returns a TokenFunc that always yields the given token. Used
// to validate a staged login before it becomes an account.
func StaticToken(token string) TokenFunc {
	return func(context.Context) (string, error) { return token, nil }
}

// Client performs authenticated JSON calls against one control plane.
type Client struct {
	baseURL string
	token   TokenFunc
	http    *http.Client
}

// NewClient builds a client for the given control-plane base URL.
func NewClient(baseURL string, token TokenFunc) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Get issues an authenticated GET and decodes the JSON response into out.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// Post issues an authenticated POST with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

// Patch issues an authenticated PATCH with a JSON body.
func (c *Client) Patch(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPatch, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s body: %w", method, path, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := c.token(ctx)
	if err != nil {
		return fmt.Errorf("resolve access token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%s %s: %w", method, path, ErrAuthenticationFailed)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s: unexpected status %d: %s", method, path, resp.StatusCode, util.Truncate(string(raw), 512))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

// Organization identifies the tenant an account belongs to.
type Organization struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Profile is the authenticated principal as reported by the platform.
type Profile struct {
	Email        string       `json:"email"`
	Username     string       `json:"username"`
	FirstName    string       `json:"firstName"`
	LastName     string       `json:"lastName"`
	Organization Organization `json:"organization"`
}

// Environment is one deployment target inside an organization.
type Environment struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	IsProduction bool   `json:"isProduction"`
}

// Me fetches the profile of whoever owns the current token. Also serves as
// the cheap authenticated probe for account status checks.
func (c *Client) Me(ctx context.Context) (*Profile, error) {
	var envelope struct {
		User Profile `json:"user"`
	}
	if err := c.Get(ctx, "/accounts/api/me", &envelope); err != nil {
		return nil, err
	}
	return &envelope.User, nil
}

// Environments lists the environments of an organization.
func (c *Client) Environments(ctx context.Context, organizationID string) ([]Environment, error) {
	var envelope struct {
		Data []Environment `json:"data"`
	}
	path := "/accounts/api/organizations/" + organizationID + "/environments"
	if err := c.Get(ctx, path, &envelope); err != nil {
		return nil, err
	}
	return envelope.Data, nil
}
