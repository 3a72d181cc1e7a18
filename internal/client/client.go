// ABOUTME: HTTP JSON client for the identity and permission API
// ABOUTME: Implements session.IdentityService and permission.Lookup; 401s become token errors

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/2389/bizhub/internal/api"
	"github.com/2389/bizhub/internal/session"
)

// DefaultTimeout bounds a single API call when the caller sets no deadline.
const DefaultTimeout = 10 * time.Second

// ErrUnauthorized matches any 401 from the API.
var ErrUnauthorized = errors.New("unauthorized")

// StatusError is a non-2xx API answer. A 401 also matches ErrUnauthorized and
// session.ErrTokenInvalid.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api returned status %d", e.Code)
	}
	return fmt.Sprintf("api error (%d): %s", e.Code, e.Message)
}

// Is reports 401s as unauthorized token errors.
func (e *StatusError) Is(target error) bool {
	if e.Code != http.StatusUnauthorized {
		return false
	}
	return target == ErrUnauthorized || target == session.ErrTokenInvalid
}

// Client talks to the API rooted at baseURL (for example
// "http://127.0.0.1:8080/api").
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a client.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login implements session.IdentityService. Rejected credentials wrap
// session.ErrInvalidCredentials.
func (c *Client) Login(ctx context.Context, username, password string) (string, *session.User, error) {
	var resp api.LoginResponse
	err := c.do(ctx, http.MethodPost, "/auth/login", "", api.LoginRequest{Username: username, Password: password}, &resp)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusUnauthorized {
		return "", nil, fmt.Errorf("%w: %s", session.ErrInvalidCredentials, se.Message)
	}
	if err != nil {
		return "", nil, err
	}
	if resp.Token == "" {
		return "", nil, errors.New("login response has no token")
	}
	return resp.Token, &resp.User, nil
}

// Me implements session.IdentityService.
func (c *Client) Me(ctx context.Context, token string) (*session.User, error) {
	var resp api.MeResponse
	if err := c.do(ctx, http.MethodGet, "/auth/me", token, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.User, nil
}

// UserFeatures implements permission.Lookup.
func (c *Client) UserFeatures(ctx context.Context, token string) ([]string, error) {
	var resp api.FeaturesResponse
	if err := c.do(ctx, http.MethodGet, "/permissions/user-features", token, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Features, nil
}

// CheckFeature implements permission.Lookup.
func (c *Client) CheckFeature(ctx context.Context, token, code string) (bool, error) {
	var resp api.CheckResponse
	if err := c.do(ctx, http.MethodGet, "/permissions/check/"+url.PathEscape(code), token, nil, &resp); err != nil {
		return false, err
	}
	return resp.HasAccess, nil
}

// Health checks the API is answering.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", "", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errorFromResponse(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// errorFromResponse extracts the API error message from a non-2xx answer.
func errorFromResponse(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	se := &StatusError{Code: resp.StatusCode}

	var er api.ErrorResponse
	if json.Unmarshal(data, &er) == nil && er.Error != "" {
		se.Message = er.Error
	} else {
		se.Message = strings.TrimSpace(string(data))
	}
	return se
}
