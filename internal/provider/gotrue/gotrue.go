// Package gotrue implements provider.Client against a GoTrue-compatible
// auth API (the protocol behind Supabase Auth and similar hosted
// providers).
//
// Endpoints used:
//   - POST /signup
//   - POST /token?grant_type=password
//   - POST /token?grant_type=refresh_token
//   - GET  /user
//   - POST /logout
package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/visionplus/visionplus/internal/provider"
)

// Client talks to a GoTrue-compatible endpoint over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// Config holds the settings for a GoTrue client.
type Config struct {
	// BaseURL is the root of the auth API, e.g.
	// https://xyzcompany.supabase.co/auth/v1
	BaseURL string

	// APIKey is the project API key sent with every request.
	APIKey string

	// Timeout bounds each request. Zero means 10 seconds.
	Timeout time.Duration

	Logger *slog.Logger
}

// New creates a GoTrue client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("gotrue: base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("gotrue: invalid base URL: %w", err)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

// =============================================================================
// Wire types
// =============================================================================

// userJSON is the account object GoTrue returns.
type userJSON struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
}

// sessionJSON is the token response GoTrue returns for password and
// refresh grants, and for signup when autoconfirm is on. A signup with
// confirmation pending returns the user fields at the top level instead.
type sessionJSON struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int       `json:"expires_in"`
	User         *userJSON `json:"user"`

	// Signup-with-confirmation shape: the user object is the response.
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
}

// errorJSON covers the error shapes GoTrue deployments answer with.
type errorJSON struct {
	Message          string `json:"message"`
	Msg              string `json:"msg"`
	ErrorField       string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (e errorJSON) text() string {
	for _, s := range []string{e.ErrorDescription, e.Msg, e.Message, e.ErrorField} {
		if s != "" {
			return s
		}
	}
	return ""
}

// =============================================================================
// provider.Client implementation
// =============================================================================

func (c *Client) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*provider.Session, error) {
	body := map[string]any{
		"email":    email,
		"password": password,
	}
	if len(metadata) > 0 {
		body["data"] = metadata
	}

	var resp sessionJSON
	if err := c.do(ctx, http.MethodPost, "/signup", "", body, &resp); err != nil {
		return nil, err
	}
	return sessionFromJSON(&resp)
}

func (c *Client) SignIn(ctx context.Context, email, password string) (*provider.Session, error) {
	body := map[string]any{
		"email":    email,
		"password": password,
	}

	var resp sessionJSON
	if err := c.do(ctx, http.MethodPost, "/token?grant_type=password", "", body, &resp); err != nil {
		return nil, err
	}
	return sessionFromJSON(&resp)
}

func (c *Client) GetUser(ctx context.Context, accessToken string) (*provider.User, error) {
	var resp userJSON
	if err := c.do(ctx, http.MethodGet, "/user", accessToken, nil, &resp); err != nil {
		return nil, err
	}
	return userFromJSON(&resp)
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (*provider.Session, error) {
	body := map[string]any{
		"refresh_token": refreshToken,
	}

	var resp sessionJSON
	if err := c.do(ctx, http.MethodPost, "/token?grant_type=refresh_token", "", body, &resp); err != nil {
		return nil, err
	}
	return sessionFromJSON(&resp)
}

func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	return c.do(ctx, http.MethodPost, "/logout", accessToken, nil, nil)
}

// =============================================================================
// HTTP plumbing
// =============================================================================

// do sends one request and decodes the response into out (when non-nil).
// Provider-authored failures become *provider.Error carrying the
// provider's message verbatim; everything else is a transport error.
func (c *Client) do(ctx context.Context, method, path, accessToken string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("gotrue: encode request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("gotrue: build request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	} else if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gotrue: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	// Bound the body read; session and user payloads are small.
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("gotrue: read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return c.providerError(resp.StatusCode, raw)
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("gotrue: decode response: %w", err)
	}
	return nil
}

// providerError turns an error response into *provider.Error. Bodies that
// do not decode still produce a provider error, with a status-derived
// message, so callers can tell "the provider said no" from "the provider
// was unreachable".
func (c *Client) providerError(status int, raw []byte) error {
	var e errorJSON
	if err := json.Unmarshal(raw, &e); err != nil {
		c.logger.Warn("provider returned non-JSON error body", "status", status)
	}

	message := e.text()
	if message == "" {
		message = http.StatusText(status)
	}

	return &provider.Error{Status: status, Message: message}
}

func userFromJSON(u *userJSON) (*provider.User, error) {
	if u == nil || u.ID == "" {
		return nil, fmt.Errorf("gotrue: response missing user")
	}
	id, err := uuid.Parse(u.ID)
	if err != nil {
		return nil, fmt.Errorf("gotrue: invalid user id %q: %w", u.ID, err)
	}
	return &provider.User{
		ID:       id,
		Email:    u.Email,
		Metadata: u.UserMetadata,
	}, nil
}

func sessionFromJSON(s *sessionJSON) (*provider.Session, error) {
	// Confirmation-pending signup: the user object is the whole response.
	if s.AccessToken == "" && s.ID != "" {
		user, err := userFromJSON(&userJSON{ID: s.ID, Email: s.Email, UserMetadata: s.UserMetadata})
		if err != nil {
			return nil, err
		}
		return &provider.Session{User: user}, nil
	}

	user, err := userFromJSON(s.User)
	if err != nil {
		return nil, err
	}
	return &provider.Session{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresIn:    s.ExpiresIn,
		User:         user,
	}, nil
}
