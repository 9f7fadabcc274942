// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sidekik/sidekik-cli/internal/auth"
	"github.com/sidekik/sidekik-cli/internal/model"
)

// =============================================================================
// CLIENT
// =============================================================================

const (
	// DefaultTimeout is the default timeout for non-streaming requests.
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize is the maximum allowed response body size for
	// non-streaming endpoints.
	MaxResponseSize = 10 * 1024 * 1024

	userAgent = "sidekik/1.0"
)

var (
	// Shared HTTP client with connection pooling for REST requests.
	sharedHTTPClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
		Timeout: DefaultTimeout,
	}

	// sharedStreamingClient is used for the chat stream (no timeout,
	// context-controlled).
	sharedStreamingClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
	}
)

// Client is a client for the chat backend.
type Client struct {
	baseURL string
	session *auth.Manager

	httpClient   *http.Client
	streamClient *http.Client
}

// NewClient creates a backend client. session manages bearer tokens for
// authenticated endpoints.
func NewClient(baseURL string, session *auth.Manager) *Client {
	return &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		session:      session,
		httpClient:   sharedHTTPClient,
		streamClient: sharedStreamingClient,
	}
}

// WithHTTPClient overrides both the REST and streaming HTTP clients.
// Intended for tests.
func (c *Client) WithHTTPClient(client *http.Client) *Client {
	c.httpClient = client
	c.streamClient = client
	return c
}

// WithTimeout sets the timeout for non-streaming requests.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	// Copy so the shared pooled client keeps its default.
	clientCopy := *c.httpClient
	clientCopy.Timeout = timeout
	c.httpClient = &clientCopy
	return c
}

// BaseURL returns the configured backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// =============================================================================
// REQUEST PLUMBING
// =============================================================================

// doJSON performs an authenticated request and decodes the JSON response
// into out. A nil out discards the body.
func (c *Client) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var bodyBytes []byte
	if payload != nil {
		var err error
		bodyBytes, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	resp, err := c.session.Do(ctx, c.httpClient, func(token string) (*http.Request, error) {
		var body io.Reader
		if bodyBytes != nil {
			body = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return nil, err
		}
		if bodyBytes != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("User-Agent", userAgent)
		return req, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return decodeResponse(resp, out)
}

// doPublicJSON performs an unauthenticated request and decodes the JSON
// response into out.
func (c *Client) doPublicJSON(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		bodyBytes, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return decodeResponse(resp, out)
}

// decodeResponse reads a bounded response body and decodes it into out,
// converting non-2xx statuses to *APIError.
func decodeResponse(resp *http.Response, out any) error {
	limited := io.LimitReader(resp.Body, MaxResponseSize)
	body, err := io.ReadAll(limited)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) == MaxResponseSize {
		return fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errorFromResponse(resp.StatusCode, body)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// errorFromResponse converts an error body to an *APIError, preferring a
// structured message when the backend sent one.
func errorFromResponse(status int, body []byte) error {
	var parsed apiErrorBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		msg := parsed.Error
		if msg == "" {
			msg = parsed.Message
		}
		if msg != "" {
			return &APIError{Status: status, Message: msg}
		}
	}
	return &APIError{Status: status, Message: strings.TrimSpace(string(body))}
}

// =============================================================================
// USER AND CHAT ENDPOINTS
// =============================================================================

// GetUserInfo fetches the chat list and active chat configuration.
func (c *Client) GetUserInfo(ctx context.Context) (*UserInfo, error) {
	var info UserInfo
	if err := c.doJSON(ctx, http.MethodGet, "/", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetChatDetails fetches one conversation's full message history.
func (c *Client) GetChatDetails(ctx context.Context, chatID string) (*model.ChatDetails, error) {
	var details model.ChatDetails
	path := "/chat/" + url.PathEscape(chatID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &details); err != nil {
		return nil, err
	}
	return &details, nil
}

// GetJobStatus fetches one generation job's status.
func (c *Client) GetJobStatus(ctx context.Context, jobID string) (*model.JobStatus, error) {
	var status model.JobStatus
	path := "/job/" + url.PathEscape(jobID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// CreateConfiguration creates or replaces the chat persona configuration.
func (c *Client) CreateConfiguration(ctx context.Context, input ConfigurationInput) (*model.Configuration, error) {
	var cfg model.Configuration
	if err := c.doJSON(ctx, http.MethodPost, "/configure/chat", input, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// =============================================================================
// AUTH ENDPOINTS
// =============================================================================

// AuthenticateWithGoogle exchanges a Google identity token for a session
// and persists the resulting token pair.
func (c *Client) AuthenticateWithGoogle(ctx context.Context, idToken string) (*AuthResponse, error) {
	return c.authenticate(ctx, "/auth/google", map[string]string{"id_token": idToken})
}

// AuthenticateWithApple exchanges an Apple identity token for a session
// and persists the resulting token pair.
func (c *Client) AuthenticateWithApple(ctx context.Context, identityToken string) (*AuthResponse, error) {
	return c.authenticate(ctx, "/auth/apple", map[string]string{"identity_token": identityToken})
}

func (c *Client) authenticate(ctx context.Context, path string, payload any) (*AuthResponse, error) {
	var resp AuthResponse
	if err := c.doPublicJSON(ctx, http.MethodPost, path, payload, &resp); err != nil {
		return nil, err
	}
	if err := c.session.StoreTokens(resp.AccessToken, resp.RefreshToken); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CurrentUser fetches the authenticated account.
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	var resp meResponse
	if err := c.doJSON(ctx, http.MethodGet, "/auth/me", nil, &resp); err != nil {
		return nil, err
	}
	return &resp.User, nil
}

// Logout revokes the session on the backend and clears local tokens. The
// local session is cleared even when revocation fails.
func (c *Client) Logout(ctx context.Context) error {
	if refresh, err := c.session.RefreshToken(); err == nil {
		if err := c.doJSON(ctx, http.MethodPost, "/auth/logout", logoutRequest{RefreshToken: refresh}, nil); err != nil {
			log.Printf("backend logout failed, clearing local session anyway: %v", err)
		}
	}
	return c.session.ClearTokens()
}
