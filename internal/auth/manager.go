// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sidekik/sidekik-cli/internal/secrets"
)

// Secret store keys for the session tokens.
const (
	accessTokenKey  = "access_token"
	refreshTokenKey = "refresh_token"
)

// refreshTimeout bounds the token refresh round trip.
const refreshTimeout = 15 * time.Second

// maxRefreshResponseSize bounds the refresh response body.
const maxRefreshResponseSize = 1 << 20

// Error variables for session failures.
var (
	// ErrNotAuthenticated indicates no session tokens are stored.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrSessionExpired indicates the refresh token was rejected and the
	// stored session has been cleared. Callers should prompt for login.
	ErrSessionExpired = errors.New("session expired")
)

// Manager owns the stored session tokens and the refresh-and-retry flow
// for authenticated requests.
type Manager struct {
	store   secrets.Store
	baseURL string

	// client is used only for the refresh exchange. Authenticated
	// requests are executed by the caller-supplied client in Do.
	client *http.Client

	// mu serializes refresh so concurrent 401s produce one exchange.
	mu sync.Mutex
}

// NewManager creates a Manager persisting tokens in store and refreshing
// against baseURL.
func NewManager(store secrets.Store, baseURL string) *Manager {
	return &Manager{
		store:   store,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: refreshTimeout},
	}
}

// WithHTTPClient overrides the HTTP client used for token refresh.
func (m *Manager) WithHTTPClient(client *http.Client) *Manager {
	m.client = client
	return m
}

// =============================================================================
// TOKEN STORAGE
// =============================================================================

// AccessToken returns the stored access token, or ErrNotAuthenticated.
func (m *Manager) AccessToken() (string, error) {
	tok, err := m.store.Get(accessTokenKey)
	if errors.Is(err, secrets.ErrNotFound) {
		return "", ErrNotAuthenticated
	}
	if err != nil {
		return "", fmt.Errorf("failed to read access token: %w", err)
	}
	return tok, nil
}

// RefreshToken returns the stored refresh token, or ErrNotAuthenticated.
func (m *Manager) RefreshToken() (string, error) {
	tok, err := m.store.Get(refreshTokenKey)
	if errors.Is(err, secrets.ErrNotFound) {
		return "", ErrNotAuthenticated
	}
	if err != nil {
		return "", fmt.Errorf("failed to read refresh token: %w", err)
	}
	return tok, nil
}

// StoreTokens persists a new token pair, replacing any existing session.
func (m *Manager) StoreTokens(access, refresh string) error {
	if err := m.store.Set(accessTokenKey, access); err != nil {
		return fmt.Errorf("failed to store access token: %w", err)
	}
	if err := m.store.Set(refreshTokenKey, refresh); err != nil {
		return fmt.Errorf("failed to store refresh token: %w", err)
	}
	return nil
}

// ClearTokens removes both session tokens.
func (m *Manager) ClearTokens() error {
	if err := m.store.Delete(accessTokenKey); err != nil && !errors.Is(err, secrets.ErrNotFound) {
		return fmt.Errorf("failed to clear access token: %w", err)
	}
	if err := m.store.Delete(refreshTokenKey); err != nil && !errors.Is(err, secrets.ErrNotFound) {
		return fmt.Errorf("failed to clear refresh token: %w", err)
	}
	return nil
}

// Authenticated reports whether a session is stored. It does not verify
// the tokens against the backend.
func (m *Manager) Authenticated() bool {
	_, err := m.AccessToken()
	return err == nil
}

// =============================================================================
// REFRESH EXCHANGE
// =============================================================================

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Refresh exchanges the stored refresh token for a new access token and
// persists the result. Any failure of the exchange, rejection or
// transport, clears the session and returns ErrSessionExpired.
func (m *Manager) Refresh(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshLocked(ctx)
}

// clearLocked drops the session, logging a storage failure rather than
// masking the error being handled.
func (m *Manager) clearLocked() {
	if err := m.ClearTokens(); err != nil {
		log.Printf("failed to clear session tokens: %v", err)
	}
}

func (m *Manager) refreshLocked(ctx context.Context) (string, error) {
	refresh, err := m.RefreshToken()
	if err != nil {
		return "", err
	}

	bodyBytes, err := json.Marshal(refreshRequest{RefreshToken: refresh})
	if err != nil {
		return "", fmt.Errorf("failed to marshal refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		m.baseURL+"/auth/refresh", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	// Any failure of the exchange ends the session: the access token is
	// already rejected and there is no path back without a fresh login,
	// so a transport error is treated the same as an explicit rejection.
	resp, err := m.client.Do(req)
	if err != nil {
		log.Printf("token refresh failed (%v), clearing session", err)
		m.clearLocked()
		return "", ErrSessionExpired
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRefreshResponseSize))
	if err != nil {
		log.Printf("failed to read refresh response (%v), clearing session", err)
		m.clearLocked()
		return "", ErrSessionExpired
	}

	if resp.StatusCode != http.StatusOK {
		log.Printf("token refresh rejected (HTTP %d), clearing session", resp.StatusCode)
		m.clearLocked()
		return "", ErrSessionExpired
	}

	var parsed refreshResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		log.Printf("failed to parse refresh response (%v), clearing session", err)
		m.clearLocked()
		return "", ErrSessionExpired
	}
	if parsed.AccessToken == "" {
		log.Printf("refresh response missing access token, clearing session")
		m.clearLocked()
		return "", ErrSessionExpired
	}

	// Some deployments rotate the refresh token on every exchange.
	newRefresh := parsed.RefreshToken
	if newRefresh == "" {
		newRefresh = refresh
	}
	if err := m.StoreTokens(parsed.AccessToken, newRefresh); err != nil {
		return "", err
	}
	return parsed.AccessToken, nil
}

// =============================================================================
// AUTHENTICATED REQUEST FLOW
// =============================================================================

// Do executes an authenticated request. build receives the current access
// token and must return a fresh request each call; requests with bodies
// must be rebuildable since a 401 triggers a second attempt.
//
// On 401 the manager refreshes the access token and retries exactly once.
// A second 401 is treated the same as a failed refresh: the session is
// cleared and ErrSessionExpired is returned.
func (m *Manager) Do(ctx context.Context, client *http.Client, build func(token string) (*http.Request, error)) (*http.Response, error) {
	token, err := m.AccessToken()
	if err != nil {
		return nil, err
	}

	resp, err := m.doOnce(client, build, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	resp.Body.Close()

	token, err = m.Refresh(ctx)
	if err != nil {
		return nil, err
	}

	resp, err = m.doOnce(client, build, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		if cerr := m.ClearTokens(); cerr != nil {
			log.Printf("failed to clear session tokens: %v", cerr)
		}
		return nil, ErrSessionExpired
	}
	return resp, nil
}

func (m *Manager) doOnce(client *http.Client, build func(token string) (*http.Request, error), token string) (*http.Response, error) {
	req, err := build(token)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}
