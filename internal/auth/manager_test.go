// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidekik/sidekik-cli/internal/secrets"
)

func newTestManager(t *testing.T, baseURL string) *Manager {
	t.Helper()
	return NewManager(secrets.NewMemoryStore(), baseURL)
}

func TestTokenStorageRoundTrip(t *testing.T) {
	m := newTestManager(t, "http://unused")

	assert.False(t, m.Authenticated())
	_, err := m.AccessToken()
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	require.NoError(t, m.StoreTokens("access-1", "refresh-1"))
	assert.True(t, m.Authenticated())

	access, err := m.AccessToken()
	require.NoError(t, err)
	assert.Equal(t, "access-1", access)

	refresh, err := m.RefreshToken()
	require.NoError(t, err)
	assert.Equal(t, "refresh-1", refresh)

	require.NoError(t, m.ClearTokens())
	assert.False(t, m.Authenticated())
}

func TestClearTokensIdempotent(t *testing.T) {
	m := newTestManager(t, "http://unused")
	require.NoError(t, m.ClearTokens())
	require.NoError(t, m.ClearTokens())
}

func TestRefreshStoresNewTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/auth/refresh", r.URL.Path)

		var req refreshRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "refresh-1", req.RefreshToken)

		json.NewEncoder(w).Encode(refreshResponse{
			AccessToken:  "access-2",
			RefreshToken: "refresh-2",
		})
	}))
	defer srv.Close()

	m := newTestManager(t, srv.URL)
	require.NoError(t, m.StoreTokens("access-1", "refresh-1"))

	token, err := m.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-2", token)

	refresh, err := m.RefreshToken()
	require.NoError(t, err)
	assert.Equal(t, "refresh-2", refresh)
}

func TestRefreshKeepsOldRefreshTokenWhenNotRotated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(refreshResponse{AccessToken: "access-2"})
	}))
	defer srv.Close()

	m := newTestManager(t, srv.URL)
	require.NoError(t, m.StoreTokens("access-1", "refresh-1"))

	_, err := m.Refresh(context.Background())
	require.NoError(t, err)

	refresh, err := m.RefreshToken()
	require.NoError(t, err)
	assert.Equal(t, "refresh-1", refresh)
}

func TestRefreshRejectionClearsSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	m := newTestManager(t, srv.URL)
	require.NoError(t, m.StoreTokens("access-1", "refresh-1"))

	_, err := m.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.False(t, m.Authenticated())
}

func TestRefreshTransportFailureClearsSession(t *testing.T) {
	// A server that is gone entirely, not one answering with an error.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	m := newTestManager(t, srv.URL)
	require.NoError(t, m.StoreTokens("access-1", "refresh-1"))

	_, err := m.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.False(t, m.Authenticated())
}

func TestRefreshMalformedResponseClearsSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "not json")
	}))
	defer srv.Close()

	m := newTestManager(t, srv.URL)
	require.NoError(t, m.StoreTokens("access-1", "refresh-1"))

	_, err := m.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.False(t, m.Authenticated())
}

func TestDoPassesBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := newTestManager(t, srv.URL)
	require.NoError(t, m.StoreTokens("access-1", "refresh-1"))

	resp, err := m.Do(context.Background(), srv.Client(), func(token string) (*http.Request, error) {
		return http.NewRequest(http.MethodGet, srv.URL+"/user", nil)
	})
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDoRetriesOnceAfterRefresh(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/refresh":
			json.NewEncoder(w).Encode(refreshResponse{AccessToken: "access-2"})
		default:
			calls.Add(1)
			if r.Header.Get("Authorization") != "Bearer access-2" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			io.WriteString(w, "ok")
		}
	}))
	defer srv.Close()

	m := newTestManager(t, srv.URL)
	require.NoError(t, m.StoreTokens("stale", "refresh-1"))

	resp, err := m.Do(context.Background(), srv.Client(), func(token string) (*http.Request, error) {
		return http.NewRequest(http.MethodGet, srv.URL+"/user", nil)
	})
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(2), calls.Load())

	// New access token persisted.
	access, err := m.AccessToken()
	require.NoError(t, err)
	assert.Equal(t, "access-2", access)
}

func TestDoFailedRefreshForcesLogout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	m := newTestManager(t, srv.URL)
	require.NoError(t, m.StoreTokens("stale", "bad-refresh"))

	_, err := m.Do(context.Background(), srv.Client(), func(token string) (*http.Request, error) {
		return http.NewRequest(http.MethodGet, srv.URL+"/user", nil)
	})
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.False(t, m.Authenticated())
}

func TestDoSecond401AfterRefreshForcesLogout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/refresh" {
			json.NewEncoder(w).Encode(refreshResponse{AccessToken: "access-2"})
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	m := newTestManager(t, srv.URL)
	require.NoError(t, m.StoreTokens("stale", "refresh-1"))

	_, err := m.Do(context.Background(), srv.Client(), func(token string) (*http.Request, error) {
		return http.NewRequest(http.MethodGet, srv.URL+"/user", nil)
	})
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.False(t, m.Authenticated())
}

func TestDoWithoutSession(t *testing.T) {
	m := newTestManager(t, "http://unused")
	_, err := m.Do(context.Background(), http.DefaultClient, func(token string) (*http.Request, error) {
		return nil, errors.New("should not be called")
	})
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}
