// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package auth manages the session token lifecycle for the chat backend.
//
// The backend issues a short-lived access token and a long-lived refresh
// token. Both are persisted in the encrypted secret store. When an
// authenticated request comes back 401, the manager exchanges the refresh
// token for a new access token and retries the request exactly once. A
// failed refresh clears both tokens and surfaces ErrSessionExpired, which
// callers treat as a forced logout.
package auth
