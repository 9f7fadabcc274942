// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api implements the HTTP client for the chat backend.
//
// The backend exposes a small REST surface (user info, chat detail, file
// upload, generation job status, configuration, auth) plus one streaming
// endpoint: POST /chat returns newline-delimited JSON chunks that are
// decoded incrementally and delivered over a channel.
//
// Every authenticated call runs through the auth.Manager refresh-and-retry
// flow, so callers never see a raw 401; they see either a decoded response
// or auth.ErrSessionExpired.
package api
