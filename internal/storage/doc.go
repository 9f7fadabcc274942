// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides an offline cache of chats and messages in a
// local SQLite database.
//
// The cache is strictly best-effort: it mirrors whatever the backend last
// returned so the chat list and recent conversations render instantly
// (and offline), and every write failure is logged rather than escalated.
// The backend stays the source of truth.
package storage
