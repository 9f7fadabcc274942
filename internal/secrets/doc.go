// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package secrets provides an opaque key-value secret store used to persist
// the access and refresh tokens.
//
// The production store keeps all secrets in a single JSON document encrypted
// with AES-256-GCM. The cipher key is derived with PBKDF2-SHA-256 from a
// random 32-byte key file created on first use. Writes are atomic so a crash
// never leaves a torn store on disk.
//
// MemoryStore implements the same contract in memory for tests.
package secrets
