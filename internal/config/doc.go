// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for sidekik.
//
// Configuration is read from ~/.sidekik/config.toml with sensible defaults,
// environment variable overrides (SIDEKIK_*), and validation. A watcher can
// reload the file when it changes on disk.
package config
