// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/sidekik/sidekik-cli/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete sidekik client configuration.
type Config struct {
	Version string `toml:"version"`

	// API configuration
	API APIConfig `toml:"api"`

	// Chat behavior configuration
	Chat ChatConfig `toml:"chat"`

	// Local storage configuration
	Storage StorageConfig `toml:"storage"`

	// Terminal UI configuration
	UI UIConfig `toml:"ui"`
}

// APIConfig contains backend endpoint configuration.
type APIConfig struct {
	// BaseURL is the chat backend base URL.
	BaseURL string `toml:"base_url"`
	// TimeoutSecs is the timeout for non-streaming requests.
	TimeoutSecs int `toml:"timeout_secs"`
}

// ChatConfig contains chat turn and polling behavior.
type ChatConfig struct {
	// ThinkModel requests the slower reasoning model for every turn.
	ThinkModel bool `toml:"think_model"`
	// PollIntervalSecs is the generation-job poll interval.
	PollIntervalSecs int `toml:"poll_interval_secs"`
	// MaxPollAttempts bounds a generation-job poll loop. 0 means the
	// default bound, not unbounded.
	MaxPollAttempts int `toml:"max_poll_attempts"`
	// MaxAttachments is the maximum number of files per message.
	MaxAttachments int `toml:"max_attachments"`
}

// StorageConfig contains paths for local state.
type StorageConfig struct {
	// SecretsPath is the encrypted token store location.
	SecretsPath string `toml:"secrets_path"`
	// CachePath is the offline chat cache database location.
	CachePath string `toml:"cache_path"`
}

// UIConfig contains terminal rendering configuration.
type UIConfig struct {
	// Markdown renders assistant replies as markdown when stdout is a
	// terminal.
	Markdown bool `toml:"markdown"`
	// HistoryFile is the REPL input history location.
	HistoryFile string `toml:"history_file"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// DefaultBaseURL is the production chat backend.
const DefaultBaseURL = "https://chatgpt.galadriel.com"

// Default returns a Config with sensible default values.
func Default() *Config {
	dir, err := Dir()
	if err != nil {
		dir = ".sidekik"
	}
	return &Config{
		Version: "1.0.0",
		API: APIConfig{
			BaseURL:     DefaultBaseURL,
			TimeoutSecs: 30,
		},
		Chat: ChatConfig{
			ThinkModel:       false,
			PollIntervalSecs: 2,
			MaxPollAttempts:  150,
			MaxAttachments:   5,
		},
		Storage: StorageConfig{
			SecretsPath: filepath.Join(dir, "secrets.enc"),
			CachePath:   filepath.Join(dir, "cache.db"),
		},
		UI: UIConfig{
			Markdown:    true,
			HistoryFile: filepath.Join(dir, "history"),
		},
	}
}

// Dir returns the sidekik configuration directory path.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".sidekik"), nil
}

// Path returns the path to the TOML config file.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads the config file at path, applies environment overrides, and
// validates the result. A missing file yields the defaults (plus overrides).
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault loads the config from the default location.
func LoadDefault() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return Load(path)
}

// applyEnvOverrides applies SIDEKIK_* environment variables over the loaded
// values. Environment always wins over the file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SIDEKIK_API_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv("SIDEKIK_API_TIMEOUT_SECS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.API.TimeoutSecs = n
		}
	}
	if v := os.Getenv("SIDEKIK_SECRETS_PATH"); v != "" {
		c.Storage.SecretsPath = v
	}
	if v := os.Getenv("SIDEKIK_CACHE_PATH"); v != "" {
		c.Storage.CachePath = v
	}
	if v := os.Getenv("SIDEKIK_THINK_MODEL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Chat.ThinkModel = b
		}
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid api.base_url %q", c.API.BaseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("api.base_url must be http or https, got %q", u.Scheme)
	}
	if c.API.TimeoutSecs <= 0 {
		return fmt.Errorf("api.timeout_secs must be positive, got %d", c.API.TimeoutSecs)
	}
	if c.Chat.PollIntervalSecs <= 0 {
		return fmt.Errorf("chat.poll_interval_secs must be positive, got %d", c.Chat.PollIntervalSecs)
	}
	if c.Chat.MaxPollAttempts < 0 {
		return fmt.Errorf("chat.max_poll_attempts must not be negative, got %d", c.Chat.MaxPollAttempts)
	}
	if c.Chat.MaxAttachments <= 0 {
		return fmt.Errorf("chat.max_attachments must be positive, got %d", c.Chat.MaxAttachments)
	}
	return nil
}

// Timeout returns the request timeout as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.API.TimeoutSecs) * time.Second
}

// PollInterval returns the job poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Chat.PollIntervalSecs) * time.Second
}

// =============================================================================
// SAVING
// =============================================================================

// Save writes the configuration to path atomically with owner-only
// permissions.
func (c *Config) Save(path string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return util.AtomicWriteFile(path, buf.Bytes(), 0600)
}
