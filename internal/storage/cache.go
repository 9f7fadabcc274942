// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/sidekik/sidekik-cli/internal/model"
)

// ErrNotCached indicates the requested conversation is not in the cache.
var ErrNotCached = errors.New("chat not cached")

// schema is applied on open. chats.position preserves the server's
// most-recent-first ordering independent of created_at.
const schema = `
CREATE TABLE IF NOT EXISTS chats (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	position   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	chat_id        TEXT NOT NULL,
	seq            INTEGER NOT NULL,
	id             TEXT NOT NULL,
	role           TEXT NOT NULL,
	content        TEXT NOT NULL,
	attachment_ids TEXT NOT NULL DEFAULT '[]',
	image_url      TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (chat_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id);
`

// Cache is a local mirror of the backend's chat state.
type Cache struct {
	db *sql.DB
}

// Open opens (and if needed creates) the cache database at path.
func Open(path string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to configure cache database: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply cache schema: %w", err)
	}

	return &Cache{db: db}, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// =============================================================================
// CHAT LIST
// =============================================================================

// SaveChats replaces the cached chat list, preserving order.
func (c *Cache) SaveChats(ctx context.Context, chats []model.Chat) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chats`); err != nil {
		return fmt.Errorf("failed to clear chat list: %w", err)
	}
	for i, chat := range chats {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chats (id, title, created_at, position) VALUES (?, ?, ?, ?)`,
			chat.ID, chat.Title, chat.CreatedAt, i); err != nil {
			return fmt.Errorf("failed to insert chat %s: %w", chat.ID, err)
		}
	}
	return tx.Commit()
}

// Chats returns the cached chat list in server order.
func (c *Cache) Chats(ctx context.Context) ([]model.Chat, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, title, created_at FROM chats ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("failed to query chats: %w", err)
	}
	defer rows.Close()

	var chats []model.Chat
	for rows.Next() {
		var chat model.Chat
		if err := rows.Scan(&chat.ID, &chat.Title, &chat.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat: %w", err)
		}
		chats = append(chats, chat)
	}
	return chats, rows.Err()
}

// =============================================================================
// CONVERSATION DETAIL
// =============================================================================

// SaveDetails replaces one conversation's cached message history.
func (c *Cache) SaveDetails(ctx context.Context, details *model.ChatDetails) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chats (id, title, created_at, position) VALUES (?, ?, ?, -1)
		 ON CONFLICT(id) DO UPDATE SET title=excluded.title, created_at=excluded.created_at`,
		details.ID, details.Title, details.CreatedAt); err != nil {
		return fmt.Errorf("failed to upsert chat %s: %w", details.ID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE chat_id = ?`, details.ID); err != nil {
		return fmt.Errorf("failed to clear messages for %s: %w", details.ID, err)
	}

	for i, msg := range details.Messages {
		attachmentIDs, err := json.Marshal(msg.AttachmentIDs)
		if err != nil {
			return fmt.Errorf("failed to encode attachment ids: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (chat_id, seq, id, role, content, attachment_ids, image_url)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			details.ID, i, msg.ID, string(msg.Role), msg.Content, string(attachmentIDs), msg.ImageURL); err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
	}
	return tx.Commit()
}

// Details returns one cached conversation, or ErrNotCached.
func (c *Cache) Details(ctx context.Context, chatID string) (*model.ChatDetails, error) {
	details := &model.ChatDetails{}
	err := c.db.QueryRowContext(ctx,
		`SELECT id, title, created_at FROM chats WHERE id = ?`, chatID).
		Scan(&details.ID, &details.Title, &details.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotCached
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query chat %s: %w", chatID, err)
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT id, role, content, attachment_ids, image_url
		 FROM messages WHERE chat_id = ? ORDER BY seq`, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var msg model.Message
		var role, attachmentIDs string
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &attachmentIDs, &msg.ImageURL); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Role = model.Role(role)
		if err := json.Unmarshal([]byte(attachmentIDs), &msg.AttachmentIDs); err != nil {
			return nil, fmt.Errorf("failed to decode attachment ids: %w", err)
		}
		details.Messages = append(details.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return details, nil
}

// DeleteDetails removes one conversation from the cache.
func (c *Cache) DeleteDetails(ctx context.Context, chatID string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("failed to delete messages for %s: %w", chatID, err)
	}
	if _, err := c.db.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, chatID); err != nil {
		return fmt.Errorf("failed to delete chat %s: %w", chatID, err)
	}
	return nil
}
