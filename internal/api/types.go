// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"fmt"

	"github.com/sidekik/sidekik-cli/internal/model"
)

// =============================================================================
// WIRE TYPES
// =============================================================================

// UserInfo is the response to GET /.
type UserInfo struct {
	Chats             []model.Chat         `json:"chats"`
	ChatConfiguration *model.Configuration `json:"chat_configuration"`
}

// StreamInput is the request body for POST /chat.
//
// ChatID is empty for the first turn of a new conversation; the backend
// allocates an id and announces it in a chat_id chunk.
type StreamInput struct {
	ChatID          string   `json:"chat_id,omitempty"`
	ConfigurationID string   `json:"configuration_id,omitempty"`
	Content         string   `json:"content"`
	AttachmentIDs   []string `json:"attachment_ids"`
	ThinkModel      bool     `json:"think_model"`
}

// ConfigurationInput is the request body for POST /configure/chat.
type ConfigurationInput struct {
	UserName    string `json:"user_name"`
	AIName      string `json:"ai_name"`
	Description string `json:"description"`
	Role        string `json:"role"`
}

// User identifies the authenticated account.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// AuthResponse is the response to POST /auth/google and /auth/apple.
type AuthResponse struct {
	User         User   `json:"user"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type uploadResponse struct {
	FileID string `json:"file_id"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type meResponse struct {
	User User `json:"user"`
}

// chunkWire mirrors one newline-delimited line of the POST /chat response.
// The backend treats every field as optional; classification into a
// model.Chunk happens in decodeChunk.
type chunkWire struct {
	ChatID               *string `json:"chat_id"`
	Content              *string `json:"content"`
	Error                *string `json:"error"`
	BackgroundProcessing *string `json:"background_processing"`
	GenerationID         *string `json:"generation_id"`
	GenerationMessage    *string `json:"generation_message"`
}

// =============================================================================
// ERRORS
// =============================================================================

// APIError represents a non-2xx response from the backend.
type APIError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend error (HTTP %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("backend error (HTTP %d)", e.Status)
}

type apiErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
