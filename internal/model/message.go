// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Valid reports whether the role is one of the three known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a conversation.
//
// Message order within a conversation is append-only, with two documented
// exceptions: the last message's Content is rewritten in place while a reply
// streams, and the last message is removed when a turn fails.
type Message struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// AttachmentIDs holds server-assigned file ids attached to the message.
	AttachmentIDs []string `json:"attachment_ids,omitempty"`

	// ImageURL is set on synthetic assistant messages produced by a
	// resolved generation job.
	ImageURL string `json:"image_url,omitempty"`
}

// NewUserMessage creates a user message with a generated local id.
func NewUserMessage(content string, attachmentIDs []string) Message {
	return Message{
		ID:            uuid.NewString(),
		Role:          RoleUser,
		Content:       content,
		AttachmentIDs: attachmentIDs,
	}
}

// NewAssistantMessage creates an empty assistant placeholder message. Its
// content is filled in incrementally as the reply streams.
func NewAssistantMessage() Message {
	return Message{
		ID:   uuid.NewString(),
		Role: RoleAssistant,
	}
}

// NewImageMessage creates an assistant message carrying a generated image URL.
func NewImageMessage(url string) Message {
	return Message{
		ID:       uuid.NewString(),
		Role:     RoleAssistant,
		ImageURL: url,
	}
}

// IsEmpty reports whether the message has no content and no image.
func (m Message) IsEmpty() bool {
	return m.Content == "" && m.ImageURL == ""
}
