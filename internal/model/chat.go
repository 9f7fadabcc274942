// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "time"

// TitleLength is the number of runes of the first user message used as the
// derived title of a freshly activated chat.
const TitleLength = 30

// =============================================================================
// CHAT TYPES
// =============================================================================

// Chat is a lightweight chat-list entry.
type Chat struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt int64  `json:"created_at"` // unix seconds
}

// ChatDetails holds a full conversation: identity, ordered message history,
// and the persona configuration it was created with (if any).
type ChatDetails struct {
	ID            string         `json:"id"`
	Title         string         `json:"title"`
	CreatedAt     int64          `json:"created_at"` // unix seconds
	Messages      []Message      `json:"messages"`
	Configuration *Configuration `json:"configuration,omitempty"`
}

// NewChatDetails constructs a conversation activated from a streamed chat id,
// seeded with the turn's optimistic messages. The title is derived from the
// first user message.
func NewChatDetails(id string, firstUserContent string, seed ...Message) *ChatDetails {
	msgs := make([]Message, len(seed))
	copy(msgs, seed)
	return &ChatDetails{
		ID:        id,
		Title:     deriveTitle(firstUserContent),
		CreatedAt: time.Now().Unix(),
		Messages:  msgs,
	}
}

// Meta returns the chat-list entry for this conversation.
func (d *ChatDetails) Meta() Chat {
	return Chat{ID: d.ID, Title: d.Title, CreatedAt: d.CreatedAt}
}

// AppendMessage appends a message to the conversation.
func (d *ChatDetails) AppendMessage(msg Message) {
	d.Messages = append(d.Messages, msg)
}

// PopMessage removes and returns the last message. The second return is
// false when the conversation has no messages.
func (d *ChatDetails) PopMessage() (Message, bool) {
	if len(d.Messages) == 0 {
		return Message{}, false
	}
	last := d.Messages[len(d.Messages)-1]
	d.Messages = d.Messages[:len(d.Messages)-1]
	return last, true
}

// RewriteLast overwrites the content of the last message in place. Used for
// the incremental rewrite of the streaming assistant reply.
func (d *ChatDetails) RewriteLast(content string) {
	if len(d.Messages) == 0 {
		return
	}
	d.Messages[len(d.Messages)-1].Content = content
}

// LastMessage returns the last message, or a zero Message and false.
func (d *ChatDetails) LastMessage() (Message, bool) {
	if len(d.Messages) == 0 {
		return Message{}, false
	}
	return d.Messages[len(d.Messages)-1], true
}

// deriveTitle truncates the first user message to TitleLength runes.
func deriveTitle(content string) string {
	runes := []rune(content)
	if len(runes) <= TitleLength {
		return content
	}
	return string(runes[:TitleLength])
}

// =============================================================================
// CONFIGURATION TYPE
// =============================================================================

// Configuration is a persona configuration: how the assistant addresses the
// user and presents itself. It is independent of any single conversation and
// immutable for a conversation once attached at creation time.
type Configuration struct {
	ID          string `json:"id"`
	UserName    string `json:"user_name"`
	AIName      string `json:"ai_name"`
	Description string `json:"description"`
	Role        string `json:"role"`
}

// =============================================================================
// JOB STATUS TYPE
// =============================================================================

// JobStatus is the polled state of an asynchronous generation job. URL is
// empty until the job resolves.
type JobStatus struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	URL    string `json:"url"`
}

// Resolved reports whether the job has produced a result URL.
func (j JobStatus) Resolved() bool {
	return j.URL != ""
}
