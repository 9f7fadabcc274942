// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chats, messages, and the
// streaming wire protocol.
//
// # Key Types
//
//   - Chat: lightweight chat-list entry (id, title, creation time)
//   - ChatDetails: a full conversation with message history and configuration
//   - Message: single message with role, content, attachments, optional image
//   - Configuration: persona configuration attached to a chat at creation
//   - Attachment: client-local file selected for upload
//   - Chunk: one decoded unit of the server's streaming chat protocol
//   - JobStatus: status of an asynchronous generation job
//
// # Usage
//
// Build a conversation optimistically while a reply streams in:
//
//	details := model.NewChatDetails("c1", "Hello", model.NewUserMessage("Hello", nil))
//	details.AppendMessage(model.NewAssistantMessage())
//	details.RewriteLast("Hi there")
package model
