// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat holds the conversation state machine.
//
// The Controller owns the active conversation. A submit appends the user
// message and an empty assistant placeholder optimistically, opens the
// chunk stream, and folds each chunk into the conversation in arrival
// order: the assistant placeholder's content grows monotonically, a
// chat_id chunk activates a drafted conversation exactly once, and an
// error chunk removes the placeholder and records the error for display.
//
// Attachment uploads and generation-job polling run concurrently with the
// streaming turn; every mutation is a read-modify-write under one lock so
// interleaved callbacks never lose updates.
package chat
