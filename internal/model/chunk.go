// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

// =============================================================================
// CHUNK TYPE
// =============================================================================

// ChunkKind identifies which variant of the streaming protocol a chunk is.
type ChunkKind int

const (
	// ChunkError carries a protocol-level error message for the turn.
	ChunkError ChunkKind = iota
	// ChunkChatID assigns the server-side chat id to a drafting conversation.
	ChunkChatID
	// ChunkContent carries an incremental piece of the assistant reply.
	ChunkContent
	// ChunkGeneration announces an asynchronous generation job.
	ChunkGeneration
	// ChunkBackground carries a transient background-processing status.
	ChunkBackground
)

// String returns the kind name for logging.
func (k ChunkKind) String() string {
	switch k {
	case ChunkError:
		return "error"
	case ChunkChatID:
		return "chat_id"
	case ChunkContent:
		return "content"
	case ChunkGeneration:
		return "generation"
	case ChunkBackground:
		return "background_processing"
	default:
		return "unknown"
	}
}

// Chunk is one decoded unit of the server's streaming chat protocol. On the
// wire a chunk is a JSON object with optional fields and no enforced
// exclusivity; the decoder classifies each object into exactly one Kind with
// a fixed priority (error first), so downstream code handles a closed set of
// variants. Only the fields belonging to Kind are populated.
type Chunk struct {
	Kind ChunkKind

	// ChunkChatID
	ChatID string

	// ChunkContent
	Content string

	// ChunkError
	Error string

	// ChunkBackground
	Status string

	// ChunkGeneration
	GenerationID      string
	GenerationMessage string
}
