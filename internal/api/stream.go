// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/sidekik/sidekik-cli/internal/auth"
	"github.com/sidekik/sidekik-cli/internal/model"
)

// =============================================================================
// STREAMING CONSTANTS
// =============================================================================

// MaxLineSize is the maximum allowed size for a single streamed line.
const MaxLineSize = 1024 * 1024

// streamBufferSize is the chunk channel capacity. Decoding stays ahead of
// slow consumers without unbounded buffering.
const streamBufferSize = 64

// ErrMalformedChunk indicates a line that parsed as JSON but matched no
// known chunk shape.
var ErrMalformedChunk = errors.New("malformed chunk")

// =============================================================================
// CHUNK DECODING
// =============================================================================

// decodeChunk classifies one newline-delimited JSON line into a typed
// chunk. When a line carries several recognizable fields at once, the
// highest-priority classification wins: error, then chat_id, then content,
// then generation, then background_processing. A generation chunk requires
// both generation_id and generation_message.
func decodeChunk(line []byte) (model.Chunk, error) {
	var wire chunkWire
	if err := json.Unmarshal(line, &wire); err != nil {
		return model.Chunk{}, fmt.Errorf("%w: %v", ErrMalformedChunk, err)
	}

	switch {
	case wire.Error != nil:
		return model.Chunk{Kind: model.ChunkError, Error: *wire.Error}, nil
	case wire.ChatID != nil:
		return model.Chunk{Kind: model.ChunkChatID, ChatID: *wire.ChatID}, nil
	case wire.Content != nil:
		return model.Chunk{Kind: model.ChunkContent, Content: *wire.Content}, nil
	case wire.GenerationID != nil && wire.GenerationMessage != nil:
		return model.Chunk{
			Kind:              model.ChunkGeneration,
			GenerationID:      *wire.GenerationID,
			GenerationMessage: *wire.GenerationMessage,
		}, nil
	case wire.BackgroundProcessing != nil:
		return model.Chunk{Kind: model.ChunkBackground, Status: *wire.BackgroundProcessing}, nil
	default:
		return model.Chunk{}, fmt.Errorf("%w: no recognized field", ErrMalformedChunk)
	}
}

// ChunkDecoder reads newline-delimited JSON chunks from a stream.
//
// Blank lines are skipped. Malformed lines are logged and skipped rather
// than aborting the stream; the backend interleaves keep-alive newlines
// with payload lines.
type ChunkDecoder struct {
	scanner *bufio.Scanner
}

// NewChunkDecoder creates a decoder over r.
func NewChunkDecoder(r io.Reader) *ChunkDecoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), MaxLineSize)
	return &ChunkDecoder{scanner: scanner}
}

// Next returns the next decoded chunk. It returns io.EOF when the stream
// ends and the underlying read error when the connection drops.
func (d *ChunkDecoder) Next() (model.Chunk, error) {
	for d.scanner.Scan() {
		line := bytes.TrimSpace(d.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		chunk, err := decodeChunk(line)
		if err != nil {
			log.Printf("skipping malformed stream line: %v", err)
			continue
		}
		return chunk, nil
	}
	if err := d.scanner.Err(); err != nil {
		return model.Chunk{}, err
	}
	return model.Chunk{}, io.EOF
}

// =============================================================================
// STREAMING CHAT
// =============================================================================

// OpenChatStream starts a chat turn and returns the decoded chunk stream.
//
// The chunk channel is closed when the stream completes. At most one error
// is delivered on the error channel, after which both channels close; a
// clean end of stream delivers nothing there.
//
// A 401 before any chunk arrives triggers one token refresh and one
// restart of the whole request. If the refresh fails the error channel
// carries auth.ErrSessionExpired. Cancel ctx to abandon the stream.
func (c *Client) OpenChatStream(ctx context.Context, input StreamInput) (<-chan model.Chunk, <-chan error) {
	chunks := make(chan model.Chunk, streamBufferSize)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		resp, err := c.openStreamOnce(ctx, input, false)
		if err != nil {
			errs <- err
			return
		}
		defer resp.Body.Close()

		decoder := NewChunkDecoder(resp.Body)
		for {
			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			default:
			}

			chunk, err := decoder.Next()
			if err == io.EOF {
				return
			}
			if err != nil {
				errs <- fmt.Errorf("stream read failed: %w", err)
				return
			}

			select {
			case chunks <- chunk:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
	}()

	return chunks, errs
}

// openStreamOnce issues the POST /chat request, refreshing the token and
// re-issuing the whole request once on 401.
func (c *Client) openStreamOnce(ctx context.Context, input StreamInput, retried bool) (*http.Response, error) {
	token, err := c.session.AccessToken()
	if err != nil {
		return nil, err
	}

	bodyBytes, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stream request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create stream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stream request failed: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		io.Copy(io.Discard, io.LimitReader(resp.Body, MaxResponseSize))
		resp.Body.Close()
		if retried {
			if cerr := c.session.ClearTokens(); cerr != nil {
				log.Printf("failed to clear session tokens: %v", cerr)
			}
			return nil, auth.ErrSessionExpired
		}
		if _, err := c.session.Refresh(ctx); err != nil {
			return nil, err
		}
		return c.openStreamOnce(ctx, input, true)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
		resp.Body.Close()
		return nil, errorFromResponse(resp.StatusCode, body)
	}

	return resp, nil
}
