// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidekik/sidekik-cli/internal/api"
	"github.com/sidekik/sidekik-cli/internal/model"
)

// =============================================================================
// FAKE TRANSPORT
// =============================================================================

type fakeTransport struct {
	mu sync.Mutex

	userInfo    *api.UserInfo
	userInfoErr error

	details    map[string]*model.ChatDetails
	detailsErr error

	// chunks are replayed on the next OpenChatStream call; streamErr is
	// delivered after them.
	chunks    []model.Chunk
	streamErr error

	// inputs records every stream request.
	inputs []api.StreamInput

	// jobStatuses are replayed per GetJobStatus call; the last entry
	// repeats once exhausted.
	jobStatuses []*model.JobStatus
	jobCalls    int

	// uploadFn handles UploadFile when set.
	uploadFn func(ctx context.Context, name string, onProgress api.ProgressFunc) (string, error)
}

func (f *fakeTransport) GetUserInfo(ctx context.Context) (*api.UserInfo, error) {
	if f.userInfoErr != nil {
		return nil, f.userInfoErr
	}
	if f.userInfo == nil {
		return &api.UserInfo{}, nil
	}
	return f.userInfo, nil
}

func (f *fakeTransport) GetChatDetails(ctx context.Context, chatID string) (*model.ChatDetails, error) {
	if f.detailsErr != nil {
		return nil, f.detailsErr
	}
	details, ok := f.details[chatID]
	if !ok {
		return nil, fmt.Errorf("no such chat %s", chatID)
	}
	return details, nil
}

func (f *fakeTransport) OpenChatStream(ctx context.Context, input api.StreamInput) (<-chan model.Chunk, <-chan error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, input)
	chunks := f.chunks
	streamErr := f.streamErr
	f.mu.Unlock()

	out := make(chan model.Chunk, len(chunks))
	errs := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errs)
		for _, chunk := range chunks {
			out <- chunk
		}
		if streamErr != nil {
			errs <- streamErr
		}
	}()
	return out, errs
}

func (f *fakeTransport) GetJobStatus(ctx context.Context, jobID string) (*model.JobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.jobStatuses) == 0 {
		return nil, errors.New("no job status configured")
	}
	idx := f.jobCalls
	if idx >= len(f.jobStatuses) {
		idx = len(f.jobStatuses) - 1
	}
	f.jobCalls++
	return f.jobStatuses[idx], nil
}

func (f *fakeTransport) UploadFile(ctx context.Context, name, mimeType string, content io.Reader, size int64, onProgress api.ProgressFunc) (string, error) {
	if f.uploadFn != nil {
		return f.uploadFn(ctx, name, onProgress)
	}
	if onProgress != nil {
		onProgress(100)
	}
	return "file-" + name, nil
}

func (f *fakeTransport) recordedInputs() []api.StreamInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]api.StreamInput, len(f.inputs))
	copy(out, f.inputs)
	return out
}

func (f *fakeTransport) setChunks(chunks ...model.Chunk) {
	f.mu.Lock()
	f.chunks = chunks
	f.streamErr = nil
	f.mu.Unlock()
}

func newTestController(f *fakeTransport) *Controller {
	return NewController(f, Options{
		PollInterval:    time.Millisecond,
		MaxPollAttempts: 10,
	})
}

func contentChunk(s string) model.Chunk {
	return model.Chunk{Kind: model.ChunkContent, Content: s}
}

// =============================================================================
// SUBMIT AND STREAM RECONCILIATION
// =============================================================================

func TestSubmitActivatesNewConversation(t *testing.T) {
	f := &fakeTransport{}
	f.setChunks(
		model.Chunk{Kind: model.ChunkChatID, ChatID: "c1"},
		contentChunk("Hi"),
		contentChunk(" there"),
	)
	c := newTestController(f)

	require.NoError(t, c.Submit(context.Background(), "Hello"))

	assert.Equal(t, "c1", c.ActiveChatID())

	chats := c.Chats()
	require.Len(t, chats, 1)
	assert.Equal(t, "c1", chats[0].ID)
	assert.Equal(t, "Hello", chats[0].Title)
	assert.NotZero(t, chats[0].CreatedAt)

	msgs := c.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, "Hello", msgs[0].Content)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Hi there", msgs[1].Content)

	assert.Empty(t, c.ErrorText())
}

func TestContentChunksConcatenateInOrder(t *testing.T) {
	f := &fakeTransport{}
	parts := []string{"a", "b", "c", "d", "e"}
	chunks := []model.Chunk{{Kind: model.ChunkChatID, ChatID: "c1"}}
	for _, p := range parts {
		chunks = append(chunks, contentChunk(p))
	}
	f.setChunks(chunks...)

	c := newTestController(f)

	// Every observed assistant content must be a prefix of the final
	// concatenation; no intermediate state skips ahead.
	var seen []string
	c.OnChange(func() {
		msgs := c.Messages()
		if len(msgs) == 2 && msgs[1].Role == model.RoleAssistant {
			seen = append(seen, msgs[1].Content)
		}
	})

	require.NoError(t, c.Submit(context.Background(), "hi"))

	final := strings.Join(parts, "")
	require.NotEmpty(t, seen)
	assert.Equal(t, final, seen[len(seen)-1])

	prev := ""
	for _, s := range seen {
		assert.True(t, strings.HasPrefix(s, prev), "content went backwards: %q after %q", s, prev)
		assert.True(t, strings.HasPrefix(final, s), "content %q is not a prefix of %q", s, final)
		prev = s
	}
}

func TestActivationHappensOnce(t *testing.T) {
	f := &fakeTransport{}
	f.setChunks(
		model.Chunk{Kind: model.ChunkChatID, ChatID: "c1"},
		contentChunk("x"),
		model.Chunk{Kind: model.ChunkChatID, ChatID: "c2"},
		contentChunk("y"),
	)
	c := newTestController(f)

	require.NoError(t, c.Submit(context.Background(), "hi"))

	assert.Equal(t, "c1", c.ActiveChatID())
	require.Len(t, c.Chats(), 1)

	msgs := c.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "xy", msgs[1].Content)
}

func TestErrorChunkRemovesPlaceholder(t *testing.T) {
	f := &fakeTransport{}
	f.setChunks(
		model.Chunk{Kind: model.ChunkChatID, ChatID: "c1"},
		contentChunk("Hi"),
		model.Chunk{Kind: model.ChunkError, Error: "rate limited"},
	)
	c := newTestController(f)

	require.NoError(t, c.Submit(context.Background(), "Hello"))

	assert.Equal(t, "rate limited", c.ErrorText())

	msgs := c.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, "Hello", msgs[0].Content)
}

func TestNextSubmitRemovesDanglingUserMessage(t *testing.T) {
	f := &fakeTransport{}
	f.setChunks(
		model.Chunk{Kind: model.ChunkChatID, ChatID: "c1"},
		model.Chunk{Kind: model.ChunkError, Error: "boom"},
	)
	c := newTestController(f)

	require.NoError(t, c.Submit(context.Background(), "foo"))
	require.Equal(t, "boom", c.ErrorText())
	require.Len(t, c.Messages(), 1)

	f.setChunks(contentChunk("ok"))
	require.NoError(t, c.Submit(context.Background(), "bar"))

	assert.Empty(t, c.ErrorText())
	msgs := c.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "bar", msgs[0].Content)
	assert.Equal(t, "ok", msgs[1].Content)
}

func TestBackgroundStatusClearedByContent(t *testing.T) {
	f := &fakeTransport{}
	f.setChunks(
		model.Chunk{Kind: model.ChunkBackground, Status: "Thinking..."},
		contentChunk("done"),
	)
	c := newTestController(f)

	var sawStatus bool
	c.OnChange(func() {
		if c.Status() == "Thinking..." {
			sawStatus = true
		}
	})

	require.NoError(t, c.Submit(context.Background(), "hi"))

	assert.True(t, sawStatus)
	assert.Empty(t, c.Status())
}

func TestTransportFailureLeavesOptimisticMessages(t *testing.T) {
	f := &fakeTransport{streamErr: errors.New("connection reset")}
	c := newTestController(f)

	err := c.Submit(context.Background(), "hi")
	require.Error(t, err)

	msgs := c.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.Empty(t, c.ErrorText())
}

func TestSubmitRejectsEmptyMessage(t *testing.T) {
	c := newTestController(&fakeTransport{})
	err := c.Submit(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Empty(t, c.Messages())
}

func TestSubmitSendsConfigurationOnlyForNewConversation(t *testing.T) {
	f := &fakeTransport{}
	f.setChunks(model.Chunk{Kind: model.ChunkChatID, ChatID: "c1"}, contentChunk("ok"))
	c := newTestController(f)
	c.SetConfiguration(&model.Configuration{ID: "cfg-1", AIName: "Sidekik"})

	require.NoError(t, c.Submit(context.Background(), "first"))
	f.setChunks(contentChunk("again"))
	require.NoError(t, c.Submit(context.Background(), "second"))

	inputs := f.recordedInputs()
	require.Len(t, inputs, 2)
	assert.Empty(t, inputs[0].ChatID)
	assert.Equal(t, "cfg-1", inputs[0].ConfigurationID)
	assert.Equal(t, "c1", inputs[1].ChatID)
	assert.Empty(t, inputs[1].ConfigurationID)
}

// =============================================================================
// CONVERSATION LIFECYCLE
// =============================================================================

func TestSelectChatReplacesStateWholesale(t *testing.T) {
	f := &fakeTransport{
		details: map[string]*model.ChatDetails{
			"c7": {
				ID:    "c7",
				Title: "Old chat",
				Messages: []model.Message{
					model.NewUserMessage("old question", nil),
				},
			},
		},
	}
	f.setChunks(model.Chunk{Kind: model.ChunkError, Error: "boom"})
	c := newTestController(f)

	// Leave a failed draft behind, then switch chats.
	require.NoError(t, c.Submit(context.Background(), "draft"))
	require.NotEmpty(t, c.ErrorText())

	require.NoError(t, c.SelectChat(context.Background(), "c7"))

	assert.Equal(t, "c7", c.ActiveChatID())
	assert.Empty(t, c.ErrorText())
	msgs := c.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "old question", msgs[0].Content)
}

func TestSelectChatFailure(t *testing.T) {
	c := newTestController(&fakeTransport{details: map[string]*model.ChatDetails{}})
	err := c.SelectChat(context.Background(), "missing")
	assert.Error(t, err)
}

func TestNewChatResets(t *testing.T) {
	f := &fakeTransport{}
	f.setChunks(model.Chunk{Kind: model.ChunkChatID, ChatID: "c1"}, contentChunk("hi"))
	c := newTestController(f)

	require.NoError(t, c.Submit(context.Background(), "Hello"))
	require.Equal(t, "c1", c.ActiveChatID())

	c.NewChat()

	assert.Empty(t, c.ActiveChatID())
	assert.Empty(t, c.Messages())
	// The chat list keeps the previous conversation.
	assert.Len(t, c.Chats(), 1)
}

func TestRefreshLoadsChatsAndConfiguration(t *testing.T) {
	f := &fakeTransport{
		userInfo: &api.UserInfo{
			Chats: []model.Chat{
				{ID: "c1", Title: "First"},
				{ID: "c2", Title: "Second"},
			},
			ChatConfiguration: &model.Configuration{ID: "cfg-1"},
		},
	}
	c := newTestController(f)

	c.Refresh(context.Background())

	assert.Len(t, c.Chats(), 2)
	require.NotNil(t, c.Configuration())
	assert.Equal(t, "cfg-1", c.Configuration().ID)
}

func TestRefreshDegradesToEmptyOnFailure(t *testing.T) {
	f := &fakeTransport{userInfoErr: errors.New("network down")}
	c := newTestController(f)
	c.Refresh(context.Background())
	assert.Empty(t, c.Chats())
}

// =============================================================================
// JOB POLLER
// =============================================================================

func TestGenerationChunkStartsPoller(t *testing.T) {
	pending := &model.JobStatus{ID: "g1", Status: "pending"}
	f := &fakeTransport{
		jobStatuses: []*model.JobStatus{
			pending, pending, pending,
			{ID: "g1", Status: "done", URL: "https://img/x.png"},
		},
	}
	f.setChunks(
		model.Chunk{Kind: model.ChunkChatID, ChatID: "c1"},
		model.Chunk{Kind: model.ChunkGeneration, GenerationID: "g1", GenerationMessage: "Generating image"},
	)
	c := newTestController(f)

	require.NoError(t, c.Submit(context.Background(), "draw a cat"))
	c.Wait()

	f.mu.Lock()
	calls := f.jobCalls
	f.mu.Unlock()
	assert.Equal(t, 4, calls)

	msgs := c.Messages()
	last := msgs[len(msgs)-1]
	assert.Equal(t, model.RoleAssistant, last.Role)
	assert.Equal(t, "https://img/x.png", last.ImageURL)
	assert.Empty(t, c.Status())
}

func TestPollerGivesUpAtAttemptBound(t *testing.T) {
	f := &fakeTransport{
		jobStatuses: []*model.JobStatus{{ID: "g1", Status: "pending"}},
	}
	f.setChunks(
		model.Chunk{Kind: model.ChunkGeneration, GenerationID: "g1", GenerationMessage: "Working"},
	)
	c := NewController(f, Options{PollInterval: time.Millisecond, MaxPollAttempts: 3})

	require.NoError(t, c.Submit(context.Background(), "draw"))
	c.Wait()

	f.mu.Lock()
	calls := f.jobCalls
	f.mu.Unlock()
	assert.Equal(t, 3, calls)
	assert.Empty(t, c.Status())
}

func TestPollerOutlivesTurnContext(t *testing.T) {
	f := &fakeTransport{
		jobStatuses: []*model.JobStatus{{ID: "g1", Status: "done", URL: "https://img/x.png"}},
	}
	f.setChunks(
		model.Chunk{Kind: model.ChunkChatID, ChatID: "c1"},
		model.Chunk{Kind: model.ChunkGeneration, GenerationID: "g1", GenerationMessage: "Generating image"},
	)
	c := newTestController(f)

	// The REPL cancels each turn's context as soon as Submit returns;
	// the generation job must keep polling past that point.
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Submit(ctx, "draw a cat"))
	cancel()
	c.Wait()

	msgs := c.Messages()
	last := msgs[len(msgs)-1]
	assert.Equal(t, model.RoleAssistant, last.Role)
	assert.Equal(t, "https://img/x.png", last.ImageURL)
	assert.Empty(t, c.Status())
}

func TestNewChatAbortsPoller(t *testing.T) {
	f := &fakeTransport{
		jobStatuses: []*model.JobStatus{{ID: "g1", Status: "pending"}},
	}
	f.setChunks(
		model.Chunk{Kind: model.ChunkGeneration, GenerationID: "g1", GenerationMessage: "Working"},
	)
	c := NewController(f, Options{PollInterval: time.Hour, MaxPollAttempts: 100})

	require.NoError(t, c.Submit(context.Background(), "draw"))
	c.NewChat()
	c.Wait()

	f.mu.Lock()
	calls := f.jobCalls
	f.mu.Unlock()
	assert.LessOrEqual(t, calls, 1)
}

func TestStopAbortsPoller(t *testing.T) {
	f := &fakeTransport{
		jobStatuses: []*model.JobStatus{{ID: "g1", Status: "pending"}},
	}
	f.setChunks(
		model.Chunk{Kind: model.ChunkGeneration, GenerationID: "g1", GenerationMessage: "Working"},
	)
	c := NewController(f, Options{PollInterval: time.Hour, MaxPollAttempts: 100})

	require.NoError(t, c.Submit(context.Background(), "draw"))
	c.Stop()

	f.mu.Lock()
	calls := f.jobCalls
	f.mu.Unlock()
	assert.LessOrEqual(t, calls, 1)
}
