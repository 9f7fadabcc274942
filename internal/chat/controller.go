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
	"time"

	"github.com/sidekik/sidekik-cli/internal/api"
	"github.com/sidekik/sidekik-cli/internal/model"
)

// =============================================================================
// TRANSPORT
// =============================================================================

// Transport is the backend surface the controller drives. *api.Client
// satisfies it.
type Transport interface {
	GetUserInfo(ctx context.Context) (*api.UserInfo, error)
	GetChatDetails(ctx context.Context, chatID string) (*model.ChatDetails, error)
	OpenChatStream(ctx context.Context, input api.StreamInput) (<-chan model.Chunk, <-chan error)
	GetJobStatus(ctx context.Context, jobID string) (*model.JobStatus, error)
	UploadFile(ctx context.Context, name, mimeType string, content io.Reader, size int64, onProgress api.ProgressFunc) (string, error)
}

// =============================================================================
// CONTROLLER
// =============================================================================

// ErrEmptyMessage indicates a submit with no text and no usable attachments.
var ErrEmptyMessage = errors.New("empty message")

// ErrTurnInFlight indicates a submit while the previous turn is still
// streaming.
var ErrTurnInFlight = errors.New("a turn is already in flight")

// Options configures a Controller.
type Options struct {
	// ThinkModel requests the slower reasoning model for every turn.
	ThinkModel bool
	// PollInterval is the generation-job poll interval.
	PollInterval time.Duration
	// MaxPollAttempts bounds each generation-job poll loop.
	MaxPollAttempts int
	// MaxAttachments is the maximum number of files per message.
	MaxAttachments int
}

func (o *Options) fillDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.MaxPollAttempts <= 0 {
		o.MaxPollAttempts = 150
	}
	if o.MaxAttachments <= 0 {
		o.MaxAttachments = 5
	}
}

// Controller holds the active conversation and applies every state
// transition as a read-modify-write under one lock, so the chunk handler,
// upload callbacks, and job pollers never lose updates to each other.
type Controller struct {
	transport Transport
	opts      Options

	mu sync.Mutex

	// chats is the conversation list, most recent first.
	chats []model.Chat

	// configuration is the persona attached to newly created
	// conversations, when one is selected.
	configuration *model.Configuration

	// details is the active conversation. Its ID stays empty while
	// drafting, until the backend announces one in a chat_id chunk.
	details *model.ChatDetails

	attachments []model.Attachment

	// errText is the pending turn failure shown to the user. The failed
	// turn's dangling user message is removed on the next submit.
	errText string

	// status is the transient background-processing text.
	status string

	streaming bool

	// onChange is invoked after every state mutation, outside the lock.
	onChange func()

	// jobs tracks running poll loops for Wait.
	jobs sync.WaitGroup

	// jobCtx scopes generation-job pollers to the active conversation
	// rather than to the turn that started them; a job keeps polling
	// after its stream completes and is cancelled only when the user
	// navigates away or the controller stops.
	jobCtx    context.Context
	jobCancel context.CancelFunc
}

// NewController creates a Controller over transport.
func NewController(transport Transport, opts Options) *Controller {
	opts.fillDefaults()
	jobCtx, jobCancel := context.WithCancel(context.Background())
	return &Controller{
		transport: transport,
		opts:      opts,
		details:   &model.ChatDetails{},
		jobCtx:    jobCtx,
		jobCancel: jobCancel,
	}
}

// OnChange registers a callback invoked after every state change. It is
// called from the goroutine that performed the mutation, never under the
// controller lock.
func (c *Controller) OnChange(fn func()) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

func (c *Controller) notify() {
	c.mu.Lock()
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// =============================================================================
// SNAPSHOT ACCESSORS
// =============================================================================

// Chats returns a copy of the conversation list, most recent first.
func (c *Controller) Chats() []model.Chat {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Chat, len(c.chats))
	copy(out, c.chats)
	return out
}

// Messages returns a copy of the active conversation's messages.
func (c *Controller) Messages() []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Message, len(c.details.Messages))
	copy(out, c.details.Messages)
	return out
}

// Details returns a deep-enough copy of the active conversation for
// rendering or caching.
func (c *Controller) Details() *model.ChatDetails {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := *c.details
	out.Messages = make([]model.Message, len(c.details.Messages))
	copy(out.Messages, c.details.Messages)
	return &out
}

// ActiveChatID returns the active conversation id, or "" while drafting.
func (c *Controller) ActiveChatID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.details.ID
}

// ErrorText returns the pending turn failure, or "".
func (c *Controller) ErrorText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errText
}

// Status returns the transient background-processing text, or "".
func (c *Controller) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Configuration returns the selected persona, or nil.
func (c *Controller) Configuration() *model.Configuration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.configuration
}

// SetConfiguration selects the persona attached to newly created
// conversations.
func (c *Controller) SetConfiguration(cfg *model.Configuration) {
	c.mu.Lock()
	c.configuration = cfg
	c.mu.Unlock()
	c.notify()
}

// =============================================================================
// CONVERSATION LIFECYCLE
// =============================================================================

// Refresh reloads the conversation list and persisted persona. Transport
// failures degrade to an empty list rather than an error.
func (c *Controller) Refresh(ctx context.Context) {
	info, err := c.transport.GetUserInfo(ctx)

	c.mu.Lock()
	if err != nil {
		c.chats = nil
	} else {
		c.chats = info.Chats
		if info.ChatConfiguration != nil {
			c.configuration = info.ChatConfiguration
		}
	}
	c.mu.Unlock()
	c.notify()
}

// SelectChat loads an existing conversation, replacing the active one
// wholesale. Draft messages and pending error state are discarded.
func (c *Controller) SelectChat(ctx context.Context, chatID string) error {
	details, err := c.transport.GetChatDetails(ctx, chatID)
	if err != nil {
		return fmt.Errorf("failed to load chat %s: %w", chatID, err)
	}

	c.mu.Lock()
	c.details = details
	if details.Configuration != nil {
		c.configuration = details.Configuration
	}
	c.errText = ""
	c.status = ""
	c.resetJobsLocked()
	c.mu.Unlock()
	c.notify()
	return nil
}

// NewChat resets to an empty draft conversation.
func (c *Controller) NewChat() {
	c.mu.Lock()
	c.details = &model.ChatDetails{}
	c.errText = ""
	c.status = ""
	c.resetJobsLocked()
	c.mu.Unlock()
	c.notify()
}

// resetJobsLocked aborts the pollers of the conversation being left.
func (c *Controller) resetJobsLocked() {
	c.jobCancel()
	c.jobCtx, c.jobCancel = context.WithCancel(context.Background())
}

// Wait blocks until all running job-poll loops finish. Intended for
// shutdown and tests.
func (c *Controller) Wait() {
	c.jobs.Wait()
}

// Stop aborts all running job-poll loops and waits for them to exit.
// Called on shutdown.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.jobCancel()
	c.mu.Unlock()
	c.jobs.Wait()
}

// =============================================================================
// SUBMIT
// =============================================================================

// Submit sends one chat turn and consumes the resulting chunk stream to
// completion. It returns when the stream ends; callers wanting a live
// render drive it from a goroutine and observe progress via OnChange.
//
// Only attachments that finished uploading cleanly are sent; uploading
// and failed ones stay local. A transport-level stream failure is
// returned with the optimistic messages left in place. A protocol error
// chunk is not a Submit error: it is recorded for display and the
// assistant placeholder is removed.
func (c *Controller) Submit(ctx context.Context, text string) error {
	input, err := c.beginTurn(text)
	if err != nil {
		return err
	}
	c.notify()

	chunks, errs := c.transport.OpenChatStream(ctx, input)
	for chunk := range chunks {
		c.applyChunk(chunk, input.Content)
		c.notify()
	}

	streamErr := <-errs
	c.mu.Lock()
	c.streaming = false
	c.mu.Unlock()

	if streamErr != nil {
		return fmt.Errorf("chat stream failed: %w", streamErr)
	}
	return nil
}

// beginTurn performs the pre-send transition in one uninterrupted step:
// dangling-message cleanup, optimistic appends, and attachment promotion.
func (c *Controller) beginTurn(text string) (api.StreamInput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.streaming {
		return api.StreamInput{}, ErrTurnInFlight
	}

	// A failed turn leaves its user message dangling; remove it before
	// appending the new turn.
	if c.errText != "" {
		if last, ok := c.details.LastMessage(); ok && last.Role == model.RoleUser {
			c.details.PopMessage()
		}
		c.errText = ""
	}

	attachmentIDs := c.promoteAttachmentsLocked()

	text = strings.TrimSpace(text)
	if text == "" && len(attachmentIDs) == 0 {
		return api.StreamInput{}, ErrEmptyMessage
	}

	c.details.AppendMessage(model.NewUserMessage(text, attachmentIDs))
	c.details.AppendMessage(model.NewAssistantMessage())

	input := api.StreamInput{
		ChatID:        c.details.ID,
		Content:       text,
		AttachmentIDs: attachmentIDs,
		ThinkModel:    c.opts.ThinkModel,
	}
	// The persona only rides along when the backend is about to create
	// the conversation; existing conversations keep theirs.
	if c.details.ID == "" && c.configuration != nil {
		input.ConfigurationID = c.configuration.ID
	}

	c.streaming = true
	return input, nil
}

// applyChunk folds one chunk into the conversation.
func (c *Controller) applyChunk(chunk model.Chunk, turnText string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch chunk.Kind {
	case model.ChunkChatID:
		// Activation happens at most once per conversation; later
		// chat_id chunks are ignored.
		if c.details.ID != "" {
			return
		}
		cfg := c.details.Configuration
		c.details = model.NewChatDetails(chunk.ChatID, turnText, c.details.Messages...)
		if cfg == nil {
			cfg = c.configuration
		}
		c.details.Configuration = cfg
		c.chats = append([]model.Chat{c.details.Meta()}, c.chats...)

	case model.ChunkContent:
		c.status = ""
		if last, ok := c.details.LastMessage(); ok && last.Role == model.RoleAssistant {
			c.details.RewriteLast(last.Content + chunk.Content)
		}

	case model.ChunkError:
		c.status = ""
		c.errText = chunk.Error
		// Drop the assistant placeholder; the user message stays
		// dangling until the next submit.
		if last, ok := c.details.LastMessage(); ok && last.Role == model.RoleAssistant {
			c.details.PopMessage()
		}

	case model.ChunkBackground:
		c.status = chunk.Status

	case model.ChunkGeneration:
		c.status = chunk.GenerationMessage
		c.jobs.Add(1)
		// The poller runs on the conversation-scoped context so it
		// survives the end of the turn that announced the job.
		go func(ctx context.Context) {
			defer c.jobs.Done()
			c.pollJob(ctx, chunk.GenerationID)
		}(c.jobCtx)
	}
}
