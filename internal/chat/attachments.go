// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/sidekik/sidekik-cli/internal/model"
)

// =============================================================================
// ATTACHMENT LIFECYCLE
// =============================================================================

// ErrTooManyAttachments indicates the per-message attachment limit was hit.
var ErrTooManyAttachments = errors.New("too many attachments")

// uploadFailedText is the inline error badge shown on a failed attachment.
const uploadFailedText = "Upload failed"

// Attachments returns a copy of the pending attachment list.
func (c *Controller) Attachments() []model.Attachment {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Attachment, len(c.attachments))
	copy(out, c.attachments)
	return out
}

// AddAttachment registers a local file and starts its upload in the
// background. Progress, completion, and failure surface on the attachment
// record via OnChange. The returned id addresses the attachment in
// RemoveAttachment.
func (c *Controller) AddAttachment(ctx context.Context, name, mimeType, uri string, content io.Reader, size int64) (string, error) {
	uploadCtx, cancel := context.WithCancel(ctx)
	att := model.NewAttachment(name, mimeType, uri, size)
	att.Cancel = cancel

	c.mu.Lock()
	if len(c.attachments) >= c.opts.MaxAttachments {
		c.mu.Unlock()
		cancel()
		return "", fmt.Errorf("%w: limit is %d", ErrTooManyAttachments, c.opts.MaxAttachments)
	}
	c.attachments = append(c.attachments, att)
	c.mu.Unlock()
	c.notify()

	c.jobs.Add(1)
	go func() {
		defer c.jobs.Done()
		defer cancel()
		c.runUpload(uploadCtx, att.ID, name, mimeType, content, size)
	}()

	return att.ID, nil
}

// runUpload performs one attachment upload and records the outcome. A
// user-cancelled upload drops the record silently; any other failure
// marks it with an error badge and keeps it visible.
func (c *Controller) runUpload(ctx context.Context, id, name, mimeType string, content io.Reader, size int64) {
	fileID, err := c.transport.UploadFile(ctx, name, mimeType, content, size, func(pct int) {
		c.updateAttachment(id, func(a *model.Attachment) {
			a.Progress = pct
		})
	})

	switch {
	case err == nil:
		c.updateAttachment(id, func(a *model.Attachment) {
			a.UploadedFileID = fileID
			a.Progress = 100
			a.Cancel = nil
		})
	case errors.Is(err, context.Canceled):
		c.removeAttachmentRecord(id)
	default:
		log.Printf("attachment upload failed: %v", err)
		c.updateAttachment(id, func(a *model.Attachment) {
			a.Error = uploadFailedText
			a.Cancel = nil
		})
	}
}

// RemoveAttachment removes an attachment, aborting its upload when one is
// still in flight.
func (c *Controller) RemoveAttachment(id string) {
	c.mu.Lock()
	var cancel context.CancelFunc
	for i := range c.attachments {
		if c.attachments[i].ID == id {
			if c.attachments[i].Cancellable() {
				cancel = c.attachments[i].Cancel
			}
			c.attachments = append(c.attachments[:i], c.attachments[i+1:]...)
			break
		}
	}
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.notify()
}

// promoteAttachmentsLocked returns the server ids of cleanly uploaded
// attachments and clears them from the pending list. Uploading and failed
// attachments stay local.
func (c *Controller) promoteAttachmentsLocked() []string {
	var ids []string
	var remaining []model.Attachment
	for _, a := range c.attachments {
		if a.Uploaded() {
			ids = append(ids, a.UploadedFileID)
		} else {
			remaining = append(remaining, a)
		}
	}
	c.attachments = remaining
	return ids
}

// updateAttachment applies fn to the attachment with the given id, if it
// still exists. Progress callbacks racing a removal become no-ops.
func (c *Controller) updateAttachment(id string, fn func(*model.Attachment)) {
	c.mu.Lock()
	for i := range c.attachments {
		if c.attachments[i].ID == id {
			fn(&c.attachments[i])
			break
		}
	}
	c.mu.Unlock()
	c.notify()
}

// removeAttachmentRecord drops an attachment without touching its upload.
func (c *Controller) removeAttachmentRecord(id string) {
	c.mu.Lock()
	for i := range c.attachments {
		if c.attachments[i].ID == id {
			c.attachments = append(c.attachments[:i], c.attachments[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
	c.notify()
}
