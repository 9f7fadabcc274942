// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"context"

	"github.com/google/uuid"
)

// =============================================================================
// ATTACHMENT TYPE
// =============================================================================

// Attachment is a client-local file selected for upload. It is created when
// the user picks or captures media, mutated by the upload routine as
// progress, completion, or failure occurs, and either promoted to a message
// attachment reference on send or discarded on removal.
type Attachment struct {
	ID   string `json:"id"` // temporary local id
	Name string `json:"name"`
	MIME string `json:"mime"`
	URI  string `json:"uri"`
	Size int64  `json:"size,omitempty"`

	// Progress runs 0-100. A record with Progress < 100 and no Error has an
	// upload in flight and is cancellable.
	Progress int `json:"progress"`

	// UploadedFileID is the server-assigned file id once the upload
	// completes.
	UploadedFileID string `json:"uploaded_file_id,omitempty"`

	// Error marks a failed upload. Failed attachments stay visible so the
	// user can decide to remove them.
	Error string `json:"error,omitempty"`

	// Cancel aborts the in-flight upload. Nil once the upload settles.
	Cancel context.CancelFunc `json:"-"`
}

// NewAttachment creates an attachment record for a freshly picked file.
func NewAttachment(name, mime, uri string, size int64) Attachment {
	return Attachment{
		ID:   uuid.NewString(),
		Name: name,
		MIME: mime,
		URI:  uri,
		Size: size,
	}
}

// Uploaded reports whether the attachment finished uploading successfully.
// Only uploaded attachments are included in a send.
func (a Attachment) Uploaded() bool {
	return a.UploadedFileID != "" && a.Error == ""
}

// Cancellable reports whether the attachment has an upload in flight that
// can still be aborted.
func (a Attachment) Cancellable() bool {
	return a.Cancel != nil && a.Progress < 100 && a.Error == ""
}
