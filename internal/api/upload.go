// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
)

// =============================================================================
// FILE UPLOAD
// =============================================================================

// ProgressFunc receives upload progress as a percentage in [0, 100].
type ProgressFunc func(percent int)

// UploadFile uploads one attachment as a multipart form and returns the
// backend-assigned file id. onProgress may be nil. Cancel ctx to abort
// the upload; the error then satisfies errors.Is(err, context.Canceled).
func (c *Client) UploadFile(ctx context.Context, name, mimeType string, content io.Reader, size int64, onProgress ProgressFunc) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	if mimeType != "" {
		header.Set("Content-Type", mimeType)
	}
	part, err := writer.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("failed to create form part: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return "", fmt.Errorf("failed to read attachment: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize form: %w", err)
	}

	// The form is buffered in memory so a 401 retry can resend the body.
	formBytes := buf.Bytes()

	var out uploadResponse
	resp, err := c.session.Do(ctx, c.httpClient, func(token string) (*http.Request, error) {
		body := &progressReader{
			r:          bytes.NewReader(formBytes),
			total:      int64(len(formBytes)),
			onProgress: onProgress,
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files", body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", writer.FormDataContentType())
		req.Header.Set("User-Agent", userAgent)
		req.ContentLength = int64(len(formBytes))
		return req, nil
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := decodeResponse(resp, &out); err != nil {
		return "", err
	}
	if out.FileID == "" {
		return "", fmt.Errorf("upload response missing file_id")
	}
	return out.FileID, nil
}

// progressReader reports read progress as a percentage of total.
type progressReader struct {
	r          io.Reader
	total      int64
	sent       int64
	lastPct    int
	onProgress ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		p.report()
	}
	return n, err
}

func (p *progressReader) report() {
	if p.onProgress == nil || p.total <= 0 {
		return
	}
	pct := int(p.sent * 100 / p.total)
	if pct > 100 {
		pct = 100
	}
	if pct != p.lastPct {
		p.lastPct = pct
		p.onProgress(pct)
	}
}
