// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"log"

	"golang.org/x/time/rate"

	"github.com/sidekik/sidekik-cli/internal/model"
)

// =============================================================================
// GENERATION JOB POLLER
// =============================================================================

// pollJob polls one generation job until it resolves, then appends a new
// assistant message carrying the result URL. The first poll fires
// immediately; later polls are paced at the configured interval. Poll
// failures count as "not ready yet." The loop gives up after the
// configured attempt bound so an abandoned job cannot poll forever.
//
// Pollers for different generation ids run independently; each resolution
// is a single state transition under the controller lock.
func (c *Controller) pollJob(ctx context.Context, jobID string) {
	limiter := rate.NewLimiter(rate.Every(c.opts.PollInterval), 1)

	for attempt := 0; attempt < c.opts.MaxPollAttempts; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return
		}

		status, err := c.transport.GetJobStatus(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		if !status.Resolved() {
			continue
		}

		c.mu.Lock()
		c.status = ""
		c.details.AppendMessage(model.NewImageMessage(status.URL))
		c.mu.Unlock()
		c.notify()
		return
	}

	log.Printf("generation job %s did not resolve after %d polls, giving up", jobID, c.opts.MaxPollAttempts)
	c.mu.Lock()
	c.status = ""
	c.mu.Unlock()
	c.notify()
}
