// Postwave - Content Coalescing and Fan-out Posting Pipeline
// Copyright 2026 Postwave Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/postwave/postwave

package replicate

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/postwave/postwave/internal/gate"
	"github.com/postwave/postwave/internal/transport"
)

// progressReport is the owner-facing job status message, edited in
// place at a throttled rate. All mutations are best-effort; a blocked
// recipient silences the report for the rest of the job.
type progressReport struct {
	tr       transport.Transport
	ex       *gate.Executor
	ownerID  string
	throttle time.Duration
	logger   zerolog.Logger

	mu       sync.Mutex
	handle   *transport.Handle
	dropped  bool
	lastEdit time.Time
}

func newProgressReport(tr transport.Transport, ex *gate.Executor, ownerID string, throttle time.Duration, logger zerolog.Logger) *progressReport {
	return &progressReport{
		tr:       tr,
		ex:       ex,
		ownerID:  ownerID,
		throttle: throttle,
		logger:   logger,
	}
}

// update edits the report if the throttle interval has elapsed.
func (p *progressReport) update(ctx context.Context, text string) {
	p.mu.Lock()
	if time.Since(p.lastEdit) < p.throttle {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	p.set(ctx, text)
}

// set creates or edits the report unconditionally.
func (p *progressReport) set(ctx context.Context, text string) {
	p.mu.Lock()
	h := p.handle
	dropped := p.dropped
	p.mu.Unlock()
	if dropped {
		return
	}

	var err error
	if h == nil {
		var created *transport.Handle
		created, err = gate.Execute(ctx, p.ex, func(ctx context.Context) (*transport.Handle, error) {
			return p.tr.Send(ctx, p.ownerID, transport.Content{Body: text})
		})
		if err == nil && created != nil {
			p.mu.Lock()
			p.handle = created
			p.mu.Unlock()
		}
	} else {
		_, err = gate.Execute(ctx, p.ex, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, p.tr.Edit(ctx, h, transport.Content{Body: text})
		})
	}

	if err != nil {
		if transport.IsRecipientBlocked(err) {
			p.mu.Lock()
			p.dropped = true
			p.mu.Unlock()
			return
		}
		p.logger.Warn().Err(err).Str("owner", p.ownerID).Msg("progress report update failed")
		return
	}
	p.mu.Lock()
	p.lastEdit = time.Now()
	p.mu.Unlock()
}

// remove deletes the report message.
func (p *progressReport) remove(ctx context.Context) {
	p.mu.Lock()
	h := p.handle
	dropped := p.dropped
	p.handle = nil
	p.mu.Unlock()
	if h == nil || dropped {
		return
	}
	_, err := gate.Execute(ctx, p.ex, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, p.tr.Delete(ctx, h)
	})
	if err != nil && !transport.IsRecipientBlocked(err) {
		p.logger.Warn().Err(err).Str("owner", p.ownerID).Msg("progress report delete failed")
	}
}
