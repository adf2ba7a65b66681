// Postwave - Content Coalescing and Fan-out Posting Pipeline
// Copyright 2026 Postwave Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/postwave/postwave

package window

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/postwave/postwave/internal/gate"
	"github.com/postwave/postwave/internal/transport"
)

// Dashboard is the owner-facing progress indicator for one collection
// window: a single message posted to the owner's chat and edited in
// place as the window fills and finalization advances.
//
// Every mutation is best-effort. A blocked recipient drops the dashboard
// for the remainder of the window; any other failure is logged and the
// individual update is skipped.
type Dashboard struct {
	tr     transport.Transport
	ex     *gate.Executor
	logger zerolog.Logger

	ownerID  string
	throttle time.Duration

	mu       sync.Mutex
	handle   *transport.Handle
	dropped  bool
	lastEdit time.Time
}

func newDashboard(tr transport.Transport, ex *gate.Executor, ownerID string, throttle time.Duration, logger zerolog.Logger) *Dashboard {
	return &Dashboard{
		tr:       tr,
		ex:       ex,
		logger:   logger,
		ownerID:  ownerID,
		throttle: throttle,
	}
}

// post creates the dashboard message.
func (d *Dashboard) post(ctx context.Context, text string) {
	h, err := gate.Execute(ctx, d.ex, func(ctx context.Context) (*transport.Handle, error) {
		return d.tr.Send(ctx, d.ownerID, transport.Content{Body: text})
	})
	if err != nil {
		if transport.IsRecipientBlocked(err) {
			d.drop()
			return
		}
		d.logger.Warn().Err(err).Str("owner", d.ownerID).Msg("dashboard create failed")
		return
	}
	d.mu.Lock()
	d.handle = h
	d.lastEdit = time.Now()
	d.mu.Unlock()
}

// Update edits the dashboard, rate-limited to one edit per throttle
// interval. Collection-phase callers use this to avoid overwhelming the
// UI collaborator.
func (d *Dashboard) Update(ctx context.Context, text string) {
	d.mu.Lock()
	if time.Since(d.lastEdit) < d.throttle {
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()
	d.Set(ctx, text)
}

// Set edits the dashboard unconditionally. Finalization-phase status
// transitions use this.
func (d *Dashboard) Set(ctx context.Context, text string) {
	d.mu.Lock()
	h := d.handle
	dropped := d.dropped
	d.mu.Unlock()
	if h == nil || dropped {
		return
	}

	_, err := gate.Execute(ctx, d.ex, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, d.tr.Edit(ctx, h, transport.Content{Body: text})
	})
	if err != nil {
		if transport.IsRecipientBlocked(err) {
			d.drop()
			return
		}
		d.logger.Warn().Err(err).Str("owner", d.ownerID).Msg("dashboard update failed")
		return
	}
	d.mu.Lock()
	d.lastEdit = time.Now()
	d.mu.Unlock()
}

// Remove deletes the dashboard message.
func (d *Dashboard) Remove(ctx context.Context) {
	d.mu.Lock()
	h := d.handle
	dropped := d.dropped
	d.handle = nil
	d.mu.Unlock()
	if h == nil || dropped {
		return
	}
	_, err := gate.Execute(ctx, d.ex, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, d.tr.Delete(ctx, h)
	})
	if err != nil && !transport.IsRecipientBlocked(err) {
		d.logger.Warn().Err(err).Str("owner", d.ownerID).Msg("dashboard delete failed")
	}
}

func (d *Dashboard) drop() {
	d.mu.Lock()
	d.dropped = true
	d.mu.Unlock()
}

// renderDashboard produces the collection dashboard body. Skipped names
// are capped at five to keep the message compact.
func renderDashboard(collected, limit int, skipped []string, status string) string {
	var b strings.Builder
	b.WriteString("🗂️ File Batch Dashboard\n\n")
	fmt.Fprintf(&b, "Files collected: %d / %d\n", collected, limit)
	b.WriteString(status)
	b.WriteString("\n")
	if len(skipped) > 0 {
		fmt.Fprintf(&b, "\nSkipped files: %d\n", len(skipped))
		for i, name := range skipped {
			if i == 5 {
				fmt.Fprintf(&b, "  - ...and %d more.\n", len(skipped)-5)
				break
			}
			fmt.Fprintf(&b, "  - %s\n", name)
		}
	}
	return b.String()
}
