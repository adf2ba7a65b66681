// Postwave - Content Coalescing and Fan-out Posting Pipeline
// Copyright 2026 Postwave Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/postwave/postwave

// Package gate implements the process-wide execution gate and the
// retry-wrapped executor that guards every outbound transport call.
//
// The gate is a single global backpressure valve: one rate-limit trip
// freezes every in-flight and future transport call across all owners
// until the pause elapses, and an unhealthy mark freezes them until an
// external probe clears it.
package gate

import (
	"context"
	"sync"
	"time"

	"github.com/postwave/postwave/internal/metrics"
)

// Gate holds the pause and health flags consulted before every transport
// attempt. It is constructed once and injected into every component that
// issues transport calls; there is deliberately no package-level instance.
type Gate struct {
	mu         sync.Mutex
	pauseUntil time.Time
	healthy    bool
	healthyCh  chan struct{} // closed while healthy
	lastError  string
}

// New returns a gate that starts healthy and unpaused.
func New() *Gate {
	ch := make(chan struct{})
	close(ch)
	metrics.GateHealthy.Set(1)
	metrics.GatePaused.Set(0)
	return &Gate{healthy: true, healthyCh: ch}
}

// Pause arms the pause state for d from now. A later trip overwrites the
// deadline; callers already waiting re-check it when their timer fires,
// so the pause is never shortened below what they have begun waiting on
// unless the new deadline genuinely is earlier.
func (g *Gate) Pause(d time.Duration) {
	g.mu.Lock()
	g.pauseUntil = time.Now().Add(d)
	deadline := g.pauseUntil
	g.mu.Unlock()

	metrics.GatePaused.Set(1)
	time.AfterFunc(d, func() {
		g.mu.Lock()
		expired := !time.Now().Before(g.pauseUntil) || g.pauseUntil.Equal(deadline)
		g.mu.Unlock()
		if expired {
			metrics.GatePaused.Set(0)
		}
	})
}

// MarkUnhealthy clears the healthy flag and records the error text.
// All transport calls block until MarkHealthy.
func (g *Gate) MarkUnhealthy(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.healthy {
		g.healthy = false
		g.healthyCh = make(chan struct{})
	}
	if err != nil {
		g.lastError = err.Error()
	}
	metrics.GateHealthy.Set(0)
}

// MarkHealthy restores the healthy flag, releasing all blocked callers.
func (g *Gate) MarkHealthy() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.healthy {
		g.healthy = true
		close(g.healthyCh)
	}
	g.lastError = ""
	metrics.GateHealthy.Set(1)
}

// Wait suspends until the gate is simultaneously unpaused and healthy,
// or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	for {
		g.mu.Lock()
		now := time.Now()
		if remaining := g.pauseUntil.Sub(now); remaining > 0 {
			g.mu.Unlock()
			timer := time.NewTimer(remaining)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			// Re-check: the deadline may have been extended meanwhile.
			continue
		}
		if !g.healthy {
			ch := g.healthyCh
			g.mu.Unlock()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ch:
			}
			continue
		}
		g.mu.Unlock()
		return nil
	}
}

// Snapshot is a point-in-time view of the gate for the status surface.
type Snapshot struct {
	Healthy        bool          `json:"healthy"`
	Paused         bool          `json:"paused"`
	PauseRemaining time.Duration `json:"pause_remaining,omitempty"`
	LastError      string        `json:"last_error,omitempty"`
}

// Status returns the current gate state.
func (g *Gate) Status() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	remaining := time.Until(g.pauseUntil)
	if remaining < 0 {
		remaining = 0
	}
	return Snapshot{
		Healthy:        g.healthy,
		Paused:         remaining > 0,
		PauseRemaining: remaining,
		LastError:      g.lastError,
	}
}
