// Postwave - Content Coalescing and Fan-out Posting Pipeline
// Copyright 2026 Postwave Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/postwave/postwave

// Package delivery fans generated posts out to destination sinks with
// per-pair isolation and per-sink pacing.
package delivery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/postwave/postwave/internal/gate"
	"github.com/postwave/postwave/internal/media"
	"github.com/postwave/postwave/internal/metrics"
	"github.com/postwave/postwave/internal/post"
	"github.com/postwave/postwave/internal/transport"
)

// DefaultPacing is the reference delay between successive deliveries to
// the same sink.
const DefaultPacing = 2500 * time.Millisecond

// OwnerNotifier receives best-effort failure notices for the owner.
type OwnerNotifier interface {
	Notify(ctx context.Context, ownerID, text string)
}

// Result aggregates one fan-out run.
type Result struct {
	Delivered int
	Failed    int
}

// Engine delivers posts through the retry-wrapped executor, paces each
// sink independently, and records every successful delivery in the item
// store. A failure for one (post, sink) pair is reported to the owner
// and does not halt the remaining pairs.
type Engine struct {
	tr       transport.Transport
	ex       *gate.Executor
	store    media.ItemStore
	notifier OwnerNotifier
	pacing   time.Duration
	logger   zerolog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewEngine creates a fan-out delivery engine.
func NewEngine(tr transport.Transport, ex *gate.Executor, store media.ItemStore, notifier OwnerNotifier, pacing time.Duration, logger zerolog.Logger) *Engine {
	if pacing <= 0 {
		pacing = DefaultPacing
	}
	return &Engine{
		tr:       tr,
		ex:       ex,
		store:    store,
		notifier: notifier,
		pacing:   pacing,
		logger:   logger.With().Str("component", "delivery").Logger(),
		limiters: make(map[string]*rate.Limiter),
	}
}

// limiter returns the pacing limiter for a sink, creating it on first
// use. The first delivery to a sink passes immediately; later ones are
// spaced by the pacing interval.
func (e *Engine) limiter(sinkID string) *rate.Limiter {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.limiters[sinkID]
	if !ok {
		l = rate.NewLimiter(rate.Every(e.pacing), 1)
		e.limiters[sinkID] = l
	}
	return l
}

// Deliver sends every post to every sink in order. Successful posts are
// persisted as post records attributed to the owner.
func (e *Engine) Deliver(ctx context.Context, ownerID string, posts []post.Post, sinkIDs []string) Result {
	var res Result
	for _, sinkID := range sinkIDs {
		for i := range posts {
			if err := e.deliverOne(ctx, ownerID, &posts[i], sinkID); err != nil {
				res.Failed++
				metrics.Deliveries.WithLabelValues("error").Inc()
				e.logger.Error().
					Err(err).
					Str("owner", ownerID).
					Str("sink", sinkID).
					Msg("post delivery failed")
				if e.notifier != nil {
					e.notifier.Notify(ctx, ownerID, fmt.Sprintf(
						"❌ Posting error: failed to deliver a post to %s. Please check permissions.", sinkID))
				}
				continue
			}
			res.Delivered++
			metrics.Deliveries.WithLabelValues("ok").Inc()
		}
	}
	return res
}

func (e *Engine) deliverOne(ctx context.Context, ownerID string, p *post.Post, sinkID string) error {
	if err := e.limiter(sinkID).Wait(ctx); err != nil {
		return err
	}

	start := time.Now()
	h, err := gate.Execute(ctx, e.ex, func(ctx context.Context) (*transport.Handle, error) {
		return e.tr.Send(ctx, sinkID, transport.Content{
			Body:    p.Caption,
			Poster:  p.Poster,
			Buttons: p.Buttons,
		})
	})
	metrics.DeliveryDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return err
	}
	if h == nil {
		// Not-modified collapse: nothing new was sent, nothing to record.
		return nil
	}

	rec := &media.PostRecord{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		SinkID:    sinkID,
		Handle:    h.MessageID,
		Caption:   p.Caption,
		Poster:    p.Poster,
		CreatedAt: time.Now(),
	}
	if err := e.store.SavePost(ctx, rec); err != nil {
		// The post is already out; losing its backup record is logged,
		// not escalated.
		e.logger.Warn().Err(err).Str("owner", ownerID).Str("sink", sinkID).Msg("post record not persisted")
	}
	return nil
}
