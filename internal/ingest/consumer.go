// Postwave - Content Coalescing and Fan-out Posting Pipeline
// Copyright 2026 Postwave Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/postwave/postwave

package ingest

import (
	"context"
	"fmt"
	"sync"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/postwave/postwave/internal/gate"
	"github.com/postwave/postwave/internal/media"
	"github.com/postwave/postwave/internal/metrics"
	"github.com/postwave/postwave/internal/transport"
	"github.com/postwave/postwave/internal/window"
)

// Consumer drains the arrival topic and admits each event: archive a
// copy of the content, persist the item record, then offer the item to
// the owner's collection window. Admission runs on per-owner drain
// goroutines: same-owner events keep arrival order, while one owner's
// slow archival copy never delays another owner's window.
// Implements suture.Service.
type Consumer struct {
	bus         *Bus
	tr          transport.Transport
	ex          *gate.Executor
	store       media.ItemStore
	mgr         *window.Manager
	archiveSink string
	logger      zerolog.Logger

	mu     sync.Mutex
	queues map[string]*ownerQueue
	wg     sync.WaitGroup
}

// ownerQueue serializes one owner's pending admissions. running marks
// whether a drain goroutine currently owns the queue.
type ownerQueue struct {
	pending []ArrivalEvent
	running bool
}

// NewConsumer creates the arrival consumer. archiveSink may be empty,
// in which case items are admitted with their original content ref and
// no archival copy is made.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewConsumer(
	bus *Bus,
	tr transport.Transport,
	ex *gate.Executor,
	store media.ItemStore,
	mgr *window.Manager,
	archiveSink string,
	logger zerolog.Logger,
) *Consumer {
	return &Consumer{
		bus:         bus,
		tr:          tr,
		ex:          ex,
		store:       store,
		mgr:         mgr,
		archiveSink: archiveSink,
		logger:      logger.With().Str("component", "ingest").Logger(),
		queues:      make(map[string]*ownerQueue),
	}
}

// Serve subscribes to the arrival topic and routes events to per-owner
// drains until the context is cancelled.
func (c *Consumer) Serve(ctx context.Context) error {
	msgs, err := c.bus.Subscriber().Subscribe(ctx, TopicItemArrived)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", TopicItemArrived, err)
	}
	c.logger.Info().Str("topic", TopicItemArrived).Msg("arrival consumer running")
	defer c.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			if ev, ok := c.decode(msg.Payload); ok {
				c.dispatch(ctx, ev)
			}
			// Admission is terminal either way; redelivery would
			// double-count the item in the window.
			msg.Ack()
		}
	}
}

func (c *Consumer) String() string { return "ingest.Consumer" }

// decode unmarshals and validates one arrival payload. Invalid events
// are logged and dropped.
func (c *Consumer) decode(payload []byte) (ArrivalEvent, bool) {
	var ev ArrivalEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		c.logger.Error().Err(err).Msg("malformed arrival event dropped")
		return ev, false
	}
	if ev.OwnerID == "" || ev.Ref == "" {
		c.logger.Error().Str("owner", ev.OwnerID).Msg("arrival event missing owner or ref, dropped")
		return ev, false
	}
	return ev, true
}

// dispatch appends the event to the owner's queue and starts a drain
// goroutine if none is running for that owner.
func (c *Consumer) dispatch(ctx context.Context, ev ArrivalEvent) {
	c.mu.Lock()
	q, ok := c.queues[ev.OwnerID]
	if !ok {
		q = &ownerQueue{}
		c.queues[ev.OwnerID] = q
	}
	q.pending = append(q.pending, ev)
	if !q.running {
		q.running = true
		c.wg.Add(1)
		go c.drain(ctx, q)
	}
	c.mu.Unlock()
}

// drain admits the owner's queued events one at a time, then parks the
// queue. A later dispatch restarts it.
func (c *Consumer) drain(ctx context.Context, q *ownerQueue) {
	defer c.wg.Done()
	for {
		c.mu.Lock()
		if len(q.pending) == 0 || ctx.Err() != nil {
			q.running = false
			c.mu.Unlock()
			return
		}
		ev := q.pending[0]
		q.pending = q.pending[1:]
		c.mu.Unlock()

		c.admit(ctx, ev)
	}
}

func (c *Consumer) admit(ctx context.Context, ev ArrivalEvent) {
	item := &media.Item{
		ID:         uuid.NewString(),
		OwnerID:    ev.OwnerID,
		Name:       ev.Name,
		Size:       ev.Size,
		Duration:   ev.Duration,
		Ref:        ev.Ref,
		ReceivedAt: ev.ReceivedAt,
	}

	// Archival copy comes first so the stored record always points at
	// content we control.
	if c.archiveSink != "" {
		h, err := gate.Execute(ctx, c.ex, func(ctx context.Context) (*transport.Handle, error) {
			return c.tr.Copy(ctx, ev.Ref, c.archiveSink)
		})
		if err != nil {
			metrics.ItemsSkipped.WithLabelValues("archive_failed").Inc()
			c.logger.Error().Err(err).
				Str("owner", ev.OwnerID).
				Str("item", ev.Name).
				Msg("archival copy failed, item not admitted")
			return
		}
		if h != nil {
			item.Ref = fmt.Sprintf("%s/%s", h.SinkID, h.MessageID)
		}
	}

	if err := c.store.UpsertItem(ctx, item); err != nil {
		// The window still gets the item; replication will miss it but
		// the live batch must not.
		c.logger.Warn().Err(err).
			Str("owner", ev.OwnerID).
			Str("item", ev.Name).
			Msg("item record not persisted")
	}

	c.mgr.Offer(ctx, item)
}
