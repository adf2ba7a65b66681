// Postwave - Content Coalescing and Fan-out Posting Pipeline
// Copyright 2026 Postwave Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/postwave/postwave

// Package ingest is the arrival boundary: upload events enter as
// messages on an in-process Watermill Pub/Sub and are admitted into the
// collection window manager by a consumer service.
package ingest

import (
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// TopicItemArrived carries ArrivalEvent payloads.
const TopicItemArrived = "postwave.item.arrived"

// ArrivalEvent is the wire form of one content-upload event, the sole
// external trigger for normal ingestion.
type ArrivalEvent struct {
	OwnerID    string    `json:"owner_id"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	Duration   int       `json:"duration,omitempty"`
	Ref        string    `json:"ref"`
	ReceivedAt time.Time `json:"received_at"`
}

// Bus wraps the in-process Pub/Sub used between the arrival boundary
// and the consumer.
type Bus struct {
	pubsub *gochannel.GoChannel
}

// NewBus creates an in-process bus.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 256},
			watermillAdapter{logger: logger.With().Str("component", "ingest-bus").Logger()},
		),
	}
}

// PublishArrival emits one arrival event.
func (b *Bus) PublishArrival(ev ArrivalEvent) error {
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.pubsub.Publish(TopicItemArrived, message.NewMessage(watermill.NewUUID(), payload))
}

// Subscriber exposes the underlying subscriber for the consumer service.
func (b *Bus) Subscriber() message.Subscriber { return b.pubsub }

// Close shuts the bus down, closing all subscriptions.
func (b *Bus) Close() error { return b.pubsub.Close() }

// watermillAdapter bridges Watermill's logger to zerolog.
type watermillAdapter struct {
	logger zerolog.Logger
}

func (a watermillAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.event(a.logger.Error().Err(err), fields).Msg(msg)
}

func (a watermillAdapter) Info(msg string, fields watermill.LogFields) {
	a.event(a.logger.Info(), fields).Msg(msg)
}

func (a watermillAdapter) Debug(msg string, fields watermill.LogFields) {
	a.event(a.logger.Debug(), fields).Msg(msg)
}

func (a watermillAdapter) Trace(msg string, fields watermill.LogFields) {
	a.event(a.logger.Trace(), fields).Msg(msg)
}

func (a watermillAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	logger := a.logger
	for k, v := range fields {
		logger = logger.With().Interface(k, v).Logger()
	}
	return watermillAdapter{logger: logger}
}

func (a watermillAdapter) event(e *zerolog.Event, fields watermill.LogFields) *zerolog.Event {
	for k, v := range fields {
		e = e.Interface(k, v)
	}
	return e
}
