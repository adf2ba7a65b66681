// Postwave - Content Coalescing and Fan-out Posting Pipeline
// Copyright 2026 Postwave Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/postwave/postwave

// Package transport defines the outbound messaging boundary and its typed
// failure taxonomy. The pipeline never talks to the wire directly; every
// call goes through gate.Execute, which classifies the errors declared
// here into retry policies.
package transport

import "context"

// Handle identifies a message previously delivered to a sink, for later
// edits and deletes.
type Handle struct {
	SinkID    string `json:"sink_id"`
	MessageID string `json:"message_id"`
}

// Content is the payload of one outbound message. Poster is an optional
// image reference; Buttons render below the body.
type Content struct {
	Body    string
	Poster  string
	Buttons []Button
}

// Button is a single labeled link attached to a message.
type Button struct {
	Name string
	URL  string
}

// Transport sends, edits, deletes and copies content on the external
// messaging platform. Implementations report failures using the typed
// errors in this package; anything else is treated as fatal by the
// executor.
type Transport interface {
	// Send delivers content to a sink and returns a handle to the new message.
	Send(ctx context.Context, sinkID string, content Content) (*Handle, error)

	// Edit replaces the content of a previously sent message.
	Edit(ctx context.Context, h *Handle, content Content) error

	// Delete removes a previously sent message.
	Delete(ctx context.Context, h *Handle) error

	// Copy duplicates stored content into a destination sink.
	Copy(ctx context.Context, ref string, sinkID string) (*Handle, error)
}
