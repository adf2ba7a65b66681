// Postwave - Content Coalescing and Fan-out Posting Pipeline
// Copyright 2026 Postwave Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/postwave/postwave

package transport

import (
	"context"
	"strconv"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// DryRun is a Transport that logs every call and fabricates handles
// instead of touching the wire. It is the default when no real transport
// is configured, which makes the pipeline runnable end to end in
// development.
type DryRun struct {
	logger zerolog.Logger
	seq    atomic.Int64
}

// NewDryRun creates a logging-only transport.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewDryRun(logger zerolog.Logger) *DryRun {
	return &DryRun{logger: logger.With().Str("component", "transport-dryrun").Logger()}
}

func (d *DryRun) handle(sinkID string) *Handle {
	return &Handle{SinkID: sinkID, MessageID: "dryrun-" + strconv.FormatInt(d.seq.Add(1), 10)}
}

// Send logs the content and returns a synthetic handle.
func (d *DryRun) Send(ctx context.Context, sinkID string, content Content) (*Handle, error) {
	d.logger.Info().
		Str("sink", sinkID).
		Int("body_len", len(content.Body)).
		Int("buttons", len(content.Buttons)).
		Bool("poster", content.Poster != "").
		Msg("send")
	return d.handle(sinkID), nil
}

// Edit logs the edit.
func (d *DryRun) Edit(ctx context.Context, h *Handle, content Content) error {
	d.logger.Info().
		Str("sink", h.SinkID).
		Str("message", h.MessageID).
		Int("body_len", len(content.Body)).
		Msg("edit")
	return nil
}

// Delete logs the delete.
func (d *DryRun) Delete(ctx context.Context, h *Handle) error {
	d.logger.Info().Str("sink", h.SinkID).Str("message", h.MessageID).Msg("delete")
	return nil
}

// Copy logs the copy and returns a synthetic handle.
func (d *DryRun) Copy(ctx context.Context, ref string, sinkID string) (*Handle, error) {
	d.logger.Info().Str("ref", ref).Str("sink", sinkID).Msg("copy")
	return d.handle(sinkID), nil
}

// Ping always succeeds.
func (d *DryRun) Ping(ctx context.Context) error { return nil }

// ProbeSink always succeeds.
func (d *DryRun) ProbeSink(ctx context.Context, sinkID string) error { return nil }
