// Postwave - Content Coalescing and Fan-out Posting Pipeline
// Copyright 2026 Postwave Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/postwave/postwave

// Package notify delivers best-effort in-chat notices to owners and the
// operator. Notices are advisory: a blocked recipient is swallowed, any
// other failure is logged and dropped, and neither outcome propagates to
// the caller.
package notify

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/postwave/postwave/internal/gate"
	"github.com/postwave/postwave/internal/transport"
)

// OwnerNotifier sends notices to an owner's own chat through the
// retry-wrapped executor.
type OwnerNotifier struct {
	tr     transport.Transport
	ex     *gate.Executor
	logger zerolog.Logger
}

// NewOwnerNotifier creates an owner notifier.
func NewOwnerNotifier(tr transport.Transport, ex *gate.Executor, logger zerolog.Logger) *OwnerNotifier {
	return &OwnerNotifier{
		tr:     tr,
		ex:     ex,
		logger: logger.With().Str("component", "notify").Logger(),
	}
}

// Notify sends text to the owner. Best-effort: a recipient that blocked
// the transport is swallowed silently, anything else is logged.
func (n *OwnerNotifier) Notify(ctx context.Context, ownerID, text string) {
	_, err := gate.Execute(ctx, n.ex, func(ctx context.Context) (*transport.Handle, error) {
		return n.tr.Send(ctx, ownerID, transport.Content{Body: text})
	})
	if err == nil || transport.IsRecipientBlocked(err) {
		return
	}
	n.logger.Warn().Err(err).Str("owner", ownerID).Msg("owner notice dropped")
}

// Operator sends notices to the configured operator sink. It bypasses
// the executor: operator notices fire exactly when the gate is tripping,
// so routing them through the gate would deadlock the warning itself.
type Operator struct {
	tr     transport.Transport
	sinkID string
	logger zerolog.Logger
}

// NewOperator creates an operator notifier. An empty sinkID disables it.
func NewOperator(tr transport.Transport, sinkID string, logger zerolog.Logger) *Operator {
	return &Operator{
		tr:     tr,
		sinkID: sinkID,
		logger: logger.With().Str("component", "notify").Logger(),
	}
}

// NotifyOperator implements gate.OperatorNotifier.
func (o *Operator) NotifyOperator(ctx context.Context, text string) {
	if o.sinkID == "" {
		return
	}
	if _, err := o.tr.Send(ctx, o.sinkID, transport.Content{Body: text}); err != nil {
		o.logger.Warn().Err(err).Msg("operator notice dropped")
	}
}
