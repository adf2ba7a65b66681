// Postwave - Content Coalescing and Fan-out Posting Pipeline
// Copyright 2026 Postwave Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/postwave/postwave

package transport

import (
	"errors"
	"fmt"
	"time"
)

// The transport boundary reports failures as explicit variants rather
// than free-form errors. The executor maps each variant to a retry
// policy:
//
//   - *RateLimitError: platform-wide backpressure; pause everything.
//   - Transient (IsTransient): bounded exponential backoff.
//   - ErrNotModified: the mutation already holds; success alias.
//   - *TargetError: this destination is broken; no retry, no health impact.
//   - anything else: fatal; the gate goes unhealthy.

// ErrNotModified reports that the requested mutation already reflects
// the desired state. Callers treat it as success with a nil result.
var ErrNotModified = errors.New("content not modified")

// ErrRecipientBlocked is the per-target failure raised when the
// recipient has blocked the transport. Notification call sites swallow
// it; delivery call sites propagate it like any other target error.
var ErrRecipientBlocked = &TargetError{Reason: "recipient blocked transport"}

// RateLimitError signals that the platform demands a pause before any
// further outbound call, process-wide.
type RateLimitError struct {
	// RetryAfter is the platform-mandated minimum pause.
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", e.RetryAfter)
}

// TargetError is a permanent, destination-scoped failure: the sink or
// recipient cannot be reached no matter how often we retry. It never
// marks the process unhealthy.
type TargetError struct {
	SinkID string
	Reason string
}

func (e *TargetError) Error() string {
	if e.SinkID == "" {
		return "target unreachable: " + e.Reason
	}
	return fmt.Sprintf("target %s unreachable: %s", e.SinkID, e.Reason)
}

// Is lets errors.Is(err, ErrRecipientBlocked) match any TargetError
// carrying the blocked-recipient reason, regardless of sink.
func (e *TargetError) Is(target error) bool {
	t, ok := target.(*TargetError)
	return ok && t.Reason == e.Reason
}

// TransientError is a connectivity or lookup failure expected to
// self-resolve. The executor retries it with exponential backoff.
type TransientError struct {
	Cause error
}

func (e *TransientError) Error() string {
	return "transient transport failure: " + e.Cause.Error()
}

func (e *TransientError) Unwrap() error { return e.Cause }

// Transient wraps err as a retriable transport failure.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Cause: err}
}

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsRateLimited extracts the mandated pause from err if it carries one.
func IsRateLimited(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}

// IsTargetError reports whether err is a permanent per-target failure.
func IsTargetError(err error) bool {
	var te *TargetError
	return errors.As(err, &te)
}

// IsRecipientBlocked reports whether err means the recipient blocked us.
func IsRecipientBlocked(err error) bool {
	return errors.Is(err, ErrRecipientBlocked)
}
