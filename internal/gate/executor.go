// Postwave - Content Coalescing and Fan-out Posting Pipeline
// Copyright 2026 Postwave Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/postwave/postwave

package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/postwave/postwave/internal/metrics"
	"github.com/postwave/postwave/internal/transport"
)

// ErrRetriesExhausted is returned when the transient-failure retry
// budget runs out. The gate is unhealthy by the time callers see it.
var ErrRetriesExhausted = errors.New("retry budget exhausted")

// OperatorNotifier delivers best-effort notices to the operator channel.
// Failures are logged and ignored.
type OperatorNotifier interface {
	NotifyOperator(ctx context.Context, text string)
}

// NopOperatorNotifier discards operator notices. Useful in tests.
type NopOperatorNotifier struct{}

// NotifyOperator implements OperatorNotifier.
func (NopOperatorNotifier) NotifyOperator(context.Context, string) {}

// ExecutorConfig tunes the retry-wrapped executor.
type ExecutorConfig struct {
	// MaxAttempts bounds transient-failure retries. Default: 7
	MaxAttempts int

	// BaseDelay seeds the exponential backoff (BaseDelay * 2^attempt).
	// Default: 5s
	BaseDelay time.Duration

	// RateLimitMargin is added on top of the platform-mandated pause.
	// Default: 10s
	RateLimitMargin time.Duration
}

// DefaultExecutorConfig returns the reference retry policy.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxAttempts:     7,
		BaseDelay:       5 * time.Second,
		RateLimitMargin: 10 * time.Second,
	}
}

// Executor wraps transport operations with classification-based retry,
// consulting the gate before every attempt.
type Executor struct {
	gate     *Gate
	notifier OperatorNotifier
	cfg      ExecutorConfig
	logger   zerolog.Logger

	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an executor bound to the given gate.
func NewExecutor(g *Gate, notifier OperatorNotifier, cfg ExecutorConfig, logger zerolog.Logger) *Executor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 7
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 5 * time.Second
	}
	if cfg.RateLimitMargin <= 0 {
		cfg.RateLimitMargin = 10 * time.Second
	}
	if notifier == nil {
		notifier = NopOperatorNotifier{}
	}
	return &Executor{
		gate:     g,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With().Str("component", "executor").Logger(),
		sleep:    sleepCtx,
	}
}

// Gate returns the gate this executor consults.
func (e *Executor) Gate() *Gate { return e.gate }

// Operation is one transport call to be run under the retry policy.
type Operation[T any] func(ctx context.Context) (T, error)

// Execute runs op under the executor's retry policy:
//
//   - rate-limited: arm the gate pause for the mandated duration plus a
//     margin, notify the operator, wait it out and retry for free
//   - transient: exponential backoff, bounded by the attempt budget;
//     exhaustion marks the gate unhealthy and returns ErrRetriesExhausted
//   - not-modified: success alias, returns the zero value
//   - per-target: propagate immediately, no retry, no health impact
//   - anything else: mark the gate unhealthy and propagate
//
// Before each attempt Execute suspends until the gate is unpaused and
// healthy.
func Execute[T any](ctx context.Context, e *Executor, op Operation[T]) (T, error) {
	var zero T
	attempt := 0
	for {
		if err := e.gate.Wait(ctx); err != nil {
			return zero, err
		}

		v, err := op(ctx)
		if err == nil {
			return v, nil
		}

		if retryAfter, ok := transport.IsRateLimited(err); ok {
			pause := retryAfter + e.cfg.RateLimitMargin
			e.logger.Warn().
				Dur("pause", pause).
				Msg("rate limit detected, engaging global pause")
			e.gate.Pause(pause)
			metrics.RateLimitTrips.Inc()
			e.notifier.NotifyOperator(ctx,
				fmt.Sprintf("Rate limit hit. Pausing all outgoing actions for %s.", pause))
			// The pause is waited out at the top of the loop; a
			// rate-limit trip never consumes retry budget.
			continue
		}

		if errors.Is(err, transport.ErrNotModified) {
			e.logger.Debug().Msg("mutation already applied, treating as success")
			return zero, nil
		}

		if transport.IsTargetError(err) {
			return zero, err
		}

		if transport.IsTransient(err) {
			attempt++
			if attempt >= e.cfg.MaxAttempts {
				e.logger.Error().
					Int("attempts", attempt).
					Msg("retry budget exhausted, marking gate unhealthy")
				e.gate.MarkUnhealthy(err)
				return zero, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, err)
			}
			delay := e.cfg.BaseDelay * (1 << uint(attempt-1))
			metrics.RetryAttempts.Inc()
			e.logger.Warn().
				Err(err).
				Int("attempt", attempt).
				Int("max_attempts", e.cfg.MaxAttempts).
				Dur("delay", delay).
				Msg("transient transport failure, backing off")
			if serr := e.sleep(ctx, delay); serr != nil {
				return zero, serr
			}
			continue
		}

		e.logger.Error().Err(err).Msg("non-retriable transport failure, marking gate unhealthy")
		e.gate.MarkUnhealthy(err)
		return zero, err
	}
}

// sleepCtx sleeps for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
