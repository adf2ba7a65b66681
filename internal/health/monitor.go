// Postwave - Content Coalescing and Fan-out Posting Pipeline
// Copyright 2026 Postwave Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/postwave/postwave

// Package health runs the periodic transport probe that drives the
// execution gate's healthy flag. The probe goes through a circuit
// breaker so a flapping platform settles into a single open/closed
// signal instead of hammering the wire.
package health

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/postwave/postwave/internal/gate"
)

// ProbeFunc performs one cheap liveness check against the platform.
type ProbeFunc func(ctx context.Context) error

// Config tunes the health monitor.
type Config struct {
	// Interval between probes. Default: 120s
	Interval time.Duration

	// ProbeTimeout bounds a single probe call. Default: 15s
	ProbeTimeout time.Duration

	// FailureThreshold is the consecutive-failure count that opens the
	// breaker. Default: 3
	FailureThreshold uint32

	// OpenTimeout is how long the breaker stays open before allowing a
	// trial probe. Default: 60s
	OpenTimeout time.Duration
}

// DefaultConfig returns the reference probe policy.
func DefaultConfig() Config {
	return Config{
		Interval:         120 * time.Second,
		ProbeTimeout:     15 * time.Second,
		FailureThreshold: 3,
		OpenTimeout:      60 * time.Second,
	}
}

// Monitor periodically probes the transport and marks the gate healthy
// or unhealthy accordingly. Implements suture.Service.
type Monitor struct {
	probe    ProbeFunc
	g        *gate.Gate
	operator gate.OperatorNotifier
	cb       *gobreaker.CircuitBreaker[struct{}]
	cfg      Config
	logger   zerolog.Logger
}

// NewMonitor creates a health monitor. operator may be nil.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewMonitor(probe ProbeFunc, g *gate.Gate, operator gate.OperatorNotifier, cfg Config, logger zerolog.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 120 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 15 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 60 * time.Second
	}

	m := &Monitor{
		probe:    probe,
		g:        g,
		operator: operator,
		cfg:      cfg,
		logger:   logger.With().Str("component", "health").Logger(),
	}
	m.cb = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:    "transport-probe",
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			m.logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("probe breaker state changed")
		},
	})
	return m
}

// Serve probes on a fixed interval until the context is cancelled. The
// first probe runs immediately so startup health is known before the
// first interval elapses.
func (m *Monitor) Serve(ctx context.Context) error {
	m.check(ctx)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

func (m *Monitor) String() string { return "health.Monitor" }

func (m *Monitor) check(ctx context.Context) {
	wasHealthy := m.g.Status().Healthy

	_, err := m.cb.Execute(func() (struct{}, error) {
		probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
		defer cancel()
		return struct{}{}, m.probe(probeCtx)
	})

	if err != nil {
		m.g.MarkUnhealthy(err)
		m.logger.Error().Err(err).Msg("transport probe failed")
		if wasHealthy && m.operator != nil {
			m.operator.NotifyOperator(ctx, fmt.Sprintf("🚨 Transport probe failing: %v. Outbound work is held.", err))
		}
		return
	}

	m.g.MarkHealthy()
	if !wasHealthy {
		m.logger.Info().Msg("transport probe recovered")
		if m.operator != nil {
			m.operator.NotifyOperator(ctx, "✅ Transport probe recovered. Outbound work resumed.")
		}
	}
}
