// Postwave - Content Coalescing and Fan-out Posting Pipeline
// Copyright 2026 Postwave Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/postwave/postwave

package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/postwave/postwave/internal/gate"
)

type scriptedProbe struct {
	mu    sync.Mutex
	calls int
	errs  []error
}

func (p *scriptedProbe) probe(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var err error
	if p.calls < len(p.errs) {
		err = p.errs[p.calls]
	}
	p.calls++
	return err
}

func (p *scriptedProbe) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type operatorRecorder struct {
	mu    sync.Mutex
	texts []string
}

func (o *operatorRecorder) NotifyOperator(ctx context.Context, text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.texts = append(o.texts, text)
}

func (o *operatorRecorder) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.texts)
}

func testConfig() Config {
	return Config{
		Interval:         time.Hour,
		ProbeTimeout:     time.Second,
		FailureThreshold: 2,
		OpenTimeout:      time.Hour,
	}
}

func TestCheckMarksGateUnhealthyOnFailure(t *testing.T) {
	boom := errors.New("wire down")
	probe := &scriptedProbe{errs: []error{boom}}
	g := gate.New()
	operator := &operatorRecorder{}
	m := NewMonitor(probe.probe, g, operator, testConfig(), zerolog.Nop())

	m.check(context.Background())

	if g.Status().Healthy {
		t.Error("gate still healthy after a failed probe")
	}
	if operator.count() != 1 {
		t.Errorf("operator notices = %d, want 1 on the healthy-to-unhealthy transition", operator.count())
	}
}

func TestCheckNotifiesOnlyOnTransitions(t *testing.T) {
	boom := errors.New("wire down")
	probe := &scriptedProbe{errs: []error{boom, boom, nil}}
	g := gate.New()
	operator := &operatorRecorder{}
	m := NewMonitor(probe.probe, g, operator, testConfig(), zerolog.Nop())

	m.check(context.Background()) // healthy -> unhealthy: notice
	m.check(context.Background()) // still unhealthy: silent
	if operator.count() != 1 {
		t.Fatalf("notices after two failures = %d, want 1", operator.count())
	}

	m.check(context.Background()) // unhealthy -> healthy: recovery notice
	if !g.Status().Healthy {
		t.Error("gate not healthy after a successful probe")
	}
	if operator.count() != 2 {
		t.Errorf("notices after recovery = %d, want 2", operator.count())
	}
}

func TestBreakerShortCircuitsAfterConsecutiveFailures(t *testing.T) {
	boom := errors.New("wire down")
	probe := &scriptedProbe{errs: []error{boom, boom, boom}}
	g := gate.New()
	m := NewMonitor(probe.probe, g, nil, testConfig(), zerolog.Nop())

	ctx := context.Background()
	m.check(ctx)
	m.check(ctx) // second consecutive failure opens the breaker

	m.check(ctx) // rejected by the open breaker, probe not called
	if n := probe.callCount(); n != 2 {
		t.Errorf("probe calls = %d, want 2 (open breaker must not probe)", n)
	}
	if g.Status().Healthy {
		t.Error("gate healthy while the breaker is open")
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	probe := &scriptedProbe{}
	m := NewMonitor(probe.probe, gate.New(), nil, testConfig(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not stop on cancel")
	}
	// The startup probe runs before the first interval.
	if probe.callCount() == 0 {
		t.Error("no immediate startup probe")
	}
}
