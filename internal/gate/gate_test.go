// Postwave - Content Coalescing and Fan-out Posting Pipeline
// Copyright 2026 Postwave Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/postwave/postwave

package gate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/postwave/postwave/internal/transport"
)

func TestGateWaitWhenOpen(t *testing.T) {
	g := New()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := g.Wait(ctx); err != nil {
		t.Fatalf("Wait on open gate: %v", err)
	}
}

func TestGateWaitBlocksDuringPause(t *testing.T) {
	g := New()
	g.Pause(50 * time.Millisecond)

	start := time.Now()
	if err := g.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("Wait returned after %v, want at least ~50ms", elapsed)
	}
}

func TestGateWaitBlocksWhileUnhealthy(t *testing.T) {
	g := New()
	g.MarkUnhealthy(errors.New("probe failed"))

	done := make(chan error, 1)
	go func() {
		done <- g.Wait(context.Background())
	}()

	select {
	case err := <-done:
		t.Fatalf("Wait returned %v before MarkHealthy", err)
	case <-time.After(30 * time.Millisecond):
	}

	g.MarkHealthy()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Wait after MarkHealthy: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after MarkHealthy")
	}
}

func TestGateWaitHonorsContext(t *testing.T) {
	g := New()
	g.Pause(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := g.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait = %v, want context.DeadlineExceeded", err)
	}
}

func TestGateStatus(t *testing.T) {
	g := New()
	s := g.Status()
	if !s.Healthy || s.Paused {
		t.Fatalf("fresh gate status = %+v, want healthy and unpaused", s)
	}

	g.Pause(time.Minute)
	g.MarkUnhealthy(errors.New("boom"))
	s = g.Status()
	if s.Healthy || !s.Paused || s.LastError != "boom" {
		t.Fatalf("status = %+v, want unhealthy, paused, last error recorded", s)
	}
}

func testExecutor(g *Gate) *Executor {
	e := NewExecutor(g, nil, ExecutorConfig{
		MaxAttempts:     3,
		BaseDelay:       time.Millisecond,
		RateLimitMargin: 10 * time.Millisecond,
	}, zerolog.Nop())
	e.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return e
}

func TestExecuteSuccess(t *testing.T) {
	e := testExecutor(New())
	got, err := Execute(context.Background(), e, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	if err != nil || got != 42 {
		t.Fatalf("Execute = (%d, %v), want (42, nil)", got, err)
	}
}

func TestExecuteRetriesTransientThenSucceeds(t *testing.T) {
	e := testExecutor(New())
	calls := 0
	got, err := Execute(context.Background(), e, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", transport.Transient(errors.New("connection reset"))
		}
		return "ok", nil
	})
	if err != nil || got != "ok" {
		t.Fatalf("Execute = (%q, %v), want (ok, nil)", got, err)
	}
	if calls != 3 {
		t.Errorf("op called %d times, want 3", calls)
	}
}

func TestExecuteExhaustsRetryBudget(t *testing.T) {
	g := New()
	e := testExecutor(g)
	calls := 0
	_, err := Execute(context.Background(), e, func(ctx context.Context) (int, error) {
		calls++
		return 0, transport.Transient(errors.New("still down"))
	})
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("Execute error = %v, want ErrRetriesExhausted", err)
	}
	if calls != 3 {
		t.Errorf("op called %d times, want 3", calls)
	}
	if g.Status().Healthy {
		t.Error("gate still healthy after retry exhaustion")
	}
}

func TestExecuteRateLimitPausesGateAndRetriesFree(t *testing.T) {
	g := New()
	e := testExecutor(g)
	calls := 0
	start := time.Now()
	got, err := Execute(context.Background(), e, func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, &transport.RateLimitError{RetryAfter: 20 * time.Millisecond}
		}
		return 7, nil
	})
	if err != nil || got != 7 {
		t.Fatalf("Execute = (%d, %v), want (7, nil)", got, err)
	}
	if calls != 2 {
		t.Errorf("op called %d times, want 2", calls)
	}
	// Mandated pause plus margin must elapse before the free retry.
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("retry after %v, want at least ~30ms pause", elapsed)
	}
	if !g.Status().Healthy {
		t.Error("rate limit must not mark the gate unhealthy")
	}
}

func TestExecuteRateLimitNeverConsumesBudget(t *testing.T) {
	e := testExecutor(New())
	calls := 0
	_, err := Execute(context.Background(), e, func(ctx context.Context) (int, error) {
		calls++
		if calls <= 5 {
			return 0, &transport.RateLimitError{RetryAfter: time.Millisecond}
		}
		return 1, nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if calls != 6 {
		t.Errorf("op called %d times, want 6 (five rate limits, then success)", calls)
	}
}

func TestExecuteNotModifiedIsSuccess(t *testing.T) {
	e := testExecutor(New())
	calls := 0
	got, err := Execute(context.Background(), e, func(ctx context.Context) (*struct{ X int }, error) {
		calls++
		return nil, transport.ErrNotModified
	})
	if err != nil {
		t.Fatalf("Execute = %v, want nil", err)
	}
	if got != nil {
		t.Errorf("Execute value = %v, want zero value", got)
	}
	if calls != 1 {
		t.Errorf("op called %d times, want 1 (no retry on no-op)", calls)
	}
}

func TestExecuteTargetErrorPropagatesImmediately(t *testing.T) {
	g := New()
	e := testExecutor(g)
	calls := 0
	wantErr := &transport.TargetError{SinkID: "sink-1", Reason: "deleted"}
	_, err := Execute(context.Background(), e, func(ctx context.Context) (int, error) {
		calls++
		return 0, wantErr
	})
	if !transport.IsTargetError(err) {
		t.Fatalf("Execute error = %v, want target error", err)
	}
	if calls != 1 {
		t.Errorf("op called %d times, want 1", calls)
	}
	if !g.Status().Healthy {
		t.Error("target error must not mark the gate unhealthy")
	}
}

func TestExecuteUnknownErrorMarksUnhealthy(t *testing.T) {
	g := New()
	e := testExecutor(g)
	boom := errors.New("unexpected")
	_, err := Execute(context.Background(), e, func(ctx context.Context) (int, error) {
		return 0, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Execute error = %v, want original error", err)
	}
	if g.Status().Healthy {
		t.Error("unknown error must mark the gate unhealthy")
	}
}

type recordingNotifier struct {
	notices []string
}

func (r *recordingNotifier) NotifyOperator(_ context.Context, text string) {
	r.notices = append(r.notices, text)
}

func TestExecuteRateLimitNotifiesOperator(t *testing.T) {
	rec := &recordingNotifier{}
	e := NewExecutor(New(), rec, ExecutorConfig{
		MaxAttempts:     3,
		BaseDelay:       time.Millisecond,
		RateLimitMargin: time.Millisecond,
	}, zerolog.Nop())
	e.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	calls := 0
	_, err := Execute(context.Background(), e, func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, &transport.RateLimitError{RetryAfter: time.Millisecond}
		}
		return 1, nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(rec.notices) != 1 {
		t.Fatalf("operator notices = %d, want 1", len(rec.notices))
	}
}
