// Postwave - Content Coalescing and Fan-out Posting Pipeline
// Copyright 2026 Postwave Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/postwave/postwave

package replicate

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/postwave/postwave/internal/delivery"
	"github.com/postwave/postwave/internal/gate"
	"github.com/postwave/postwave/internal/media"
	"github.com/postwave/postwave/internal/post"
	"github.com/postwave/postwave/internal/transport"
)

// stubTransport records which sinks received sends.
type stubTransport struct {
	mu    sync.Mutex
	seq   int
	sinks map[string]int
}

func newStubTransport() *stubTransport {
	return &stubTransport{sinks: make(map[string]int)}
}

func (s *stubTransport) Send(ctx context.Context, sinkID string, content transport.Content) (*transport.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.sinks[sinkID]++
	return &transport.Handle{SinkID: sinkID, MessageID: fmt.Sprintf("m%d", s.seq)}, nil
}

func (s *stubTransport) Edit(ctx context.Context, h *transport.Handle, content transport.Content) error {
	return nil
}

func (s *stubTransport) Delete(ctx context.Context, h *transport.Handle) error { return nil }

func (s *stubTransport) Copy(ctx context.Context, ref, sinkID string) (*transport.Handle, error) {
	return &transport.Handle{SinkID: sinkID, MessageID: "copy"}, nil
}

func (s *stubTransport) sendsTo(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for sink, count := range s.sinks {
		if strings.HasPrefix(sink, prefix) {
			n += count
		}
	}
	return n
}

// fakeStore serves a fixed item slice. When block is non-nil, Next
// parks on it so a test can hold a job mid-analysis; sending single
// tokens admits items one at a time.
type fakeStore struct {
	items []*media.Item
	block chan struct{}

	mu     sync.Mutex
	served int
}

func (f *fakeStore) UpsertItem(ctx context.Context, item *media.Item) error    { return nil }
func (f *fakeStore) SavePost(ctx context.Context, rec *media.PostRecord) error { return nil }

func (f *fakeStore) CountItems(ctx context.Context, ownerID string) (int, error) {
	return len(f.items), nil
}

func (f *fakeStore) Items(ctx context.Context, ownerID string) (media.ItemIterator, error) {
	return &fakeIterator{store: f}, nil
}

type fakeIterator struct {
	store *fakeStore
	pos   int
}

func (it *fakeIterator) Next(ctx context.Context) (*media.Item, error) {
	if it.store.block != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-it.store.block:
		}
	}
	if it.pos >= len(it.store.items) {
		return nil, nil
	}
	item := it.store.items[it.pos]
	it.pos++
	it.store.mu.Lock()
	it.store.served++
	it.store.mu.Unlock()
	return item, nil
}

func (it *fakeIterator) Close() error { return nil }

func (f *fakeStore) servedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.served
}

type fakeSettings struct {
	settings *media.OwnerSettings
}

func (f *fakeSettings) OwnerSettings(ctx context.Context, ownerID string) (*media.OwnerSettings, error) {
	return f.settings, nil
}

func (f *fakeSettings) RemoveSink(ctx context.Context, ownerID, sinkID string) error { return nil }

type noticeRecorder struct {
	mu    sync.Mutex
	texts []string
}

func (n *noticeRecorder) Notify(ctx context.Context, ownerID, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.texts = append(n.texts, text)
}

func (n *noticeRecorder) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.texts...)
}

func newTestController(store *fakeStore, settings *media.OwnerSettings, cfg Config) (*Controller, *stubTransport, *noticeRecorder) {
	tr := newStubTransport()
	ex := gate.NewExecutor(gate.New(), nil, gate.ExecutorConfig{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
	}, zerolog.Nop())
	builder := post.NewBuilder(nil, nil, post.DefaultConfig(), zerolog.Nop())
	engine := delivery.NewEngine(tr, ex, store, nil, time.Millisecond, zerolog.Nop())
	notifier := &noticeRecorder{}

	c := NewController(store, &fakeSettings{settings: settings}, media.NewBasicParser(),
		builder, engine, notifier, tr, ex, cfg, zerolog.Nop())
	return c, tr, notifier
}

func waitIdle(t *testing.T, c *Controller) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.ActiveJobs() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("replication job did not finish")
}

func episodes(n int) []*media.Item {
	items := make([]*media.Item, 0, n)
	for i := 1; i <= n; i++ {
		items = append(items, &media.Item{
			ID:      fmt.Sprintf("i%d", i),
			OwnerID: "owner-1",
			Name:    fmt.Sprintf("Some.Show.S01E%02d.1080p.mkv", i),
			Ref:     fmt.Sprintf("ref-%d", i),
		})
	}
	return items
}

func TestStartRejectsWithoutBackupSinks(t *testing.T) {
	c, _, _ := newTestController(&fakeStore{}, &media.OwnerSettings{OwnerID: "owner-1"}, DefaultConfig())
	if err := c.Start(context.Background(), "owner-1"); err != ErrNoBackupSinks {
		t.Fatalf("Start = %v, want ErrNoBackupSinks", err)
	}
}

func TestStartRejectsSecondJobForSameOwner(t *testing.T) {
	store := &fakeStore{items: episodes(2), block: make(chan struct{})}
	c, _, _ := newTestController(store, &media.OwnerSettings{
		OwnerID:     "owner-1",
		BackupSinks: []string{"backup-1"},
	}, DefaultConfig())

	if err := c.Start(context.Background(), "owner-1"); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := c.Start(context.Background(), "owner-1"); err != ErrJobActive {
		t.Fatalf("second Start = %v, want ErrJobActive", err)
	}

	close(store.block)
	waitIdle(t, c)
}

func TestCancelReleasesSlot(t *testing.T) {
	store := &fakeStore{items: episodes(3), block: make(chan struct{})}
	c, _, notifier := newTestController(store, &media.OwnerSettings{
		OwnerID:     "owner-1",
		BackupSinks: []string{"backup-1"},
	}, DefaultConfig())

	if err := c.Start(context.Background(), "owner-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Admit exactly one item, then wait for the job to record it.
	store.block <- struct{}{}
	deadline := time.Now().Add(2 * time.Second)
	for {
		statuses := c.Statuses()
		if len(statuses) == 1 && statuses[0].Processed >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("job never processed the first item")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if !c.Cancel("owner-1") {
		t.Fatal("Cancel = false for an active job")
	}
	waitIdle(t, c)

	// The job stopped where it was cancelled.
	if n := store.servedCount(); n != 1 {
		t.Errorf("items served = %d, want 1 after cancel", n)
	}

	// Cancellation is neither a failure nor a success: the owner gets no
	// failure notice and no completion notice.
	for _, text := range notifier.all() {
		if strings.Contains(text, "failed") {
			t.Errorf("unexpected failure notice after cancel: %q", text)
		}
		if strings.Contains(text, "Backup complete") {
			t.Errorf("unexpected completion notice after cancel: %q", text)
		}
	}

	// The slot is free again.
	if err := c.Start(context.Background(), "owner-1"); err != nil {
		t.Fatalf("Start after cancel: %v", err)
	}
	if !c.Cancel("owner-1") {
		t.Fatal("Cancel = false for the restarted job")
	}
	waitIdle(t, c)
}

func TestCancelWithoutJob(t *testing.T) {
	c, _, _ := newTestController(&fakeStore{}, &media.OwnerSettings{OwnerID: "owner-1"}, DefaultConfig())
	if c.Cancel("owner-1") {
		t.Fatal("Cancel = true with no active job")
	}
}

func TestReplicationCompletesAndNotifies(t *testing.T) {
	store := &fakeStore{items: episodes(3)}
	c, tr, notifier := newTestController(store, &media.OwnerSettings{
		OwnerID:     "owner-1",
		BackupSinks: []string{"backup-1", "backup-2"},
	}, Config{ProgressInterval: time.Hour, SimilarityThreshold: 85, MaxBackupSinks: 5})

	if err := c.Start(context.Background(), "owner-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitIdle(t, c)

	// Three episodes of one show cluster into a single post, fanned out
	// to both backup sinks.
	if n := tr.sendsTo("backup-"); n != 2 {
		t.Errorf("backup sends = %d, want 2", n)
	}

	var complete string
	for _, text := range notifier.all() {
		if strings.Contains(text, "Backup complete") {
			complete = text
		}
	}
	if complete == "" {
		t.Fatalf("no completion notice in %q", notifier.all())
	}
	if !strings.Contains(complete, "3 files") {
		t.Errorf("completion notice %q does not report the item total", complete)
	}
}

func TestBackupSinkListIsCapped(t *testing.T) {
	sinks := []string{"backup-1", "backup-2", "backup-3", "backup-4"}
	store := &fakeStore{items: episodes(1)}
	c, tr, _ := newTestController(store, &media.OwnerSettings{
		OwnerID:     "owner-1",
		BackupSinks: sinks,
	}, Config{ProgressInterval: time.Hour, SimilarityThreshold: 85, MaxBackupSinks: 2})

	if err := c.Start(context.Background(), "owner-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitIdle(t, c)

	if n := tr.sendsTo("backup-"); n != 2 {
		t.Errorf("backup sends = %d, want 2 (list capped)", n)
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for _, sink := range []string{"backup-3", "backup-4"} {
		if tr.sinks[sink] != 0 {
			t.Errorf("sink %s received a send beyond the cap", sink)
		}
	}
}

func TestStatusesReportPhase(t *testing.T) {
	store := &fakeStore{items: episodes(2), block: make(chan struct{})}
	c, _, _ := newTestController(store, &media.OwnerSettings{
		OwnerID:     "owner-1",
		BackupSinks: []string{"backup-1"},
	}, DefaultConfig())

	if err := c.Start(context.Background(), "owner-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	statuses := c.Statuses()
	if len(statuses) != 1 {
		t.Fatalf("statuses = %d, want 1", len(statuses))
	}
	if statuses[0].OwnerID != "owner-1" || statuses[0].Phase != PhaseAnalyzing {
		t.Errorf("status = %+v, want owner-1 analyzing", statuses[0])
	}

	close(store.block)
	waitIdle(t, c)
}
