// Postwave - Content Coalescing and Fan-out Posting Pipeline
// Copyright 2026 Postwave Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/postwave/postwave

// Package window implements per-owner debounced aggregation of arriving
// items into collection windows.
//
// Each owner moves through Absent -> Open -> Finalizing -> Absent. A
// first arrival opens a window and starts a debounce timer; every
// further arrival appends and resets the timer; the timer firing or the
// size cap closes the window and hands a detached batch to the
// finalization callback. Arrivals during finalization land in a waiting
// queue that seeds the next window, so nothing is lost across the
// finalize race. Independent owners never block each other; the only
// shared state is the registry map itself.
package window

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/postwave/postwave/internal/gate"
	"github.com/postwave/postwave/internal/media"
	"github.com/postwave/postwave/internal/metrics"
	"github.com/postwave/postwave/internal/transport"
)

// Trigger records what closed a window.
type Trigger string

// Window close triggers.
const (
	TriggerDebounce Trigger = "debounce"
	TriggerSizeCap  Trigger = "size_cap"
)

// Batch is a detached, closed collection window handed to finalization.
// The manager no longer references it; finalization owns it outright.
type Batch struct {
	OwnerID   string
	Items     []*media.Item
	Skipped   []string
	OpenedAt  time.Time
	Trigger   Trigger
	Dashboard *Dashboard
}

// FinalizeFunc consumes a closed window. It runs on its own goroutine;
// the manager clears the owner's finalizing state and reopens from the
// waiting queue when it returns, regardless of how it returns.
type FinalizeFunc func(ctx context.Context, batch *Batch)

// Config tunes the collection window behavior.
type Config struct {
	// Debounce is the quiet period that closes a window. Default: 20s
	Debounce time.Duration

	// SizeCap closes a window immediately when reached. Default: 50
	SizeCap int

	// MinDuration excludes content shorter than this many seconds at
	// admission; excluded names are recorded on the window's skip
	// ledger. Zero disables the filter. Default: 1200
	MinDuration int

	// ProgressInterval throttles dashboard edits. Default: 2s
	ProgressInterval time.Duration
}

// DefaultConfig returns the reference window policy.
func DefaultConfig() Config {
	return Config{
		Debounce:         20 * time.Second,
		SizeCap:          50,
		MinDuration:      1200,
		ProgressInterval: 2 * time.Second,
	}
}

// ownerState carries everything the manager knows about one owner.
// Its mutex serializes that owner's arrivals, timer firings and
// finalize transitions without involving any other owner.
type ownerState struct {
	mu         sync.Mutex
	win        *openWindow // nil while Absent or Finalizing
	finalizing bool
	waiting    []*media.Item
}

// openWindow is the mutable Open-state window. generation stamps the
// debounce timer so a stale firing against a successor window is a
// no-op instead of a double finalize.
type openWindow struct {
	generation uint64
	items      []*media.Item
	skipped    []string
	openedAt   time.Time
	timer      *time.Timer
	dash       *Dashboard
}

// Manager owns the live-window registry. Construct once, register the
// finalize callback, then feed arrivals through Offer.
type Manager struct {
	cfg      Config
	tr       transport.Transport
	ex       *gate.Executor
	finalize FinalizeFunc
	logger   zerolog.Logger

	mu     sync.Mutex
	owners map[string]*ownerState
	gen    uint64

	// runCtx drives timer-triggered finalizations; it outlives any
	// single arrival's context.
	runCtx context.Context
	cancel context.CancelFunc
}

// NewManager creates a window manager. The finalize callback must be
// set with SetFinalizer before the first arrival.
func NewManager(cfg Config, tr transport.Transport, ex *gate.Executor, logger zerolog.Logger) *Manager {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 20 * time.Second
	}
	if cfg.SizeCap <= 0 {
		cfg.SizeCap = 50
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = 2 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:    cfg,
		tr:     tr,
		ex:     ex,
		logger: logger.With().Str("component", "window").Logger(),
		owners: make(map[string]*ownerState),
		runCtx: ctx,
		cancel: cancel,
	}
}

// SetFinalizer registers the finalization callback. Must be called once
// during wiring, before arrivals flow.
func (m *Manager) SetFinalizer(fn FinalizeFunc) { m.finalize = fn }

// Serve implements suture.Service: it parks until ctx is done, then
// stops all pending debounce timers. Windows are never persisted;
// anything still open at shutdown is dropped.
func (m *Manager) Serve(ctx context.Context) error {
	<-ctx.Done()
	m.cancel()
	for _, owner := range m.snapshotOwners() {
		owner.mu.Lock()
		if owner.win != nil && owner.win.timer != nil {
			owner.win.timer.Stop()
		}
		owner.mu.Unlock()
	}
	return ctx.Err()
}

func (m *Manager) owner(ownerID string) *ownerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.owners[ownerID]
	if !ok {
		o = &ownerState{}
		m.owners[ownerID] = o
	}
	return o
}

func (m *Manager) nextGen() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen++
	return m.gen
}

// Offer routes one arriving item into the owner's window state machine.
func (m *Manager) Offer(ctx context.Context, item *media.Item) {
	o := m.owner(item.OwnerID)
	o.mu.Lock()
	defer o.mu.Unlock()

	// Admission policy: content below the duration floor is recorded
	// on the skip ledger instead of the window.
	if m.cfg.MinDuration > 0 && item.Duration > 0 && item.Duration < m.cfg.MinDuration {
		metrics.ItemsSkipped.WithLabelValues("short_duration").Inc()
		m.logger.Info().
			Str("owner", item.OwnerID).
			Str("item", item.Name).
			Int("duration", item.Duration).
			Msg("skipping short-duration item")
		if o.win != nil {
			o.win.skipped = append(o.win.skipped, item.Name)
		}
		return
	}

	metrics.ItemsAdmitted.Inc()

	if o.finalizing {
		// The live window is already detached; queue for the next one.
		o.waiting = append(o.waiting, item)
		m.logger.Debug().
			Str("owner", item.OwnerID).
			Int("queued", len(o.waiting)).
			Msg("owner finalizing, item queued for next window")
		return
	}

	if o.win == nil {
		m.openLocked(o, item.OwnerID, []*media.Item{item})
		return
	}

	win := o.win
	win.items = append(win.items, item)

	if len(win.items) >= m.cfg.SizeCap {
		m.logger.Info().
			Str("owner", item.OwnerID).
			Int("size_cap", m.cfg.SizeCap).
			Msg("size cap reached, finalizing immediately")
		m.beginFinalizeLocked(o, item.OwnerID, TriggerSizeCap)
		return
	}

	// Debounce: supersede the pending timer before arming a new one.
	win.timer.Stop()
	gen := win.generation
	ownerID := item.OwnerID
	win.timer = time.AfterFunc(m.cfg.Debounce, func() {
		m.onTimer(ownerID, gen)
	})

	if win.dash != nil {
		text := renderDashboard(len(win.items), m.cfg.SizeCap, win.skipped,
			"⏳ Collecting files... (timer reset)")
		go win.dash.Update(m.runCtx, text)
	}
}

// openLocked creates a new window seeded with items. Caller holds o.mu.
func (m *Manager) openLocked(o *ownerState, ownerID string, seed []*media.Item) {
	gen := m.nextGen()
	win := &openWindow{
		generation: gen,
		items:      seed,
		openedAt:   time.Now(),
		dash:       newDashboard(m.tr, m.ex, ownerID, m.cfg.ProgressInterval, m.logger),
	}
	win.timer = time.AfterFunc(m.cfg.Debounce, func() {
		m.onTimer(ownerID, gen)
	})
	o.win = win
	metrics.OpenWindows.Inc()
	m.logger.Info().
		Str("owner", ownerID).
		Int("seed", len(seed)).
		Msg("collection window opened")

	// Initial progress indicator, off the owner lock: a gate pause must
	// not stall this owner's arrivals.
	text := renderDashboard(len(seed), m.cfg.SizeCap, nil,
		"⏳ Collecting files...")
	go win.dash.post(m.runCtx, text)
}

// onTimer handles a debounce expiry. The generation check makes a
// firing against anything but its own window a no-op, so a timer losing
// the race with Stop can never finalize a successor window.
func (m *Manager) onTimer(ownerID string, gen uint64) {
	o := m.owner(ownerID)
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.win == nil || o.win.generation != gen {
		return
	}
	m.beginFinalizeLocked(o, ownerID, TriggerDebounce)
}

// beginFinalizeLocked detaches the window and launches finalization.
// Caller holds o.mu. Re-entrant calls while finalizing are no-ops.
func (m *Manager) beginFinalizeLocked(o *ownerState, ownerID string, trigger Trigger) {
	if o.finalizing || o.win == nil {
		return
	}
	win := o.win
	o.win = nil
	o.finalizing = true
	win.timer.Stop()
	metrics.OpenWindows.Dec()

	batch := &Batch{
		OwnerID:   ownerID,
		Items:     win.items,
		Skipped:   win.skipped,
		OpenedAt:  win.openedAt,
		Trigger:   trigger,
		Dashboard: win.dash,
	}
	m.logger.Info().
		Str("owner", ownerID).
		Int("items", len(batch.Items)).
		Int("skipped", len(batch.Skipped)).
		Str("trigger", string(trigger)).
		Msg("window closed, finalizing")

	go m.runFinalize(o, ownerID, batch)
}

// runFinalize drives the finalize callback and then, no matter what,
// clears the finalizing flag and reopens from the waiting queue.
func (m *Manager) runFinalize(o *ownerState, ownerID string, batch *Batch) {
	defer func() {
		o.mu.Lock()
		o.finalizing = false
		if len(o.waiting) > 0 {
			seed := o.waiting
			o.waiting = nil
			m.logger.Info().
				Str("owner", ownerID).
				Int("seed", len(seed)).
				Msg("reopening window from waiting queue")
			m.openLocked(o, ownerID, seed)
		}
		o.mu.Unlock()
	}()

	if m.finalize == nil {
		m.logger.Error().Str("owner", ownerID).Msg("no finalizer registered, dropping batch")
		return
	}
	m.finalize(m.runCtx, batch)
}

// snapshotOwners copies the registry so per-owner locks are taken
// without holding the registry lock. Lock order is always owner before
// registry (openLocked acquires m.mu for the generation counter while
// holding o.mu), so the inverse order here would deadlock.
func (m *Manager) snapshotOwners() map[string]*ownerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*ownerState, len(m.owners))
	for id, o := range m.owners {
		out[id] = o
	}
	return out
}

// OpenWindows counts currently open windows, for the status surface.
func (m *Manager) OpenWindows() int {
	n := 0
	for _, o := range m.snapshotOwners() {
		o.mu.Lock()
		if o.win != nil {
			n++
		}
		o.mu.Unlock()
	}
	return n
}

// FinalizingOwners lists owners currently mid-finalization.
func (m *Manager) FinalizingOwners() []string {
	var out []string
	for id, o := range m.snapshotOwners() {
		o.mu.Lock()
		if o.finalizing {
			out = append(out, id)
		}
		o.mu.Unlock()
	}
	return out
}
