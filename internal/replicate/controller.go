// Postwave - Content Coalescing and Fan-out Posting Pipeline
// Copyright 2026 Postwave Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/postwave/postwave

// Package replicate runs the cancellable bulk-replication job: an
// owner's full historical item set is re-parsed, re-clustered and
// fanned out to every configured backup sink.
//
// At most one job runs per owner. Cancellation is cooperative: the job
// polls its context before each item during analysis and before each
// delivery unit during posting.
package replicate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/postwave/postwave/internal/cluster"
	"github.com/postwave/postwave/internal/delivery"
	"github.com/postwave/postwave/internal/gate"
	"github.com/postwave/postwave/internal/media"
	"github.com/postwave/postwave/internal/metrics"
	"github.com/postwave/postwave/internal/post"
	"github.com/postwave/postwave/internal/transport"
)

// Errors reported by Start.
var (
	// ErrJobActive rejects a start request while the owner already has
	// a running job.
	ErrJobActive = errors.New("replication job already active for owner")

	// ErrNoBackupSinks rejects a start request for an owner with no
	// configured backup destinations.
	ErrNoBackupSinks = errors.New("no backup sinks configured")
)

// Phase is the coarse progress stage of a job.
type Phase string

// Job phases.
const (
	PhaseAnalyzing Phase = "analyzing"
	PhasePosting   Phase = "posting"
)

// Status is a point-in-time view of one job for the status surface.
type Status struct {
	OwnerID   string    `json:"owner_id"`
	Phase     Phase     `json:"phase"`
	Processed int       `json:"processed"`
	Total     int       `json:"total"`
	StartedAt time.Time `json:"started_at"`
}

// job is the per-owner slot. mu guards the progress fields; cancel is
// safe to call from any goroutine.
type job struct {
	ownerID   string
	cancel    context.CancelFunc
	startedAt time.Time

	mu        sync.Mutex
	phase     Phase
	processed int
	total     int
}

func (j *job) setPhase(p Phase, total int) {
	j.mu.Lock()
	j.phase = p
	j.processed = 0
	j.total = total
	j.mu.Unlock()
}

func (j *job) advance() (processed, total int) {
	j.mu.Lock()
	j.processed++
	processed, total = j.processed, j.total
	j.mu.Unlock()
	return processed, total
}

func (j *job) status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return Status{
		OwnerID:   j.ownerID,
		Phase:     j.phase,
		Processed: j.processed,
		Total:     j.total,
		StartedAt: j.startedAt,
	}
}

// Config tunes the replication controller.
type Config struct {
	// ProgressInterval throttles progress report edits. Default: 5s
	ProgressInterval time.Duration

	// SimilarityThreshold is the clustering cutoff. Default: 85
	SimilarityThreshold int

	// MaxBackupSinks caps how many backup destinations a job fans out
	// to; extras beyond the cap are ignored. Default: 5
	MaxBackupSinks int
}

// DefaultConfig returns the reference replication policy.
func DefaultConfig() Config {
	return Config{
		ProgressInterval:    5 * time.Second,
		SimilarityThreshold: cluster.DefaultThreshold,
		MaxBackupSinks:      5,
	}
}

// Controller owns the per-owner job registry and runs jobs on their own
// goroutines.
type Controller struct {
	store    media.ItemStore
	settings media.SettingsStore
	parser   media.Parser
	builder  *post.Builder
	engine   *delivery.Engine
	notifier delivery.OwnerNotifier
	tr       transport.Transport
	ex       *gate.Executor
	cfg      Config
	logger   zerolog.Logger

	mu   sync.Mutex
	jobs map[string]*job
}

// NewController creates a replication controller.
func NewController(
	store media.ItemStore,
	settings media.SettingsStore,
	parser media.Parser,
	builder *post.Builder,
	engine *delivery.Engine,
	notifier delivery.OwnerNotifier,
	tr transport.Transport,
	ex *gate.Executor,
	cfg Config,
	logger zerolog.Logger,
) *Controller {
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = 5 * time.Second
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = cluster.DefaultThreshold
	}
	if cfg.MaxBackupSinks <= 0 {
		cfg.MaxBackupSinks = 5
	}
	return &Controller{
		store:    store,
		settings: settings,
		parser:   parser,
		builder:  builder,
		engine:   engine,
		notifier: notifier,
		tr:       tr,
		ex:       ex,
		cfg:      cfg,
		logger:   logger.With().Str("component", "replicate").Logger(),
	}
}

// Start launches a replication job for the owner. It claims the
// per-owner slot synchronously, so a second start request while one is
// active fails with ErrJobActive; the work itself runs on a new
// goroutine detached from the caller's context.
func (c *Controller) Start(ctx context.Context, ownerID string) error {
	settings, err := c.settings.OwnerSettings(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("loading owner settings: %w", err)
	}
	if len(settings.BackupSinks) == 0 {
		return ErrNoBackupSinks
	}
	if len(settings.BackupSinks) > c.cfg.MaxBackupSinks {
		c.logger.Warn().Str("owner", ownerID).
			Int("configured", len(settings.BackupSinks)).
			Int("cap", c.cfg.MaxBackupSinks).
			Msg("backup sink list exceeds cap, extras ignored")
		settings.BackupSinks = settings.BackupSinks[:c.cfg.MaxBackupSinks]
	}

	jobCtx, cancel := context.WithCancel(context.Background())
	j := &job{
		ownerID:   ownerID,
		cancel:    cancel,
		startedAt: time.Now(),
		phase:     PhaseAnalyzing,
	}

	c.mu.Lock()
	if c.jobs == nil {
		c.jobs = make(map[string]*job)
	}
	if _, active := c.jobs[ownerID]; active {
		c.mu.Unlock()
		cancel()
		return ErrJobActive
	}
	c.jobs[ownerID] = j
	c.mu.Unlock()

	metrics.ActiveReplications.Inc()
	c.logger.Info().Str("owner", ownerID).Int("sinks", len(settings.BackupSinks)).Msg("replication job started")

	go c.run(jobCtx, j, settings)
	return nil
}

// Cancel requests cancellation of the owner's job. Returns false when
// no job is active.
func (c *Controller) Cancel(ownerID string) bool {
	c.mu.Lock()
	j, ok := c.jobs[ownerID]
	c.mu.Unlock()
	if !ok {
		return false
	}
	j.cancel()
	return true
}

// ActiveJobs counts running jobs.
func (c *Controller) ActiveJobs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.jobs)
}

// Statuses snapshots all running jobs.
func (c *Controller) Statuses() []Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Status, 0, len(c.jobs))
	for _, j := range c.jobs {
		out = append(out, j.status())
	}
	return out
}

// release frees the owner's job slot. The shared descriptor cache dies
// with the run that owned it.
func (c *Controller) release(ownerID string) {
	c.mu.Lock()
	delete(c.jobs, ownerID)
	c.mu.Unlock()
	metrics.ActiveReplications.Dec()
}

// run executes both phases and settles the job's outcome.
func (c *Controller) run(ctx context.Context, j *job, settings *media.OwnerSettings) {
	defer c.release(j.ownerID)
	defer j.cancel()

	log := c.logger.With().Str("owner", j.ownerID).Logger()
	report := newProgressReport(c.tr, c.ex, j.ownerID, c.cfg.ProgressInterval, log)

	totalItems, totalPosts, err := c.replicate(ctx, j, settings, report)
	switch {
	case errors.Is(err, context.Canceled):
		metrics.ReplicationOutcomes.WithLabelValues("cancelled").Inc()
		log.Info().Msg("replication cancelled")
		// The cancellation notice replaces the progress report; the
		// job's ctx is dead, so use a fresh one for the final edit.
		report.set(context.Background(), "❌ Backup cancelled.")
	case err != nil:
		metrics.ReplicationOutcomes.WithLabelValues("error").Inc()
		log.Error().Err(err).Msg("replication failed")
		report.set(ctx, fmt.Sprintf("❌ Backup failed: %v", err))
		c.notifier.Notify(ctx, j.ownerID, fmt.Sprintf("❌ Backup failed: %v", err))
	default:
		metrics.ReplicationOutcomes.WithLabelValues("completed").Inc()
		log.Info().Int("items", totalItems).Int("posts", totalPosts).Msg("replication complete")
		report.remove(ctx)
		c.notifier.Notify(ctx, j.ownerID, fmt.Sprintf(
			"✅ Backup complete! Replicated %d files in %d posts.", totalItems, totalPosts))
	}
}

// replicate performs Analyzing then Posting. Returns the item and post
// totals for the completion summary.
func (c *Controller) replicate(ctx context.Context, j *job, settings *media.OwnerSettings, report *progressReport) (int, int, error) {
	total, err := c.store.CountItems(ctx, j.ownerID)
	if err != nil {
		return 0, 0, fmt.Errorf("counting items: %w", err)
	}
	if total == 0 {
		return 0, 0, nil
	}

	j.setPhase(PhaseAnalyzing, total)
	report.set(ctx, fmt.Sprintf("Phase 1/2: Analyzing %d files...", total))

	cache := media.NewCachingParser(c.parser)
	builder := cluster.NewBuilder(c.cfg.SimilarityThreshold)

	iter, err := c.store.Items(ctx, j.ownerID)
	if err != nil {
		return 0, 0, fmt.Errorf("opening item stream: %w", err)
	}
	defer iter.Close()

	for {
		// Cancellation is polled before each item.
		if err := ctx.Err(); err != nil {
			return 0, 0, err
		}
		item, err := iter.Next(ctx)
		if err != nil {
			return 0, 0, fmt.Errorf("streaming items: %w", err)
		}
		if item == nil {
			break
		}

		desc, err := cache.Parse(ctx, item.Name)
		if err != nil {
			// A single unparseable historical item is skipped, not fatal.
			c.logger.Warn().Err(err).Str("owner", j.ownerID).Str("item", item.Name).Msg("skipping item in replication")
		} else {
			builder.Add(cluster.Member{Item: item, Desc: desc})
		}

		processed, totalCount := j.advance()
		report.update(ctx, fmt.Sprintf(
			"Phase 1/2: Analyzing files...\nProgress: %d / %d (%.1f%%)",
			processed, totalCount, float64(processed)/float64(totalCount)*100))
	}

	clusters := builder.Clusters()
	j.setPhase(PhasePosting, len(clusters))

	totalPosts := 0
	for i, cl := range clusters {
		// Cancellation is polled before each cluster.
		if err := ctx.Err(); err != nil {
			return 0, 0, err
		}
		report.update(ctx, fmt.Sprintf(
			"Phase 2/2: Posting batches...\nProgress: %d / %d\nCurrent: %s",
			i+1, len(clusters), cl.Key))

		posts, err := c.builder.Build(ctx, settings, cl)
		if err != nil {
			c.logger.Error().Err(err).Str("owner", j.ownerID).Str("cluster", cl.Key).Msg("backup post build failed")
			c.notifier.Notify(ctx, j.ownerID,
				fmt.Sprintf("⚠️ Skipped group %q during backup due to an error.", cl.Key))
			j.advance()
			continue
		}

		// Full replication fans out to every configured backup sink.
		res := c.engine.Deliver(ctx, j.ownerID, posts, settings.BackupSinks)
		totalPosts += res.Delivered
		if err := ctx.Err(); err != nil {
			return 0, 0, err
		}
		j.advance()
	}

	return total, totalPosts, nil
}
