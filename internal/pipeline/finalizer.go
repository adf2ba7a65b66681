// Postwave - Content Coalescing and Fan-out Posting Pipeline
// Copyright 2026 Postwave Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/postwave/postwave

// Package pipeline turns closed collection windows into delivered posts:
// parse, cluster, build, fan out. One bad item drops that item; one bad
// cluster drops that cluster; nothing short of a missing destination
// aborts the batch.
package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/postwave/postwave/internal/cluster"
	"github.com/postwave/postwave/internal/delivery"
	"github.com/postwave/postwave/internal/media"
	"github.com/postwave/postwave/internal/metrics"
	"github.com/postwave/postwave/internal/post"
	"github.com/postwave/postwave/internal/transport"
	"github.com/postwave/postwave/internal/window"
)

// SinkProber checks that a destination sink is reachable before posting
// begins. Implementations probe the transport; a *transport.TargetError
// marks the sink invalid.
type SinkProber interface {
	ProbeSink(ctx context.Context, sinkID string) error
}

// Config tunes the finalization pipeline.
type Config struct {
	// SimilarityThreshold is the clustering cutoff. Default: 85
	SimilarityThreshold int

	// ParseWorkers bounds concurrent parser calls. Default: 8
	ParseWorkers int
}

// DefaultConfig returns the reference pipeline policy.
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold: cluster.DefaultThreshold,
		ParseWorkers:        8,
	}
}

// Finalizer drives the finalization of one closed window at a time per
// owner (the window manager guarantees the mutual exclusion).
type Finalizer struct {
	parser   media.Parser
	settings media.SettingsStore
	builder  *post.Builder
	engine   *delivery.Engine
	notifier delivery.OwnerNotifier
	prober   SinkProber
	cfg      Config
	logger   zerolog.Logger
}

// NewFinalizer creates a finalization pipeline. prober may be nil, in
// which case destination validation relies on delivery failures alone.
func NewFinalizer(
	parser media.Parser,
	settings media.SettingsStore,
	builder *post.Builder,
	engine *delivery.Engine,
	notifier delivery.OwnerNotifier,
	prober SinkProber,
	cfg Config,
	logger zerolog.Logger,
) *Finalizer {
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = cluster.DefaultThreshold
	}
	if cfg.ParseWorkers <= 0 {
		cfg.ParseWorkers = 8
	}
	return &Finalizer{
		parser:   parser,
		settings: settings,
		builder:  builder,
		engine:   engine,
		notifier: notifier,
		prober:   prober,
		cfg:      cfg,
		logger:   logger.With().Str("component", "pipeline").Logger(),
	}
}

// Finalize consumes a detached window batch. It is the window manager's
// FinalizeFunc; failures never propagate past here.
func (f *Finalizer) Finalize(ctx context.Context, batch *window.Batch) {
	log := f.logger.With().Str("owner", batch.OwnerID).Logger()
	dash := batch.Dashboard

	if len(batch.Items) == 0 {
		// Every arrival was filtered out; nothing to post.
		if dash != nil {
			dash.Remove(ctx)
		}
		metrics.Finalizations.WithLabelValues(string(batch.Trigger), "empty").Inc()
		log.Info().Msg("window closed empty, discarded")
		return
	}

	if err := f.run(ctx, batch, log); err != nil {
		metrics.Finalizations.WithLabelValues(string(batch.Trigger), "error").Inc()
		log.Error().Err(err).Msg("finalization failed")
		if dash != nil {
			dash.Set(ctx, fmt.Sprintf("❌ Error: %v", err))
		}
		return
	}
	metrics.Finalizations.WithLabelValues(string(batch.Trigger), "ok").Inc()
}

func (f *Finalizer) run(ctx context.Context, batch *window.Batch, log zerolog.Logger) error {
	dash := batch.Dashboard
	if dash != nil {
		dash.Set(ctx, fmt.Sprintf("🔬 Analyzing and grouping %d files...", len(batch.Items)))
	}

	members := f.parseAll(ctx, batch.Items, log)
	clusters := cluster.Group(members, f.cfg.SimilarityThreshold)
	metrics.ClustersFormed.Add(float64(len(clusters)))
	log.Info().
		Int("items", len(batch.Items)).
		Int("parsed", len(members)).
		Int("clusters", len(clusters)).
		Msg("clustering complete")

	if dash != nil {
		dash.Set(ctx, fmt.Sprintf("✅ Found %d logical groups. Processing...", len(clusters)))
	}

	settings, err := f.settings.OwnerSettings(ctx, batch.OwnerID)
	if err != nil {
		return fmt.Errorf("loading owner settings: %w", err)
	}
	sinkID, err := f.usableSink(ctx, batch.OwnerID, settings)
	if err != nil {
		f.notifier.Notify(ctx, batch.OwnerID,
			"❌ Error: could not access a valid post destination. Please set one in settings.")
		if dash != nil {
			dash.Set(ctx, "❌ Error: no usable post destination.")
		}
		log.Warn().Err(err).Msg("no usable destination sink")
		return nil
	}

	for i, c := range clusters {
		if dash != nil {
			dash.Set(ctx, fmt.Sprintf("🚀 Posting group %d/%d (%s)...", i+1, len(clusters), c.Key))
		}

		posts, err := f.builder.Build(ctx, settings, c)
		if err != nil {
			// Cluster isolation: report and move on.
			log.Error().Err(err).Str("cluster", c.Key).Msg("post build failed")
			f.notifier.Notify(ctx, batch.OwnerID,
				fmt.Sprintf("❌ Skipped group %q due to an error while building posts.", c.Key))
			continue
		}
		if len(posts) == 0 {
			log.Warn().Str("cluster", c.Key).Msg("no posts generated for cluster")
			f.notifier.Notify(ctx, batch.OwnerID,
				fmt.Sprintf("⚠️ Skipped group: no valid posts could be generated for %q.", c.Key))
			continue
		}

		f.engine.Deliver(ctx, batch.OwnerID, posts, []string{sinkID})
	}

	if dash != nil {
		dash.Remove(ctx)
	}
	f.notifier.Notify(ctx, batch.OwnerID,
		"✅ Batch processing complete! All files have been posted.")
	return nil
}

// usableSink returns the owner's primary destination, deregistering it
// first if the probe proves it unreachable.
func (f *Finalizer) usableSink(ctx context.Context, ownerID string, settings *media.OwnerSettings) (string, error) {
	if settings.PrimarySink == "" {
		return "", fmt.Errorf("owner %s has no primary sink configured", ownerID)
	}
	if f.prober != nil {
		if err := f.prober.ProbeSink(ctx, settings.PrimarySink); err != nil {
			if transport.IsTargetError(err) {
				if rmErr := f.settings.RemoveSink(ctx, ownerID, settings.PrimarySink); rmErr != nil {
					f.logger.Warn().Err(rmErr).Str("owner", ownerID).Msg("failed to deregister invalid sink")
				}
				f.notifier.Notify(ctx, ownerID, fmt.Sprintf(
					"⚠️ Destination %s was removed because it is no longer accessible.", settings.PrimarySink))
			}
			return "", fmt.Errorf("probing sink %s: %w", settings.PrimarySink, err)
		}
	}
	return settings.PrimarySink, nil
}

// parseAll fans parser calls out over a bounded worker pool. A failed
// or empty parse excludes just that item. Results keep arrival order.
func (f *Finalizer) parseAll(ctx context.Context, items []*media.Item, log zerolog.Logger) []cluster.Member {
	type parsed struct {
		idx  int
		desc *media.Descriptor
	}

	cache := media.NewCachingParser(f.parser)
	jobs := make(chan int, len(items))
	results := make(chan parsed, len(items))

	workers := f.cfg.ParseWorkers
	if workers > len(items) {
		workers = len(items)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				desc, err := cache.Parse(ctx, items[idx].Name)
				if err != nil {
					log.Warn().Err(err).Str("item", items[idx].Name).Msg("parse failed, item excluded")
					metrics.ItemsSkipped.WithLabelValues("parse_failed").Inc()
					continue
				}
				results <- parsed{idx: idx, desc: desc}
			}
		}()
	}
	for i := range items {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	close(results)

	descs := make([]*media.Descriptor, len(items))
	for p := range results {
		descs[p.idx] = p.desc
	}

	members := make([]cluster.Member, 0, len(items))
	for i, item := range items {
		if descs[i] == nil {
			continue
		}
		members = append(members, cluster.Member{Item: item, Desc: descs[i]})
	}
	return members
}
