// Postwave - Content Coalescing and Fan-out Posting Pipeline
// Copyright 2026 Postwave Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/postwave/postwave

// Package main is the entry point for the Postwave pipeline daemon.
//
// Postwave ingests content-upload events, coalesces them into per-owner
// collection windows, clusters the collected items into logical release
// groups, and fans the groups out as formatted posts to destination
// sinks. A global gate freezes all outbound traffic during platform
// rate limits and outages.
//
// # Startup order
//
//  1. Configuration: Koanf v2 layers (defaults, YAML file, POSTWAVE_ env)
//  2. Logging: zerolog, JSON or console format
//  3. Store: embedded BadgerDB for items, post records, owner settings
//  4. Transport + gate + retry executor
//  5. Pipeline wiring: windows, finalizer, delivery, replication
//  6. Supervisor tree: ingest layer (bus consumer, window manager) and
//     ops layer (health probe, HTTP server)
//
// # Signal handling
//
// SIGINT and SIGTERM cancel the supervisor tree. Open collection
// windows are volatile and are dropped on shutdown; admitted items
// remain in the store and reach sinks through a later replication run.
//
// The built-in transport is a dry-run implementation that logs sends
// instead of performing them. Real deployments replace it in this file
// with their platform client.
package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/postwave/postwave/internal/api"
	"github.com/postwave/postwave/internal/config"
	"github.com/postwave/postwave/internal/delivery"
	"github.com/postwave/postwave/internal/gate"
	"github.com/postwave/postwave/internal/health"
	"github.com/postwave/postwave/internal/ingest"
	"github.com/postwave/postwave/internal/logging"
	"github.com/postwave/postwave/internal/media"
	"github.com/postwave/postwave/internal/notify"
	"github.com/postwave/postwave/internal/pipeline"
	"github.com/postwave/postwave/internal/post"
	"github.com/postwave/postwave/internal/replicate"
	"github.com/postwave/postwave/internal/store"
	"github.com/postwave/postwave/internal/supervisor"
	"github.com/postwave/postwave/internal/transport"
	"github.com/postwave/postwave/internal/window"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logger := logging.Logger()

	logging.Info().
		Str("store_path", cfg.Store.Path).
		Str("archive_sink", cfg.Transport.ArchiveSink).
		Int("http_port", cfg.Server.Port).
		Msg("Starting Postwave")

	st, err := store.Open(cfg.Store.Path, logger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing store")
		}
	}()

	tr := transport.NewDryRun(logger)

	g := gate.New()
	operator := notify.NewOperator(tr, cfg.Transport.OperatorSink, logger)
	ex := gate.NewExecutor(g, operator, gate.ExecutorConfig{
		MaxAttempts:     cfg.Executor.MaxAttempts,
		BaseDelay:       cfg.Executor.BaseDelay,
		RateLimitMargin: cfg.Executor.RateLimitMargin,
	}, logger)
	owners := notify.NewOwnerNotifier(tr, ex, logger)

	parser := media.NewBasicParser()
	builder := post.NewBuilder(nil, nil, post.Config{}, logger)
	engine := delivery.NewEngine(tr, ex, st, owners, cfg.Delivery.Pacing, logger)

	mgr := window.NewManager(window.Config{
		Debounce:         cfg.Window.Debounce,
		SizeCap:          cfg.Window.SizeCap,
		MinDuration:      cfg.Window.MinDuration,
		ProgressInterval: cfg.Window.ProgressInterval,
	}, tr, ex, logger)

	var prober pipeline.SinkProber
	if p, ok := any(tr).(pipeline.SinkProber); ok {
		prober = p
	}
	finalizer := pipeline.NewFinalizer(parser, st, builder, engine, owners, prober, pipeline.Config{
		SimilarityThreshold: cfg.Pipeline.SimilarityThreshold,
		ParseWorkers:        cfg.Pipeline.ParseWorkers,
	}, logger)
	mgr.SetFinalizer(finalizer.Finalize)

	replicator := replicate.NewController(st, st, parser, builder, engine, owners, tr, ex, replicate.Config{
		ProgressInterval:    cfg.Replicate.ProgressInterval,
		SimilarityThreshold: cfg.Pipeline.SimilarityThreshold,
		MaxBackupSinks:      cfg.Replicate.MaxBackupSinks,
	}, logger)

	bus := ingest.NewBus(logger)
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing ingest bus")
		}
	}()
	consumer := ingest.NewConsumer(bus, tr, ex, st, mgr, cfg.Transport.ArchiveSink, logger)

	probe := func(ctx context.Context) error { return nil }
	if p, ok := any(tr).(interface{ Ping(ctx context.Context) error }); ok {
		probe = p.Ping
	}
	monitor := health.NewMonitor(probe, g, operator, health.Config{
		Interval:         cfg.Health.Interval,
		ProbeTimeout:     cfg.Health.ProbeTimeout,
		FailureThreshold: cfg.Health.FailureThreshold,
		OpenTimeout:      cfg.Health.OpenTimeout,
	}, logger)

	srv := api.NewServer(api.Config{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		Timeout: cfg.Server.Timeout,
	}, g, mgr, replicator, bus, logger)

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddIngestService(mgr)
	tree.AddIngestService(consumer)
	tree.AddOpsService(monitor)
	tree.AddOpsService(srv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().Msg("Supervisor tree running")
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree exited with error")
	}

	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("Service did not stop before timeout")
		}
	}
	logging.Info().Msg("Postwave stopped")
}
