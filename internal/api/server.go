// Postwave - Content Coalescing and Fan-out Posting Pipeline
// Copyright 2026 Postwave Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/postwave/postwave

// Package api serves the operational HTTP surface: liveness, a JSON
// status snapshot of the pipeline, and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/postwave/postwave/internal/gate"
	"github.com/postwave/postwave/internal/ingest"
	"github.com/postwave/postwave/internal/replicate"
	"github.com/postwave/postwave/internal/window"
)

// Config tunes the HTTP listener.
type Config struct {
	Host    string
	Port    int
	Timeout time.Duration
}

// statusResponse is the /api/v1/status payload.
type statusResponse struct {
	Gate             gate.Snapshot      `json:"gate"`
	OpenWindows      int                `json:"open_windows"`
	FinalizingOwners []string           `json:"finalizing_owners"`
	Replications     []replicate.Status `json:"replications"`
	Time             time.Time          `json:"time"`
}

// Server exposes pipeline state over HTTP. Implements suture.Service.
type Server struct {
	cfg        Config
	g          *gate.Gate
	mgr        *window.Manager
	replicator *replicate.Controller
	bus        *ingest.Bus
	logger     zerolog.Logger
}

// NewServer creates the operational HTTP server.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewServer(cfg Config, g *gate.Gate, mgr *window.Manager, replicator *replicate.Controller, bus *ingest.Bus, logger zerolog.Logger) *Server {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Server{
		cfg:        cfg,
		g:          g,
		mgr:        mgr,
		replicator: replicator,
		bus:        bus,
		logger:     logger.With().Str("component", "api").Logger(),
	}
}

// Serve runs the listener until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:      s.router(),
		ReadTimeout:  s.cfg.Timeout,
		WriteTimeout: s.cfg.Timeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Info().Str("addr", srv.Addr).Msg("http server listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn().Err(err).Msg("http shutdown incomplete")
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) String() string { return "api.Server" }

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/api/v1/status", s.handleStatus)
	r.Post("/api/v1/arrivals", s.handleArrival)
	r.Post("/api/v1/replications/{ownerID}", s.handleStartReplication)
	r.Delete("/api/v1/replications/{ownerID}", s.handleCancelReplication)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// handleHealthz reports liveness; degraded transport health is visible
// in /api/v1/status, not here.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Gate:             s.g.Status(),
		OpenWindows:      s.mgr.OpenWindows(),
		FinalizingOwners: s.mgr.FinalizingOwners(),
		Replications:     s.replicator.Statuses(),
		Time:             time.Now().UTC(),
	}
	if resp.FinalizingOwners == nil {
		resp.FinalizingOwners = []string{}
	}
	if resp.Replications == nil {
		resp.Replications = []replicate.Status{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn().Err(err).Msg("status encode failed")
	}
}

// handleArrival publishes one upload event onto the ingestion bus.
func (s *Server) handleArrival(w http.ResponseWriter, r *http.Request) {
	var ev ingest.ArrivalEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if ev.OwnerID == "" || ev.Ref == "" {
		writeError(w, http.StatusBadRequest, errors.New("owner_id and ref are required"))
		return
	}
	if err := s.bus.PublishArrival(ev); err != nil {
		s.logger.Error().Err(err).Str("owner", ev.OwnerID).Msg("arrival publish failed")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleStartReplication launches a backup job for the owner.
func (s *Server) handleStartReplication(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "ownerID")
	err := s.replicator.Start(r.Context(), ownerID)
	switch {
	case errors.Is(err, replicate.ErrJobActive):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, replicate.ErrNoBackupSinks):
		writeError(w, http.StatusUnprocessableEntity, err)
	case err != nil:
		s.logger.Error().Err(err).Str("owner", ownerID).Msg("replication start failed")
		writeError(w, http.StatusInternalServerError, err)
	default:
		w.WriteHeader(http.StatusAccepted)
	}
}

// handleCancelReplication requests cancellation of the owner's job.
func (s *Server) handleCancelReplication(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "ownerID")
	if !s.replicator.Cancel(ownerID) {
		writeError(w, http.StatusNotFound, errors.New("no active replication job"))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func writeError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
