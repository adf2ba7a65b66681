// Postwave - Content Coalescing and Fan-out Posting Pipeline
// Copyright 2026 Postwave Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/postwave/postwave

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/postwave/postwave/internal/delivery"
	"github.com/postwave/postwave/internal/gate"
	"github.com/postwave/postwave/internal/ingest"
	"github.com/postwave/postwave/internal/media"
	"github.com/postwave/postwave/internal/post"
	"github.com/postwave/postwave/internal/replicate"
	"github.com/postwave/postwave/internal/transport"
	"github.com/postwave/postwave/internal/window"
)

type nopTransport struct{}

func (nopTransport) Send(ctx context.Context, sinkID string, content transport.Content) (*transport.Handle, error) {
	return &transport.Handle{SinkID: sinkID, MessageID: "m1"}, nil
}

func (nopTransport) Edit(ctx context.Context, h *transport.Handle, content transport.Content) error {
	return nil
}

func (nopTransport) Delete(ctx context.Context, h *transport.Handle) error { return nil }

func (nopTransport) Copy(ctx context.Context, ref, sinkID string) (*transport.Handle, error) {
	return &transport.Handle{SinkID: sinkID, MessageID: "copy"}, nil
}

type nopStore struct{}

func (nopStore) UpsertItem(ctx context.Context, item *media.Item) error    { return nil }
func (nopStore) SavePost(ctx context.Context, rec *media.PostRecord) error { return nil }
func (nopStore) CountItems(ctx context.Context, ownerID string) (int, error) {
	return 0, nil
}
func (nopStore) Items(ctx context.Context, ownerID string) (media.ItemIterator, error) {
	return nil, nil
}

// emptySettings has no sinks configured for any owner.
type emptySettings struct{}

func (emptySettings) OwnerSettings(ctx context.Context, ownerID string) (*media.OwnerSettings, error) {
	return &media.OwnerSettings{OwnerID: ownerID}, nil
}

func (emptySettings) RemoveSink(ctx context.Context, ownerID, sinkID string) error { return nil }

type nopNotifier struct{}

func (nopNotifier) Notify(ctx context.Context, ownerID, text string) {}

func newTestServer(t *testing.T) (*Server, *ingest.Bus) {
	t.Helper()
	logger := zerolog.Nop()
	tr := nopTransport{}
	g := gate.New()
	ex := gate.NewExecutor(g, nil, gate.ExecutorConfig{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
	}, logger)

	mgr := window.NewManager(window.DefaultConfig(), tr, ex, logger)
	mgr.SetFinalizer(func(ctx context.Context, b *window.Batch) {})

	builder := post.NewBuilder(nil, nil, post.DefaultConfig(), logger)
	engine := delivery.NewEngine(tr, ex, nopStore{}, nil, time.Millisecond, logger)
	replicator := replicate.NewController(nopStore{}, emptySettings{}, media.NewBasicParser(),
		builder, engine, nopNotifier{}, tr, ex, replicate.DefaultConfig(), logger)

	bus := ingest.NewBus(logger)
	t.Cleanup(func() { bus.Close() })

	return NewServer(Config{Port: 8480}, g, mgr, replicator, bus, logger), bus
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("body = %q, want ok", rec.Body.String())
	}
}

func TestStatusSnapshot(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Gate struct {
			Healthy bool `json:"healthy"`
		} `json:"gate"`
		OpenWindows      int      `json:"open_windows"`
		FinalizingOwners []string `json:"finalizing_owners"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding status: %v", err)
	}
	if !resp.Gate.Healthy {
		t.Error("gate reported unhealthy on a fresh server")
	}
	if resp.OpenWindows != 0 {
		t.Errorf("open_windows = %d, want 0", resp.OpenWindows)
	}
	if resp.FinalizingOwners == nil {
		t.Error("finalizing_owners serialized as null, want empty array")
	}
}

func TestArrivalEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"valid event", `{"owner_id":"owner-1","name":"file.mkv","ref":"ref-1"}`, http.StatusAccepted},
		{"missing owner", `{"name":"file.mkv","ref":"ref-1"}`, http.StatusBadRequest},
		{"missing ref", `{"owner_id":"owner-1","name":"file.mkv"}`, http.StatusBadRequest},
		{"malformed json", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/arrivals", strings.NewReader(tt.body))
			s.router().ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestStartReplicationWithoutBackupSinks(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/replications/owner-1", nil)
	s.router().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	if body["error"] == "" {
		t.Error("error body missing message")
	}
}

func TestCancelReplicationWithoutJob(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/replications/owner-1", nil)
	s.router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
