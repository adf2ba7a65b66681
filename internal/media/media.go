// Postwave - Content Coalescing and Fan-out Posting Pipeline
// Copyright 2026 Postwave Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/postwave/postwave

// Package media defines the core data model shared across the pipeline:
// ingested items, parsed descriptors, and the collaborator interfaces
// (parser, poster lookup, settings and item stores) that the pipeline
// consumes but does not implement itself.
package media

import (
	"context"
	"time"
)

// Item is an opaque handle to one piece of ingested content plus the
// minimal metadata the pipeline needs. Items are immutable once created;
// ownership passes from the collection window to the finalization run
// that consumes them.
type Item struct {
	// ID uniquely identifies the item within the store.
	ID string `json:"id"`

	// OwnerID is the identity on whose behalf the item was ingested.
	OwnerID string `json:"owner_id"`

	// Name is the raw display name (typically a release filename).
	Name string `json:"name"`

	// Size is the content size in bytes.
	Size int64 `json:"size"`

	// Duration is the content runtime in seconds, zero if not applicable.
	Duration int `json:"duration,omitempty"`

	// Ref is the transport-level handle to the stored copy of the content.
	Ref string `json:"ref,omitempty"`

	// ReceivedAt is the arrival timestamp.
	ReceivedAt time.Time `json:"received_at"`
}

// Descriptor is the structured form of an item's raw name as produced by
// the external parser. ClusterKey is the normalized title used for fuzzy
// release grouping; an empty ClusterKey excludes the item from clustering.
type Descriptor struct {
	ClusterKey   string   `json:"cluster_key"`
	DisplayTitle string   `json:"display_title"`
	Year         int      `json:"year,omitempty"`
	IsSeries     bool     `json:"is_series,omitempty"`
	Season       string   `json:"season,omitempty"`
	Episode      string   `json:"episode,omitempty"`
	Languages    []string `json:"languages,omitempty"`
	QualityTags  string   `json:"quality_tags,omitempty"`
}

// DescriptorCache memoizes parse results by raw name for the lifetime of
// one finalization run or one replication job. It is not safe for
// concurrent use unless the implementation says otherwise.
type DescriptorCache map[string]*Descriptor

// Parser turns an item's raw name into a structured descriptor.
// A nil descriptor with a nil error means the name was unparseable; the
// caller drops that single item and continues.
type Parser interface {
	Parse(ctx context.Context, rawName string, cache DescriptorCache) (*Descriptor, error)
}

// PosterFinder looks up cover art for a title. Best-effort: failures and
// misses both surface as an empty reference.
type PosterFinder interface {
	FindPoster(ctx context.Context, query string, year int) (string, error)
}

// FooterButton is one owner-configured link appended below every post.
type FooterButton struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// OwnerSettings holds the per-owner configuration the pipeline reads.
type OwnerSettings struct {
	OwnerID string `json:"owner_id"`

	// PrimarySink is the destination for regular finalization posts.
	PrimarySink string `json:"primary_sink,omitempty"`

	// BackupSinks are the destinations replication fans out to.
	BackupSinks []string `json:"backup_sinks,omitempty"`

	// ShowPoster enables cover art lookup for the first post of a group.
	ShowPoster bool `json:"show_poster"`

	// FooterButtons are appended to every generated post.
	FooterButtons []FooterButton `json:"footer_buttons,omitempty"`
}

// SettingsStore exposes owner settings. Read-only from the pipeline's
// perspective except for deregistering a destination that turned out to
// be unreachable.
type SettingsStore interface {
	OwnerSettings(ctx context.Context, ownerID string) (*OwnerSettings, error)

	// RemoveSink deregisters an invalid destination sink for the owner.
	RemoveSink(ctx context.Context, ownerID, sinkID string) error
}

// PostRecord is the persisted trace of one successfully delivered post.
type PostRecord struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	SinkID    string    `json:"sink_id"`
	Handle    string    `json:"handle"`
	Caption   string    `json:"caption"`
	Poster    string    `json:"poster,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ItemIterator streams an owner's historical items one at a time.
// Next returns (nil, nil) after the last item. Close releases the cursor.
type ItemIterator interface {
	Next(ctx context.Context) (*Item, error)
	Close() error
}

// ItemStore persists item metadata on admission and post records after
// delivery, and streams an owner's full item set for replication.
// Upserts are idempotent: replaying an admission is a no-op.
type ItemStore interface {
	UpsertItem(ctx context.Context, item *Item) error
	SavePost(ctx context.Context, rec *PostRecord) error
	CountItems(ctx context.Context, ownerID string) (int, error)
	Items(ctx context.Context, ownerID string) (ItemIterator, error)
}
