// Postwave - Content Coalescing and Fan-out Posting Pipeline
// Copyright 2026 Postwave Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/postwave/postwave

// Package cluster groups parsed item descriptors into logical release
// batches by fuzzy title similarity.
//
// The algorithm is online, greedy and single-pass: each descriptor is
// scored against every existing cluster key with a token-set ratio, and
// joins the best-scoring cluster if the score clears the threshold,
// otherwise opens a new cluster under its own key. Not globally optimal,
// but deterministic for a fixed input order and O(n*k) for k clusters.
package cluster

import (
	fuzzy "github.com/paul-mannino/go-fuzzywuzzy"

	"github.com/postwave/postwave/internal/media"
)

// DefaultThreshold is the reference similarity cutoff (0-100 scale).
const DefaultThreshold = 85

// Member pairs an item with its parsed descriptor.
type Member struct {
	Item *media.Item
	Desc *media.Descriptor
}

// Cluster is one logical release group. Members keep arrival order.
// Clusters are transient: produced during finalization or replication
// and never persisted.
type Cluster struct {
	Key     string
	Members []Member
}

// Builder accumulates members into clusters incrementally, preserving
// first-seen order of cluster keys. Not safe for concurrent use.
type Builder struct {
	threshold int
	keys      []string
	byKey     map[string]*Cluster
}

// NewBuilder returns an empty builder with the given similarity
// threshold; values outside (0,100] fall back to DefaultThreshold.
func NewBuilder(threshold int) *Builder {
	if threshold <= 0 || threshold > 100 {
		threshold = DefaultThreshold
	}
	return &Builder{
		threshold: threshold,
		byKey:     make(map[string]*Cluster),
	}
}

// Add places m into the best-matching existing cluster, or opens a new
// one keyed by the member's own cluster key. Members without a cluster
// key are ignored.
func (b *Builder) Add(m Member) {
	if m.Desc == nil || m.Desc.ClusterKey == "" {
		return
	}
	key := m.Desc.ClusterKey

	bestKey, bestScore := "", -1
	for _, existing := range b.keys {
		// First maximum wins; iteration order is fixed, so ties
		// resolve deterministically.
		if score := fuzzy.TokenSetRatio(key, existing); score > bestScore {
			bestKey, bestScore = existing, score
		}
	}

	if bestScore > b.threshold {
		c := b.byKey[bestKey]
		c.Members = append(c.Members, m)
		return
	}

	b.keys = append(b.keys, key)
	b.byKey[key] = &Cluster{Key: key, Members: []Member{m}}
}

// Len returns the number of clusters formed so far.
func (b *Builder) Len() int { return len(b.keys) }

// Clusters returns the formed clusters in first-seen key order.
func (b *Builder) Clusters() []Cluster {
	out := make([]Cluster, 0, len(b.keys))
	for _, key := range b.keys {
		out = append(out, *b.byKey[key])
	}
	return out
}

// Group is the single-shot convenience over Builder for an already
// complete member list.
func Group(members []Member, threshold int) []Cluster {
	b := NewBuilder(threshold)
	for _, m := range members {
		b.Add(m)
	}
	return b.Clusters()
}
