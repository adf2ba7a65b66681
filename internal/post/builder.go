// Postwave - Content Coalescing and Fan-out Posting Pipeline
// Copyright 2026 Postwave Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/postwave/postwave

// Package post turns a logical cluster into one or more formatted posts,
// packing link entries against the destination's content length limits.
package post

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/postwave/postwave/internal/cluster"
	"github.com/postwave/postwave/internal/media"
	"github.com/postwave/postwave/internal/transport"
)

// Content length limits of the downstream platform. A post carrying a
// poster image uses the tighter photo caption limit.
const (
	DefaultPhotoCaptionLimit = 1024
	DefaultTextLimit         = 4096
)

// Post is one formatted outbound message. Poster is set only on the
// first part of a multi-part series.
type Post struct {
	Poster  string
	Caption string
	Buttons []transport.Button
}

// LinkResolver produces the public link for one item. Implementations
// may shorten or sign links; a failure falls back to the item's raw ref.
type LinkResolver interface {
	Link(ctx context.Context, ownerID string, item *media.Item) (string, error)
}

// RefLinkResolver returns the item's stored ref unchanged.
type RefLinkResolver struct{}

// Link implements LinkResolver.
func (RefLinkResolver) Link(_ context.Context, _ string, item *media.Item) (string, error) {
	return item.Ref, nil
}

// Config tunes the builder's packing limits.
type Config struct {
	PhotoCaptionLimit int
	TextLimit         int
}

// DefaultConfig returns the platform reference limits.
func DefaultConfig() Config {
	return Config{
		PhotoCaptionLimit: DefaultPhotoCaptionLimit,
		TextLimit:         DefaultTextLimit,
	}
}

// Builder assembles posts for clusters. Poster lookup is best-effort
// and disabled per owner via settings.
type Builder struct {
	posters media.PosterFinder
	links   LinkResolver
	cfg     Config
	logger  zerolog.Logger
}

// NewBuilder creates a post builder.
func NewBuilder(posters media.PosterFinder, links LinkResolver, cfg Config, logger zerolog.Logger) *Builder {
	if cfg.PhotoCaptionLimit <= 0 {
		cfg.PhotoCaptionLimit = DefaultPhotoCaptionLimit
	}
	if cfg.TextLimit <= 0 {
		cfg.TextLimit = DefaultTextLimit
	}
	if links == nil {
		links = RefLinkResolver{}
	}
	return &Builder{
		posters: posters,
		links:   links,
		cfg:     cfg,
		logger:  logger.With().Str("component", "post-builder").Logger(),
	}
}

// Build renders the cluster into as many posts as its entries need under
// the caption limit. Returns an empty slice when no member yields a
// usable entry.
func (b *Builder) Build(ctx context.Context, settings *media.OwnerSettings, c cluster.Cluster) ([]Post, error) {
	members := make([]cluster.Member, 0, len(c.Members))
	for _, m := range c.Members {
		if m.Desc != nil {
			members = append(members, m)
		}
	}
	if len(members) == 0 {
		return nil, nil
	}

	// Episode order, natural sort so E2 precedes E10.
	sort.SliceStable(members, func(i, j int) bool {
		return naturalLess(members[i].Desc.Episode, members[j].Desc.Episode)
	})

	first := members[0].Desc
	title := first.DisplayTitle

	poster := ""
	if settings.ShowPoster && b.posters != nil {
		query := strings.TrimSpace(strings.ReplaceAll(first.ClusterKey, first.Season, ""))
		ref, err := b.posters.FindPoster(ctx, query, first.Year)
		if err != nil {
			b.logger.Debug().Err(err).Str("query", query).Msg("poster lookup failed")
		} else {
			poster = ref
		}
	}

	var buttons []transport.Button
	for _, fb := range settings.FooterButtons {
		buttons = append(buttons, transport.Button{Name: fb.Name, URL: fb.URL})
	}

	limit := b.cfg.TextLimit
	if poster != "" {
		limit = b.cfg.PhotoCaptionLimit
	}

	entries := make([]string, 0, len(members))
	for _, m := range members {
		link, err := b.links.Link(ctx, m.Item.OwnerID, m.Item)
		if err != nil || link == "" {
			b.logger.Debug().Err(err).Str("item", m.Item.Name).Msg("link resolution failed, using raw ref")
			link = m.Item.Ref
		}
		entries = append(entries, renderEntry(m, link))
	}

	header := fmt.Sprintf("🎬 %s", title)
	footer := strings.Repeat("─", utf8.RuneCountInString(header))

	// Platform limits count characters, not bytes.
	var posts []Post
	var part []string
	base := utf8.RuneCountInString(header) + utf8.RuneCountInString(footer)
	length := base
	for _, entry := range entries {
		entryLen := utf8.RuneCountInString(entry)
		if length+entryLen+2 > limit && len(part) > 0 {
			posts = append(posts, Post{Caption: assemble(header, part, footer), Buttons: buttons})
			part = []string{entry}
			length = base + entryLen + 2
			continue
		}
		part = append(part, entry)
		length += entryLen + 2
	}
	if len(part) > 0 {
		posts = append(posts, Post{Caption: assemble(header, part, footer), Buttons: buttons})
	}

	// Poster rides only on the first part; multi-part runs get numbered
	// headers.
	if len(posts) > 1 {
		for i := range posts {
			numbered := fmt.Sprintf("🎬 %s (Part %d/%d)", title, i+1, len(posts))
			posts[i].Caption = strings.Replace(posts[i].Caption, header, numbered, 1)
		}
	}
	if len(posts) > 0 {
		posts[0].Poster = poster
	}
	return posts, nil
}

// renderEntry formats one item line: episode/language/quality tags, the
// link, and a human-readable size.
func renderEntry(m cluster.Member, link string) string {
	var tags []string
	if m.Desc.Episode != "" {
		tags = append(tags, m.Desc.Episode)
	}
	if len(m.Desc.Languages) > 0 {
		tags = append(tags, strings.Join(m.Desc.Languages, " + "))
	}
	if m.Desc.QualityTags != "" {
		tags = append(tags, m.Desc.QualityTags)
	}
	label := strings.Join(tags, " | ")
	if label == "" {
		label = "File"
	}
	size := formatBytes(m.Item.Size)
	if size != "" {
		return fmt.Sprintf("📁 %s\n%s (%s)", label, link, size)
	}
	return fmt.Sprintf("📁 %s\n%s", label, link)
}

func assemble(header string, entries []string, footer string) string {
	return header + "\n\n" + strings.Join(entries, "\n\n") + "\n\n" + footer
}

// formatBytes converts a byte count to a short human-readable form.
func formatBytes(size int64) string {
	if size <= 0 {
		return ""
	}
	const unit = 1024
	labels := []string{"B", "KB", "MB", "GB", "TB"}
	value := float64(size)
	n := 0
	for value >= unit && n < len(labels)-1 {
		value /= unit
		n++
	}
	if n >= 3 {
		return fmt.Sprintf("%.1f %s", value, labels[n])
	}
	return fmt.Sprintf("%.0f %s", value, labels[n])
}

// naturalLess compares strings segment-wise, ordering digit runs
// numerically so "E2" sorts before "E10".
func naturalLess(a, b string) bool {
	for len(a) > 0 && len(b) > 0 {
		aDigit, bDigit := isDigit(a[0]), isDigit(b[0])
		if aDigit != bDigit {
			return aDigit
		}
		if aDigit {
			aNum, aRest := takeNumber(a)
			bNum, bRest := takeNumber(b)
			if aNum != bNum {
				return aNum < bNum
			}
			a, b = aRest, bRest
			continue
		}
		if a[0] != b[0] {
			return a[0] < b[0]
		}
		a, b = a[1:], b[1:]
	}
	return len(a) < len(b)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func takeNumber(s string) (int, string) {
	n := 0
	i := 0
	for i < len(s) && isDigit(s[i]) {
		n = n*10 + int(s[i]-'0')
		i++
	}
	return n, s[i:]
}
