// Postwave - Content Coalescing and Fan-out Posting Pipeline
// Copyright 2026 Postwave Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/postwave/postwave

package media

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// BasicParser is the built-in release-name parser. It covers the common
// scene naming shapes (title, year, SxxEyy, quality tokens, language
// tokens); deployments with richer needs swap in their own Parser.
type BasicParser struct{}

// NewBasicParser returns the built-in parser.
func NewBasicParser() *BasicParser { return &BasicParser{} }

var (
	extensionRe = regexp.MustCompile(`(?i)\.(mkv|mp4|avi|mov|wmv|flv|webm|m4v|mpg|mpeg|ts)$`)
	yearRe      = regexp.MustCompile(`\b(19\d{2}|20\d{2})\b`)
	episodeRe   = regexp.MustCompile(`(?i)\bS(\d{1,2})[\s.]?E(\d{1,3})\b`)
	seasonRe    = regexp.MustCompile(`(?i)\bS(?:eason[\s.]?)?(\d{1,2})\b`)
	altEpRe     = regexp.MustCompile(`\b(\d{1,2})x(\d{2,3})\b`)
)

var qualityTokens = map[string]bool{
	"2160p": true, "1080p": true, "720p": true, "480p": true, "4k": true,
	"web-dl": true, "webdl": true, "webrip": true, "bluray": true, "brrip": true,
	"bdrip": true, "hdtv": true, "dvdrip": true, "remux": true,
	"x264": true, "x265": true, "h264": true, "h265": true, "hevc": true, "avc": true,
	"hdr": true, "hdr10": true, "dv": true, "10bit": true, "8bit": true,
	"aac": true, "ac3": true, "ddp": true, "dts": true, "atmos": true,
}

var languageTokens = map[string]string{
	"english": "English", "eng": "English",
	"hindi": "Hindi", "hin": "Hindi",
	"tamil": "Tamil", "tam": "Tamil",
	"telugu": "Telugu", "tel": "Telugu",
	"korean": "Korean", "kor": "Korean",
	"japanese": "Japanese", "jpn": "Japanese",
	"french": "French", "fre": "French",
	"german": "German", "ger": "German",
	"spanish": "Spanish", "spa": "Spanish",
	"multi": "Multi", "dual": "Dual",
}

// Parse derives a Descriptor from a raw release name. An empty title
// yields (nil, nil): the name is unparseable, not an error.
func (p *BasicParser) Parse(ctx context.Context, rawName string, cache DescriptorCache) (*Descriptor, error) {
	if cache != nil {
		if d, ok := cache[rawName]; ok {
			return d, nil
		}
	}

	name := extensionRe.ReplaceAllString(rawName, "")
	name = strings.NewReplacer(".", " ", "_", " ", "[", " ", "]", " ", "(", " ", ")", " ").Replace(name)
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return nil, nil
	}

	d := &Descriptor{}

	// Episode markers take priority over bare season tokens; the title
	// ends at the first structural marker found.
	titleEnd := len(name)
	if m := episodeRe.FindStringSubmatchIndex(name); m != nil {
		d.IsSeries = true
		d.Season = padNumber(name[m[2]:m[3]])
		d.Episode = padNumber(name[m[4]:m[5]])
		titleEnd = min(titleEnd, m[0])
	} else if m := altEpRe.FindStringSubmatchIndex(name); m != nil {
		d.IsSeries = true
		d.Season = padNumber(name[m[2]:m[3]])
		d.Episode = padNumber(name[m[4]:m[5]])
		titleEnd = min(titleEnd, m[0])
	} else if m := seasonRe.FindStringSubmatchIndex(name); m != nil {
		d.IsSeries = true
		d.Season = padNumber(name[m[2]:m[3]])
		titleEnd = min(titleEnd, m[0])
	}

	if m := yearRe.FindStringIndex(name); m != nil && m[0] < titleEnd {
		d.Year, _ = strconv.Atoi(name[m[0]:m[1]])
		titleEnd = m[0]
	}

	var quality []string
	for _, tok := range strings.Fields(name) {
		low := strings.ToLower(tok)
		if qualityTokens[low] {
			quality = append(quality, tok)
			if idx := strings.Index(name, tok); idx >= 0 && idx < titleEnd {
				titleEnd = idx
			}
		}
		if lang, ok := languageTokens[low]; ok && !slices.Contains(d.Languages, lang) {
			d.Languages = append(d.Languages, lang)
		}
	}
	d.QualityTags = strings.Join(quality, " ")

	title := strings.TrimSpace(name[:titleEnd])
	title = strings.Trim(title, "-– ")
	if title == "" {
		return nil, nil
	}
	d.DisplayTitle = title

	key := strings.ToLower(title)
	if d.Year > 0 {
		key = fmt.Sprintf("%s %d", key, d.Year)
	}
	if d.IsSeries && d.Season != "" {
		key = fmt.Sprintf("%s s%s", key, d.Season)
	}
	d.ClusterKey = key

	if cache != nil {
		cache[rawName] = d
	}
	return d, nil
}

// padNumber left-pads one-digit numbers so lexicographic and numeric
// episode order agree for the common 1-99 range.
func padNumber(s string) string {
	s = strings.TrimLeft(s, "0")
	if s == "" {
		s = "0"
	}
	if len(s) == 1 {
		return "0" + s
	}
	return s
}
