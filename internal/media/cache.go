// Postwave - Content Coalescing and Fan-out Posting Pipeline
// Copyright 2026 Postwave Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/postwave/postwave

package media

import (
	"context"
	"fmt"
	"sync"
)

// CachingParser memoizes parse results by raw name, making one shared
// descriptor cache safe for concurrent workers. The inner parser is
// invoked with a nil cache; memoization happens here, under the lock.
//
// One CachingParser is created per finalization run or replication job
// and discarded with it.
type CachingParser struct {
	parser Parser
	mu     sync.Mutex
	cache  DescriptorCache
}

// NewCachingParser wraps parser with a fresh cache.
func NewCachingParser(parser Parser) *CachingParser {
	return &CachingParser{parser: parser, cache: make(DescriptorCache)}
}

// Parse returns the cached descriptor for rawName, or parses and caches
// it. A nil descriptor from the inner parser surfaces as an error so
// callers drop just that item.
func (c *CachingParser) Parse(ctx context.Context, rawName string) (*Descriptor, error) {
	c.mu.Lock()
	if d, ok := c.cache[rawName]; ok {
		c.mu.Unlock()
		return d, nil
	}
	c.mu.Unlock()

	d, err := c.parser.Parse(ctx, rawName, nil)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("unparseable name %q", rawName)
	}

	c.mu.Lock()
	c.cache[rawName] = d
	c.mu.Unlock()
	return d, nil
}

// Len reports the number of cached descriptors.
func (c *CachingParser) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}
