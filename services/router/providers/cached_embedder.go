// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package providers

import (
	"context"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultQueryCacheSize is the number of query vectors kept by CachingEmbedder.
const DefaultQueryCacheSize = 1024

var queryCacheLookups = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "router",
		Subsystem: "provider",
		Name:      "query_cache_lookups_total",
		Help:      "Query embedding cache lookups by result (hit, miss).",
	},
	[]string{"result"},
)

// CachingEmbedder memoizes query embeddings in a bounded LRU.
//
// # Description
//
// Repeated messages ("hello", "search for X" retries) skip the provider.
// Keys are the exact text after whitespace trimming. Failed calls are not
// cached, so a provider outage does not poison the cache.
//
// # Thread Safety
//
// Safe for concurrent use. Two concurrent misses for the same text both
// call the provider.
type CachingEmbedder struct {
	next  Embedder
	cache *lru.Cache[string, []float32]
}

// NewCachingEmbedder wraps next with an LRU of the given size.
//
// # Inputs
//
//   - next: The underlying embedder. Must not be nil.
//   - size: Maximum cached vectors. <= 0 means DefaultQueryCacheSize.
//
// # Outputs
//
//   - *CachingEmbedder: The wrapper.
//   - error: Non-nil if next is nil.
func NewCachingEmbedder(next Embedder, size int) (*CachingEmbedder, error) {
	if next == nil {
		return nil, fmt.Errorf("caching embedder: next embedder is nil")
	}
	if size <= 0 {
		size = DefaultQueryCacheSize
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("caching embedder: %w", err)
	}
	return &CachingEmbedder{next: next, cache: cache}, nil
}

// Embed implements Embedder.
func (c *CachingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := strings.TrimSpace(text)
	if vec, ok := c.cache.Get(key); ok {
		queryCacheLookups.WithLabelValues("hit").Inc()
		return vec, nil
	}
	queryCacheLookups.WithLabelValues("miss").Inc()

	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, vec)
	return vec, nil
}

// Len returns the number of cached vectors.
func (c *CachingEmbedder) Len() int { return c.cache.Len() }

// Purge drops every cached vector. Called when the embedding model changes.
func (c *CachingEmbedder) Purge() { c.cache.Purge() }
