// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianRouter/services/router/corpus"
	"github.com/AleutianAI/AleutianRouter/services/router/providers"
	"github.com/AleutianAI/AleutianRouter/services/router/vectorcache"
)

// =============================================================================
// Store Builder
// =============================================================================

// Store prefixes.
const (
	ToolPrefix     = "tool"
	NegativePrefix = "negative"
)

// Build sources reported in BuildReport.Source.
const (
	SourceCache    = "cache"
	SourceProvider = "provider"
	SourcePartial  = "partial"
	SourceEmpty    = "empty"
	SourceFailed   = "failed"
)

// defaultWarmConcurrency is the number of parallel embedding calls during a
// cold build.
const defaultWarmConcurrency = 8

// defaultWarmEmbedTimeout bounds each embedding call during a cold build.
const defaultWarmEmbedTimeout = 30 * time.Second

// ErrBuildFailed is returned when no item of a store could be embedded.
var ErrBuildFailed = errors.New("embedding store build failed")

// BuilderConfig configures a StoreBuilder.
type BuilderConfig struct {
	// Model names the embedding model. It is part of every fingerprint, so a
	// model change invalidates persisted stores.
	Model string

	// Version is written into cache metadata.
	Version string

	// Concurrency bounds parallel embedding calls. Zero means 8.
	Concurrency int

	// EmbedTimeout bounds each embedding call. Zero means 30s.
	EmbedTimeout time.Duration

	// RatePerSecond limits embedding calls across workers. Zero disables
	// rate limiting.
	RatePerSecond float64

	// Burst is the limiter burst. Zero means Concurrency.
	Burst int
}

// Item is one text to embed under a store key.
type Item struct {
	Key  string
	Text string
}

// BuildReport describes one store build.
type BuildReport struct {
	Prefix      string        `json:"prefix"`
	Source      string        `json:"source"`
	Fingerprint string        `json:"fingerprint"`
	Requested   int           `json:"requested"`
	Embedded    int           `json:"embedded"`
	Persisted   bool          `json:"persisted"`
	Duration    time.Duration `json:"duration_ns"`
}

// WarmReport describes a full warm-up.
type WarmReport struct {
	Tool     BuildReport `json:"tool"`
	Negative BuildReport `json:"negative"`
}

// StoreBuilder produces embedding stores, from the vector cache when the
// fingerprint matches and from the embedding provider otherwise.
//
// # Description
//
// A cold build embeds every item in parallel, bounded by Concurrency and the
// shared rate limiter. A single failed item is logged and skipped. If every
// item fails the build fails. A complete build is persisted; a partial one
// is returned for in-memory use but never persisted, so the next start
// retries the missing items.
//
// # Thread Safety
//
// Safe for concurrent use.
type StoreBuilder struct {
	embedder providers.Embedder
	cache    *vectorcache.Cache
	cfg      BuilderConfig
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// NewStoreBuilder creates a builder.
//
// # Inputs
//
//   - embedder: Embedding provider. Must not be nil.
//   - cache: Vector cache. Nil disables persistence.
//   - cfg: Builder configuration.
//   - logger: Logger. May be nil.
func NewStoreBuilder(embedder providers.Embedder, cache *vectorcache.Cache, cfg BuilderConfig, logger *slog.Logger) *StoreBuilder {
	if embedder == nil {
		panic("routing.NewStoreBuilder: embedder must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultWarmConcurrency
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = defaultWarmEmbedTimeout
	}
	if cfg.Version == "" {
		cfg.Version = "1"
	}
	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = cfg.Concurrency
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return &StoreBuilder{
		embedder: embedder,
		cache:    cache,
		cfg:      cfg,
		limiter:  limiter,
		logger:   logger,
	}
}

// Model returns the configured embedding model name.
func (b *StoreBuilder) Model() string { return b.cfg.Model }

// Cache returns the vector cache, or nil.
func (b *StoreBuilder) Cache() *vectorcache.Cache { return b.cache }

// Fingerprints returns the tool and negative fingerprints for c.
func (b *StoreBuilder) Fingerprints(c *corpus.Corpus) (tool, negative string, err error) {
	tool, err = vectorcache.Fingerprint(c.ToolFingerprintInput(b.cfg.Model))
	if err != nil {
		return "", "", fmt.Errorf("tool fingerprint: %w", err)
	}
	negative, err = vectorcache.Fingerprint(c.NegativeFingerprintInput(b.cfg.Model))
	if err != nil {
		return "", "", fmt.Errorf("negative fingerprint: %w", err)
	}
	return tool, negative, nil
}

// Warm builds both stores for c and installs them into ix.
//
// # Description
//
// The index is only replaced when both builds succeed. On error ix keeps
// its previous contents.
//
// # Inputs
//
//   - ctx: Cancellation aborts pending embedding calls.
//   - c: The exemplar corpus.
//   - ix: Index to populate.
//
// # Outputs
//
//   - WarmReport: Per-store build details, populated even on error.
//   - error: Non-nil if a fingerprint could not be computed or a store had
//     no successful embeddings.
func (b *StoreBuilder) Warm(ctx context.Context, c *corpus.Corpus, ix *SimilarityIndex) (WarmReport, error) {
	ctx, span := tracer.Start(ctx, "routing.StoreBuilder.Warm")
	defer span.End()

	var report WarmReport
	toolFP, negFP, err := b.Fingerprints(c)
	if err != nil {
		span.RecordError(err)
		return report, err
	}

	exemplars := c.Exemplars()
	toolItems := make([]Item, 0, len(exemplars))
	for _, ex := range exemplars {
		toolItems = append(toolItems, Item{Key: ex.Key(), Text: ex.Text})
	}
	negItems := make([]Item, 0, len(c.Negatives))
	for _, n := range c.Negatives {
		negItems = append(negItems, Item{Key: n, Text: n})
	}

	toolStore, toolReport, err := b.Build(ctx, ToolPrefix, toolFP, toolItems)
	report.Tool = toolReport
	if err != nil {
		span.RecordError(err)
		return report, err
	}
	negStore, negReport, err := b.Build(ctx, NegativePrefix, negFP, negItems)
	report.Negative = negReport
	if err != nil {
		span.RecordError(err)
		return report, err
	}

	ix.Replace(EntriesFromStore(exemplars, toolStore), NegativesFromStore(c.Negatives, negStore))
	span.SetAttributes(
		attribute.String("tool.source", toolReport.Source),
		attribute.String("negative.source", negReport.Source),
		attribute.Int("tool.embedded", toolReport.Embedded),
		attribute.Int("negative.embedded", negReport.Embedded),
	)
	b.logger.Info("routing: similarity index warmed",
		slog.String("tool_source", toolReport.Source),
		slog.Int("exemplars", toolReport.Embedded),
		slog.String("negative_source", negReport.Source),
		slog.Int("negatives", negReport.Embedded),
	)
	return report, nil
}

// Build returns the store for prefix, loading it from the cache when the
// fingerprint matches and embedding items otherwise.
//
// # Inputs
//
//   - ctx: Cancellation aborts pending embedding calls.
//   - prefix: Store name.
//   - fingerprint: Expected cache fingerprint.
//   - items: Texts to embed. Duplicate keys are embedded once.
//
// # Outputs
//
//   - vectorcache.Store: The vectors. Non-nil on success.
//   - BuildReport: Build details.
//   - error: Wraps ErrBuildFailed when items were requested and none could
//     be embedded.
func (b *StoreBuilder) Build(ctx context.Context, prefix, fingerprint string, items []Item) (vectorcache.Store, BuildReport, error) {
	start := time.Now()
	items = dedupeItems(items)
	report := BuildReport{
		Prefix:      prefix,
		Fingerprint: fingerprint,
		Requested:   len(items),
	}
	finish := func() {
		report.Duration = time.Since(start)
		storeBuildsTotal.WithLabelValues(prefix, report.Source).Inc()
	}

	if len(items) == 0 {
		report.Source = SourceEmpty
		finish()
		return vectorcache.Store{}, report, nil
	}

	if b.cache != nil {
		if store, ok := b.cache.Load(ctx, prefix, fingerprint); ok && covers(store, items) {
			report.Source = SourceCache
			report.Embedded = len(store)
			finish()
			return store, report, nil
		}
	}

	b.logger.Info("routing: embedding store",
		slog.String("prefix", prefix),
		slog.Int("items", len(items)),
		slog.String("model", b.cfg.Model),
	)

	store := b.embedAll(ctx, prefix, items)
	report.Embedded = len(store)
	if len(store) == 0 {
		report.Source = SourceFailed
		finish()
		return nil, report, fmt.Errorf("%w: %s: 0 of %d items embedded", ErrBuildFailed, prefix, len(items))
	}

	if len(store) < len(items) {
		report.Source = SourcePartial
		b.logger.Warn("routing: partial embedding store, not persisting",
			slog.String("prefix", prefix),
			slog.Int("embedded", len(store)),
			slog.Int("requested", len(items)),
		)
		finish()
		return store, report, nil
	}

	report.Source = SourceProvider
	if b.cache != nil {
		if err := b.cache.Save(ctx, prefix, store, fingerprint, b.cfg.Version); err != nil {
			b.logger.Warn("routing: failed to persist embedding store",
				slog.String("prefix", prefix),
				slog.String("error", err.Error()),
			)
		} else {
			report.Persisted = true
		}
	}
	finish()
	return store, report, nil
}

// embedAll embeds items in parallel. Failed items are absent from the result.
func (b *StoreBuilder) embedAll(ctx context.Context, prefix string, items []Item) vectorcache.Store {
	var (
		mu    sync.Mutex
		store = make(vectorcache.Store, len(items))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Concurrency)

	for _, item := range items {
		g.Go(func() error {
			vec, err := b.embedOne(gctx, item.Text)
			if err != nil {
				storeEmbedFailuresTotal.WithLabelValues(prefix).Inc()
				b.logger.Warn("routing: failed to embed item",
					slog.String("prefix", prefix),
					slog.String("key", item.Key),
					slog.String("error", err.Error()),
				)
				// Individual failure is not fatal.
				return nil
			}
			mu.Lock()
			store[item.Key] = vec
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return store
}

func (b *StoreBuilder) embedOne(ctx context.Context, text string) ([]float32, error) {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}
	ctx, cancel := context.WithTimeout(ctx, b.cfg.EmbedTimeout)
	defer cancel()

	vec, err := b.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vec) == 0 {
		return nil, providers.ErrEmptyEmbedding
	}
	return vec, nil
}

func dedupeItems(items []Item) []Item {
	seen := make(map[string]bool, len(items))
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if seen[it.Key] {
			continue
		}
		seen[it.Key] = true
		out = append(out, it)
	}
	return out
}

// covers reports whether store has a vector for every item.
func covers(store vectorcache.Store, items []Item) bool {
	for _, it := range items {
		if _, ok := store[it.Key]; !ok {
			return false
		}
	}
	return true
}
