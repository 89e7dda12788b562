// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package router is the semantic tool router.
//
// A Router embeds a user message, compares it against exemplar phrases for
// each registered tool and against negative phrases that should never
// trigger a tool, and returns the best matching tools. It can then extract
// parameters for a chosen tool with an LLM and execute it through the
// registry.
//
// The public operations are SelectTools, RunTool, RegisterTool,
// UnregisterTool, ListTools and CacheStatus. Handlers and RegisterRoutes
// expose them over HTTP.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianRouter/services/router/corpus"
	"github.com/AleutianAI/AleutianRouter/services/router/params"
	"github.com/AleutianAI/AleutianRouter/services/router/providers"
	"github.com/AleutianAI/AleutianRouter/services/router/registry"
	"github.com/AleutianAI/AleutianRouter/services/router/routing"
	"github.com/AleutianAI/AleutianRouter/services/router/vectorcache"
)

// Deps are the collaborators of a Router.
type Deps struct {
	// Registry holds the executable tools. Required.
	Registry *registry.Registry

	// QueryEmbedder embeds user messages. Required. Usually a
	// providers.CachingEmbedder around the builder's embedder.
	QueryEmbedder providers.Embedder

	// Builder produces the exemplar and negative stores. Required.
	Builder *routing.StoreBuilder

	// Pipeline extracts tool parameters. Required.
	Pipeline *params.Pipeline

	// Corpus is the base exemplar corpus. Required.
	Corpus *corpus.Corpus

	// Tools are registered before the first warm-up. Their Exemplars join
	// the corpus without triggering a background rebuild.
	Tools []registry.ToolDefinition

	Selector routing.SelectorConfig
	Logger   *slog.Logger
}

// Router routes messages to tools.
//
// # Description
//
// The effective corpus is the base corpus minus unregistered tools plus
// exemplars supplied at registration. Any change to it triggers a
// background rebuild of the similarity index. Until the first successful
// warm-up, selection returns no tools with reason not_ready.
//
// Only registered tools are ever selected. A tool whose exemplars are
// still in the index after UnregisterTool is filtered out immediately.
//
// # Thread Safety
//
// Safe for concurrent use.
type Router struct {
	registry *registry.Registry
	index    *routing.SimilarityIndex
	selector *routing.Selector
	builder  *routing.StoreBuilder
	pipeline *params.Pipeline
	logger   *slog.Logger

	selections metric.Int64Counter

	// mu guards the corpus composition.
	mu      sync.Mutex
	base    *corpus.Corpus
	extra   map[string][]string
	removed map[string]struct{}

	// warmMu serializes index rebuilds.
	warmMu    sync.Mutex
	warm      atomic.Bool
	lastWarm  atomic.Pointer[warmState]
	reloadMu  sync.Mutex
	reloading bool
	pending   bool

	watcher *corpus.Watcher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type warmState struct {
	report routing.WarmReport
	err    error
	at     time.Time
}

// New creates a Router. The index starts cold; call Warm before serving.
func New(d Deps) (*Router, error) {
	switch {
	case d.Registry == nil:
		return nil, fmt.Errorf("router: registry is required")
	case d.QueryEmbedder == nil:
		return nil, fmt.Errorf("router: query embedder is required")
	case d.Builder == nil:
		return nil, fmt.Errorf("router: store builder is required")
	case d.Pipeline == nil:
		return nil, fmt.Errorf("router: parameter pipeline is required")
	case d.Corpus == nil:
		return nil, fmt.Errorf("router: corpus is required")
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	selections, err := otel.Meter("aleutian.router").Int64Counter("router.tool.selections",
		metric.WithDescription("Tools returned by selection"),
		metric.WithUnit("{selection}"),
	)
	if err != nil {
		logger.Warn("router: selection counter unavailable", slog.String("error", err.Error()))
	}

	index := routing.NewSimilarityIndex()
	ctx, cancel := context.WithCancel(context.Background())
	r := &Router{
		registry:   d.Registry,
		index:      index,
		builder:    d.Builder,
		pipeline:   d.Pipeline,
		logger:     logger,
		selections: selections,
		base:       d.Corpus.Clone(),
		extra:      make(map[string][]string),
		removed:    make(map[string]struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, def := range d.Tools {
		if err := d.Registry.Register(def); err != nil {
			cancel()
			return nil, fmt.Errorf("router: %w", err)
		}
		if len(def.Exemplars) > 0 {
			r.extra[def.Name] = append([]string(nil), def.Exemplars...)
		}
	}
	r.selector = routing.NewSelector(d.QueryEmbedder, index, d.Selector, logger,
		routing.WithAllowFilter(d.Registry.Has))
	return r, nil
}

// =============================================================================
// Selection and execution
// =============================================================================

// SelectTools returns up to MaxTools registered tools for message, best
// first. It never fails; problems yield an empty slice.
func (r *Router) SelectTools(ctx context.Context, message string) []routing.Selection {
	return r.Decide(ctx, message).Selections
}

// Decide is SelectTools with diagnostics.
func (r *Router) Decide(ctx context.Context, message string) routing.Decision {
	d := r.selector.Decide(ctx, message)
	if r.selections != nil {
		for _, s := range d.Selections {
			r.selections.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", s.Tool)))
		}
	}
	return d
}

// RunTool extracts parameters for the named tool from message and executes
// it.
//
// # Outputs
//
//   - registry.Outcome: tool_not_found when name is not registered, a
//     validation failure when extraction could not satisfy the schema, or
//     the handler's result. Never panics.
func (r *Router) RunTool(ctx context.Context, name, message string) registry.Outcome {
	def, ok := r.registry.Get(name)
	if !ok {
		return r.registry.Execute(ctx, name, nil)
	}
	p := r.pipeline.Extract(ctx, message, def)
	return r.registry.Execute(ctx, name, p)
}

// RouteResult is a selection followed by execution of every selected tool.
type RouteResult struct {
	Decision routing.Decision   `json:"decision"`
	Outcomes []registry.Outcome `json:"outcomes"`
}

// Route selects tools for message and runs each of them. Outcomes are in
// selection order.
func (r *Router) Route(ctx context.Context, message string) RouteResult {
	d := r.Decide(ctx, message)
	outcomes := make([]registry.Outcome, len(d.Selections))
	g, gctx := errgroup.WithContext(ctx)
	for i, s := range d.Selections {
		g.Go(func() error {
			outcomes[i] = r.RunTool(gctx, s.Tool, message)
			return nil
		})
	}
	_ = g.Wait()
	return RouteResult{Decision: d, Outcomes: outcomes}
}

// =============================================================================
// Tool management
// =============================================================================

// RegisterTool registers def, replacing any tool of the same name.
//
// # Description
//
// def.Exemplars, when present, are added to the routing corpus for the
// tool and the index is rebuilt in the background. The tool is executable
// immediately; it becomes selectable once the rebuild completes.
func (r *Router) RegisterTool(def registry.ToolDefinition) error {
	if err := r.registry.Register(def); err != nil {
		return err
	}

	r.mu.Lock()
	changed := false
	if _, ok := r.removed[def.Name]; ok {
		delete(r.removed, def.Name)
		changed = true
	}
	if len(def.Exemplars) > 0 {
		r.extra[def.Name] = append([]string(nil), def.Exemplars...)
		changed = true
	} else if _, ok := r.extra[def.Name]; ok {
		delete(r.extra, def.Name)
		changed = true
	}
	r.mu.Unlock()

	if changed {
		r.scheduleReload()
	}
	return nil
}

// UnregisterTool removes the named tool and its exemplars. It returns false
// if the tool was not registered.
func (r *Router) UnregisterTool(name string) bool {
	if !r.registry.Unregister(name) {
		return false
	}
	r.mu.Lock()
	r.removed[name] = struct{}{}
	delete(r.extra, name)
	r.mu.Unlock()

	r.scheduleReload()
	return true
}

// ListTools describes every registered tool, sorted by name.
func (r *Router) ListTools() []registry.ToolInfo {
	return r.registry.List()
}

// Registry returns the tool registry.
func (r *Router) Registry() *registry.Registry { return r.registry }

// Corpus returns a copy of the effective corpus.
func (r *Router) Corpus() *corpus.Corpus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.effectiveLocked()
}

func (r *Router) effectiveLocked() *corpus.Corpus {
	c := r.base.Clone()
	for name := range r.removed {
		c.RemoveTool(name)
	}
	names := make([]string, 0, len(r.extra))
	for name := range r.extra {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c.AddExamples(name, r.extra[name]...)
	}
	return c
}

// =============================================================================
// Warm-up and reload
// =============================================================================

// Warm builds the similarity index from the effective corpus.
//
// # Description
//
// Stores are loaded from the vector cache when their fingerprints match
// and embedded otherwise. On failure the previous index stays in place.
//
// # Outputs
//
//   - routing.WarmReport: Per-store details.
//   - error: Neither store could be produced.
func (r *Router) Warm(ctx context.Context) (routing.WarmReport, error) {
	r.warmMu.Lock()
	defer r.warmMu.Unlock()

	c := r.Corpus()
	report, err := r.builder.Warm(ctx, c, r.index)
	r.lastWarm.Store(&warmState{report: report, err: err, at: time.Now()})
	if err != nil {
		r.logger.Warn("router: warm-up failed", slog.String("error", err.Error()))
		return report, err
	}
	r.warm.Store(true)
	return report, nil
}

// Ready reports whether the index has been warmed at least once.
func (r *Router) Ready() bool {
	return r.warm.Load()
}

// SetCorpus replaces the base corpus and rebuilds the index.
func (r *Router) SetCorpus(ctx context.Context, c *corpus.Corpus) (routing.WarmReport, error) {
	r.mu.Lock()
	r.base = c.Clone()
	r.mu.Unlock()
	return r.Warm(ctx)
}

// scheduleReload rebuilds the index in the background. Requests arriving
// while a rebuild runs coalesce into one follow-up rebuild.
func (r *Router) scheduleReload() {
	r.reloadMu.Lock()
	if r.ctx.Err() != nil {
		r.reloadMu.Unlock()
		return
	}
	if r.reloading {
		r.pending = true
		r.reloadMu.Unlock()
		return
	}
	r.reloading = true
	// Add under reloadMu so Close cannot start waiting between the context
	// check and the Add.
	r.wg.Add(1)
	r.reloadMu.Unlock()

	go func() {
		defer r.wg.Done()
		for {
			if r.ctx.Err() == nil {
				_, _ = r.Warm(r.ctx)
			}
			r.reloadMu.Lock()
			if !r.pending {
				r.reloading = false
				r.reloadMu.Unlock()
				return
			}
			r.pending = false
			r.reloadMu.Unlock()
		}
	}()
}

// WaitIdle blocks until background rebuilds finish or ctx is done.
func (r *Router) WaitIdle(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WatchCorpus reloads the base corpus whenever the file at path changes.
func (r *Router) WatchCorpus(ctx context.Context, path string) error {
	w, err := corpus.NewWatcher(path, func(ctx context.Context, c *corpus.Corpus) {
		if _, err := r.SetCorpus(ctx, c); err != nil {
			r.logger.Warn("router: corpus reload failed", slog.String("path", path), slog.String("error", err.Error()))
		}
	}, r.logger)
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	r.mu.Lock()
	r.watcher = w
	r.mu.Unlock()
	return nil
}

// =============================================================================
// Cache introspection
// =============================================================================

// CacheStatus describes the vector cache and the in-memory index.
type CacheStatus struct {
	Backend    string               `json:"backend"`
	Model      string               `json:"model"`
	Warm       bool                 `json:"warm"`
	Exemplars  int                  `json:"exemplars"`
	Negatives  int                  `json:"negatives"`
	Tools      []string             `json:"tools"`
	Prefixes   []vectorcache.Status `json:"prefixes"`
	LastWarm   *routing.WarmReport  `json:"last_warm,omitempty"`
	LastError  string               `json:"last_error,omitempty"`
	LastWarmAt *time.Time           `json:"last_warm_at,omitempty"`
}

// CacheStatus reports the persisted state of the tool and negative stores
// against the current corpus, plus the in-memory index counts.
func (r *Router) CacheStatus(ctx context.Context) CacheStatus {
	exemplars, negatives := r.index.Counts()
	st := CacheStatus{
		Backend:   "none",
		Model:     r.builder.Model(),
		Warm:      r.Ready(),
		Exemplars: exemplars,
		Negatives: negatives,
		Tools:     r.index.Tools(),
		Prefixes:  []vectorcache.Status{},
	}
	if ws := r.lastWarm.Load(); ws != nil {
		report := ws.report
		at := ws.at
		st.LastWarm = &report
		st.LastWarmAt = &at
		if ws.err != nil {
			st.LastError = ws.err.Error()
		}
	}

	cache := r.builder.Cache()
	if cache == nil {
		return st
	}
	st.Backend = cache.Backend().Name()

	toolFP, negFP, err := r.builder.Fingerprints(r.Corpus())
	if err != nil {
		r.logger.Warn("router: fingerprint failed", slog.String("error", err.Error()))
	}
	st.Prefixes = append(st.Prefixes,
		cache.Stat(ctx, routing.ToolPrefix, toolFP),
		cache.Stat(ctx, routing.NegativePrefix, negFP),
	)
	return st
}

// InvalidateCache deletes the persisted stores for prefixes, or for both
// the tool and negative stores when none are given. The in-memory index is
// untouched.
func (r *Router) InvalidateCache(ctx context.Context, prefixes ...string) error {
	cache := r.builder.Cache()
	if cache == nil {
		return nil
	}
	if len(prefixes) == 0 {
		prefixes = []string{routing.ToolPrefix, routing.NegativePrefix}
	}
	var errs []error
	for _, p := range prefixes {
		if err := cache.Invalidate(ctx, p); err != nil {
			errs = append(errs, fmt.Errorf("invalidate %s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

// Close stops the corpus watcher and background rebuilds, then closes the
// vector cache.
func (r *Router) Close() error {
	r.reloadMu.Lock()
	r.cancel()
	r.reloadMu.Unlock()
	r.mu.Lock()
	w := r.watcher
	r.mu.Unlock()
	if w != nil {
		w.Stop()
	}
	r.wg.Wait()
	if cache := r.builder.Cache(); cache != nil {
		return cache.Close()
	}
	return nil
}
