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
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianRouter/services/router/providers"
)

// Default selector thresholds.
const (
	DefaultNegativeThreshold = 0.6
	DefaultToolThreshold     = 0.4
	DefaultMaxTools          = 3
	DefaultQueryEmbedTimeout = 10 * time.Second
)

// Reason explains a selection decision.
type Reason string

const (
	ReasonSelected      Reason = "selected"
	ReasonNoMatch       Reason = "no_match"
	ReasonNegativeGate  Reason = "negative_gate"
	ReasonProviderError Reason = "provider_error"
	ReasonNotReady      Reason = "not_ready"
	ReasonEmptyMessage  Reason = "empty_message"
)

// Selection is one chosen tool.
type Selection struct {
	Tool  string  `json:"tool"`
	Score float64 `json:"score"`
}

// Decision is a selection with diagnostics.
type Decision struct {
	Reason Reason `json:"reason"`

	// MaxNegative is the highest negative similarity. Nil when the query was
	// not embedded or the index has no negatives.
	MaxNegative *float64 `json:"max_negative,omitempty"`

	// Candidates are the tools above the tool threshold, before the allow
	// filter, sorting and truncation.
	Candidates []Candidate `json:"candidates,omitempty"`

	Selections []Selection   `json:"selections"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
}

// SelectorConfig holds the selection thresholds.
type SelectorConfig struct {
	// NegativeThreshold rejects a message whose best negative similarity is
	// strictly above it.
	NegativeThreshold float64

	// ToolThreshold admits an exemplar whose similarity is strictly above it.
	ToolThreshold float64

	// MaxTools caps the result length. Zero means 3.
	MaxTools int

	// EmbedTimeout bounds the query embedding call. Zero means 10s.
	EmbedTimeout time.Duration
}

// DefaultSelectorConfig returns the production thresholds.
func DefaultSelectorConfig() SelectorConfig {
	return SelectorConfig{
		NegativeThreshold: DefaultNegativeThreshold,
		ToolThreshold:     DefaultToolThreshold,
		MaxTools:          DefaultMaxTools,
		EmbedTimeout:      DefaultQueryEmbedTimeout,
	}
}

// SelectorOption configures a Selector.
type SelectorOption func(*Selector)

// WithAllowFilter drops candidates for which allow returns false.
func WithAllowFilter(allow func(tool string) bool) SelectorOption {
	return func(s *Selector) { s.allow = allow }
}

// Selector chooses tools for a message.
//
// # Description
//
// Selection fails closed. A provider error, timeout or empty vector yields
// an empty result, never an error.
//
// # Thread Safety
//
// Safe for concurrent use.
type Selector struct {
	embedder providers.Embedder
	index    *SimilarityIndex
	cfg      SelectorConfig
	allow    func(string) bool
	logger   *slog.Logger
}

// NewSelector creates a selector.
//
// # Inputs
//
//   - embedder: Query embedding provider. Must not be nil.
//   - index: Similarity index. Must not be nil.
//   - cfg: Thresholds.
//   - logger: Logger. May be nil.
func NewSelector(embedder providers.Embedder, index *SimilarityIndex, cfg SelectorConfig, logger *slog.Logger, opts ...SelectorOption) *Selector {
	if embedder == nil || index == nil {
		panic("routing.NewSelector: embedder and index must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxTools <= 0 {
		cfg.MaxTools = DefaultMaxTools
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = DefaultQueryEmbedTimeout
	}
	s := &Selector{
		embedder: embedder,
		index:    index,
		cfg:      cfg,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the selector thresholds.
func (s *Selector) Config() SelectorConfig { return s.cfg }

// Select returns up to MaxTools tools for message, best first.
func (s *Selector) Select(ctx context.Context, message string) []Selection {
	return s.Decide(ctx, message).Selections
}

// Decide runs selection and returns the full decision.
//
// # Description
//
//  1. Embed the message under EmbedTimeout.
//  2. Reject if the best negative similarity exceeds NegativeThreshold.
//  3. Collect per-tool best similarities above ToolThreshold.
//  4. Apply the allow filter, sort by score descending (stable, so ties keep
//     exemplar order) and truncate to MaxTools.
//
// # Outputs
//
//   - Decision: Selections is never nil.
func (s *Selector) Decide(ctx context.Context, message string) Decision {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "routing.Selector.Decide",
		trace.WithAttributes(attribute.Int("message.length", len(message))),
	)
	defer span.End()

	d := s.decide(ctx, message)
	d.Duration = time.Since(start)

	selectionDuration.Observe(d.Duration.Seconds())
	selectionsTotal.WithLabelValues(string(d.Reason)).Inc()
	span.SetAttributes(
		attribute.String("selection.reason", string(d.Reason)),
		attribute.Int("selection.count", len(d.Selections)),
	)
	return d
}

func (s *Selector) decide(ctx context.Context, message string) Decision {
	d := Decision{Selections: []Selection{}}

	if !s.index.Ready() {
		d.Reason = ReasonNotReady
		return d
	}
	if strings.TrimSpace(message) == "" {
		d.Reason = ReasonEmptyMessage
		return d
	}

	embedCtx, cancel := context.WithTimeout(ctx, s.cfg.EmbedTimeout)
	q, err := s.embedder.Embed(embedCtx, message)
	cancel()
	if err == nil && len(q) == 0 {
		err = providers.ErrEmptyEmbedding
	}
	if err != nil {
		d.Reason = ReasonProviderError
		d.Error = err.Error()
		s.logger.WarnContext(ctx, "routing: query embedding failed, selecting no tools",
			slog.String("error", err.Error()),
		)
		return d
	}

	maxNeg := s.index.MaxNegativeSimilarity(q)
	if !math.IsInf(maxNeg, -1) {
		d.MaxNegative = &maxNeg
	}
	if maxNeg > s.cfg.NegativeThreshold {
		d.Reason = ReasonNegativeGate
		negativeGateRejections.Inc()
		s.logger.DebugContext(ctx, "routing: message matched negative exemplar",
			slog.Float64("max_negative", maxNeg),
		)
		return d
	}

	candidates := s.index.ToolSimilarities(q, s.cfg.ToolThreshold)
	d.Candidates = candidates

	picked := make([]Selection, 0, len(candidates))
	for _, c := range candidates {
		if s.allow != nil && !s.allow(c.Tool) {
			continue
		}
		picked = append(picked, Selection{Tool: c.Tool, Score: c.Score})
	}
	sort.SliceStable(picked, func(i, j int) bool { return picked[i].Score > picked[j].Score })
	if len(picked) > s.cfg.MaxTools {
		picked = picked[:s.cfg.MaxTools]
	}

	d.Selections = picked
	if len(picked) == 0 {
		d.Reason = ReasonNoMatch
	} else {
		d.Reason = ReasonSelected
	}
	return d
}
