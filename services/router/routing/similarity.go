// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routing ranks registered tools against a user message by cosine
// similarity to embedded exemplar phrases.
//
// A message is first compared with a set of negative exemplars (small talk,
// general knowledge, creative requests). If it is close enough to any of
// them, no tool is selected. Otherwise every tool whose best exemplar clears
// the tool threshold becomes a candidate.
package routing

import (
	"math"
	"sync"

	"github.com/AleutianAI/AleutianRouter/services/router/corpus"
	"github.com/AleutianAI/AleutianRouter/services/router/vectorcache"
)

// NoNegativeSimilarity is returned by MaxNegativeSimilarity when the index
// holds no negative vectors. It is below every threshold, so the negative
// gate never fires.
var NoNegativeSimilarity = math.Inf(-1)

// Score returns the cosine similarity of a and b.
//
// # Outputs
//
//   - float64: In [-1, 1]. Zero when either vector has zero norm or the
//     lengths differ. Never NaN.
func Score(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, sumA, sumB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		sumA += x * x
		sumB += y * y
	}
	if sumA == 0 || sumB == 0 {
		return 0
	}
	// One sqrt over the product keeps Score(a, a) exactly 1.
	s := dot / math.Sqrt(sumA*sumB)
	switch {
	case math.IsNaN(s):
		return 0
	case s > 1:
		return 1
	case s < -1:
		return -1
	}
	return s
}

// Entry is one embedded tool exemplar.
type Entry struct {
	Tool   string
	Key    string
	Vector []float32
}

// Candidate is a tool whose best exemplar cleared the threshold.
type Candidate struct {
	Tool  string  `json:"tool"`
	Score float64 `json:"score"`
}

// SimilarityIndex holds tool exemplar vectors and negative vectors.
//
// # Thread Safety
//
// Safe for concurrent use. Replace swaps the contents under the write lock;
// queries hold the read lock.
type SimilarityIndex struct {
	mu        sync.RWMutex
	entries   []Entry
	negatives [][]float32
	ready     bool
}

// NewSimilarityIndex creates an empty index. It is not ready until the first
// Replace.
func NewSimilarityIndex() *SimilarityIndex {
	return &SimilarityIndex{}
}

// Replace installs new contents. entries keep their order, which decides
// candidate order among equal scores.
func (ix *SimilarityIndex) Replace(entries []Entry, negatives [][]float32) {
	e := append([]Entry(nil), entries...)
	n := append([][]float32(nil), negatives...)

	ix.mu.Lock()
	ix.entries = e
	ix.negatives = n
	ix.ready = true
	ix.mu.Unlock()

	indexExemplars.Set(float64(len(e)))
	indexNegatives.Set(float64(len(n)))
}

// Ready reports whether Replace has been called.
func (ix *SimilarityIndex) Ready() bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.ready
}

// Counts returns the number of exemplar and negative vectors.
func (ix *SimilarityIndex) Counts() (exemplars, negatives int) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries), len(ix.negatives)
}

// Tools returns the distinct tool names in insertion order.
func (ix *SimilarityIndex) Tools() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	seen := make(map[string]bool)
	var tools []string
	for _, e := range ix.entries {
		if !seen[e.Tool] {
			seen[e.Tool] = true
			tools = append(tools, e.Tool)
		}
	}
	return tools
}

// MaxNegativeSimilarity returns the highest similarity between q and any
// negative vector, or NoNegativeSimilarity if there are none.
func (ix *SimilarityIndex) MaxNegativeSimilarity(q []float32) float64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	best := NoNegativeSimilarity
	for _, n := range ix.negatives {
		if s := Score(q, n); s > best {
			best = s
		}
	}
	return best
}

// ToolSimilarities returns, per tool, the best similarity between q and the
// tool's exemplars, keeping only pairs strictly above threshold.
//
// # Outputs
//
//   - []Candidate: One per qualifying tool, ordered by the first exemplar
//     that qualified. Not sorted by score.
func (ix *SimilarityIndex) ToolSimilarities(q []float32, threshold float64) []Candidate {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	pos := make(map[string]int)
	var out []Candidate
	for _, e := range ix.entries {
		s := Score(q, e.Vector)
		if s <= threshold {
			continue
		}
		if i, ok := pos[e.Tool]; ok {
			if s > out[i].Score {
				out[i].Score = s
			}
			continue
		}
		pos[e.Tool] = len(out)
		out = append(out, Candidate{Tool: e.Tool, Score: s})
	}
	return out
}

// EntriesFromStore orders a tool store by corpus exemplar order. Exemplars
// without a vector are skipped.
func EntriesFromStore(exemplars []corpus.Exemplar, store vectorcache.Store) []Entry {
	entries := make([]Entry, 0, len(exemplars))
	for _, ex := range exemplars {
		key := ex.Key()
		if vec, ok := store[key]; ok {
			entries = append(entries, Entry{Tool: ex.Tool, Key: key, Vector: vec})
		}
	}
	return entries
}

// NegativesFromStore returns negative vectors in corpus order. Texts
// without a vector are skipped.
func NegativesFromStore(texts []string, store vectorcache.Store) [][]float32 {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		if vec, ok := store[t]; ok {
			out = append(out, vec)
		}
	}
	return out
}
