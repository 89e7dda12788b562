// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package corpus loads the exemplar and negative phrase sets used for
// semantic tool routing.
//
// The default corpus is embedded from exemplars.yaml. Deployments may point
// at an external file instead and hot-reload it with Watcher.
package corpus

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gopkg.in/yaml.v3"
)

//go:embed exemplars.yaml
var defaultCorpusYAML []byte

// MaxYAMLFileSize bounds corpus files read from disk.
const MaxYAMLFileSize = 1 << 20

var tracer = otel.Tracer("aleutian.router.corpus")

// toolNamePattern excludes ':' because store keys are "{tool}:{example}".
var toolNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// Corpus is the routing reference data: labeled exemplars per tool plus
// the negative set.
type Corpus struct {
	Tools     []ToolExemplars `yaml:"tools"`
	Negatives []string        `yaml:"negatives"`
}

// ToolExemplars holds the example phrases for one tool.
type ToolExemplars struct {
	Name     string   `yaml:"name"`
	Examples []string `yaml:"examples"`
}

// Exemplar is one (tool, example) pair in corpus order.
type Exemplar struct {
	Tool string `json:"tool"`
	Text string `json:"text"`
}

// Key returns the embedding store key "{tool}:{text}".
func (e Exemplar) Key() string { return ToolKey(e.Tool, e.Text) }

// ToolKey builds the embedding store key for a tool exemplar.
func ToolKey(tool, text string) string { return tool + ":" + text }

// SplitToolKey splits a store key at the first ':'.
func SplitToolKey(key string) (tool, text string) {
	tool, text, _ = strings.Cut(key, ":")
	return tool, text
}

// Default parses the embedded corpus.
func Default(ctx context.Context) (*Corpus, error) {
	return Parse(ctx, defaultCorpusYAML)
}

// LoadFile reads and parses a corpus file.
func LoadFile(ctx context.Context, path string) (*Corpus, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("corpus: stat %s: %w", path, err)
	}
	if info.Size() > MaxYAMLFileSize {
		return nil, fmt.Errorf("corpus: %s exceeds maximum size (%d > %d)", path, info.Size(), MaxYAMLFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("corpus: read %s: %w", path, err)
	}
	return Parse(ctx, data)
}

// Parse decodes and validates corpus YAML.
//
// # Description
//
// Example and negative phrases are whitespace-trimmed. Blank phrases are
// dropped. A tool listed twice has its examples merged under the first
// occurrence.
//
// # Outputs
//
//   - *Corpus: The validated corpus.
//   - error: Non-nil on empty input, YAML errors, or invalid tool names.
func Parse(ctx context.Context, data []byte) (*Corpus, error) {
	_, span := tracer.Start(ctx, "corpus.Parse")
	defer span.End()

	if len(data) == 0 {
		return nil, fmt.Errorf("corpus: empty YAML data")
	}
	if len(data) > MaxYAMLFileSize {
		return nil, fmt.Errorf("corpus: YAML data exceeds maximum size (%d > %d)", len(data), MaxYAMLFileSize)
	}

	var raw Corpus
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("corpus: parsing YAML: %w", err)
	}

	c := &Corpus{}
	for i, t := range raw.Tools {
		if !toolNamePattern.MatchString(t.Name) {
			return nil, fmt.Errorf("corpus: tools[%d]: invalid tool name %q", i, t.Name)
		}
		c.AddExamples(t.Name, t.Examples...)
	}
	for _, n := range raw.Negatives {
		if n = strings.TrimSpace(n); n != "" {
			c.Negatives = append(c.Negatives, n)
		}
	}

	span.SetAttributes(
		attribute.Int("tools", len(c.Tools)),
		attribute.Int("exemplars", c.ExemplarCount()),
		attribute.Int("negatives", len(c.Negatives)),
	)
	slog.Debug("corpus loaded",
		slog.Int("tools", len(c.Tools)),
		slog.Int("exemplars", c.ExemplarCount()),
		slog.Int("negatives", len(c.Negatives)))
	return c, nil
}

// AddExamples appends examples to the named tool, creating it if needed.
// Blank examples are skipped.
func (c *Corpus) AddExamples(tool string, examples ...string) {
	idx := -1
	for i := range c.Tools {
		if c.Tools[i].Name == tool {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.Tools = append(c.Tools, ToolExemplars{Name: tool})
		idx = len(c.Tools) - 1
	}
	for _, ex := range examples {
		if ex = strings.TrimSpace(ex); ex != "" {
			c.Tools[idx].Examples = append(c.Tools[idx].Examples, ex)
		}
	}
}

// RemoveTool drops every exemplar for tool. Returns true if it was present.
func (c *Corpus) RemoveTool(tool string) bool {
	for i := range c.Tools {
		if c.Tools[i].Name == tool {
			c.Tools = append(c.Tools[:i], c.Tools[i+1:]...)
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (c *Corpus) Clone() *Corpus {
	out := &Corpus{
		Tools:     make([]ToolExemplars, len(c.Tools)),
		Negatives: append([]string(nil), c.Negatives...),
	}
	for i, t := range c.Tools {
		out.Tools[i] = ToolExemplars{Name: t.Name, Examples: append([]string(nil), t.Examples...)}
	}
	return out
}

// Exemplars flattens the tool exemplars in corpus order.
func (c *Corpus) Exemplars() []Exemplar {
	out := make([]Exemplar, 0, c.ExemplarCount())
	for _, t := range c.Tools {
		for _, ex := range t.Examples {
			out = append(out, Exemplar{Tool: t.Name, Text: ex})
		}
	}
	return out
}

// ExemplarCount returns the total number of tool exemplars.
func (c *Corpus) ExemplarCount() int {
	n := 0
	for _, t := range c.Tools {
		n += len(t.Examples)
	}
	return n
}

// ToolNames returns the tool names in corpus order.
func (c *Corpus) ToolNames() []string {
	names := make([]string, len(c.Tools))
	for i, t := range c.Tools {
		names[i] = t.Name
	}
	return names
}

// ToolFingerprintInput is the value hashed for the "tool" store. The model
// is included because vectors from different models are not comparable.
func (c *Corpus) ToolFingerprintInput(model string) any {
	return struct {
		Model     string     `json:"model"`
		Exemplars []Exemplar `json:"exemplars"`
	}{Model: model, Exemplars: c.Exemplars()}
}

// NegativeFingerprintInput is the value hashed for the "negative" store.
func (c *Corpus) NegativeFingerprintInput(model string) any {
	return struct {
		Model     string   `json:"model"`
		Negatives []string `json:"negatives"`
	}{Model: model, Negatives: c.Negatives}
}
