// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package params turns a free-text message into typed tool arguments.
//
// Extraction asks a chat model for a JSON object and fills the gaps with
// name-based heuristics. It never fails: when the model is unavailable
// every parameter is derived heuristically.
package params

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianRouter/services/llm"
	"github.com/AleutianAI/AleutianRouter/services/router/providers"
	"github.com/AleutianAI/AleutianRouter/services/router/registry"
)

// =============================================================================
// Configuration
// =============================================================================

// Config configures a Pipeline.
type Config struct {
	// Model overrides the chat client's model when non-empty.
	Model string

	// Timeout bounds each chat call.
	// Default: 10s
	Timeout time.Duration

	// Temperature for the extraction call.
	// Default: 0.1
	Temperature float64

	// MaxTokens limits the reply.
	// Default: 200
	MaxTokens int

	// SystemPrompt is the system message.
	// Default: DefaultSystemPrompt
	SystemPrompt string

	// BatchConcurrency bounds parallel extractions in ExtractBatch.
	// Default: 4
	BatchConcurrency int
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:          10 * time.Second,
		Temperature:      0.1,
		MaxTokens:        200,
		SystemPrompt:     DefaultSystemPrompt,
		BatchConcurrency: 4,
	}
}

// Source records where extracted values came from.
type Source string

const (
	// SourceLLM means every parameter was taken from the model's reply.
	SourceLLM Source = "llm"

	// SourceHeuristic means the model answered but at least one required
	// parameter was filled heuristically.
	SourceHeuristic Source = "heuristic"

	// SourceFallback means the model call failed and every parameter was
	// derived from the message.
	SourceFallback Source = "fallback"
)

// Result is an extraction with provenance.
type Result struct {
	Params   registry.Params `json:"params"`
	Source   Source          `json:"source"`
	Repaired bool            `json:"repaired,omitempty"`
}

// =============================================================================
// Pipeline
// =============================================================================

// Pipeline extracts parameters for a tool from a message.
//
// # Thread Safety
//
// Safe for concurrent use.
type Pipeline struct {
	chat   providers.ChatClient
	cfg    Config
	logger *slog.Logger
}

// New creates a pipeline.
//
// # Inputs
//
//   - chat: Chat client. Nil means heuristics only.
//   - cfg: Configuration. Zero fields take defaults.
//   - logger: Logger. May be nil.
func New(chat providers.ChatClient, cfg Config, logger *slog.Logger) *Pipeline {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = def.SystemPrompt
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = def.BatchConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{chat: chat, cfg: cfg, logger: logger}
}

// Extract returns parameters for def drawn from message.
//
// # Description
//
// The result has one key per schema parameter. Values are coerced leniently:
// a value that cannot be converted to its declared type is kept as a string
// so the registry's validation can report it.
func (p *Pipeline) Extract(ctx context.Context, message string, def registry.ToolDefinition) registry.Params {
	return p.ExtractResult(ctx, message, def).Params
}

// ExtractResult is Extract with provenance.
func (p *Pipeline) ExtractResult(ctx context.Context, message string, def registry.ToolDefinition) Result {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "params.Pipeline.Extract")
	defer span.End()
	span.SetAttributes(
		attribute.String("extractor.tool", def.Name),
		attribute.Int("extractor.params", len(def.Parameters)),
	)

	var res Result
	if len(def.Parameters) == 0 {
		res = Result{Params: registry.Params{}, Source: SourceLLM}
	} else {
		res = p.extract(ctx, message, def)
	}

	duration := time.Since(start)
	extractionDuration.WithLabelValues(string(res.Source)).Observe(duration.Seconds())
	extractionsTotal.WithLabelValues(string(res.Source)).Inc()
	span.SetAttributes(
		attribute.String("extractor.source", string(res.Source)),
		attribute.Bool("extractor.repaired", res.Repaired),
	)
	if res.Source == SourceFallback {
		span.SetStatus(codes.Error, "chat failed")
	}
	return res
}

func (p *Pipeline) extract(ctx context.Context, message string, def registry.ToolDefinition) Result {
	reply, err := p.generate(ctx, message, def)
	if err != nil {
		p.logger.WarnContext(ctx, "params: extraction call failed, using heuristics",
			slog.String("tool", def.Name),
			slog.String("error", err.Error()),
		)
		return Result{Params: fallback(message, def), Source: SourceFallback}
	}

	res := Result{Source: SourceLLM}
	obj, repaired, err := parseFirstObject(reply)
	if err != nil {
		p.logger.WarnContext(ctx, "params: unparseable extraction reply",
			slog.String("tool", def.Name),
			slog.String("error", err.Error()),
			slog.String("reply", llm.SafeLogString(truncate(reply, 200))),
		)
		obj = map[string]any{}
	}
	res.Repaired = repaired

	out := make(registry.Params, len(def.Parameters))
	for _, name := range def.ParamNames() {
		spec := def.Parameters[name]
		v, present := obj[name]
		if !present || isNull(v) {
			if !spec.Required {
				out[name] = spec.Default
				continue
			}
			res.Source = SourceHeuristic
			hv, ok := heuristicValue(name, message)
			if !ok {
				out[name] = nil
				continue
			}
			v = hv
		}
		coerced, _ := registry.Coerce(v, spec.Type)
		out[name] = coerced
	}
	res.Params = out
	return res
}

// generate calls the chat model under the configured timeout.
func (p *Pipeline) generate(ctx context.Context, message string, def registry.ToolDefinition) (string, error) {
	if p.chat == nil {
		return "", errNoChatClient
	}
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	messages := []llm.Message{
		{Role: "system", Content: p.cfg.SystemPrompt},
		{Role: "user", Content: buildPrompt(message, def)},
	}
	opts := providers.ChatOptions{
		Temperature: p.cfg.Temperature,
		MaxTokens:   p.cfg.MaxTokens,
		Model:       p.cfg.Model,
	}
	return p.chat.Chat(ctx, messages, opts)
}

var errNoChatClient = errors.New("no chat client configured")

// fallback derives every parameter from message.
//
// Optional parameters whose heuristic value is absent or does not coerce
// take their default; required ones keep the lenient string form.
func fallback(message string, def registry.ToolDefinition) registry.Params {
	out := make(registry.Params, len(def.Parameters))
	for _, name := range def.ParamNames() {
		spec := def.Parameters[name]
		v, ok := heuristicValue(name, message)
		if !ok {
			if spec.Required {
				out[name] = nil
			} else {
				out[name] = spec.Default
			}
			continue
		}
		coerced, cok := registry.Coerce(v, spec.Type)
		if !cok && !spec.Required {
			out[name] = spec.Default
			continue
		}
		out[name] = coerced
	}
	return out
}

func isNull(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == "null"
}

// ExtractBatch runs Extract for each message with bounded concurrency.
//
// # Outputs
//
//   - []registry.Params: One entry per message, in input order.
func (p *Pipeline) ExtractBatch(ctx context.Context, messages []string, def registry.ToolDefinition) []registry.Params {
	out := make([]registry.Params, len(messages))
	var g errgroup.Group
	g.SetLimit(p.cfg.BatchConcurrency)
	for i, msg := range messages {
		g.Go(func() error {
			out[i] = p.Extract(ctx, msg, def)
			return nil
		})
	}
	_ = g.Wait()
	return out
}
