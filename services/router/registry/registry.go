// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package registry

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var toolNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// Registry maps tool names to definitions.
//
// # Thread Safety
//
// Safe for concurrent use. Handlers run outside the lock.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]ToolDefinition
	logger *slog.Logger
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]ToolDefinition),
		logger: logger,
	}
}

// Register adds a tool, replacing any tool with the same name.
//
// # Description
//
// A replacement is logged with replaced=true. The definition's Parameters map is
// copied so later mutation by the caller does not affect validation.
//
// # Outputs
//
//   - error: Wraps ErrInvalidDefinition if the name is empty or malformed,
//     the handler is nil, or a parameter declares an unknown type.
func (r *Registry) Register(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("%w: tool name cannot be empty", ErrInvalidDefinition)
	}
	if !toolNamePattern.MatchString(def.Name) {
		return fmt.Errorf("%w: tool name %q contains invalid characters", ErrInvalidDefinition, def.Name)
	}
	if def.Handler == nil {
		return fmt.Errorf("%w: tool %s has no handler", ErrInvalidDefinition, def.Name)
	}
	params := make(map[string]ParamSpec, len(def.Parameters))
	for name, spec := range def.Parameters {
		if name == "" {
			return fmt.Errorf("%w: tool %s has an unnamed parameter", ErrInvalidDefinition, def.Name)
		}
		if !spec.Type.Valid() {
			return fmt.Errorf("%w: tool %s parameter %s has unknown type %q", ErrInvalidDefinition, def.Name, name, spec.Type)
		}
		params[name] = spec
	}
	def.Parameters = params
	def.Exemplars = append([]string(nil), def.Exemplars...)

	r.mu.Lock()
	_, replaced := r.tools[def.Name]
	r.tools[def.Name] = def
	count := len(r.tools)
	r.mu.Unlock()

	registeredTools.Set(float64(count))
	r.logger.Info("tool registered",
		slog.String("tool", def.Name),
		slog.Int("parameters", len(params)),
		slog.Bool("replaced", replaced),
	)
	return nil
}

// Unregister removes a tool. It reports whether the tool existed.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	_, ok := r.tools[name]
	delete(r.tools, name)
	count := len(r.tools)
	r.mu.Unlock()

	if ok {
		registeredTools.Set(float64(count))
		r.logger.Info("tool unregistered", slog.String("tool", name))
	}
	return ok
}

// Get returns the definition for name.
func (r *Registry) Get(name string) (ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tools[name]
	return def, ok
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Info returns the public description of a tool.
func (r *Registry) Info(name string) (ToolInfo, bool) {
	def, ok := r.Get(name)
	if !ok {
		return ToolInfo{}, false
	}
	return infoOf(def), true
}

// List returns every registered tool, sorted by name.
func (r *Registry) List() []ToolInfo {
	r.mu.RLock()
	infos := make([]ToolInfo, 0, len(r.tools))
	for _, def := range r.tools {
		infos = append(infos, infoOf(def))
	}
	r.mu.RUnlock()
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

func infoOf(def ToolDefinition) ToolInfo {
	params := make(map[string]ParamSpec, len(def.Parameters))
	for k, v := range def.Parameters {
		params[k] = v
	}
	return ToolInfo{
		Name:        def.Name,
		Description: def.Description,
		Parameters:  params,
		Required:    def.RequiredParams(),
	}
}

// Validate checks raw parameters against a tool's schema.
//
// # Description
//
// Every declared parameter is checked in sorted name order and all problems
// are collected:
//
//   - A required parameter that is absent or null is an error.
//   - A present value must coerce to its declared type.
//   - An absent optional parameter takes its default; with no default it is
//     omitted.
//
// Keys not declared by the schema are dropped.
//
// # Outputs
//
//   - Params: The typed parameters. Nil if any problem was found.
//   - []string: Problems in human-readable form. Nil when valid.
func (r *Registry) Validate(name string, raw map[string]any) (Params, []string) {
	def, ok := r.Get(name)
	if !ok {
		return nil, []string{fmt.Sprintf("Tool '%s' not found", name)}
	}
	return validate(def, raw)
}

func validate(def ToolDefinition, raw map[string]any) (Params, []string) {
	out := make(Params, len(def.Parameters))
	var problems []string

	for _, name := range def.ParamNames() {
		spec := def.Parameters[name]
		value, present := raw[name]
		if !present || value == nil {
			if spec.Required {
				problems = append(problems, fmt.Sprintf("Required parameter '%s' is missing", name))
				continue
			}
			if spec.Default != nil {
				out[name] = spec.Default
			}
			continue
		}

		coerced, ok := Coerce(value, spec.Type)
		if !ok {
			problems = append(problems, fmt.Sprintf("Parameter '%s' must be of type %s", name, spec.Type))
			continue
		}
		out[name] = coerced
	}

	if len(problems) > 0 {
		return nil, problems
	}
	return out, nil
}

// Execute validates params and runs the named tool.
//
// # Description
//
// Unknown tools fail with KindToolNotFound and validation problems with
// KindValidation; in both cases the handler is not invoked. A handler
// error or panic yields KindExecution. Panics never escape.
//
// # Inputs
//
//   - ctx: Passed to the handler.
//   - name: Tool name.
//   - params: Raw parameter values, typically from the extraction pipeline.
//
// # Outputs
//
//   - Outcome: Always populated with an ExecutionID and Duration.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any) Outcome {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "registry.Registry.Execute",
		trace.WithAttributes(attribute.String("tool.name", name)),
	)
	defer span.End()

	out := Outcome{
		ExecutionID: uuid.NewString(),
		Tool:        name,
	}
	span.SetAttributes(attribute.String("execution.id", out.ExecutionID))

	finish := func() Outcome {
		out.Duration = time.Since(start)
		label := name
		if out.ErrorKind == KindToolNotFound {
			label = "unknown"
		}
		toolExecutionsTotal.WithLabelValues(label, string(out.Status), string(out.ErrorKind)).Inc()
		if out.OK() {
			span.SetStatus(codes.Ok, "")
		} else {
			span.SetStatus(codes.Error, out.Error)
			span.SetAttributes(attribute.String("error.kind", string(out.ErrorKind)))
		}
		return out
	}

	def, ok := r.Get(name)
	if !ok {
		out.Status = StatusFailure
		out.ErrorKind = KindToolNotFound
		out.Error = fmt.Sprintf("Tool '%s' not found", name)
		r.logger.WarnContext(ctx, "tool not found", slog.String("tool", name))
		return finish()
	}

	typed, problems := validate(def, params)
	if len(problems) > 0 {
		out.Status = StatusFailure
		out.ErrorKind = KindValidation
		out.ValidationErrors = problems
		out.Error = (&ValidationError{Tool: name, Problems: problems}).Error()
		r.logger.WarnContext(ctx, "tool parameter validation failed",
			slog.String("tool", name),
			slog.Any("problems", problems),
		)
		return finish()
	}
	out.Params = typed

	r.logger.InfoContext(ctx, "executing tool",
		slog.String("tool", name),
		slog.String("execution_id", out.ExecutionID),
	)

	handlerStart := time.Now()
	result, err := invoke(ctx, def.Handler, typed)
	toolExecutionDuration.WithLabelValues(name).Observe(time.Since(handlerStart).Seconds())

	if err != nil {
		out.Status = StatusFailure
		out.ErrorKind = KindExecution
		out.Error = err.Error()
		span.RecordError(err)
		r.logger.ErrorContext(ctx, "tool execution failed",
			slog.String("tool", name),
			slog.String("execution_id", out.ExecutionID),
			slog.String("error", err.Error()),
		)
		return finish()
	}

	out.Status = StatusSuccess
	out.Result = result
	r.logger.InfoContext(ctx, "tool execution completed",
		slog.String("tool", name),
		slog.String("execution_id", out.ExecutionID),
		slog.Duration("duration", time.Since(start)),
	)
	return finish()
}

// invoke calls h, converting a panic into an error.
func invoke(ctx context.Context, h Handler, params Params) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Default().ErrorContext(ctx, "tool handler panicked",
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
			result = nil
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return h(ctx, params)
}
