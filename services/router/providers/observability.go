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
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// providerTracerName is the shared OTel tracer name for all adapters.
const providerTracerName = "aleutian.router.providers"

// Operation labels.
const (
	opChat  = "chat"
	opEmbed = "embed"
)

var (
	// providerCallDuration measures provider call latency.
	//
	// Labels:
	//   - provider: "ollama", "openai", "anthropic", "langchain"
	//   - op: "chat" or "embed"
	//   - status: "success" or "error"
	providerCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "router",
			Subsystem: "provider",
			Name:      "call_duration_seconds",
			Help:      "Duration of embedding and chat provider calls in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"provider", "op", "status"},
	)

	// providerErrorsTotal counts provider errors by type.
	//
	// Labels:
	//   - error_type: "timeout", "auth", "rate_limit", "server", "empty", "unknown"
	providerErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "router",
			Subsystem: "provider",
			Name:      "errors_total",
			Help:      "Total provider errors by type.",
		},
		[]string{"provider", "op", "error_type"},
	)
)

// classifyProviderError maps an error to a label-safe error type string.
//
// # Description
//
// Inspects the error message to categorize it into one of the predefined
// error types. Used for Prometheus labels to avoid high cardinality.
//
// # Outputs
//
//   - string: One of "timeout", "auth", "rate_limit", "server", "empty",
//     "unknown". Empty string for a nil error.
//
// Thread Safety: Safe for concurrent use.
func classifyProviderError(err error) string {
	if err == nil {
		return ""
	}

	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "context canceled") ||
		strings.Contains(msg, "timeout"):
		return "timeout"
	case strings.Contains(msg, "returned 401") ||
		strings.Contains(msg, "returned 403") ||
		strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "api key"):
		return "auth"
	case strings.Contains(msg, "returned 429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests"):
		return "rate_limit"
	case strings.Contains(msg, "returned 500") ||
		strings.Contains(msg, "returned 502") ||
		strings.Contains(msg, "returned 503") ||
		strings.Contains(msg, "server error"):
		return "server"
	case strings.Contains(msg, "empty embedding") ||
		strings.Contains(msg, "empty vector"):
		return "empty"
	default:
		return "unknown"
	}
}

// recordProviderMetrics records Prometheus metrics for a completed call.
func recordProviderMetrics(provider, op string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
		providerErrorsTotal.WithLabelValues(provider, op, classifyProviderError(err)).Inc()
	}
	providerCallDuration.WithLabelValues(provider, op, status).Observe(duration.Seconds())
}

// instrument wraps a provider call in a span and records metrics.
//
// # Description
//
// Every adapter funnels through here so span naming and metric labels stay
// consistent. The span records the error and sets codes.Error on failure.
//
// # Inputs
//
//   - ctx: Parent context.
//   - provider: Provider label.
//   - op: opChat or opEmbed.
//   - attrs: Extra span attributes.
//   - call: The provider call. Receives the span context.
func instrument(ctx context.Context, provider, op string, attrs []attribute.KeyValue, call func(ctx context.Context) error) error {
	ctx, span := otel.Tracer(providerTracerName).Start(ctx, "providers."+op,
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String("provider", provider),
		}, attrs...)...),
	)
	defer span.End()

	start := time.Now()
	err := call(ctx)
	recordProviderMetrics(provider, op, time.Since(start), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
