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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("aleutian.router.registry")

var (
	// toolExecutionsTotal counts Execute calls.
	//
	// Labels:
	//   - tool: registered tool name, or "unknown" for tool_not_found
	//   - status: "success" or "failure"
	//   - error_kind: "", "tool_not_found", "validation", "execution"
	toolExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "router",
			Subsystem: "registry",
			Name:      "executions_total",
			Help:      "Tool executions by status and error kind.",
		},
		[]string{"tool", "status", "error_kind"},
	)

	toolExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "router",
			Subsystem: "registry",
			Name:      "execution_duration_seconds",
			Help:      "Tool handler duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"tool"},
	)

	registeredTools = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "router",
		Subsystem: "registry",
		Name:      "tools",
		Help:      "Number of registered tools.",
	})
)
