// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package params

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("aleutian.router.params")

var (
	// extractionDuration tracks extraction latency by source.
	//
	// Labels:
	//   - outcome: "llm", "heuristic", "fallback"
	extractionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "router",
			Subsystem: "params",
			Name:      "extraction_duration_seconds",
			Help:      "Parameter extraction latency in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"outcome"},
	)

	extractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "router",
			Subsystem: "params",
			Name:      "extractions_total",
			Help:      "Parameter extractions by outcome.",
		},
		[]string{"outcome"},
	)
)
