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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("aleutian.router.routing")

var (
	selectionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "router",
		Subsystem: "selection",
		Name:      "duration_seconds",
		Help:      "Tool selection latency including query embedding.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	// selectionsTotal counts decisions by reason.
	selectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "router",
		Subsystem: "selection",
		Name:      "total",
		Help:      "Selection decisions by result.",
	}, []string{"result"})

	negativeGateRejections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "router",
		Subsystem: "selection",
		Name:      "negative_gate_rejections_total",
		Help:      "Messages rejected because they matched a negative exemplar.",
	})

	indexExemplars = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "router",
		Subsystem: "index",
		Name:      "exemplars",
		Help:      "Tool exemplar vectors in the similarity index.",
	})

	indexNegatives = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "router",
		Subsystem: "index",
		Name:      "negatives",
		Help:      "Negative vectors in the similarity index.",
	})

	storeBuildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "router",
		Subsystem: "index",
		Name:      "store_builds_total",
		Help:      "Embedding store builds by prefix and source.",
	}, []string{"prefix", "source"})

	storeEmbedFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "router",
		Subsystem: "index",
		Name:      "embed_failures_total",
		Help:      "Items that failed to embed during a store build.",
	}, []string{"prefix"})
)
