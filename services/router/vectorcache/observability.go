// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vectorcache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Load results.
const (
	loadHit   = "hit"
	loadMiss  = "miss"
	loadStale = "stale"
	loadError = "error"
)

var (
	// cacheLoadsTotal counts Load calls by outcome.
	//
	// Labels:
	//   - backend: "file", "badger", "sqlite", "gcs"
	//   - result: "hit", "miss" (absent), "stale" (fingerprint mismatch),
	//     "error" (I/O or decode failure, still a miss to the caller)
	cacheLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "router",
			Subsystem: "vectorcache",
			Name:      "loads_total",
			Help:      "Vector cache loads by result.",
		},
		[]string{"backend", "result"},
	)

	cacheSaveDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "router",
			Subsystem: "vectorcache",
			Name:      "save_duration_seconds",
			Help:      "Duration of vector cache saves in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "status"},
	)

	cacheBlobBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "router",
			Subsystem: "vectorcache",
			Name:      "blob_bytes",
			Help:      "Size of the last saved blob per prefix.",
		},
		[]string{"prefix"},
	)
)
