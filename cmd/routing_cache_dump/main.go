// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// routing_cache_dump inspects the router's persisted exemplar embeddings.
//
// The vector cache keeps one store per prefix ("tool" and "negative") in the
// configured backend. This tool reads each store without checking its
// fingerprint and prints its metadata, per-key vector dimensions, norms and
// a short sample of each vector. For the badger backend it also lists the
// raw keys with their TTL, opening the database read-only so a running
// server is not disturbed.
//
// Usage:
//
//	routing_cache_dump [--config router.yaml] [--backend badger] [--path DIR]
//
// Without flags the backend and location come from the router configuration
// (ROUTER_CACHE_BACKEND, ROUTER_CACHE_DIR, ...).
//
// Exit codes:
//
//	0: success, including an empty cache
//	1: configuration error or unreadable backend
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianRouter/services/router/config"
	"github.com/AleutianAI/AleutianRouter/services/router/routing"
	"github.com/AleutianAI/AleutianRouter/services/router/vectorcache"
)

func main() {
	configFlag := flag.String("config", "", "Router configuration file")
	backendFlag := flag.String("backend", "", "Cache backend (file, badger, sqlite, gcs); overrides the configuration")
	pathFlag := flag.String("path", "", "Cache directory, or database file for sqlite; overrides the configuration")
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fatalf("load configuration: %v", err)
	}
	cacheCfg := cfg.Cache
	if *backendFlag != "" {
		cacheCfg.Backend = *backendFlag
	}
	if *pathFlag != "" {
		cacheCfg.Dir = *pathFlag
		cacheCfg.SQLitePath = *pathFlag
	}

	ctx := context.Background()
	cache, location, err := openReadOnly(ctx, cacheCfg)
	if err != nil {
		fatalf("%v", err)
	}
	if cache == nil {
		fmt.Println("Cache backend is \"none\"; nothing is persisted.")
		return
	}
	defer func() { _ = cache.Close() }()

	fmt.Printf("Vector cache: %s (%s)\n", cache.Backend().Name(), location)

	if bb, ok := cache.Backend().(*vectorcache.BadgerBackend); ok {
		printBadgerKeys(ctx, bb)
	}

	found := 0
	for _, prefix := range []string{routing.ToolPrefix, routing.NegativePrefix} {
		meta, store, err := cache.Inspect(ctx, prefix)
		if errors.Is(err, vectorcache.ErrNotFound) {
			fmt.Printf("\n[%s] not persisted\n", prefix)
			continue
		}
		found++
		printStore(prefix, meta, store, cache.SizeOf(ctx, prefix), err)
	}

	fmt.Printf("\n%s\n", strings.Repeat("─", 80))
	if found == 0 {
		fmt.Println("No stores found. Start the router with a reachable embedding provider to populate the cache.")
		return
	}
	fmt.Printf("Summary: %d store%s, location: %s\n", found, plural(found, "", "s"), location)
}

// openReadOnly opens the configured backend. The badger database is opened
// without the write lock.
func openReadOnly(ctx context.Context, cfg config.CacheConfig) (*vectorcache.Cache, string, error) {
	var (
		backend  vectorcache.Backend
		location string
		err      error
	)
	switch cfg.Backend {
	case config.BackendNone:
		return nil, "", nil
	case config.BackendFile:
		location = cfg.Dir
		if _, statErr := os.Stat(cfg.Dir); os.IsNotExist(statErr) {
			return nil, "", fmt.Errorf("cache directory %s does not exist", cfg.Dir)
		}
		backend, err = vectorcache.NewFileBackend(cfg.Dir)
	case config.BackendBadger:
		location = cfg.Dir
		if _, statErr := os.Stat(cfg.Dir); os.IsNotExist(statErr) {
			return nil, "", fmt.Errorf("cache directory %s does not exist", cfg.Dir)
		}
		backend, err = vectorcache.OpenBadgerBackend(vectorcache.BadgerOptions{Dir: cfg.Dir, ReadOnly: true}, nil)
	case config.BackendSQLite:
		location = cfg.SQLitePath
		backend, err = vectorcache.OpenSQLiteBackend(ctx, cfg.SQLitePath)
	case config.BackendGCS:
		location = "gs://" + cfg.GCSBucket + "/" + cfg.GCSPrefix
		backend, err = vectorcache.NewGCSBackend(ctx, cfg.GCSBucket, cfg.GCSPrefix)
	default:
		return nil, "", fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, "", fmt.Errorf("open %s backend at %s: %w", cfg.Backend, location, err)
	}
	return vectorcache.New(backend, nil), location, nil
}

func printBadgerKeys(ctx context.Context, bb *vectorcache.BadgerBackend) {
	keys, err := bb.Keys(ctx)
	if err != nil {
		fmt.Printf("\nKEY LISTING ERROR: %v\n", err)
		return
	}
	fmt.Printf("\n%d badger key%s under %s:\n", len(keys), plural(len(keys), "", "s"), vectorcache.BadgerKeyPrefix)
	for _, k := range keys {
		ttl := "no expiry set"
		if !k.ExpiresAt.IsZero() {
			remaining := time.Until(k.ExpiresAt)
			if remaining < 0 {
				ttl = fmt.Sprintf("EXPIRED (%s ago)", (-remaining).Round(time.Second))
			} else {
				ttl = fmt.Sprintf("%s remaining", remaining.Round(time.Second))
			}
		}
		fmt.Printf("    %-40s  %12s  %s\n", k.Key, formatBytes(k.Bytes), ttl)
	}
}

func printStore(prefix string, meta vectorcache.Metadata, store vectorcache.Store, size int64, inspectErr error) {
	fmt.Printf("\n[%s]\n", prefix)
	fmt.Printf("    Data hash:   %s\n", meta.DataHash)
	fmt.Printf("    Version:     %s\n", meta.Version)
	if !meta.CreatedAt.IsZero() {
		fmt.Printf("    Created:     %s\n", meta.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	}
	fmt.Printf("    Size:        %s\n", formatBytes(size))

	if inspectErr != nil {
		fmt.Printf("    DECODE ERROR: %v\n", inspectErr)
		if store == nil {
			return
		}
	}
	fmt.Printf("    Entries:     %d vectors (metadata says %d)\n", len(store), meta.Entries)

	keys := make([]string, 0, len(store))
	maxKeyLen := len("Key")
	for k := range store {
		keys = append(keys, k)
		if len(k) > maxKeyLen {
			maxKeyLen = len(k)
		}
	}
	sort.Strings(keys)
	colWidth := min(maxKeyLen+2, 60)

	fmt.Printf("\n    %-*s  %5s  %7s  %s\n", colWidth, "Key", "Dims", "L2Norm", "Sample (first 4 values)")
	fmt.Printf("    %s  %s  %s  %s\n",
		strings.Repeat("─", colWidth),
		strings.Repeat("─", 5),
		strings.Repeat("─", 7),
		strings.Repeat("─", 40),
	)
	for _, k := range keys {
		vec := store[k]
		fmt.Printf("    %-*s  %5d  %7.4f  %s\n", colWidth, truncateKey(k, colWidth), len(vec), l2Norm(vec), formatSample(vec, 4))
	}
}

func truncateKey(k string, width int) string {
	r := []rune(k)
	if len(r) <= width {
		return k
	}
	return string(r[:width-1]) + "…"
}

// l2Norm of a vector. Provider embeddings are usually close to 1.
func l2Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func formatSample(v []float32, n int) string {
	if len(v) == 0 {
		return "[]"
	}
	n = min(n, len(v))
	parts := make([]string, n)
	for i := range n {
		parts[i] = fmt.Sprintf("%+.4f", v[i])
	}
	suffix := ""
	if len(v) > n {
		suffix = " ..."
	}
	return "[" + strings.Join(parts, ", ") + suffix + "]"
}

func formatBytes(n int64) string {
	switch {
	case n >= 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(n)/1024/1024)
	case n >= 1024:
		return fmt.Sprintf("%.1f KB", float64(n)/1024)
	default:
		return fmt.Sprintf("%d B", n)
	}
}

func plural(n int, singular, pluralSuffix string) string {
	if n == 1 {
		return singular
	}
	return pluralSuffix
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "routing_cache_dump: "+format+"\n", args...)
	os.Exit(1)
}
