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
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// =============================================================================
// Helpers
// =============================================================================

func makeTestStore() Store {
	return Store{
		"google_search:search for cats": {0.1, 0.2, 0.3, 0.4},
		"get_page:open this link":       {0.5, -0.6, 0.7, 0.8},
		"hello there":                   {float32(math.Pi), 1e-30, -0, 3.4e38},
	}
}

// backendFactories returns one constructor per backend exercised by the
// shared contract tests.
func backendFactories() map[string]func(t *testing.T) Backend {
	return map[string]func(t *testing.T) Backend{
		"file": func(t *testing.T) Backend {
			b, err := NewFileBackend(t.TempDir())
			if err != nil {
				t.Fatalf("NewFileBackend: %v", err)
			}
			return b
		},
		"badger": func(t *testing.T) Backend {
			b, err := OpenBadgerBackend(BadgerOptions{InMemory: true}, nil)
			if err != nil {
				t.Fatalf("OpenBadgerBackend: %v", err)
			}
			t.Cleanup(func() { _ = b.Close() })
			return b
		},
		"sqlite": func(t *testing.T) Backend {
			b, err := OpenSQLiteBackend(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
			if err != nil {
				t.Fatalf("OpenSQLiteBackend: %v", err)
			}
			t.Cleanup(func() { _ = b.Close() })
			return b
		},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, c *Cache)) {
	t.Helper()
	for name, factory := range backendFactories() {
		t.Run(name, func(t *testing.T) {
			fn(t, New(factory(t), nil))
		})
	}
}

// =============================================================================
// Contract tests (all backends)
// =============================================================================

func TestCache_RoundTrip_BitIdentical(t *testing.T) {
	forEachBackend(t, func(t *testing.T, c *Cache) {
		ctx := context.Background()
		want := makeTestStore()

		if err := c.Save(ctx, "tool", want, "hash-1", "1.0"); err != nil {
			t.Fatalf("Save: %v", err)
		}
		got, ok := c.Load(ctx, "tool", "hash-1")
		if !ok {
			t.Fatal("expected hit after save")
		}
		if len(got) != len(want) {
			t.Fatalf("len = %d, want %d", len(got), len(want))
		}
		for key, wv := range want {
			gv, found := got[key]
			if !found {
				t.Fatalf("key %q missing", key)
			}
			if len(gv) != len(wv) {
				t.Fatalf("key %q: dim %d, want %d", key, len(gv), len(wv))
			}
			for i := range wv {
				if math.Float32bits(gv[i]) != math.Float32bits(wv[i]) {
					t.Errorf("key %q[%d] = %v, want %v (bits differ)", key, i, gv[i], wv[i])
				}
			}
		}
	})
}

func TestCache_Load_Absent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, c *Cache) {
		if store, ok := c.Load(context.Background(), "tool", "anything"); ok || store != nil {
			t.Errorf("expected miss, got %v, %v", store, ok)
		}
	})
}

func TestCache_Load_FingerprintMismatch(t *testing.T) {
	forEachBackend(t, func(t *testing.T, c *Cache) {
		ctx := context.Background()
		if err := c.Save(ctx, "tool", makeTestStore(), "hash-old", "1.0"); err != nil {
			t.Fatalf("Save: %v", err)
		}
		if _, ok := c.Load(ctx, "tool", "hash-new"); ok {
			t.Error("expected miss on fingerprint mismatch")
		}
		// Artifacts still exist.
		if c.SizeOf(ctx, "tool") == 0 {
			t.Error("expected artifacts to remain after stale load")
		}
	})
}

func TestCache_PrefixesAreIndependent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, c *Cache) {
		ctx := context.Background()
		_ = c.Save(ctx, "tool", Store{"a:x": {1}}, "h-tool", "1")
		_ = c.Save(ctx, "negative", Store{"hi": {2}}, "h-neg", "1")

		tool, ok := c.Load(ctx, "tool", "h-tool")
		if !ok || tool["a:x"][0] != 1 {
			t.Errorf("tool store = %v, %v", tool, ok)
		}
		neg, ok := c.Load(ctx, "negative", "h-neg")
		if !ok || neg["hi"][0] != 2 {
			t.Errorf("negative store = %v, %v", neg, ok)
		}
		if _, ok := c.Load(ctx, "negative", "h-tool"); ok {
			t.Error("prefixes must not share fingerprints")
		}
	})
}

func TestCache_Invalidate(t *testing.T) {
	forEachBackend(t, func(t *testing.T, c *Cache) {
		ctx := context.Background()
		if err := c.Save(ctx, "tool", makeTestStore(), "h", "1"); err != nil {
			t.Fatalf("Save: %v", err)
		}
		if c.SizeOf(ctx, "tool") == 0 {
			t.Fatal("expected non-zero size after save")
		}
		if err := c.Invalidate(ctx, "tool"); err != nil {
			t.Fatalf("Invalidate: %v", err)
		}
		if _, ok := c.Load(ctx, "tool", "h"); ok {
			t.Error("expected miss after invalidate")
		}
		if n := c.SizeOf(ctx, "tool"); n != 0 {
			t.Errorf("SizeOf after invalidate = %d, want 0", n)
		}
		// Invalidating again is not an error.
		if err := c.Invalidate(ctx, "tool"); err != nil {
			t.Errorf("second Invalidate: %v", err)
		}
	})
}

func TestCache_Overwrite(t *testing.T) {
	forEachBackend(t, func(t *testing.T, c *Cache) {
		ctx := context.Background()
		_ = c.Save(ctx, "tool", Store{"a:1": {1}}, "h1", "1")
		_ = c.Save(ctx, "tool", Store{"b:2": {2}}, "h2", "2")

		if _, ok := c.Load(ctx, "tool", "h1"); ok {
			t.Error("old fingerprint must miss after overwrite")
		}
		got, ok := c.Load(ctx, "tool", "h2")
		if !ok || len(got) != 1 || got["b:2"][0] != 2 {
			t.Errorf("Load(h2) = %v, %v", got, ok)
		}
	})
}

func TestCache_Stat(t *testing.T) {
	forEachBackend(t, func(t *testing.T, c *Cache) {
		ctx := context.Background()
		if st := c.Stat(ctx, "tool", "h"); st.Exists || st.Valid || st.Bytes != 0 {
			t.Errorf("Stat before save = %+v", st)
		}
		_ = c.Save(ctx, "tool", makeTestStore(), "h", "v9")

		st := c.Stat(ctx, "tool", "h")
		if !st.Exists || !st.Valid || st.Bytes == 0 {
			t.Errorf("Stat after save = %+v", st)
		}
		if st.Metadata == nil || st.Metadata.Version != "v9" || st.Metadata.Entries != 3 {
			t.Errorf("Metadata = %+v", st.Metadata)
		}
		if st := c.Stat(ctx, "tool", "other"); !st.Exists || st.Valid {
			t.Errorf("Stat with other hash = %+v", st)
		}
	})
}

func TestCache_Inspect(t *testing.T) {
	forEachBackend(t, func(t *testing.T, c *Cache) {
		ctx := context.Background()
		if _, _, err := c.Inspect(ctx, "tool"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Inspect before save err = %v, want ErrNotFound", err)
		}
		_ = c.Save(ctx, "tool", makeTestStore(), "any-hash", "2")

		meta, store, err := c.Inspect(ctx, "tool")
		if err != nil {
			t.Fatalf("Inspect: %v", err)
		}
		if meta.DataHash != "any-hash" || meta.Version != "2" {
			t.Errorf("meta = %+v", meta)
		}
		if len(store) != 3 {
			t.Errorf("len(store) = %d, want 3", len(store))
		}
	})
}

func TestCache_InvalidPrefix(t *testing.T) {
	forEachBackend(t, func(t *testing.T, c *Cache) {
		ctx := context.Background()
		for _, prefix := range []string{"", "../etc", "a/b", "tool name"} {
			if err := c.Save(ctx, prefix, makeTestStore(), "h", "1"); !errors.Is(err, ErrInvalidPrefix) {
				t.Errorf("Save(%q) err = %v, want ErrInvalidPrefix", prefix, err)
			}
			if _, ok := c.Load(ctx, prefix, "h"); ok {
				t.Errorf("Load(%q) must miss", prefix)
			}
			if c.SizeOf(ctx, prefix) != 0 {
				t.Errorf("SizeOf(%q) must be 0", prefix)
			}
		}
	})
}

// =============================================================================
// File backend specifics
// =============================================================================

func newFileCache(t *testing.T) (*Cache, string) {
	t.Helper()
	dir := t.TempDir()
	b, err := NewFileBackend(dir)
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	return New(b, nil), dir
}

func TestFileBackend_Layout(t *testing.T) {
	c, dir := newFileCache(t)
	if err := c.Save(context.Background(), "tool", makeTestStore(), "h", "1"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	for _, name := range []string{"tool_embeddings.bin", "tool_metadata.json"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected %s: %v", name, err)
		}
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 2 {
		t.Errorf("dir has %d entries, want 2 (no temp files left)", len(entries))
	}
}

func TestFileBackend_MetadataAbsent_Miss(t *testing.T) {
	c, dir := newFileCache(t)
	ctx := context.Background()
	_ = c.Save(ctx, "tool", makeTestStore(), "h", "1")

	if err := os.Remove(filepath.Join(dir, "tool_metadata.json")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok := c.Load(ctx, "tool", "h"); ok {
		t.Error("blob without metadata must miss")
	}
}

func TestFileBackend_CorruptBlob_Miss(t *testing.T) {
	c, dir := newFileCache(t)
	ctx := context.Background()
	_ = c.Save(ctx, "tool", makeTestStore(), "h", "1")

	if err := os.WriteFile(filepath.Join(dir, "tool_embeddings.bin"), []byte("not zstd"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, ok := c.Load(ctx, "tool", "h"); ok {
		t.Error("corrupt blob must miss")
	}
}

func TestFileBackend_CorruptMetadata_Miss(t *testing.T) {
	c, dir := newFileCache(t)
	ctx := context.Background()
	_ = c.Save(ctx, "tool", makeTestStore(), "h", "1")

	if err := os.WriteFile(filepath.Join(dir, "tool_metadata.json"), []byte("{bad json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, ok := c.Load(ctx, "tool", "h"); ok {
		t.Error("corrupt metadata must miss")
	}
}

func TestFileBackend_SwappedBlob_Miss(t *testing.T) {
	// Metadata for "h" paired with a blob written for another fingerprint
	// must be rejected by the envelope check.
	c, dir := newFileCache(t)
	ctx := context.Background()
	_ = c.Save(ctx, "tool", makeTestStore(), "other", "1")
	otherBlob, _ := os.ReadFile(filepath.Join(dir, "tool_embeddings.bin"))

	_ = c.Save(ctx, "tool", makeTestStore(), "h", "1")
	if err := os.WriteFile(filepath.Join(dir, "tool_embeddings.bin"), otherBlob, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, ok := c.Load(ctx, "tool", "h"); ok {
		t.Error("blob from another fingerprint must miss")
	}
}

func TestFileBackend_CancelledContext(t *testing.T) {
	c, _ := newFileCache(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.Save(ctx, "tool", makeTestStore(), "h", "1"); err == nil {
		t.Error("expected error saving with cancelled context")
	}
	if _, ok := c.Load(ctx, "tool", "h"); ok {
		t.Error("expected miss with cancelled context")
	}
}

// =============================================================================
// Badger specifics
// =============================================================================

func TestBadgerBackend_Keys(t *testing.T) {
	b, err := OpenBadgerBackend(BadgerOptions{InMemory: true, TTL: time.Hour}, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer b.Close()

	c := New(b, nil)
	_ = c.Save(context.Background(), "tool", makeTestStore(), "h", "1")

	keys, err := b.Keys(context.Background())
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("keys = %v, want 2", keys)
	}
	if keys[0].Key != "router/emb/v1/tool/blob" || keys[1].Key != "router/emb/v1/tool/meta" {
		t.Errorf("unexpected keys: %v", keys)
	}
	if keys[0].ExpiresAt.IsZero() {
		t.Error("expected TTL to set an expiry")
	}
}

func TestNewBadgerBackend_NilDBPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for nil db")
		}
	}()
	NewBadgerBackend(nil, 0, nil)
}

// =============================================================================
// Helpers under test
// =============================================================================

func TestShortHash(t *testing.T) {
	tests := map[string]string{
		"abcdef0123456789": "abcdef01...",
		"abc":              "abc",
		"12345678":         "12345678",
	}
	for in, want := range tests {
		if got := shortHash(in); got != want {
			t.Errorf("shortHash(%q) = %q, want %q", in, got, want)
		}
	}
}
