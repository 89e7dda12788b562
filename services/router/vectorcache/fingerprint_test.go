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
	"testing"
)

type exemplar struct {
	Tool string `json:"tool"`
	Text string `json:"text"`
}

func mustFingerprint(t *testing.T, v any) string {
	t.Helper()
	h, err := Fingerprint(v)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	return h
}

func TestFingerprint_Deterministic(t *testing.T) {
	data := []exemplar{{"google_search", "search for cats"}, {"get_page", "open https://x.io"}}
	a := mustFingerprint(t, data)
	b := mustFingerprint(t, data)
	if a != b {
		t.Errorf("non-deterministic: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("len = %d, want 64 hex chars", len(a))
	}
}

func TestFingerprint_MapOrderIndependent(t *testing.T) {
	m1 := map[string][]string{"b": {"2"}, "a": {"1"}, "c": {"3"}}
	m2 := map[string][]string{"c": {"3"}, "a": {"1"}, "b": {"2"}}
	if mustFingerprint(t, m1) != mustFingerprint(t, m2) {
		t.Error("map key order must not affect fingerprint")
	}
}

func TestFingerprint_SensitiveToText(t *testing.T) {
	a := mustFingerprint(t, []exemplar{{"google_search", "search for cats"}})
	b := mustFingerprint(t, []exemplar{{"google_search", "search for dogs"}})
	if a == b {
		t.Error("changing exemplar text must change fingerprint")
	}
}

func TestFingerprint_Unserializable(t *testing.T) {
	if _, err := Fingerprint(make(chan int)); err == nil {
		t.Error("expected error for unserializable input")
	}
}

func TestInvalidation_ExemplarChange(t *testing.T) {
	c, _ := newFileCache(t)
	ctx := context.Background()

	original := []exemplar{{"google_search", "search for cats"}}
	hash := mustFingerprint(t, original)
	if err := c.Save(ctx, "tool", Store{"google_search:search for cats": {1, 0}}, hash, "1"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, ok := c.Load(ctx, "tool", hash); !ok {
		t.Fatal("expected hit with original corpus")
	}

	changed := []exemplar{{"google_search", "search for kittens"}}
	if _, ok := c.Load(ctx, "tool", mustFingerprint(t, changed)); ok {
		t.Error("changed corpus must miss even though files exist")
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	store := makeTestStore()
	blob, err := encodeBlob("tool", "h", store)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	env, err := decodeBlob(blob)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.DataHash != "h" || env.Prefix != "tool" || len(env.Vectors) != len(store) {
		t.Errorf("envelope = %+v", env)
	}

	again, _ := encodeBlob("tool", "h", store)
	if string(again) != string(blob) {
		t.Error("encoding must be deterministic")
	}
}

func TestCodec_DecodeGarbage(t *testing.T) {
	if _, err := decodeBlob([]byte{0x00, 0x01, 0x02}); err == nil {
		t.Error("expected error decoding garbage")
	}
}
