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
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/AleutianAI/AleutianRouter/services/llm"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestClassifyProviderError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "deadline", err: context.DeadlineExceeded, want: "timeout"},
		{name: "wrapped cancel", err: fmt.Errorf("ollama: HTTP call: %w", context.Canceled), want: "timeout"},
		{name: "unauthorized", err: errors.New("openai: API returned 401: nope"), want: "auth"},
		{name: "missing key", err: errors.New("openai: API key is missing"), want: "auth"},
		{name: "rate limit", err: errors.New("anthropic: API returned 429: slow down"), want: "rate_limit"},
		{name: "server", err: errors.New("ollama: service returned 503: busy"), want: "server"},
		{name: "empty", err: ErrEmptyEmbedding, want: "empty"},
		{name: "unknown", err: errors.New("something odd"), want: "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyProviderError(tt.err); got != tt.want {
				t.Errorf("classifyProviderError(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

// setupTestTracer installs an in-memory span exporter for the test.
func setupTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
	)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})
	return exporter
}

func TestEmbed_SpanRecordsError(t *testing.T) {
	exporter := setupTestTracer(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":"server error"}`)
	}))
	defer server.Close()

	before := testutil.ToFloat64(providerErrorsTotal.WithLabelValues(ProviderOllama, opEmbed, "server"))

	embedder := NewOllamaEmbedder(llm.NewOllamaClient(server.URL, "", "nomic"))
	if _, err := embedder.Embed(context.Background(), "hello"); err == nil {
		t.Fatal("expected error for 500 response")
	}

	found := false
	for _, s := range exporter.GetSpans() {
		if s.Name == "providers.embed" {
			found = true
			if s.Status.Code != codes.Error {
				t.Errorf("span status = %v, want %v", s.Status.Code, codes.Error)
			}
		}
	}
	if !found {
		t.Error("embed span not found")
	}

	after := testutil.ToFloat64(providerErrorsTotal.WithLabelValues(ProviderOllama, opEmbed, "server"))
	if after != before+1 {
		t.Errorf("errors_total{server} = %v, want %v", after, before+1)
	}
}

func TestChat_SpanCreated(t *testing.T) {
	exporter := setupTestTracer(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"message":{"role":"assistant","content":"{}"},"done":true}`)
	}))
	defer server.Close()

	client := NewOllamaChatAdapter(llm.NewOllamaClient(server.URL, "m", ""))
	if _, err := client.Chat(context.Background(), []llm.Message{{Role: "user", Content: "hi"}}, ChatOptions{Temperature: 0.1}); err != nil {
		t.Fatalf("Chat() error: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Name != "providers.chat" {
		t.Fatalf("spans = %v, want one providers.chat span", spans)
	}
	if spans[0].Status.Code == codes.Error {
		t.Error("successful call must not set error status")
	}
}
