// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewOpenAIClientWithConfig_Defaults(t *testing.T) {
	client := NewOpenAIClientWithConfig(StaticKey("test-key"), "", "", "")
	if client.Model() != "gpt-4o-mini" {
		t.Errorf("model = %q, want %q", client.Model(), "gpt-4o-mini")
	}
	if client.EmbeddingModel() != "text-embedding-3-small" {
		t.Errorf("embedding model = %q", client.EmbeddingModel())
	}
	if client.baseURL != defaultOpenAIBaseURL {
		t.Errorf("baseURL = %q", client.baseURL)
	}
}

func TestOpenAIClient_Chat_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q, want /v1/chat/completions", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Authorization = %q, want %q", auth, "Bearer test-key")
		}

		var req openaiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.Model != "gpt-test" {
			t.Errorf("model = %q, want %q", req.Model, "gpt-test")
		}
		if len(req.Messages) != 2 || req.Messages[1].Role != "user" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}
		if req.Temperature == nil || *req.Temperature != 0.1 {
			t.Errorf("temperature not forwarded: %v", req.Temperature)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openaiResponse{
			ID: "chatcmpl-1",
			Choices: []openaiChoice{
				{Message: openaiMessage{Role: "assistant", Content: `{"query":"cats"}`}, FinishReason: "stop"},
			},
		})
	}))
	defer server.Close()

	client := NewOpenAIClientWithConfig(StaticKey("test-key"), "gpt-test", "", server.URL+"/v1/")
	temp := float32(0.1)
	got, err := client.Chat(context.Background(), []Message{
		{Role: "system", Content: "extract"},
		{Role: "tool", Content: "search for cats"},
	}, GenerationParams{Temperature: &temp})
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}
	if got != `{"query":"cats"}` {
		t.Errorf("Chat() = %q", got)
	}
}

func TestOpenAIClient_Chat_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided: sk-abcdefghijklmnopqrstuvwxyz"}}`))
	}))
	defer server.Close()

	client := NewOpenAIClientWithConfig(StaticKey("bad"), "", "", server.URL)
	_, err := client.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, GenerationParams{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "returned 401") {
		t.Errorf("error = %v, want status 401", err)
	}
	if strings.Contains(err.Error(), "sk-abcdefghijklmnopqrstuvwxyz") {
		t.Errorf("error leaks API key: %v", err)
	}
}

func TestOpenAIClient_Chat_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"x","choices":[]}`))
	}))
	defer server.Close()

	client := NewOpenAIClientWithConfig(StaticKey("k"), "", "", server.URL)
	_, err := client.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, GenerationParams{})
	if err == nil || !strings.Contains(err.Error(), "no choices") {
		t.Errorf("expected no choices error, got %v", err)
	}
}

func TestOpenAIClient_Embed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var req openaiEmbeddingRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "text-embedding-3-small" || len(req.Input) != 1 || req.Input[0] != "hello" {
			t.Errorf("unexpected request: %+v", req)
		}
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[0.5,-0.25,1]}]}`))
	}))
	defer server.Close()

	client := NewOpenAIClientWithConfig(StaticKey("k"), "", "", server.URL)
	vec, err := client.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed() error: %v", err)
	}
	want := []float32{0.5, -0.25, 1}
	if len(vec) != len(want) {
		t.Fatalf("len = %d, want %d", len(vec), len(want))
	}
	for i := range want {
		if vec[i] != want[i] {
			t.Errorf("vec[%d] = %v, want %v", i, vec[i], want[i])
		}
	}
}

func TestOpenAIClient_Embed_Empty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer server.Close()

	client := NewOpenAIClientWithConfig(StaticKey("k"), "", "", server.URL)
	if _, err := client.Embed(context.Background(), "hello"); err == nil {
		t.Fatal("expected error for empty embedding")
	}
}
