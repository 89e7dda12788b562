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
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/AleutianAI/AleutianRouter/services/llm"
	"github.com/tmc/langchaingo/llms"
)

// =============================================================================
// Raw-client adapters
// =============================================================================

func TestNilClientAdapters(t *testing.T) {
	ctx := context.Background()
	if _, err := NewOllamaChatAdapter(nil).Chat(ctx, nil, ChatOptions{}); err == nil {
		t.Error("ollama chat: expected error for nil client")
	}
	if _, err := NewOpenAIChatAdapter(nil).Chat(ctx, nil, ChatOptions{}); err == nil {
		t.Error("openai chat: expected error for nil client")
	}
	if _, err := NewAnthropicChatAdapter(nil).Chat(ctx, nil, ChatOptions{}); err == nil {
		t.Error("anthropic chat: expected error for nil client")
	}
	if _, err := NewOllamaEmbedder(nil).Embed(ctx, "x"); err == nil {
		t.Error("ollama embed: expected error for nil client")
	}
	if _, err := NewOpenAIEmbedder(nil).Embed(ctx, "x"); err == nil {
		t.Error("openai embed: expected error for nil client")
	}
}

func TestOpenAIChatAdapter_ForwardsOptions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if _, ok := req["temperature"]; ok {
			t.Error("negative temperature must be omitted")
		}
		if req["max_completion_tokens"] != float64(200) {
			t.Errorf("max_completion_tokens = %v, want 200", req["max_completion_tokens"])
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer server.Close()

	adapter := NewOpenAIChatAdapter(llm.NewOpenAIClientWithConfig(llm.StaticKey("k"), "", "", server.URL))
	got, err := adapter.Chat(context.Background(), []llm.Message{{Role: "user", Content: "hi"}},
		ChatOptions{Temperature: -1, MaxTokens: 200})
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}
	if got != "ok" {
		t.Errorf("Chat() = %q", got)
	}
}

func TestOpenAIEmbedder_EmptyVector(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[]}]}`))
	}))
	defer server.Close()

	embedder := NewOpenAIEmbedder(llm.NewOpenAIClientWithConfig(llm.StaticKey("k"), "", "", server.URL))
	if _, err := embedder.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error for empty vector")
	}
}

// =============================================================================
// CachingEmbedder
// =============================================================================

func TestCachingEmbedder_HitsSkipProvider(t *testing.T) {
	var calls atomic.Int64
	inner := EmbedderFunc(func(ctx context.Context, text string) ([]float32, error) {
		calls.Add(1)
		return []float32{float32(len(text))}, nil
	})

	cached, err := NewCachingEmbedder(inner, 2)
	if err != nil {
		t.Fatalf("NewCachingEmbedder() error: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := cached.Embed(ctx, "hello"); err != nil {
			t.Fatalf("Embed() error: %v", err)
		}
	}
	if _, err := cached.Embed(ctx, "  hello  "); err != nil {
		t.Fatalf("Embed() error: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("provider calls = %d, want 1", calls.Load())
	}

	// Capacity 2: adding two more keys evicts "hello".
	_, _ = cached.Embed(ctx, "a")
	_, _ = cached.Embed(ctx, "b")
	_, _ = cached.Embed(ctx, "hello")
	if calls.Load() != 4 {
		t.Errorf("provider calls = %d, want 4 after eviction", calls.Load())
	}
	if cached.Len() != 2 {
		t.Errorf("Len() = %d, want 2", cached.Len())
	}
}

func TestCachingEmbedder_ErrorsNotCached(t *testing.T) {
	var calls atomic.Int64
	inner := EmbedderFunc(func(ctx context.Context, text string) ([]float32, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("boom")
		}
		return []float32{1}, nil
	})
	cached, _ := NewCachingEmbedder(inner, 0)

	if _, err := cached.Embed(context.Background(), "q"); err == nil {
		t.Fatal("expected first call to fail")
	}
	if _, err := cached.Embed(context.Background(), "q"); err != nil {
		t.Fatalf("second call error: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestNewCachingEmbedder_NilNext(t *testing.T) {
	if _, err := NewCachingEmbedder(nil, 10); err == nil {
		t.Fatal("expected error for nil embedder")
	}
}

// =============================================================================
// langchaingo adapters
// =============================================================================

type fakeModel struct {
	gotMessages []llms.MessageContent
	reply       string
	err         error
}

func (m *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.gotMessages = messages
	if m.err != nil {
		return nil, m.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.reply}}}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return m.reply, m.err
}

type fakeLCEmbedder struct {
	vec []float32
}

func (e fakeLCEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = e.vec
	}
	return out, nil
}

func (e fakeLCEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.vec, nil
}

func TestLangChainChat(t *testing.T) {
	model := &fakeModel{reply: `{"query":"go"}`}
	chat := NewLangChainChat(model)

	got, err := chat.Chat(context.Background(), []llm.Message{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "search for go"},
	}, ChatOptions{Temperature: 0.1, MaxTokens: 100})
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}
	if got != `{"query":"go"}` {
		t.Errorf("Chat() = %q", got)
	}
	if len(model.gotMessages) != 2 {
		t.Fatalf("messages = %d, want 2", len(model.gotMessages))
	}
	if model.gotMessages[0].Role != llms.ChatMessageTypeSystem || model.gotMessages[1].Role != llms.ChatMessageTypeHuman {
		t.Errorf("roles = %v, %v", model.gotMessages[0].Role, model.gotMessages[1].Role)
	}
}

func TestLangChainChat_Error(t *testing.T) {
	chat := NewLangChainChat(&fakeModel{err: errors.New("down")})
	_, err := chat.Chat(context.Background(), []llm.Message{{Role: "user", Content: "x"}}, ChatOptions{})
	if err == nil || !strings.Contains(err.Error(), "down") {
		t.Errorf("expected wrapped error, got %v", err)
	}
}

func TestLangChainEmbedder(t *testing.T) {
	e := NewLangChainEmbedder(fakeLCEmbedder{vec: []float32{0.1, 0.2}})
	vec, err := e.Embed(context.Background(), "x")
	if err != nil || len(vec) != 2 {
		t.Fatalf("Embed() = %v, %v", vec, err)
	}

	empty := NewLangChainEmbedder(fakeLCEmbedder{})
	if _, err := empty.Embed(context.Background(), "x"); !errors.Is(err, ErrEmptyEmbedding) {
		t.Errorf("expected ErrEmptyEmbedding, got %v", err)
	}
}
