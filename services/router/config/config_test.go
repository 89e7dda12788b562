// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv unsets variables that would leak from the developer's shell.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "CUSTOM_SEARCH_API_KEY", "PROGRAMMABLE_SEARCH_ENGINE_ID",
	} {
		t.Setenv(name, "")
	}
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, EnvPrefix+"_") {
			name, _, _ := strings.Cut(kv, "=")
			t.Setenv(name, "")
			os.Unsetenv(name)
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Selector.NegativeThreshold != 0.6 || cfg.Selector.ToolThreshold != 0.4 || cfg.Selector.MaxTools != 3 {
		t.Errorf("selector = %+v", cfg.Selector)
	}
	if cfg.Params.Temperature != 0.1 || cfg.Params.MaxTokens != 200 {
		t.Errorf("params = %+v", cfg.Params)
	}
	if cfg.Embedding.Provider != "ollama" || cfg.Embedding.Model != "nomic-embed-text-v2-moe" {
		t.Errorf("embedding = %+v", cfg.Embedding)
	}
	if cfg.Cache.Backend != BackendFile || cfg.Cache.Dir == "" {
		t.Errorf("cache = %+v", cfg.Cache)
	}
	if cfg.Tools.PageTimeout != 15*time.Second || cfg.Tools.SearchTimeout != 10*time.Second {
		t.Errorf("tools = %+v", cfg.Tools)
	}
	if cfg.Embedding.Key != nil {
		t.Error("ollama embedding must not carry a key")
	}
	if cfg.Secrets.SearchAPIKey.Set() {
		t.Error("search key should be unset")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("ROUTER_SELECTOR_MAX_TOOLS", "5")
	t.Setenv("ROUTER_SELECTOR_EMBED_TIMEOUT", "250ms")
	t.Setenv("ROUTER_CACHE_BACKEND", "none")
	t.Setenv("PROGRAMMABLE_SEARCH_ENGINE_ID", "cx-123")
	t.Setenv("CUSTOM_SEARCH_API_KEY", "search-secret")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Selector.MaxTools != 5 {
		t.Errorf("max tools = %d, want 5", cfg.Selector.MaxTools)
	}
	if cfg.Selector.EmbedTimeout != 250*time.Millisecond {
		t.Errorf("embed timeout = %v", cfg.Selector.EmbedTimeout)
	}
	if cfg.Cache.Backend != BackendNone {
		t.Errorf("backend = %q", cfg.Cache.Backend)
	}
	if cfg.Tools.SearchEngineID != "cx-123" {
		t.Errorf("engine id = %q", cfg.Tools.SearchEngineID)
	}
	if got := cfg.Secrets.SearchAPIKey.APIKey(); got != "search-secret" {
		t.Errorf("search key = %q", got)
	}
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "router.yaml")
	data := `
selector:
  tool_threshold: 0.35
cache:
  backend: sqlite
  sqlite_path: /tmp/vectors.db
log:
  format: json
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("ROUTER_LOG_FORMAT", "text")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Selector.ToolThreshold != 0.35 {
		t.Errorf("tool threshold = %v", cfg.Selector.ToolThreshold)
	}
	if cfg.Cache.Backend != BackendSQLite || cfg.Cache.SQLitePath != "/tmp/vectors.db" {
		t.Errorf("cache = %+v", cfg.Cache)
	}
	if cfg.Log.Format != "text" {
		t.Errorf("log format = %q, env must win over file", cfg.Log.Format)
	}
	if cfg.Selector.MaxTools != 3 {
		t.Errorf("unset keys keep defaults, max tools = %d", cfg.Selector.MaxTools)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad backend", map[string]string{"ROUTER_CACHE_BACKEND": "redis"}},
		{"gcs without bucket", map[string]string{"ROUTER_CACHE_BACKEND": "gcs"}},
		{"bad log level", map[string]string{"ROUTER_LOG_LEVEL": "loud"}},
		{"threshold out of range", map[string]string{"ROUTER_SELECTOR_TOOL_THRESHOLD": "1.5"}},
		{"zero max tools", map[string]string{"ROUTER_SELECTOR_MAX_TOOLS": "0"}},
		{"openai without key", map[string]string{"ROUTER_GENERATION_PROVIDER": "openai"}},
		{"anthropic embeddings", map[string]string{"ROUTER_EMBEDDING_PROVIDER": "anthropic", "ANTHROPIC_API_KEY": "k"}},
		{"otlp without endpoint", map[string]string{"ROUTER_TELEMETRY_TRACE_EXPORTER": "otlp"}},
		{"bad provider", map[string]string{"ROUTER_GENERATION_PROVIDER": "gemini"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("err = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestLoad_CloudKeysWired(t *testing.T) {
	clearEnv(t)
	t.Setenv("ROUTER_GENERATION_PROVIDER", "anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Generation.Key == nil || cfg.Generation.Key.APIKey() != "sk-ant-test" {
		t.Error("generation key not wired from ANTHROPIC_API_KEY")
	}
}

func TestSecret(t *testing.T) {
	if NewSecret("") != nil {
		t.Error("empty value must yield nil secret")
	}

	var unset *Secret
	if unset.APIKey() != "" || unset.Set() || unset.String() != "<unset>" {
		t.Error("nil secret must be inert")
	}

	s := NewSecret("hunter2")
	if !s.Set() {
		t.Fatal("secret not set")
	}
	for i := 0; i < 3; i++ {
		if got := s.APIKey(); got != "hunter2" {
			t.Fatalf("APIKey = %q on open %d", got, i)
		}
	}
	if s.String() != "<redacted>" {
		t.Errorf("String leaked: %q", s.String())
	}
}
