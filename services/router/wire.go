// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package router

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/AleutianAI/AleutianRouter/services/llm"
	"github.com/AleutianAI/AleutianRouter/services/router/config"
	"github.com/AleutianAI/AleutianRouter/services/router/corpus"
	"github.com/AleutianAI/AleutianRouter/services/router/params"
	"github.com/AleutianAI/AleutianRouter/services/router/providers"
	"github.com/AleutianAI/AleutianRouter/services/router/registry"
	"github.com/AleutianAI/AleutianRouter/services/router/routing"
	"github.com/AleutianAI/AleutianRouter/services/router/tools"
	"github.com/AleutianAI/AleutianRouter/services/router/vectorcache"
)

// NewFromConfig assembles a Router with the built-in tools from cfg.
//
// # Description
//
// The embedding and generation providers come from the provider factory.
// A vector cache that cannot be opened is logged and skipped; routing then
// embeds the corpus on every start. The returned Router is cold.
//
// # Inputs
//
//   - ctx: Used while opening the cache backend and loading the corpus.
//   - cfg: Validated configuration.
//   - logger: Nil means slog.Default().
//
// # Outputs
//
//   - *Router: Ready to Warm. The caller must Close it.
//   - error: A provider could not be constructed or the corpus is invalid.
func NewFromConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Router, error) {
	if logger == nil {
		logger = slog.Default()
	}
	factory := providers.NewProviderFactory(logger)

	embedder, model, err := factory.CreateEmbedder(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("embedding provider: %w", err)
	}
	var queryEmbedder providers.Embedder = embedder
	if cfg.Selector.QueryCacheSize > 0 {
		cached, err := providers.NewCachingEmbedder(embedder, cfg.Selector.QueryCacheSize)
		if err != nil {
			return nil, err
		}
		queryEmbedder = cached
	}

	chat, err := factory.CreateChatClient(cfg.Generation)
	if err != nil {
		return nil, fmt.Errorf("generation provider: %w", err)
	}

	c, err := loadCorpus(ctx, cfg.Corpus)
	if err != nil {
		return nil, err
	}

	cache := OpenCache(ctx, cfg.Cache, logger)
	builder := routing.NewStoreBuilder(embedder, cache, routing.BuilderConfig{
		Model:         model,
		Version:       cfg.Cache.Version,
		Concurrency:   cfg.Warmup.Concurrency,
		EmbedTimeout:  cfg.Warmup.EmbedTimeout,
		RatePerSecond: cfg.Warmup.RatePerSecond,
		Burst:         cfg.Warmup.Burst,
	}, logger)

	pipeline := params.New(chat, params.Config{
		Timeout:          cfg.Params.Timeout,
		Temperature:      cfg.Params.Temperature,
		MaxTokens:        cfg.Params.MaxTokens,
		BatchConcurrency: cfg.Params.BatchConcurrency,
	}, logger)

	builtins := tools.Builtins(ToolsConfig(cfg), &http.Client{}, logger)

	r, err := New(Deps{
		Registry:      registry.New(logger),
		QueryEmbedder: queryEmbedder,
		Builder:       builder,
		Pipeline:      pipeline,
		Corpus:        c,
		Tools:         builtins,
		Selector: routing.SelectorConfig{
			NegativeThreshold: cfg.Selector.NegativeThreshold,
			ToolThreshold:     cfg.Selector.ToolThreshold,
			MaxTools:          cfg.Selector.MaxTools,
			EmbedTimeout:      cfg.Selector.EmbedTimeout,
		},
		Logger: logger,
	})
	if err != nil {
		if cache != nil {
			_ = cache.Close()
		}
		return nil, err
	}
	return r, nil
}

// ToolsConfig maps configuration onto the built-in tool settings.
func ToolsConfig(cfg *config.Config) tools.Config {
	var key llm.KeySource
	if cfg.Secrets.SearchAPIKey.Set() {
		key = cfg.Secrets.SearchAPIKey
	}
	return tools.Config{
		SearchEndpoint: cfg.Tools.SearchEndpoint,
		SearchEngineID: cfg.Tools.SearchEngineID,
		SearchKey:      key,
		SearchTimeout:  cfg.Tools.SearchTimeout,
		PageTimeout:    cfg.Tools.PageTimeout,
		PageMaxChars:   cfg.Tools.PageMaxChars,
	}
}

func loadCorpus(ctx context.Context, cfg config.CorpusConfig) (*corpus.Corpus, error) {
	if cfg.Path == "" {
		return corpus.Default(ctx)
	}
	return corpus.LoadFile(ctx, cfg.Path)
}

// OpenCache opens the configured vector cache backend. It returns nil for
// the "none" backend and when the backend cannot be opened.
func OpenCache(ctx context.Context, cfg config.CacheConfig, logger *slog.Logger) *vectorcache.Cache {
	if logger == nil {
		logger = slog.Default()
	}
	var (
		backend vectorcache.Backend
		err     error
	)
	switch cfg.Backend {
	case config.BackendNone, "":
		return nil
	case config.BackendFile:
		backend, err = vectorcache.NewFileBackend(cfg.Dir)
	case config.BackendBadger:
		backend, err = vectorcache.OpenBadgerBackend(vectorcache.BadgerOptions{Dir: cfg.Dir, TTL: cfg.BadgerTTL}, logger)
	case config.BackendSQLite:
		backend, err = vectorcache.OpenSQLiteBackend(ctx, cfg.SQLitePath)
	case config.BackendGCS:
		backend, err = vectorcache.NewGCSBackend(ctx, cfg.GCSBucket, cfg.GCSPrefix)
	default:
		err = fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	if err != nil {
		logger.Warn("vector cache unavailable, embeddings will not be persisted",
			slog.String("backend", cfg.Backend),
			slog.String("error", err.Error()))
		return nil
	}
	logger.Info("vector cache opened", slog.String("backend", backend.Name()))
	return vectorcache.New(backend, logger)
}
