// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads router configuration from an optional YAML file and
// ROUTER_* environment variables.
//
// Every key has a default, so an empty environment yields a working local
// setup: Ollama for embeddings and extraction, a file vector cache under
// ./routing_cache and the embedded exemplar corpus.
//
// Environment variables map to keys by upper-casing and replacing dots with
// underscores: cache.backend is ROUTER_CACHE_BACKEND.
//
// Credentials are never read from the file. They come from the conventional
// variables (OPENAI_API_KEY, ANTHROPIC_API_KEY, CUSTOM_SEARCH_API_KEY) and
// are sealed in memguard enclaves.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/AleutianAI/AleutianRouter/services/llm"
	"github.com/AleutianAI/AleutianRouter/services/router/providers"
)

// EnvPrefix is the prefix for environment overrides.
const EnvPrefix = "ROUTER"

// ErrInvalidConfig is returned when loaded values fail validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Cache backends.
const (
	BackendFile   = "file"
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
	BackendGCS    = "gcs"
	BackendNone   = "none"
)

// Config is the full router configuration.
type Config struct {
	Server     ServerConfig             `mapstructure:"server"`
	Log        LogConfig                `mapstructure:"log"`
	Embedding  providers.ProviderConfig `mapstructure:"embedding"`
	Generation providers.ProviderConfig `mapstructure:"generation"`
	Selector   SelectorConfig           `mapstructure:"selector"`
	Params     ParamsConfig             `mapstructure:"params"`
	Warmup     WarmupConfig             `mapstructure:"warmup"`
	Cache      CacheConfig              `mapstructure:"cache"`
	Corpus     CorpusConfig             `mapstructure:"corpus"`
	Tools      ToolsConfig              `mapstructure:"tools"`
	Telemetry  TelemetryConfig          `mapstructure:"telemetry"`
	Secrets    Secrets                  `mapstructure:"-"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`

	// RetryAfter is advertised on 503 responses while the index warms.
	RetryAfter time.Duration `mapstructure:"retry_after" validate:"gt=0"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

// SelectorConfig holds the routing thresholds.
type SelectorConfig struct {
	NegativeThreshold float64       `mapstructure:"negative_threshold" validate:"gte=-1,lte=1"`
	ToolThreshold     float64       `mapstructure:"tool_threshold" validate:"gte=-1,lte=1"`
	MaxTools          int           `mapstructure:"max_tools" validate:"gte=1,lte=50"`
	EmbedTimeout      time.Duration `mapstructure:"embed_timeout" validate:"gt=0"`

	// QueryCacheSize is the LRU size for query embeddings. Zero disables it.
	QueryCacheSize int `mapstructure:"query_cache_size" validate:"gte=0"`
}

// ParamsConfig configures parameter extraction.
type ParamsConfig struct {
	Timeout          time.Duration `mapstructure:"timeout" validate:"gt=0"`
	Temperature      float64       `mapstructure:"temperature" validate:"gte=0,lte=2"`
	MaxTokens        int           `mapstructure:"max_tokens" validate:"gt=0"`
	BatchConcurrency int           `mapstructure:"batch_concurrency" validate:"gte=1"`
}

// WarmupConfig configures cold store builds.
type WarmupConfig struct {
	Concurrency   int           `mapstructure:"concurrency" validate:"gte=1,lte=64"`
	EmbedTimeout  time.Duration `mapstructure:"embed_timeout" validate:"gt=0"`
	RatePerSecond float64       `mapstructure:"rate_per_second" validate:"gte=0"`
	Burst         int           `mapstructure:"burst" validate:"gte=0"`
}

// CacheConfig selects and configures the vector cache backend.
type CacheConfig struct {
	Backend string `mapstructure:"backend" validate:"oneof=file badger sqlite gcs none"`
	Version string `mapstructure:"version" validate:"required"`

	// Dir is the directory for the file and badger backends.
	Dir string `mapstructure:"dir" validate:"required_if=Backend file,required_if=Backend badger"`

	// BadgerTTL expires badger entries. Zero keeps them forever.
	BadgerTTL time.Duration `mapstructure:"badger_ttl" validate:"gte=0"`

	SQLitePath string `mapstructure:"sqlite_path" validate:"required_if=Backend sqlite"`

	GCSBucket string `mapstructure:"gcs_bucket" validate:"required_if=Backend gcs"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
}

// CorpusConfig locates the exemplar corpus.
type CorpusConfig struct {
	// Path overrides the embedded corpus when non-empty.
	Path string `mapstructure:"path"`

	// Watch reloads the corpus when Path changes on disk.
	Watch bool `mapstructure:"watch"`
}

// ToolsConfig configures the built-in tools.
type ToolsConfig struct {
	SearchEndpoint string        `mapstructure:"search_endpoint" validate:"required,url"`
	SearchEngineID string        `mapstructure:"search_engine_id"`
	SearchTimeout  time.Duration `mapstructure:"search_timeout" validate:"gt=0"`
	PageTimeout    time.Duration `mapstructure:"page_timeout" validate:"gt=0"`
	PageMaxChars   int           `mapstructure:"page_max_chars" validate:"gt=0"`
}

// TelemetryConfig selects the OpenTelemetry exporters.
type TelemetryConfig struct {
	ServiceName   string `mapstructure:"service_name" validate:"required"`
	TraceExporter string `mapstructure:"trace_exporter" validate:"oneof=stdout otlp none"`
	OTLPEndpoint  string `mapstructure:"otlp_endpoint" validate:"required_if=TraceExporter otlp"`
	MetricsReader string `mapstructure:"metrics_reader" validate:"oneof=prometheus stdout none"`
}

// Secrets holds sealed credentials.
type Secrets struct {
	OpenAIKey    *Secret
	AnthropicKey *Secret
	SearchAPIKey *Secret
}

// setDefaults registers a default for every key. Keys without a default are
// invisible to AutomaticEnv during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.retry_after", 5*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("embedding.provider", providers.ProviderOllama)
	v.SetDefault("embedding.model", "nomic-embed-text-v2-moe")
	v.SetDefault("embedding.base_url", "")
	v.SetDefault("embedding.keep_alive", "")
	v.SetDefault("embedding.num_ctx", 0)

	v.SetDefault("generation.provider", providers.ProviderOllama)
	v.SetDefault("generation.model", "ministral-3:3b")
	v.SetDefault("generation.base_url", "")
	v.SetDefault("generation.keep_alive", "24h")
	v.SetDefault("generation.num_ctx", 4096)

	v.SetDefault("selector.negative_threshold", 0.6)
	v.SetDefault("selector.tool_threshold", 0.4)
	v.SetDefault("selector.max_tools", 3)
	v.SetDefault("selector.embed_timeout", 10*time.Second)
	v.SetDefault("selector.query_cache_size", providers.DefaultQueryCacheSize)

	v.SetDefault("params.timeout", 10*time.Second)
	v.SetDefault("params.temperature", 0.1)
	v.SetDefault("params.max_tokens", 200)
	v.SetDefault("params.batch_concurrency", 4)

	v.SetDefault("warmup.concurrency", 8)
	v.SetDefault("warmup.embed_timeout", 30*time.Second)
	v.SetDefault("warmup.rate_per_second", 0.0)
	v.SetDefault("warmup.burst", 0)

	v.SetDefault("cache.backend", BackendFile)
	v.SetDefault("cache.version", "1")
	v.SetDefault("cache.dir", "./routing_cache")
	v.SetDefault("cache.badger_ttl", time.Duration(0))
	v.SetDefault("cache.sqlite_path", "./routing_cache/vectors.db")
	v.SetDefault("cache.gcs_bucket", "")
	v.SetDefault("cache.gcs_prefix", "router/")

	v.SetDefault("corpus.path", "")
	v.SetDefault("corpus.watch", false)

	v.SetDefault("tools.search_endpoint", "https://www.googleapis.com/customsearch/v1")
	v.SetDefault("tools.search_engine_id", "")
	v.SetDefault("tools.search_timeout", 10*time.Second)
	v.SetDefault("tools.page_timeout", 15*time.Second)
	v.SetDefault("tools.page_max_chars", 20000)

	v.SetDefault("telemetry.service_name", "aleutian-router")
	v.SetDefault("telemetry.trace_exporter", "none")
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.metrics_reader", "prometheus")
}

// Load reads configuration.
//
// # Description
//
// Precedence, highest first: ROUTER_* environment variables, the YAML file
// at path, defaults. PROGRAMMABLE_SEARCH_ENGINE_ID fills
// tools.search_engine_id when neither source sets it.
//
// # Inputs
//
//   - path: Optional YAML file. Empty means defaults and environment only.
//
// # Outputs
//
//   - *Config: Validated configuration with secrets sealed.
//   - error: File read failure, or wraps ErrInvalidConfig.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.Tools.SearchEngineID == "" {
		cfg.Tools.SearchEngineID = os.Getenv("PROGRAMMABLE_SEARCH_ENGINE_ID")
	}
	cfg.Secrets = Secrets{
		OpenAIKey:    SecretFromEnv("OPENAI_API_KEY"),
		AnthropicKey: SecretFromEnv("ANTHROPIC_API_KEY"),
		SearchAPIKey: SecretFromEnv("CUSTOM_SEARCH_API_KEY"),
	}
	cfg.Embedding.Key = cfg.keyFor(cfg.Embedding.Provider)
	cfg.Generation.Key = cfg.keyFor(cfg.Generation.Provider)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// keyFor returns the sealed key for a cloud provider, or nil.
func (c *Config) keyFor(provider string) llm.KeySource {
	var s *Secret
	switch provider {
	case providers.ProviderOpenAI:
		s = c.Secrets.OpenAIKey
	case providers.ProviderAnthropic:
		s = c.Secrets.AnthropicKey
	}
	if !s.Set() {
		return nil
	}
	return s
}

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			problems := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				problems = append(problems, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if c.Embedding.Provider == providers.ProviderAnthropic {
		return fmt.Errorf("%w: embedding.provider anthropic has no embedding API", ErrInvalidConfig)
	}
	for _, pc := range []providers.ProviderConfig{c.Embedding, c.Generation} {
		if (pc.Provider == providers.ProviderOpenAI || pc.Provider == providers.ProviderAnthropic) && pc.Key == nil {
			return fmt.Errorf("%w: provider %s requires an API key in the environment", ErrInvalidConfig, pc.Provider)
		}
	}
	return nil
}
