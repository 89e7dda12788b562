// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command router serves and inspects the Aleutian semantic tool router.
//
// The router picks tools for a free-text message by embedding similarity
// against per-tool exemplars, gates out small talk with negative exemplars,
// extracts tool parameters with a small LLM and runs the tool.
//
// Usage:
//
//	router serve                       # HTTP API on :8080
//	router select "search for go 1.25 release notes" --explain
//	router run get_page "summarize https://go.dev/blog"
//	router tools
//	router cache status
//	router cache invalidate [tool|negative]
//
// With Ollama (the default providers):
//
//	OLLAMA_URL=http://localhost:11434 router serve
//
// With OpenAI embeddings:
//
//	ROUTER_EMBEDDING_PROVIDER=openai ROUTER_EMBEDDING_MODEL=text-embedding-3-small \
//	OPENAI_API_KEY=... router serve
//
// Example requests:
//
//	curl http://localhost:8080/v1/router/ready
//	curl -X POST http://localhost:8080/v1/router/select?explain=true \
//	  -H "Content-Type: application/json" -d '{"message": "find the weather in Oslo"}'
//
// The local subcommands open the configured vector cache themselves. With
// the badger backend they cannot run while a server holds the database.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianRouter/services/router/config"
	"github.com/AleutianAI/AleutianRouter/services/router/telemetry"
)

// Version information, set via ldflags.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	// Wipe sealed keys if the process is interrupted.
	memguard.CatchInterrupt()
	defer memguard.Purge()

	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "router:", err)
		memguard.Purge()
		os.Exit(1)
	}
}

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
	logLevel   string
	logFormat  string
	jsonOutput bool
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "router",
		Short: "Semantic tool router",
		Long: `router selects tools for free-text messages by embedding similarity,
extracts their parameters with a small LLM and executes them.

Configuration comes from an optional YAML file (--config) and ROUTER_*
environment variables. API keys are read from OPENAI_API_KEY,
ANTHROPIC_API_KEY and CUSTOM_SEARCH_API_KEY.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "Path to a YAML configuration file")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides configuration)")
	pf.StringVar(&opts.logFormat, "log-format", "", "Log format: text or json (overrides configuration)")
	pf.BoolVar(&opts.jsonOutput, "json", false, "Print results as JSON")

	root.AddCommand(
		newServeCmd(opts),
		newSelectCmd(opts),
		newRunCmd(opts),
		newToolsCmd(opts),
		newCacheCmd(opts),
	)
	return root
}

// load reads the configuration and builds the process logger. Flag values
// take precedence over the file and environment.
func (o *globalOptions) load() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Log.Format = o.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	logger := telemetry.NewLogger(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	slog.SetDefault(logger)
	return cfg, logger, nil
}
