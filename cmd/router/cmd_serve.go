// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianRouter/services/router"
	"github.com/AleutianAI/AleutianRouter/services/router/config"
	"github.com/AleutianAI/AleutianRouter/services/router/telemetry"
)

// warmupTimeout bounds the initial index build. A timed-out build leaves
// the server cold; POST /v1/router/reload retries it.
const warmupTimeout = 5 * time.Minute

func newServeCmd(opts *globalOptions) *cobra.Command {
	var debug bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the router HTTP API",
		Long: `Starts the HTTP API under /v1/router. The exemplar index is warmed in the
background; selection endpoints return 503 with Retry-After until it is ready.
Prometheus metrics are served on /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, logger, debug)
		},
	}
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable gin debug mode and request logging")
	return cmd
}

func serve(parent context.Context, cfg *config.Config, logger *slog.Logger, debug bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	rt, err := router.NewFromConfig(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn("router close failed", slog.String("error", err.Error()))
		}
	}()

	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware(cfg.Telemetry.ServiceName))
	if debug {
		engine.Use(gin.Logger())
	}
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := engine.Group("/v1")
	router.RegisterRoutes(v1, router.NewHandlers(rt, cfg.Server.RetryAfter, logger))

	go warmInBackground(ctx, rt, logger)

	if cfg.Corpus.Watch && cfg.Corpus.Path != "" {
		if err := rt.WatchCorpus(ctx, cfg.Corpus.Path); err != nil {
			logger.Warn("corpus watcher unavailable, edits require POST /v1/router/reload",
				slog.String("path", cfg.Corpus.Path),
				slog.String("error", err.Error()))
		}
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting Aleutian Router server", slog.String("address", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down Aleutian Router server")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}

// warmInBackground builds the exemplar index. A panic is logged and leaves
// the server cold.
func warmInBackground(ctx context.Context, rt *router.Router, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			logger.Error("Panic in warmup goroutine recovered",
				slog.Any("panic", r),
				slog.String("stack", string(buf[:n])))
		}
	}()

	wctx, cancel := context.WithTimeout(ctx, warmupTimeout)
	defer cancel()

	start := time.Now()
	logger.Info("Server starting, exemplar index warmup in progress...")
	report, err := rt.Warm(wctx)
	if err != nil {
		logger.Warn("Exemplar index warmup failed, selection unavailable until reload",
			slog.String("error", err.Error()),
			slog.Duration("duration", time.Since(start)))
		return
	}
	logger.Info("Server ready to route requests",
		slog.String("tool_source", report.Tool.Source),
		slog.String("negative_source", report.Negative.Source),
		slog.Duration("duration", time.Since(start)))
}
