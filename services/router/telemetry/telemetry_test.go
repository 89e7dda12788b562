// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	promclient "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/AleutianRouter/services/router/config"
)

func TestSetup_StdoutTraceAndPrometheusMetrics(t *testing.T) {
	var buf bytes.Buffer
	reg := promclient.NewRegistry()
	ctx := context.Background()

	shutdown, err := Setup(ctx, config.TelemetryConfig{
		ServiceName:   "router-test",
		TraceExporter: ExporterStdout,
		MetricsReader: ReaderPrometheus,
	}, WithWriter(&buf), WithRegisterer(reg))
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}

	_, span := otel.Tracer("telemetry-test").Start(ctx, "unit.span")
	span.End()

	counter, err := otel.Meter("telemetry-test").Int64Counter("router.test.events")
	if err != nil {
		t.Fatalf("counter: %v", err)
	}
	counter.Add(ctx, 2)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, mf := range families {
		if strings.HasPrefix(mf.GetName(), "router_test_events") {
			found = true
		}
	}
	if !found {
		t.Error("otel counter not exported through the prometheus registry")
	}

	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !strings.Contains(buf.String(), "unit.span") {
		t.Errorf("span not written to stdout exporter: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "router-test") {
		t.Error("service name missing from exported resource")
	}
}

func TestSetup_NoneInstallsNothing(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TelemetryConfig{
		ServiceName:   "router-test",
		TraceExporter: ExporterNone,
		MetricsReader: ReaderNone,
	})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestSetup_Unsupported(t *testing.T) {
	tests := []config.TelemetryConfig{
		{ServiceName: "x", TraceExporter: "zipkin", MetricsReader: ReaderNone},
		{ServiceName: "x", TraceExporter: ExporterNone, MetricsReader: "statsd"},
	}
	for _, cfg := range tests {
		if _, err := Setup(context.Background(), cfg); err == nil {
			t.Errorf("Setup(%+v) succeeded, want error", cfg)
		}
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("warn", "json", &buf)

	logger.Info("hidden")
	logger.Warn("vector cache: load miss", slog.String("prefix", "tool"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if rec["msg"] != "vector cache: load miss" || rec["prefix"] != "tool" {
		t.Errorf("record = %v", rec)
	}

	buf.Reset()
	NewLogger("debug", "text", &buf).Debug("visible")
	if !strings.Contains(buf.String(), "msg=visible") {
		t.Errorf("text handler output = %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug, "INFO": slog.LevelInfo, "warning": slog.LevelWarn,
		"error": slog.LevelError, "": slog.LevelInfo, "verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
