// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry installs the process-wide OpenTelemetry providers and
// builds the slog logger.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	promclient "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"

	"github.com/AleutianAI/AleutianRouter/services/router/config"
)

// Exporter and reader names accepted in config.TelemetryConfig.
const (
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
	ExporterNone   = "none"

	ReaderPrometheus = "prometheus"
	ReaderStdout     = "stdout"
	ReaderNone       = "none"
)

// ShutdownFunc flushes and stops the installed providers.
type ShutdownFunc func(ctx context.Context) error

type options struct {
	writer     io.Writer
	registerer promclient.Registerer
}

// Option customizes Setup.
type Option func(*options)

// WithWriter sets the destination of the stdout exporters. Default os.Stdout.
func WithWriter(w io.Writer) Option {
	return func(o *options) { o.writer = w }
}

// WithRegisterer sets the Prometheus registerer used by the prometheus
// reader. Default prometheus.DefaultRegisterer, which /metrics serves.
func WithRegisterer(r promclient.Registerer) Option {
	return func(o *options) { o.registerer = r }
}

// Setup installs a TracerProvider, a MeterProvider and the W3C propagator.
//
// # Description
//
// The trace exporter is chosen by cfg.TraceExporter and the metric reader
// by cfg.MetricsReader. "none" leaves the corresponding global provider
// untouched, which keeps otel's no-op default. The propagator is installed
// unconditionally so incoming traceparent headers are honored.
//
// # Outputs
//
//   - ShutdownFunc: Flushes and stops every provider Setup created. Never nil.
//   - error: Exporter construction failed. Nothing is installed in that case.
func Setup(ctx context.Context, cfg config.TelemetryConfig, opts ...Option) (ShutdownFunc, error) {
	o := options{writer: os.Stdout, registerer: promclient.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(cfg.ServiceName),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	var shutdowns []ShutdownFunc

	tp, err := newTracerProvider(ctx, cfg, o, res)
	if err != nil {
		return nil, err
	}
	mp, err := newMeterProvider(cfg, o, res)
	if err != nil {
		if tp != nil {
			_ = tp.Shutdown(ctx)
		}
		return nil, err
	}

	if tp != nil {
		otel.SetTracerProvider(tp)
		shutdowns = append(shutdowns, tp.Shutdown)
	}
	if mp != nil {
		otel.SetMeterProvider(mp)
		shutdowns = append(shutdowns, mp.Shutdown)
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func(ctx context.Context) error {
		var errs []error
		for _, fn := range shutdowns {
			if err := fn(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}, nil
}

func newTracerProvider(ctx context.Context, cfg config.TelemetryConfig, o options, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	var (
		exp sdktrace.SpanExporter
		err error
	)
	switch cfg.TraceExporter {
	case ExporterNone, "":
		return nil, nil
	case ExporterStdout:
		exp, err = stdouttrace.New(stdouttrace.WithWriter(o.writer))
	case ExporterOTLP:
		exp, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithDialOption(grpc.WithUserAgent(cfg.ServiceName)),
		)
	default:
		return nil, fmt.Errorf("unsupported trace exporter %q", cfg.TraceExporter)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s trace exporter: %w", cfg.TraceExporter, err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	), nil
}

func newMeterProvider(cfg config.TelemetryConfig, o options, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	var reader sdkmetric.Reader
	switch cfg.MetricsReader {
	case ReaderNone, "":
		return nil, nil
	case ReaderPrometheus:
		exp, err := otelprom.New(otelprom.WithRegisterer(o.registerer))
		if err != nil {
			return nil, fmt.Errorf("create prometheus metric reader: %w", err)
		}
		reader = exp
	case ReaderStdout:
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(o.writer))
		if err != nil {
			return nil, fmt.Errorf("create stdout metric exporter: %w", err)
		}
		reader = sdkmetric.NewPeriodicReader(exp)
	default:
		return nil, fmt.Errorf("unsupported metrics reader %q", cfg.MetricsReader)
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	), nil
}
