// Package observability wires distributed tracing and metrics across
// every component, plus a trace-aware request logger distinct from the
// component logger in internal/logging.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/host"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/alicit/licita/internal/config"
)

// Shutdown flushes and tears down every exporter started by Init.
type Shutdown func(context.Context) error

// noopShutdown is returned when telemetry is disabled so callers never
// need a nil check before deferring the shutdown.
func noopShutdown(context.Context) error { return nil }

// Init configures tracing and metrics exporters per cfg. When cfg is
// disabled it installs nothing, leaving the otel globals at their no-op
// defaults, and returns a no-op shutdown, so instrumented code (Tracer,
// Instrument) never needs to branch on whether telemetry is on.
func Init(ctx context.Context, cfg config.TelemetryConfig) (Shutdown, error) {
	if !cfg.Enabled {
		return noopShutdown, nil
	}
	if cfg.Endpoint == "" {
		return noopShutdown, fmt.Errorf("observability: otel endpoint required when enabled")
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "licita"
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithProcess(),
		resource.WithOS(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			attribute.String("deployment.environment", "production"),
		),
	)
	if err != nil {
		return noopShutdown, fmt.Errorf("observability: resource: %w", err)
	}

	traceExporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return noopShutdown, fmt.Errorf("observability: trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)

	metricExporter, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpoint(cfg.Endpoint), otlpmetrichttp.WithInsecure())
	if err != nil {
		return noopShutdown, fmt.Errorf("observability: metric exporter: %w", err)
	}
	reader := metric.NewPeriodicReader(metricExporter, metric.WithInterval(15*time.Second))
	mp := metric.NewMeterProvider(
		metric.WithReader(reader),
		metric.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	if err := host.Start(host.WithMeterProvider(mp)); err != nil {
		return noopShutdown, fmt.Errorf("observability: host metrics: %w", err)
	}

	return func(ctx context.Context) error {
		var first error
		if err := mp.Shutdown(ctx); err != nil {
			first = err
		}
		if err := tp.Shutdown(ctx); err != nil && first == nil {
			first = err
		}
		return first
	}, nil
}

// Tracer returns a named tracer from the global provider. Safe to call
// whether or not Init enabled a real exporter.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
