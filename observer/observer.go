// Package observer provides OTEL-based observability for agent runs.
//
// It exports spans for turns, model calls, and tool executions via
// OpenTelemetry, and computes USD cost from token usage. Users export to any
// OTEL-compatible backend by setting standard OTEL env vars.
package observer

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const scopeName = "github.com/takatoshi-maeda/ai-kit/observer"

// InitOption configures Init.
type InitOption func(*initConfig)

type initConfig struct {
	exporterOpts []otlptracehttp.Option
}

// WithEndpoint sends traces to the given OTLP HTTP endpoint URL
// (for example "http://localhost:4318"), overriding the OTEL env vars.
func WithEndpoint(url string) InitOption {
	return func(c *initConfig) {
		c.exporterOpts = append(c.exporterOpts, otlptracehttp.WithEndpointURL(url))
	}
}

// Init sets up an OTEL trace provider with an OTLP HTTP exporter.
// Without options, configuration comes from standard OTEL env vars
// (OTEL_EXPORTER_OTLP_ENDPOINT, etc.). Returns a shutdown function that
// must be called on application exit.
func Init(ctx context.Context, opts ...InitOption) (func(context.Context) error, error) {
	var cfg initConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName("ai-kit")),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, err
	}

	traceExp, err := otlptracehttp.New(ctx, cfg.exporterOpts...)
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}
