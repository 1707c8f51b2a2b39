// Package traces configures the OpenTelemetry tracer provider and offers
// span helpers for the assessment pipeline.
package traces

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/scamscore/internal/domain"
)

const tracerName = "github.com/opensource-finance/scamscore"

// Shutdown flushes and stops the tracer provider.
type Shutdown func(context.Context) error

func noop(context.Context) error { return nil }

// Init installs a batching OTLP/gRPC tracer provider. When tracing is
// disabled or no endpoint is configured the global no-op provider stays in
// place and the returned Shutdown does nothing.
func Init(ctx context.Context, cfg domain.TracingConfig, version string) (Shutdown, error) {
	if !cfg.Enabled || cfg.Endpoint == "" {
		slog.Info("tracing disabled", "enabled", cfg.Enabled, "endpoint", cfg.Endpoint)
		return noop, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "scamscore"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build trace resource: %w", err)
	}

	sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)

	slog.Info("tracing enabled", "endpoint", cfg.Endpoint, "sample_ratio", cfg.SampleRatio)
	return tp.Shutdown, nil
}

// StartSpan starts a span on the package tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// Tenant tags a span with the tenant ID.
func Tenant(id string) attribute.KeyValue {
	return attribute.String("tenant.id", id)
}

// RequestID tags a span with the client request ID.
func RequestID(id string) attribute.KeyValue {
	return attribute.String("request.id", id)
}

// Tier tags a span with the assigned risk tier.
func Tier(t domain.RiskTier) attribute.KeyValue {
	return attribute.String("assessment.tier", string(t))
}

// Probability tags a span with the scam probability.
func Probability(p float64) attribute.KeyValue {
	return attribute.Float64("assessment.scam_probability", p)
}
