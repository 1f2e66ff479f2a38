package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/irfndi/celebrum-pricesync/internal/config"
)

// ShutdownFunc flushes and stops the installed tracer provider.
type ShutdownFunc func(context.Context) error

// Init installs the global tracer provider.
//
// An OTLP endpoint takes precedence over the stdout exporter. With telemetry
// disabled, or with neither exporter configured, a no-op provider is installed
// so instrumented code never needs a nil check.
func Init(ctx context.Context, cfg config.TelemetryConfig, environment string) (ShutdownFunc, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !cfg.Enabled || (cfg.OTLPEndpoint == "" && !cfg.Stdout) {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	if cfg.OTLPEndpoint != "" {
		exporter, err = otlptracehttp.New(ctx, endpointOption(cfg.OTLPEndpoint)...)
	} else {
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tp, err := newTracerProvider(ctx, cfg, environment, sdktrace.WithBatcher(exporter))
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func newTracerProvider(ctx context.Context, cfg config.TelemetryConfig, environment string, opts ...sdktrace.TracerProviderOption) (*sdktrace.TracerProvider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	rate := cfg.SampleRate
	if rate <= 0 || rate > 1 {
		rate = 1
	}
	opts = append(opts,
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))),
	)
	return sdktrace.NewTracerProvider(opts...), nil
}

// endpointOption accepts either a full URL or a bare host:port, the latter
// meaning plain HTTP to a local collector.
func endpointOption(endpoint string) []otlptracehttp.Option {
	target := config.ResolveOTLPEndpoint(endpoint, "/v1/traces")
	if target.URL != "" {
		return []otlptracehttp.Option{otlptracehttp.WithEndpointURL(target.URL)}
	}
	return []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(target.HostPort),
		otlptracehttp.WithInsecure(),
	}
}

// Tracer returns a named tracer from the global provider.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
