package vortex

import (
	"context"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// tracerName names the package tracer, which is taken from otel's global
// provider: InitTracing swaps in a real OTLP-backed provider when an
// exporter endpoint is configured; otherwise spans are cheap no-ops via
// otel's default global provider.
var tracerName = "vortex"

// Tracer returns the package tracer. Every RPC and workload handler wraps
// its work in a span from this tracer, mirroring the original system's
// #[instrument] annotations — whether those spans go anywhere depends on
// whether InitTracing installed a real exporter.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// InitTracing installs a batched OTLP/gRPC span exporter when
// OTEL_EXPORTER_OTLP_ENDPOINT is set; the other standard OTEL_* variables
// read by otlptracegrpc.New then configure that exporter, but none of them
// enables it on its own. Absent the endpoint variable, it leaves
// the default no-op provider in place, per spec.md §6: "Optional OTEL_*
// variables enable the tracing exporter; absent by default."
//
// Returns a shutdown func that must be called before process exit to
// flush pending spans; it is a no-op when no exporter was installed.
func InitTracing(ctx context.Context, nodeID string) (shutdown func(context.Context) error, err error) {
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx)
	if err != nil {
		return nil, wrapNodeError("failed to build OTLP trace exporter", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName("vortex"),
		semconv.ServiceInstanceID(nodeID),
	))
	if err != nil {
		return nil, wrapNodeError("failed to build trace resource", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	return provider.Shutdown, nil
}
