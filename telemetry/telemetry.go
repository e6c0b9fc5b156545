// Package telemetry configures OpenTelemetry tracing for a run.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/use-agent/tablegrab/config"
)

const tracerName = "github.com/use-agent/tablegrab"

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(context.Context) error

// Setup installs the global tracer provider described by cfg. With the
// "none" exporter the global no-op provider is left in place.
func Setup(cfg config.TelemetryConfig) (ShutdownFunc, error) {
	return setup(cfg, os.Stderr)
}

func setup(cfg config.TelemetryConfig, w io.Writer) (ShutdownFunc, error) {
	switch cfg.Exporter {
	case "", "none":
		return func(context.Context) error { return nil }, nil
	case "stdout":
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", cfg.Exporter)
	}

	// Spans share stderr with the logs; stdout carries the table.
	exporter, err := stdouttrace.New(
		stdouttrace.WithWriter(w),
		stdouttrace.WithPrettyPrint(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", "tablegrab"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(provider)

	return provider.Shutdown, nil
}

// Tracer returns the tracer used by the scrape pipeline.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named name under ctx.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// End records err on span, if any, and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Attribute keys for pipeline spans.
var (
	AttrURL        = attribute.Key("tablegrab.url")
	AttrSelector   = attribute.Key("tablegrab.selector")
	AttrRowCount   = attribute.Key("tablegrab.rows")
	AttrErrorCode  = attribute.Key("tablegrab.error.code")
	AttrWaitPolicy = attribute.Key("tablegrab.wait_until")
)
