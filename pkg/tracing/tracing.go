// Package tracing provides OpenTelemetry span helpers for the scan and
// remediation pipelines. Neither cmd/supervisor nor cmd/fixer, nor any
// other package in this module, calls them.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/fleetops/autopilot"

// NewProvider builds a TracerProvider with a batch span processor over
// exporter. Callers own calling Shutdown on the returned provider.
func NewProvider(exporter sdktrace.SpanExporter) *sdktrace.TracerProvider {
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(provider)
	return provider
}

// StartScanSpan begins a span for one (service, region) target's scan.
func StartScanSpan(ctx context.Context, service, region string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "scan",
		trace.WithAttributes(
			attribute.String("service", service),
			attribute.String("region", region),
		),
	)
}

// StartRemediationSpan begins a span for one incident's remediation.
func StartRemediationSpan(ctx context.Context, incidentID, action string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "remediate",
		trace.WithAttributes(
			attribute.String("incident_id", incidentID),
			attribute.String("action", action),
		),
	)
}
