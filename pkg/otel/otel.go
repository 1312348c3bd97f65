// Package otel configures OpenTelemetry tracing for linecast binaries.
//
// When no collector endpoint is configured the global no-op provider stays in
// place and spans cost nothing.
package otel

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config holds tracing configuration.
type Config struct {
	ServiceName       string
	ServiceVersion    string
	Environment       string
	CollectorEndpoint string
	CollectorInsecure bool
	SamplingRate      float64 // 0.0 to 1.0
}

// DefaultConfig returns defaults for serviceName with tracing disabled.
func DefaultConfig(serviceName string) *Config {
	return &Config{
		ServiceName:       serviceName,
		ServiceVersion:    "dev",
		Environment:       "production",
		CollectorInsecure: true,
		SamplingRate:      1.0,
	}
}

// Enabled reports whether a collector endpoint is set.
func (c *Config) Enabled() bool {
	return c != nil && c.CollectorEndpoint != ""
}

// InitTracer installs a global tracer provider exporting over OTLP gRPC.
// It returns a nil provider when tracing is disabled.
func InitTracer(ctx context.Context, config *Config) (*sdktrace.TracerProvider, error) {
	if !config.Enabled() {
		return nil, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(config.CollectorEndpoint)}
	if config.CollectorInsecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", config.ServiceName),
			attribute.String("service.version", config.ServiceVersion),
			attribute.String("deployment.environment", config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(config.SamplingRate))),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp, nil
}

// Shutdown flushes and stops tp. A nil provider is a no-op.
func Shutdown(ctx context.Context, tp *sdktrace.TracerProvider) error {
	if tp == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return tp.Shutdown(ctx)
}

// StartSpan starts a span on the named tracer with attrs.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// RecordError marks span as failed with err.
func RecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Attribute keys shared by linecast spans.
const (
	AttrLine           = attribute.Key("linecast.line")
	AttrHours          = attribute.Key("linecast.hours")
	AttrSteps          = attribute.Key("linecast.steps")
	AttrVersion        = attribute.Key("linecast.artifacts.version")
	AttrHistoryVersion = attribute.Key("linecast.history.version")
	AttrHistoryRows    = attribute.Key("linecast.history.rows")
)

// RunAttributes returns the attributes identifying a forecast run.
func RunAttributes(line string, hours int) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrLine.String(line),
		AttrHours.Int(hours),
	}
}
