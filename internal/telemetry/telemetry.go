// Package telemetry wires up the OpenTelemetry tracer provider and
// implements the policy.Tracer/policy.Span interfaces so policies get
// real spans without importing the OTel SDK directly.
//
// Grounded on digitallysavvy-go-ai's use of the otel/sdk +
// otlptracehttp exporter stack; the gateway reuses the same pieces for
// its own request-scoped spans (spec §4.2 "span(name, attrs?)",
// §6 "OTEL_ENDPOINT").
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/luthien-control/luthien-gateway/internal/policy"
)

// ServiceName identifies this process's spans in the configured OTel
// backend.
const ServiceName = "luthien-gateway"

// NewTracerProvider builds an SDK tracer provider exporting to
// endpoint over OTLP/HTTP. Callers must call Shutdown on the returned
// provider before process exit so buffered spans flush.
func NewTracerProvider(ctx context.Context, endpoint string) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("creating OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(attribute.String("service.name", ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("building OTel resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}

// Tracer adapts an OTel trace.Tracer to policy.Tracer.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer wraps the process-wide tracer registered under name.
func NewTracer(name string) *Tracer {
	return &Tracer{tracer: otel.Tracer(name)}
}

var _ policy.Tracer = (*Tracer)(nil)

// StartSpan opens a child span carrying attrs as span attributes.
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, policy.Span) {
	ctx, span := t.tracer.Start(ctx, name)
	for k, v := range attrs {
		span.SetAttributes(toAttribute(k, v))
	}
	return ctx, &Span{span: span}
}

// Span adapts an OTel trace.Span to policy.Span.
type Span struct {
	span trace.Span
}

var _ policy.Span = (*Span)(nil)

func (s *Span) SetAttribute(key string, value any) {
	s.span.SetAttributes(toAttribute(key, value))
}

func (s *Span) End() {
	s.span.End()
}

func toAttribute(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}
