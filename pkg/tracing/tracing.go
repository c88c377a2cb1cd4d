package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var tracer trace.Tracer

// SetTracer sets the tracer to be used for tracing.
func SetTracer(t trace.Tracer) {
	tracer = t
}

// StartSpan starts a new span with the given name and returns the context and span.
// Without a configured tracer the span from ctx (usually a no-op) is returned.
func StartSpan(ctx context.Context, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// EndSpan records err on the span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// GetTraceID returns the trace ID from the context.
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if tracer == nil || !span.SpanContext().IsValid() {
		return ""
	}
	return span.SpanContext().TraceID().String()
}

// GetTraceParent returns the W3C traceparent header for the span on ctx.
func GetTraceParent(ctx context.Context) string {
	return traceContextCarrier(ctx).Get("traceparent")
}

// GetTraceState returns the W3C tracestate header for the span on ctx.
func GetTraceState(ctx context.Context) string {
	return traceContextCarrier(ctx).Get("tracestate")
}

func traceContextCarrier(ctx context.Context) propagation.MapCarrier {
	carrier := propagation.MapCarrier{}
	if !trace.SpanFromContext(ctx).SpanContext().IsValid() {
		return carrier
	}
	propagation.TraceContext{}.Inject(ctx, carrier)
	return carrier
}
