package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/Ramsey-B/lichen/pkg/tracing/exporters"
)

// Setup installs a global tracer provider exporting through config and returns its shutdown func.
func Setup(ctx context.Context, serviceName string, config exporters.OTLPConfig) (func(context.Context) error, error) {
	exp, err := exporters.New(ctx, config)
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", serviceName))),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	SetTracer(provider.Tracer(serviceName))

	return provider.Shutdown, nil
}
