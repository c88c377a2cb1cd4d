package exporters

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// OTLPConfig holds configuration for the OTLP exporter
type OTLPConfig struct {
	// Endpoint is the collector address, e.g. localhost:4317 (grpc) or localhost:4318 (http)
	Endpoint string
	// Protocol is either "grpc" or "http"
	Protocol string
	Insecure bool
	Headers  map[string]string
	Timeout  time.Duration
}

// NoopExporter drops every span. Used when no collector is configured.
type NoopExporter struct{}

func (NoopExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	return nil
}

func (NoopExporter) Shutdown(ctx context.Context) error {
	return nil
}

// New returns an OTLP exporter for config, or a NoopExporter when Endpoint is empty.
func New(ctx context.Context, config OTLPConfig) (sdktrace.SpanExporter, error) {
	if config.Endpoint == "" {
		return NoopExporter{}, nil
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	var (
		exp *otlptrace.Exporter
		err error
	)
	switch config.Protocol {
	case "", "grpc":
		exp, err = newGRPCExporter(ctx, config)
	case "http":
		exp, err = newHTTPExporter(ctx, config)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol: %s (use 'grpc' or 'http')", config.Protocol)
	}
	if err != nil {
		return nil, err
	}
	return exp, nil
}

func newGRPCExporter(ctx context.Context, config OTLPConfig) (*otlptrace.Exporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(config.Endpoint),
		otlptracegrpc.WithTimeout(config.Timeout),
	}
	if config.Insecure {
		opts = append(opts,
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
			otlptracegrpc.WithInsecure(),
		)
	}
	if len(config.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(config.Headers))
	}
	return otlptracegrpc.New(ctx, opts...)
}

func newHTTPExporter(ctx context.Context, config OTLPConfig) (*otlptrace.Exporter, error) {
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(config.Endpoint),
		otlptracehttp.WithTimeout(config.Timeout),
	}
	if config.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if len(config.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(config.Headers))
	}
	return otlptracehttp.New(ctx, opts...)
}
