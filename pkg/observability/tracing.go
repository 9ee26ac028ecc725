// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for the MCP server.
package observability

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracingConfig configures OpenTelemetry tracing
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string

	ExporterType ExporterType
	Endpoint     string // OTLP endpoint
	Headers      map[string]string
	Insecure     bool

	SampleRate float64 // 0.0 to 1.0

	// SpanProcessors are added to the provider in addition to the
	// exporter's batcher.
	SpanProcessors []sdktrace.SpanProcessor
}

// SpanProcessor receives every span the tracer starts
type SpanProcessor = sdktrace.SpanProcessor

// ExporterType defines the type of trace exporter
type ExporterType string

const (
	// ExporterTypeOTLPGRPC exports traces via OTLP over gRPC
	ExporterTypeOTLPGRPC ExporterType = "otlp-grpc"

	// ExporterTypeOTLPHTTP exports traces via OTLP over HTTP
	ExporterTypeOTLPHTTP ExporterType = "otlp-http"

	// ExporterTypeNoop records spans but exports nothing
	ExporterTypeNoop ExporterType = "noop"
)

// Span attribute keys
const (
	AttrMethod  = attribute.Key("mcp.method")
	AttrTarget  = attribute.Key("mcp.target")
	AttrStage   = attribute.Key("mcp.stage")
	AttrOutcome = attribute.Key("mcp.outcome")
	AttrClient  = attribute.Key("mcp.client_id")
)

// Tracer starts one span per MCP request. The zero value and a nil
// *Tracer are valid and record nothing.
type Tracer struct {
	config   TracingConfig
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	mu       sync.Mutex
	shutdown func(context.Context) error
}

// NewTracer creates a tracer. The provider is not installed globally.
func NewTracer(config TracingConfig) (*Tracer, error) {
	if config.ServiceName == "" {
		config.ServiceName = "tari-universe-mcp-server"
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = "unknown"
	}
	if config.ExporterType == "" {
		config.ExporterType = ExporterTypeNoop
	}

	exporter, err := createExporter(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
		)),
		sdktrace.WithSampler(createSampler(config.SampleRate)),
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}
	for _, sp := range config.SpanProcessors {
		opts = append(opts, sdktrace.WithSpanProcessor(sp))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	return &Tracer{
		config:   config,
		provider: tp,
		tracer:   tp.Tracer("github.com/fluffypony/universe/pkg/server"),
		shutdown: tp.Shutdown,
	}, nil
}

// createExporter returns nil for the noop exporter
func createExporter(config TracingConfig) (sdktrace.SpanExporter, error) {
	switch config.ExporterType {
	case ExporterTypeOTLPGRPC:
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(config.Endpoint),
			otlptracegrpc.WithHeaders(config.Headers),
		}
		if config.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptrace.New(context.Background(), otlptracegrpc.NewClient(opts...))
	case ExporterTypeOTLPHTTP:
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(config.Endpoint),
			otlptracehttp.WithHeaders(config.Headers),
		}
		if config.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptrace.New(context.Background(), otlptracehttp.NewClient(opts...))
	case ExporterTypeNoop:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported exporter type: %s", config.ExporterType)
	}
}

func createSampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0.0:
		return sdktrace.NeverSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
}

func (t *Tracer) spanTracer() trace.Tracer {
	if t == nil || t.tracer == nil {
		return noop.NewTracerProvider().Tracer("")
	}
	return t.tracer
}

// StartRequest starts the span of one request
func (t *Tracer) StartRequest(ctx context.Context, method, clientID string) (context.Context, trace.Span) {
	return t.spanTracer().Start(ctx, "mcp."+method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			AttrMethod.String(method),
			AttrClient.String(clientID),
		),
	)
}

// EndRequest annotates span with the request result and ends it
func EndRequest(span trace.Span, target, stage, outcome string, err error) {
	span.SetAttributes(
		AttrTarget.String(target),
		AttrStage.String(stage),
		AttrOutcome.String(outcome),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Shutdown flushes and stops the provider
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.shutdown != nil {
		err := t.shutdown(ctx)
		t.shutdown = nil
		return err
	}
	return nil
}
