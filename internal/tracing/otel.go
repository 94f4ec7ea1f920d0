package tracing

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Span exporters understood by Options.Exporter.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

// Options configures the process tracer provider.
type Options struct {
	ServiceName string
	TenantID    string

	// SampleRatio is the fraction of root traces kept, 0..1. Child spans
	// follow their parent's decision.
	SampleRatio float64

	// Exporter is ExporterNone (spans only feed trace ids into logs) or
	// ExporterStdout (spans written as JSON to Output, os.Stdout when nil).
	Exporter string
	Output   io.Writer
}

var (
	providerMu sync.Mutex
	provider   *sdktrace.TracerProvider
)

// InitOpenTelemetry installs a tracer provider built from opts as the global
// provider. A provider installed earlier is shut down first.
func InitOpenTelemetry(ctx context.Context, opts Options) error {
	tp, err := NewTracerProvider(ctx, opts)
	if err != nil {
		return err
	}

	providerMu.Lock()
	previous := provider
	provider = tp
	providerMu.Unlock()

	otel.SetTracerProvider(tp)
	if previous != nil {
		return previous.Shutdown(ctx)
	}
	return nil
}

// NewTracerProvider builds a tracer provider tagged with the service and
// tenant, sampling at opts.SampleRatio.
func NewTracerProvider(ctx context.Context, opts Options) (*sdktrace.TracerProvider, error) {
	if opts.SampleRatio < 0 || opts.SampleRatio > 1 {
		return nil, fmt.Errorf("sample ratio must be between 0 and 1, got %g", opts.SampleRatio)
	}

	attrs := []attribute.KeyValue{semconv.ServiceName(opts.ServiceName)}
	if opts.TenantID != "" {
		attrs = append(attrs, attribute.String("tenant.id", opts.TenantID))
	}
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(opts.SampleRatio))),
		sdktrace.WithResource(res),
	}

	switch opts.Exporter {
	case "", ExporterNone:
	case ExporterStdout:
		out := opts.Output
		if out == nil {
			out = os.Stdout
		}
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(out))
		if err != nil {
			return nil, fmt.Errorf("stdout span exporter: %w", err)
		}
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter))
	default:
		return nil, fmt.Errorf("unknown span exporter %q", opts.Exporter)
	}

	return sdktrace.NewTracerProvider(tpOpts...), nil
}

// ShutdownOpenTelemetry flushes and shuts down the installed tracer provider.
func ShutdownOpenTelemetry(ctx context.Context) error {
	providerMu.Lock()
	tp := provider
	provider = nil
	providerMu.Unlock()
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

// StartSpan starts a span and copies its trace id into the tracing context
// when none is set yet.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))

	if GetTraceID(ctx) == "" {
		if sc := span.SpanContext(); sc.IsValid() {
			ctx = WithTraceID(ctx, sc.TraceID().String())
		}
	}

	return ctx, span
}

// FailSpan records err on span and marks it as failed.
func FailSpan(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
