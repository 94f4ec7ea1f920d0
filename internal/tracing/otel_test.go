package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTracerProvider_StdoutExporter(t *testing.T) {
	var buf bytes.Buffer
	tp, err := NewTracerProvider(context.Background(), Options{
		ServiceName: "agentcore-test",
		TenantID:    "tenant-a",
		SampleRatio: 1,
		Exporter:    ExporterStdout,
		Output:      &buf,
	})
	require.NoError(t, err)

	_, span := tp.Tracer("agentcore.test").Start(context.Background(), "dispatcher.handle")
	span.End()
	require.NoError(t, tp.ForceFlush(context.Background()))
	require.NoError(t, tp.Shutdown(context.Background()))

	out := buf.String()
	assert.Contains(t, out, "dispatcher.handle")
	assert.Contains(t, out, "tenant-a")
	assert.Contains(t, out, "agentcore-test")
}

func TestNewTracerProvider_ZeroRatioDropsRootSpans(t *testing.T) {
	var buf bytes.Buffer
	tp, err := NewTracerProvider(context.Background(), Options{
		ServiceName: "agentcore-test",
		SampleRatio: 0,
		Exporter:    ExporterStdout,
		Output:      &buf,
	})
	require.NoError(t, err)

	_, span := tp.Tracer("agentcore.test").Start(context.Background(), "dropped")
	assert.False(t, span.SpanContext().IsSampled())
	span.End()
	require.NoError(t, tp.Shutdown(context.Background()))

	assert.NotContains(t, buf.String(), "dropped")
}

func TestNewTracerProvider_InvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want string
	}{
		{"ratio above one", Options{SampleRatio: 1.5}, "sample ratio must be between 0 and 1"},
		{"negative ratio", Options{SampleRatio: -0.1}, "sample ratio must be between 0 and 1"},
		{"unknown exporter", Options{SampleRatio: 1, Exporter: "jaeger"}, `unknown span exporter "jaeger"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTracerProvider(context.Background(), tt.opts)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestShutdownOpenTelemetry_Idempotent(t *testing.T) {
	require.NoError(t, InitOpenTelemetry(context.Background(), Options{ServiceName: "agentcore-test", SampleRatio: 1}))
	require.NoError(t, ShutdownOpenTelemetry(context.Background()))
	require.NoError(t, ShutdownOpenTelemetry(context.Background()))
}
