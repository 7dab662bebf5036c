package otelcol

import (
	"context"
	"testing"

	"looks-ledger/pkg/config"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/fx/fxtest"
)

func TestNewTracerProviderWithoutAddr(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	tp, err := NewTracerProvider(lc, &config.Config{})
	require.NoError(t, err)
	require.NotNil(t, tp)
	_, isSDK := tp.(*trace.TracerProvider)
	require.False(t, isSDK)
}

func TestProvideTrace(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	cfg := &config.Config{AppName: "looks-ledger", AppEnv: "test"}

	tp := ProvideTrace(exporter, defaultTraceProviderOption(cfg)...)
	_, span := tp.Tracer("test").Start(context.Background(), "spend")
	span.End()

	require.NoError(t, tp.ForceFlush(context.Background()))
	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	require.Equal(t, "spend", spans[0].Name)
	require.NoError(t, tp.Shutdown(context.Background()))
}
