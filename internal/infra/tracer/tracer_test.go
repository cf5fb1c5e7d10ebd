package tracer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"

	"nousim/internal/infra/config"
)

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TracerConfig{Enabled: false})
	require.NoError(t, err)
	defer shutdown(context.Background())

	_, ok := otel.GetTracerProvider().(noop.TracerProvider)
	assert.True(t, ok, "expected noop provider, got %T", otel.GetTracerProvider())
}

func TestSetupExporters(t *testing.T) {
	for _, exp := range []string{"noop", "", "stdout"} {
		shutdown, err := Setup(context.Background(), config.TracerConfig{Enabled: true, Exporter: exp})
		require.NoError(t, err, exp)
		require.NoError(t, shutdown(context.Background()))
	}
}

func TestSetupUnsupportedExporter(t *testing.T) {
	_, err := Setup(context.Background(), config.TracerConfig{Enabled: true, Exporter: "invalid"})
	assert.Error(t, err)
}

func TestEndRecordsStatus(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := NewProvider(tracetest.NewInMemoryExporter(), "test")
	tp.RegisterSpanProcessor(rec)
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(noop.NewTracerProvider())
	})

	_, ok := StartSpan(context.Background(), "ok-span")
	ok.SetAttributes(StringAttr("device", "NoUServo[1]"), IntAttr("index", 1), Float64Attr("value", 90))
	End(ok, nil)

	_, bad := StartSpan(context.Background(), "bad-span")
	End(bad, errors.New("boom"))

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "ok-span", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Len(t, spans[0].Attributes(), 3)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "boom", spans[1].Status().Description)
}
