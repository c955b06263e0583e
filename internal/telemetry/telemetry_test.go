package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig())
	require.NoError(t, err)

	assert.False(t, tel.IsEnabled())
	assert.True(t, tel.Health().Healthy)
	assert.False(t, tel.Health().Degraded)
	assert.NoError(t, tel.ForceFlush(context.Background()))
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_NilConfigUsesDefaults(t *testing.T) {
	tel, err := New(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, tel.IsEnabled())
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Protocol = "carrier-pigeon"

	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid telemetry config")
}

func TestNew_EnabledInstallsTracerProvider(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Metrics.Enabled = false
	cfg.ShutdownAfter = time.Second

	tel, err := New(context.Background(), cfg)
	require.NoError(t, err)
	assert.True(t, tel.IsEnabled())
	assert.Same(t, tel.tracerProvider, otel.GetTracerProvider())

	require.NoError(t, tel.Shutdown(context.Background()))
	assert.False(t, tel.IsEnabled(), "shutdown marks telemetry unhealthy")
}

func TestTelemetry_DegradedReasons(t *testing.T) {
	tel := &Telemetry{config: NewDefaultConfig()}

	tel.degrade("tracer provider", errors.New("dial"))
	tel.degrade("meter provider", errors.New("dial"))

	h := tel.Health()
	assert.True(t, h.Healthy)
	assert.True(t, h.Degraded)
	assert.Contains(t, h.Reason, "tracer provider")
	assert.Contains(t, h.Reason, "meter provider")
}

func TestTelemetry_NilSafe(t *testing.T) {
	var tel *Telemetry

	assert.False(t, tel.IsEnabled())
	assert.NoError(t, tel.Shutdown(context.Background()))
	assert.True(t, tel.Health().Degraded)
	assert.NoError(t, tel.ForceFlush(context.Background()))
}

func TestSpanCapture_Install(t *testing.T) {
	capture := NewSpanCapture()
	restore := capture.Install()

	_, span := otel.Tracer("storyforge/test").Start(context.Background(), "dispatch.file")
	span.SetAttributes(attribute.String("file.name", "Patient.php"))
	span.End()
	restore()

	// ended after restore, goes to the previous provider
	_, late := otel.Tracer("storyforge/test").Start(context.Background(), "late")
	late.End()

	assert.Equal(t, []string{"dispatch.file"}, capture.Names())
	spans := capture.Named("dispatch.file")
	require.Len(t, spans, 1)

	v, ok := Attr(spans[0], "file.name")
	require.True(t, ok)
	assert.Equal(t, "Patient.php", v.AsString())

	_, ok = Attr(spans[0], "file.outcome")
	assert.False(t, ok)
	assert.Empty(t, capture.Named("missing"))
}
