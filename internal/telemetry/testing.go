package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// SpanCapture records ended spans in memory for tests.
type SpanCapture struct {
	recorder *tracetest.SpanRecorder
	provider *trace.TracerProvider
}

// NewSpanCapture returns a capture that is not yet installed.
func NewSpanCapture() *SpanCapture {
	rec := tracetest.NewSpanRecorder()
	return &SpanCapture{
		recorder: rec,
		provider: trace.NewTracerProvider(trace.WithSpanProcessor(rec)),
	}
}

// Install makes the capture the global tracer provider and returns a
// func restoring the previous one. Tracers obtained before Install keep
// exporting to the old provider.
func (c *SpanCapture) Install() func() {
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(c.provider)
	return func() { otel.SetTracerProvider(prev) }
}

// Named returns the ended spans called name, in end order.
func (c *SpanCapture) Named(name string) []trace.ReadOnlySpan {
	var out []trace.ReadOnlySpan
	for _, s := range c.recorder.Ended() {
		if s.Name() == name {
			out = append(out, s)
		}
	}
	return out
}

// Names lists the names of all ended spans.
func (c *SpanCapture) Names() []string {
	ended := c.recorder.Ended()
	names := make([]string, 0, len(ended))
	for _, s := range ended {
		names = append(names, s.Name())
	}
	return names
}

// Attr returns the value of key on span, and whether it was set.
func Attr(span trace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}
