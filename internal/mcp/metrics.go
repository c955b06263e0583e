package mcp

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/storyforge/internal/logging"
	"github.com/fyrsmithlabs/storyforge/internal/retry"
)

const instrumentationName = "github.com/fyrsmithlabs/storyforge/internal/mcp"

// Failure reasons attached to storyforge.mcp.tool.failures.
const (
	reasonTimeout    = "timeout"
	reasonCanceled   = "canceled"
	reasonProvider   = "provider_error"
	reasonValidation = "validation_error"
	reasonStorage    = "storage_error"
	reasonInternal   = "internal_error"
)

// toolMetrics records tool calls. Instruments that fail to register stay
// nil and are skipped.
type toolMetrics struct {
	calls    metric.Int64Counter
	latency  metric.Float64Histogram
	failures metric.Int64Counter
	running  metric.Int64UpDownCounter
}

func newToolMetrics(meter metric.Meter, logger *logging.Logger) *toolMetrics {
	m := &toolMetrics{}
	warn := func(name string, err error) {
		if err != nil {
			logger.Warn(context.Background(), "mcp instrument unavailable",
				zap.String("instrument", name), zap.Error(err))
		}
	}

	var err error
	m.calls, err = meter.Int64Counter("storyforge.mcp.tool.calls",
		metric.WithDescription("MCP tool calls"),
		metric.WithUnit("{call}"))
	warn("calls", err)

	// generation runs take minutes, not milliseconds
	m.latency, err = meter.Float64Histogram("storyforge.mcp.tool.duration",
		metric.WithDescription("Time spent serving an MCP tool call"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.5, 2, 10, 30, 60, 180, 300, 600, 1200))
	warn("duration", err)

	m.failures, err = meter.Int64Counter("storyforge.mcp.tool.failures",
		metric.WithDescription("MCP tool calls that returned an error"),
		metric.WithUnit("{call}"))
	warn("failures", err)

	m.running, err = meter.Int64UpDownCounter("storyforge.mcp.tool.running",
		metric.WithDescription("MCP tool calls in progress"),
		metric.WithUnit("{call}"))
	warn("running", err)

	return m
}

// begin marks a call of tool as running. The returned func ends it and
// must be called exactly once with the call's error.
func (m *toolMetrics) begin(ctx context.Context, tool string) func(error) {
	opt := metric.WithAttributes(attribute.String("tool", tool))
	start := time.Now()
	if m.running != nil {
		m.running.Add(ctx, 1, opt)
	}

	return func(err error) {
		if m.running != nil {
			m.running.Add(ctx, -1, opt)
		}
		if m.calls != nil {
			m.calls.Add(ctx, 1, opt)
		}
		if m.latency != nil {
			m.latency.Record(ctx, time.Since(start).Seconds(), opt)
		}
		if err != nil && m.failures != nil {
			m.failures.Add(ctx, 1, metric.WithAttributes(
				attribute.String("tool", tool),
				attribute.String("reason", failureReason(err))))
		}
	}
}

// failureReason maps err to a low-cardinality label.
func failureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return reasonTimeout
	case errors.Is(err, context.Canceled):
		return reasonCanceled
	case errors.Is(err, retry.ErrExhaustedRetries), errors.Is(err, retry.ErrEmptyResponse):
		return reasonProvider
	}

	msg := strings.ToLower(err.Error())
	for _, rule := range []struct {
		reason string
		words  []string
	}{
		{reasonValidation, []string{"validation", "invalid", "required"}},
		{reasonTimeout, []string{"timeout"}},
		{reasonStorage, []string{"cache", "write"}},
	} {
		for _, w := range rule.words {
			if strings.Contains(msg, w) {
				return rule.reason
			}
		}
	}
	return reasonInternal
}
