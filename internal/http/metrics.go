package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/storyforge/internal/logging"
)

const instrumentationName = "github.com/fyrsmithlabs/storyforge/internal/http"

// Task results recorded by storyforge.http.tasks
const (
	taskSuccess     = "success"
	taskSoftFailure = "soft_failure"
	taskAborted     = "aborted"
	taskCanceled    = "canceled"
)

// requestMetrics holds the API's OpenTelemetry instruments. A nil
// instrument (creation failed) is skipped.
type requestMetrics struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
	inFlight metric.Int64UpDownCounter
	tasks    metric.Int64Counter
}

func newRequestMetrics(meter metric.Meter, logger *logging.Logger) *requestMetrics {
	ctx := context.Background()
	warn := func(name string, err error) {
		if err != nil {
			logger.Warn(ctx, "failed to create instrument", zap.String("instrument", name), zap.Error(err))
		}
	}

	m := &requestMetrics{}
	var err error

	m.requests, err = meter.Int64Counter("storyforge.http.requests",
		metric.WithDescription("HTTP requests by method, route and status"),
		metric.WithUnit("{request}"))
	warn("requests", err)

	// a task request lasts a whole pipeline run
	m.duration, err = meter.Float64Histogram("storyforge.http.request.duration",
		metric.WithDescription("HTTP request duration by method, route and status"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.05, 0.25, 1, 5, 15, 30, 60, 120, 300, 600))
	warn("duration", err)

	m.inFlight, err = meter.Int64UpDownCounter("storyforge.http.requests.in_flight",
		metric.WithDescription("HTTP requests being served"),
		metric.WithUnit("{request}"))
	warn("in_flight", err)

	m.tasks, err = meter.Int64Counter("storyforge.http.tasks",
		metric.WithDescription("Task submissions by result: success, soft_failure, aborted, canceled"),
		metric.WithUnit("{task}"))
	warn("tasks", err)

	return m
}

func (m *requestMetrics) middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			ctx := c.Request().Context()
			if m.inFlight != nil {
				m.inFlight.Add(ctx, 1)
				defer m.inFlight.Add(ctx, -1)
			}

			err := next(c)

			// echo commits the error response after the middleware chain
			status := c.Response().Status
			if err != nil && !c.Response().Committed {
				status = http.StatusInternalServerError
				var he *echo.HTTPError
				if errors.As(err, &he) {
					status = he.Code
				}
			}
			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("route", routeLabel(c.Path())),
				attribute.Int("status", status),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, attrs)
			}
			if m.duration != nil {
				m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			return err
		}
	}
}

func (m *requestMetrics) recordTask(ctx context.Context, result string) {
	if m.tasks != nil {
		m.tasks.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	}
}

// routeLabel keeps the route attribute bounded: unmatched requests have no
// route and share one label.
func routeLabel(path string) string {
	if path == "" {
		return "unmatched"
	}
	return path
}
