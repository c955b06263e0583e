// Package http provides the HTTP API for storyforge.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/storyforge/internal/logging"
	"github.com/fyrsmithlabs/storyforge/internal/task"
)

// maxStoryBytes bounds the request body accepted by POST /api/v1/tasks
const maxStoryBytes = 64 * 1024

// Server provides HTTP endpoints for storyforge.
type Server struct {
	echo      *echo.Echo
	processor TaskProcessor
	logger    *logging.Logger
	metrics   *requestMetrics
	config    *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host    string
	Port    int
	Version string
}

// NewServer creates a new HTTP server.
func NewServer(processor TaskProcessor, logger *logging.Logger, cfg *Config) (*Server, error) {
	if processor == nil {
		return nil, fmt.Errorf("processor cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8080,
		}
	}
	logger = logger.Named("http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(fmt.Sprintf("%dK", maxStoryBytes/1024)))
	metrics := newRequestMetrics(otel.Meter(instrumentationName), logger)
	e.Use(metrics.middleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:      e,
		processor: processor,
		logger:    logger,
		metrics:   metrics,
		config:    cfg,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/tasks", s.handleTask)
}

// Handler exposes the router, mainly for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Version: s.config.Version})
}

// handleTask runs a story through the pipeline and returns its result.
//
// Soft failures (empty plan, manifest deviations) are 200 responses with
// success=false. A run that aborted returns 502 with the partial result,
// or 503 when the request context ended first.
func (s *Server) handleTask(c echo.Context) error {
	var req TaskRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid task request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	story := strings.TrimSpace(req.Story)
	if story == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "story field is required")
	}

	ctx := c.Request().Context()
	res, err := s.processor.ProcessTask(ctx, story)
	if err != nil {
		status, result := http.StatusBadGateway, taskAborted
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			status, result = http.StatusServiceUnavailable, taskCanceled
		}
		s.metrics.recordTask(ctx, result)
		s.logger.Error(ctx, "task aborted",
			zap.String("task_id", res.TaskID),
			zap.Int("status", status),
			zap.Error(err))
		return c.JSON(status, ErrorResponse{Error: err.Error(), Result: resultOrNil(res)})
	}

	if res.Success {
		s.metrics.recordTask(ctx, taskSuccess)
	} else {
		s.metrics.recordTask(ctx, taskSoftFailure)
	}
	return c.JSON(http.StatusOK, res)
}

func resultOrNil(res task.Result) *task.Result {
	if res.TaskID == "" {
		return nil
	}
	return &res
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
