package http

import (
	"context"

	"github.com/fyrsmithlabs/storyforge/internal/task"
)

// TaskProcessor runs one story through the generation pipeline
type TaskProcessor interface {
	ProcessTask(ctx context.Context, story string) (task.Result, error)
}

// ProcessorFunc adapts a function to TaskProcessor
type ProcessorFunc func(ctx context.Context, story string) (task.Result, error)

// ProcessTask calls f.
func (f ProcessorFunc) ProcessTask(ctx context.Context, story string) (task.Result, error) {
	return f(ctx, story)
}

// TaskRequest is the request body for POST /api/v1/tasks.
type TaskRequest struct {
	Story string `json:"story"`
}

// ErrorResponse accompanies a result when the run aborted.
type ErrorResponse struct {
	Error  string       `json:"error"`
	Result *task.Result `json:"result,omitempty"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}
