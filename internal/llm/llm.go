// Package llm defines the collaborator contract for text-generation
// backends and a langchaingo-backed implementation for ollama, openai and
// anthropic.
package llm

import (
	"context"
)

// Options are per-call settings. Zero Model selects the backend default.
type Options struct {
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature"`
}

// TokenFunc receives streamed tokens in order. Returning an error stops the stream.
type TokenFunc func(token string) error

// Collaborator is an unreliable text generator. Implementations must be
// safe for concurrent use.
type Collaborator interface {
	// Generate returns the full response for prompt.
	Generate(ctx context.Context, prompt string, opts Options) (string, error)
	// GenerateStream invokes onToken zero or more times until the stream ends.
	GenerateStream(ctx context.Context, prompt string, onToken TokenFunc, opts Options) error
	// GenerateStreamResult streams the response and returns the concatenated tokens.
	GenerateStreamResult(ctx context.Context, prompt string, opts Options) (string, error)
}
