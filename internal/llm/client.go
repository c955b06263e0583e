package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/storyforge/internal/logging"
)

const (
	defaultRateLimit = 5.0 // requests per second
	defaultBurst     = 2
)

// Config selects and configures a backend.
type Config struct {
	Backend      string // ollama, openai or anthropic
	URL          string
	APIKey       string
	DefaultModel string
	RateLimit    float64
	Burst        int
}

// Client adapts a langchaingo model to Collaborator and rate-limits calls.
type Client struct {
	model   llms.Model
	backend string
	limiter *rate.Limiter
	logger  *logging.Logger
}

var _ Collaborator = (*Client)(nil)

// New creates a client for cfg.Backend.
func New(cfg Config, logger *logging.Logger) (*Client, error) {
	var (
		model llms.Model
		err   error
	)
	switch cfg.Backend {
	case "", "ollama":
		opts := []ollama.Option{ollama.WithServerURL(cfg.URL)}
		if cfg.DefaultModel != "" {
			opts = append(opts, ollama.WithModel(cfg.DefaultModel))
		}
		model, err = ollama.New(opts...)
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai API key required")
		}
		opts := []openai.Option{openai.WithToken(cfg.APIKey)}
		if cfg.URL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.URL))
		}
		if cfg.DefaultModel != "" {
			opts = append(opts, openai.WithModel(cfg.DefaultModel))
		}
		model, err = openai.New(opts...)
	case "anthropic":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic API key required")
		}
		opts := []anthropic.Option{anthropic.WithToken(cfg.APIKey)}
		if cfg.DefaultModel != "" {
			opts = append(opts, anthropic.WithModel(cfg.DefaultModel))
		}
		model, err = anthropic.New(opts...)
	default:
		return nil, fmt.Errorf("unknown llm backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", cfg.Backend, err)
	}
	if cfg.Backend == "" {
		cfg.Backend = "ollama"
	}
	return NewWithModel(model, cfg.Backend, cfg.RateLimit, cfg.Burst, logger), nil
}

// NewWithModel wraps an existing langchaingo model.
func NewWithModel(model llms.Model, backend string, rateLimit float64, burst int, logger *logging.Logger) *Client {
	if rateLimit <= 0 {
		rateLimit = defaultRateLimit
	}
	if burst <= 0 {
		burst = defaultBurst
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Client{
		model:   model,
		backend: backend,
		limiter: rate.NewLimiter(rate.Limit(rateLimit), burst),
		logger:  logger.Named("llm"),
	}
}

func callOptions(opts Options) []llms.CallOption {
	out := []llms.CallOption{llms.WithTemperature(opts.Temperature)}
	if opts.Model != "" {
		out = append(out, llms.WithModel(opts.Model))
	}
	return out
}

func (c *Client) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter error: %w", err)
	}
	start := time.Now()
	c.logger.Trace(ctx, "llm request", zap.String("backend", c.backend), zap.String("model", opts.Model), zap.String("prompt", prompt))

	out, err := llms.GenerateFromSinglePrompt(ctx, c.model, prompt, callOptions(opts)...)
	if err != nil {
		return "", fmt.Errorf("%s generate: %w", c.backend, err)
	}

	c.logger.Debug(ctx, "llm response",
		zap.String("model", opts.Model),
		zap.Int("chars", len(out)),
		zap.Duration("elapsed", time.Since(start)))
	c.logger.Trace(ctx, "llm response body", zap.String("response", out))
	return out, nil
}

func (c *Client) GenerateStream(ctx context.Context, prompt string, onToken TokenFunc, opts Options) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter error: %w", err)
	}
	c.logger.Trace(ctx, "llm stream request", zap.String("backend", c.backend), zap.String("model", opts.Model), zap.String("prompt", prompt))

	callOpts := append(callOptions(opts), llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
		if len(chunk) == 0 {
			return nil
		}
		return onToken(string(chunk))
	}))
	if _, err := llms.GenerateFromSinglePrompt(ctx, c.model, prompt, callOpts...); err != nil {
		return fmt.Errorf("%s stream: %w", c.backend, err)
	}
	return nil
}

func (c *Client) GenerateStreamResult(ctx context.Context, prompt string, opts Options) (string, error) {
	var b strings.Builder
	err := c.GenerateStream(ctx, prompt, func(token string) error {
		b.WriteString(token)
		return nil
	}, opts)
	if err != nil {
		return "", err
	}
	c.logger.Trace(ctx, "llm stream result", zap.String("response", b.String()))
	return b.String(), nil
}
