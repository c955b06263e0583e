package tool

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/storyforge/internal/logging"
)

const (
	// StableDiffusionName is the name the coder uses to request images
	StableDiffusionName = "stable_diffusion"

	defaultStableDiffusionURL = "http://localhost:7860/sdapi/v1/txt2img"
	defaultSteps              = 20
	defaultImageSize          = 512
	defaultTimeout            = 120 * time.Second
	defaultMaxRetries         = 2
	defaultBaseBackoff        = time.Second
)

// AssetWriter persists binary assets produced by tools for a task
type AssetWriter interface {
	WriteAsset(ctx context.Context, taskID, name string, data []byte) (string, error)
}

// StableDiffusionConfig configures the txt2img tool
type StableDiffusionConfig struct {
	URL    string
	Steps  int
	Width  int
	Height int
}

// StableDiffusion generates images through a txt2img HTTP endpoint and
// stores them as task assets.
type StableDiffusion struct {
	url        string
	steps      int
	width      int
	height     int
	httpClient *http.Client
	assets     AssetWriter
	now        func() time.Time
	maxRetries int
	backoff    time.Duration
	logger     *logging.Logger
}

var _ Tool = (*StableDiffusion)(nil)

type txt2imgRequest struct {
	Prompt string `json:"prompt"`
	Steps  int    `json:"steps"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type txt2imgResponse struct {
	Images []string `json:"images"`
}

// NewStableDiffusion creates the tool. assets receives decoded images.
func NewStableDiffusion(cfg StableDiffusionConfig, assets AssetWriter, logger *logging.Logger) *StableDiffusion {
	if cfg.URL == "" {
		cfg.URL = defaultStableDiffusionURL
	}
	if cfg.Steps <= 0 {
		cfg.Steps = defaultSteps
	}
	if cfg.Width <= 0 {
		cfg.Width = defaultImageSize
	}
	if cfg.Height <= 0 {
		cfg.Height = defaultImageSize
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &StableDiffusion{
		url:    cfg.URL,
		steps:  cfg.Steps,
		width:  cfg.Width,
		height: cfg.Height,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		assets:     assets,
		now:        time.Now,
		maxRetries: defaultMaxRetries,
		backoff:    defaultBaseBackoff,
		logger:     logger.Named("stable_diffusion"),
	}
}

func (s *StableDiffusion) Name() string { return StableDiffusionName }

// Execute renders param as an image. A response without images yields the
// text "image generation failed" rather than an error.
func (s *StableDiffusion) Execute(ctx context.Context, param string) (string, error) {
	req := txt2imgRequest{
		Prompt: param,
		Steps:  s.steps,
		Width:  s.width,
		Height: s.height,
	}

	var (
		resp    *txt2imgResponse
		lastErr error
	)
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := s.backoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		resp, lastErr = s.doRequest(ctx, req)
		if lastErr == nil || !isRetryableError(lastErr) {
			break
		}
	}
	if lastErr != nil {
		return "", fmt.Errorf("stable diffusion: %w", lastErr)
	}

	if len(resp.Images) == 0 || resp.Images[0] == "" {
		s.logger.Warn(ctx, "txt2img returned no images", zap.String("prompt", param))
		return "image generation failed", nil
	}

	img, err := base64.StdEncoding.DecodeString(resp.Images[0])
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}

	name := fmt.Sprintf("output_%d.png", s.now().Unix())
	path, err := s.assets.WriteAsset(ctx, logging.TaskIDFromContext(ctx), name, img)
	if err != nil {
		return "", fmt.Errorf("store image: %w", err)
	}
	s.logger.Info(ctx, "image generated", zap.String("path", path), zap.Int("bytes", len(img)))
	return "image generated: " + path, nil
}

func (s *StableDiffusion) doRequest(ctx context.Context, req txt2imgRequest) (*txt2imgResponse, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &retryableError{err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, &retryableError{err: fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("txt2img error (%d): %s", resp.StatusCode, string(body))
	}

	var out txt2imgResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &out, nil
}

// retryableError marks transport failures worth another attempt
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func isRetryableError(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
