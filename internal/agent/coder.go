package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/storyforge/internal/llm"
	"github.com/fyrsmithlabs/storyforge/internal/logging"
)

// CodeRequest is one coder round
type CodeRequest struct {
	// Prompt is the task-specific prompt
	Prompt string

	// ToolResult is appended as additional information when set
	ToolResult string

	// ToolNames are advertised to the coder unless DisableTools is set
	ToolNames []string

	DisableTools bool
}

// Coder produces source code for a single file per call
type Coder struct {
	llm    llm.Collaborator
	model  string
	logger *logging.Logger
}

// NewCoder creates a coder using model, or DefaultCodingModel when empty
func NewCoder(c llm.Collaborator, model string, logger *logging.Logger) *Coder {
	if model == "" {
		model = DefaultCodingModel
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Coder{llm: c, model: model, logger: logger.Named("coder")}
}

// GenerateCode returns the trimmed coder response. It is stateless; the
// caller carries any pending tool result between rounds.
func (c *Coder) GenerateCode(ctx context.Context, req CodeRequest) (string, error) {
	prompt := req.Prompt
	if req.ToolResult != "" {
		prompt += "\n\nAdditional info: " + req.ToolResult
	}
	var tools string
	if !req.DisableTools {
		tools = buildToolsHint(req.ToolNames)
	}
	final := fmt.Sprintf("%s\n\n%s\n", prompt, tools)

	resp, err := c.llm.GenerateStreamResult(ctx, final, llm.Options{Model: c.model, Temperature: 0})
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	resp = strings.TrimSpace(resp)
	c.logger.Debug(ctx, "coder response", zap.Int("chars", len(resp)))
	c.logger.Trace(ctx, "coder response body", zap.String("response", resp))
	return resp, nil
}
