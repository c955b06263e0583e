package mcp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/storyforge/internal/logging"
	"github.com/fyrsmithlabs/storyforge/internal/task"
)

const toolGenerateCode = "generate_code"

// TaskProcessor runs one story through the generation pipeline
type TaskProcessor interface {
	ProcessTask(ctx context.Context, story string) (task.Result, error)
}

// Server is an MCP server wrapping the orchestrator.
type Server struct {
	mcp       *mcp.Server
	processor TaskProcessor
	metrics   *toolMetrics
	logger    *logging.Logger

	runMu sync.Mutex
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "storyforge")
	Name string

	// Version is the server version (default: "dev")
	Version string

	// Logger for structured logging
	Logger *logging.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "storyforge",
		Version: "dev",
		Logger:  logging.NewNop(),
	}
}

// NewServer creates a new MCP server around processor.
func NewServer(cfg *Config, processor TaskProcessor) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if processor == nil {
		return nil, fmt.Errorf("task processor is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		nil,
	)

	s := &Server{
		mcp:       mcpServer,
		processor: processor,
		metrics:   newToolMetrics(otel.Meter(instrumentationName), logger),
		logger:    logger.Named("mcp"),
	}
	s.registerTools()

	return s, nil
}

// Run starts the MCP server on the stdio transport.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info(ctx, "starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Connect serves a single session over t.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, t, nil)
}

type generateCodeInput struct {
	Story string `json:"story" jsonschema:"User story describing the feature to build"`
}

type generateCodeOutput struct {
	TaskID     string            `json:"task_id" jsonschema:"Deterministic task ID derived from the story"`
	RunID      string            `json:"run_id" jsonschema:"Unique ID of this run"`
	Success    bool              `json:"success" jsonschema:"Whether planning produced files"`
	Files      map[string]string `json:"files" jsonschema:"Generated file name to path"`
	Outcomes   map[string]string `json:"outcomes" jsonschema:"Generation outcome per planned file"`
	Entities   []string          `json:"entities" jsonschema:"Entities found by the analysis"`
	Complexity string            `json:"complexity,omitempty" jsonschema:"Estimated complexity: low, medium or high"`
	Manifest   string            `json:"manifest,omitempty" jsonschema:"Path of the generated composer.json"`
	Validation string            `json:"validation,omitempty" jsonschema:"Validation problems, empty when none"`
	Message    string            `json:"message" jsonschema:"Human readable status"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        toolGenerateCode,
		Description: "Generate source files and a composer.json manifest from a user story",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args generateCodeInput) (*mcp.CallToolResult, generateCodeOutput, error) {
		end := s.metrics.begin(ctx, toolGenerateCode)
		var toolErr error
		defer func() { end(toolErr) }()

		story := strings.TrimSpace(args.Story)
		if story == "" {
			toolErr = errors.New("story is required")
			return nil, generateCodeOutput{}, toolErr
		}

		s.runMu.Lock()
		res, err := s.processor.ProcessTask(ctx, story)
		s.runMu.Unlock()
		if err != nil {
			toolErr = fmt.Errorf("task aborted: %w", err)
			s.logger.Error(ctx, "generate_code failed", zap.String("task_id", res.TaskID), zap.Error(err))
			return nil, generateCodeOutput{}, toolErr
		}

		out := toOutput(res)
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: summarize(out)},
			},
		}, out, nil
	})
}

func toOutput(res task.Result) generateCodeOutput {
	out := generateCodeOutput{
		TaskID:   res.TaskID,
		RunID:    res.RunID,
		Success:  res.Success,
		Files:    make(map[string]string, len(res.Files)),
		Outcomes: make(map[string]string, len(res.Outcomes)),
		Entities: []string{},
		Manifest: res.Manifest,
		Message:  res.Message,
	}
	for name, path := range res.Files {
		out.Files[name] = path
	}
	for name, outcome := range res.Outcomes {
		out.Outcomes[name] = string(outcome)
	}
	if res.Analysis != nil {
		if len(res.Analysis.Entities) > 0 {
			out.Entities = append(out.Entities, res.Analysis.Entities...)
		}
		out.Complexity = string(res.Analysis.Complexity)
	}
	if res.Validation != nil {
		out.Validation = *res.Validation
	}
	return out
}

func summarize(out generateCodeOutput) string {
	names := make([]string, 0, len(out.Files))
	for name := range out.Files {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "%s (task %s): %d files", out.Message, out.TaskID, len(names))
	if len(names) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(names, ", "))
	}
	if out.Manifest != "" {
		fmt.Fprintf(&b, "\nmanifest: %s", out.Manifest)
	}
	if out.Validation != "" {
		fmt.Fprintf(&b, "\nvalidation: %s", out.Validation)
	}
	return b.String()
}
