// Package agent implements the architect and coder roles on top of an
// llm.Collaborator.
package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/storyforge/internal/llm"
	"github.com/fyrsmithlabs/storyforge/internal/logging"
	"github.com/fyrsmithlabs/storyforge/internal/recovery"
	"github.com/fyrsmithlabs/storyforge/internal/retry"
	"github.com/fyrsmithlabs/storyforge/internal/task"
)

const (
	DefaultAnalysisModel = "llama3.2:3b"
	DefaultPlanningModel = "llama3.2:3b"
	DefaultCodingModel   = "qwen2.5-coder:3b"

	architectTemperature = 0.1

	unnamed     = "Unnamed"
	unknownFile = "Unknown.php"
)

// ArchitectConfig selects the models used per stage
type ArchitectConfig struct {
	AnalysisModel string
	PlanningModel string
}

// Architect turns stories into analyses and plans
type Architect struct {
	llm           llm.Collaborator
	invoker       *retry.Invoker
	analysisModel string
	planningModel string
	logger        *logging.Logger
}

// NewArchitect creates an architect. invoker governs empty-response retries.
func NewArchitect(c llm.Collaborator, invoker *retry.Invoker, cfg ArchitectConfig, logger *logging.Logger) *Architect {
	if cfg.AnalysisModel == "" {
		cfg.AnalysisModel = DefaultAnalysisModel
	}
	if cfg.PlanningModel == "" {
		cfg.PlanningModel = DefaultPlanningModel
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if invoker == nil {
		invoker = retry.NewInvoker(0, 0, logger)
	}
	return &Architect{
		llm:           c,
		invoker:       invoker,
		analysisModel: cfg.AnalysisModel,
		planningModel: cfg.PlanningModel,
		logger:        logger.Named("architect"),
	}
}

// Analyze extracts requirements, entities, actions, complexity and
// architecture from story. Blank responses are retried; exhausting the
// budget returns retry.ErrExhaustedRetries. Unrecoverable JSON returns a
// recovery.MalformedResponseError.
func (a *Architect) Analyze(ctx context.Context, story string) (*task.Analysis, error) {
	prompt := fmt.Sprintf(analysisPrompt, story)
	opts := llm.Options{Model: a.analysisModel, Temperature: architectTemperature}

	budget := a.invoker.Budget("analysis:" + task.ID(story))
	resp, err := a.invoker.Invoke(ctx, budget, func(ctx context.Context) (string, error) {
		return a.llm.GenerateStreamResult(ctx, prompt, opts)
	})
	if err != nil {
		return nil, fmt.Errorf("analyze story: %w", err)
	}

	decoded, err := recovery.ParseJSON(resp)
	if err != nil {
		return nil, fmt.Errorf("analyze story: %w", err)
	}
	a.logger.Debug(ctx, "analysis decoded", zap.Any("analysis", decoded))

	analysis := task.NewAnalysis(story)
	if v := names(decoded["requirements"], unnamed); len(v) > 0 {
		_ = analysis.SetRequirements(v)
	}
	if v := names(decoded["entities"], unnamed); len(v) > 0 {
		_ = analysis.SetEntities(v)
	}
	if v := names(decoded["actions"], unnamed); len(v) > 0 {
		_ = analysis.SetActions(v)
	}
	cx, _ := decoded["complexity"].(string)
	_ = analysis.SetComplexity(task.ParseComplexity(cx))
	if arch, ok := decoded["architecture"].(string); ok && strings.TrimSpace(arch) != "" {
		_ = analysis.SetArchitecture(arch)
	}
	return analysis, nil
}

// Plan lists the files needed to implement analysis. A response without a
// files array yields an empty plan.
func (a *Architect) Plan(ctx context.Context, analysis *task.Analysis) (task.Plan, error) {
	v := analysis.View()
	prompt := fmt.Sprintf(planningPrompt,
		jsonList(v.Requirements),
		jsonList(v.Entities),
		jsonList(v.Actions),
		v.Complexity,
		v.Architecture)
	opts := llm.Options{Model: a.planningModel, Temperature: architectTemperature}

	budget := a.invoker.Budget("planning:" + task.ID(analysis.Story()))
	resp, err := a.invoker.Invoke(ctx, budget, func(ctx context.Context) (string, error) {
		return a.llm.GenerateStreamResult(ctx, prompt, opts)
	})
	if err != nil {
		return task.Plan{}, fmt.Errorf("plan files: %w", err)
	}
	a.logger.Debug(ctx, "plan response", zap.String("response", resp))

	decoded, err := recovery.ParseJSON(resp)
	if err != nil {
		return task.Plan{}, fmt.Errorf("plan files: %w", err)
	}
	return task.PlanFromAnalysis(v, names(decoded["files"], unknownFile)), nil
}

// PlanFromFeedback asks for the details the coder said were missing. An
// empty update means the architect had nothing to add.
func (a *Architect) PlanFromFeedback(ctx context.Context, coderResponse string) (task.PlanUpdate, error) {
	prompt := fmt.Sprintf(feedbackPrompt, coderResponse)
	opts := llm.Options{Model: a.planningModel, Temperature: architectTemperature}

	resp, err := a.llm.GenerateStreamResult(ctx, prompt, opts)
	if err != nil {
		return task.PlanUpdate{}, fmt.Errorf("plan from feedback: %w", err)
	}
	a.logger.Info(ctx, "architect feedback", zap.String("response", resp))
	if strings.TrimSpace(resp) == "" {
		return task.PlanUpdate{}, nil
	}

	decoded, err := recovery.ParseJSON(resp)
	if err != nil {
		return task.PlanUpdate{}, fmt.Errorf("plan from feedback: %w", err)
	}

	u := task.PlanUpdate{
		Requirements: names(decoded["requirements"], unnamed),
		Entities:     names(decoded["entities"], unnamed),
		Actions:      names(decoded["actions"], unnamed),
		Files:        names(decoded["files"], unknownFile),
	}
	if cx, ok := decoded["complexity"].(string); ok && cx != "" {
		u.Complexity = task.ParseComplexity(cx)
	}
	if arch, ok := decoded["architecture"].(string); ok {
		u.Architecture = strings.TrimSpace(arch)
	}
	return u, nil
}

// names flattens a JSON array of strings or {"name": ...} objects. Objects
// without a name get fallback; other element types are skipped.
func names(v any, fallback string) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		switch it := item.(type) {
		case string:
			if s := strings.TrimSpace(it); s != "" {
				out = append(out, s)
			}
		case map[string]any:
			if n, ok := it["name"].(string); ok && strings.TrimSpace(n) != "" {
				out = append(out, strings.TrimSpace(n))
			} else {
				out = append(out, fallback)
			}
		}
	}
	return out
}
