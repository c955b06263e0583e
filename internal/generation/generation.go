// Package generation runs the bounded per-file loop that turns a planned
// file name into persisted source code.
//
// Each round asks the coder for the file and classifies the reply:
//
//   - a tool call is executed and its result injected into the next round
//   - text without code is sent back to the architect as a request for more
//     information, and the merged plan feeds the next round
//   - code is extracted and persisted, ending the loop
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/storyforge/internal/agent"
	"github.com/fyrsmithlabs/storyforge/internal/logging"
	"github.com/fyrsmithlabs/storyforge/internal/recovery"
	"github.com/fyrsmithlabs/storyforge/internal/task"
	"github.com/fyrsmithlabs/storyforge/internal/tool"
)

// DefaultMaxRounds bounds the loop when no limit is configured
const DefaultMaxRounds = 10

// ErrNoFeedback is reported when the architect cannot answer the coder
var ErrNoFeedback = errors.New("architect returned no usable feedback")

// Coder produces a response for one round
type Coder interface {
	GenerateCode(ctx context.Context, req agent.CodeRequest) (string, error)
}

// Architect turns a coder's request for information into a plan update
type Architect interface {
	PlanFromFeedback(ctx context.Context, coderResponse string) (task.PlanUpdate, error)
}

// Sink persists extracted source code and returns its path
type Sink interface {
	WriteSource(ctx context.Context, taskID, fileName string, content []byte) (string, error)
}

// LivePlan is the plan shared by all files of a task. Feedback from any
// file's loop is merged into it. Safe for concurrent use.
type LivePlan struct {
	mu   sync.Mutex
	plan task.Plan
}

// NewLivePlan wraps p
func NewLivePlan(p task.Plan) *LivePlan {
	return &LivePlan{plan: p}
}

// Snapshot returns a copy of the current plan
func (l *LivePlan) Snapshot() task.Plan {
	l.mu.Lock()
	defer l.mu.Unlock()
	return task.Merge(l.plan, task.PlanUpdate{})
}

// Merge applies u and returns the merged plan
func (l *LivePlan) Merge(u task.PlanUpdate) task.Plan {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.plan = task.Merge(l.plan, u)
	return task.Merge(l.plan, task.PlanUpdate{})
}

// Config configures a Stage
type Config struct {
	// MaxRounds bounds the loop per file; zero selects DefaultMaxRounds
	MaxRounds int
}

// Stage runs the generation loop for individual files
type Stage struct {
	coder     Coder
	architect Architect
	tools     *tool.Registry
	sink      Sink
	maxRounds int
	logger    *logging.Logger
}

// New creates a generation stage. tools may be nil when no tools are
// registered.
func New(coder Coder, architect Architect, tools *tool.Registry, sink Sink, cfg Config, logger *logging.Logger) *Stage {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = DefaultMaxRounds
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Stage{
		coder:     coder,
		architect: architect,
		tools:     tools,
		sink:      sink,
		maxRounds: cfg.MaxRounds,
		logger:    logger.Named("generation"),
	}
}

// MaxRounds returns the configured round limit
func (s *Stage) MaxRounds() int { return s.maxRounds }

// Run generates fileName for t. It never returns an error: every way the
// loop can end is reported as the result's outcome. Feedback updates are
// merged into plan and re-applied to the task analysis.
func (s *Stage) Run(ctx context.Context, t *task.Task, plan *LivePlan, fileName string) task.FileResult {
	ctx = logging.WithFileName(ctx, fileName)
	res := task.FileResult{Name: fileName}

	var pending string
	for round := 1; round <= s.maxRounds; round++ {
		res.Rounds = round
		if err := ctx.Err(); err != nil {
			return s.interrupted(ctx, res, err)
		}

		req := agent.CodeRequest{
			Prompt:     agent.BuildCoderPrompt(t.Analysis().View(), fileName),
			ToolResult: pending,
			ToolNames:  s.tools.Names(),
		}
		pending = ""

		resp, err := s.coder.GenerateCode(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return s.interrupted(ctx, res, err)
			}
			return s.failed(ctx, res, err)
		}

		if call, ok := parseToolCall(resp); ok {
			tl, found := s.tools.Lookup(call.name)
			if !found {
				s.logger.Warn(ctx, "coder requested unknown tool",
					zap.String("tool", call.name), zap.Int("round", round))
				res.Outcome = task.OutcomeUnknownTool
				res.Error = fmt.Errorf("%w: %s", tool.ErrUnknownTool, call.name).Error()
				return res
			}
			out, err := tl.Execute(ctx, call.param)
			if err != nil {
				if ctx.Err() != nil {
					return s.interrupted(ctx, res, err)
				}
				s.logger.Warn(ctx, "tool failed", zap.String("tool", call.name), zap.Error(err))
				out = "tool error: " + err.Error()
			}
			s.logger.Info(ctx, "tool executed", zap.String("tool", call.name), zap.Int("round", round))
			pending = out
			continue
		}

		if !recovery.ContainsCode(resp) {
			update, err := s.architect.PlanFromFeedback(ctx, resp)
			if err != nil && ctx.Err() != nil {
				return s.interrupted(ctx, res, err)
			}
			if err == nil && update.IsEmpty() {
				err = ErrNoFeedback
			}
			if err != nil {
				s.logger.Warn(ctx, "no feedback for coder request", zap.Int("round", round), zap.Error(err))
				res.Outcome = task.OutcomeNoFeedback
				res.Error = err.Error()
				return res
			}
			merged := plan.Merge(update)
			t.Analysis().ApplyPlan(merged)
			t.SetMessage("plan updated, additional files planned: " + strings.Join(merged.Files, ", "))
			s.logger.Info(ctx, "plan updated from feedback",
				zap.Int("round", round), zap.Strings("added_files", update.Files))
			continue
		}

		if path, ok := t.Files()[fileName]; ok {
			// already produced by an earlier loop; never overwritten
			res.Outcome = task.OutcomeCodeProduced
			res.Path = path
			return res
		}
		path, err := s.sink.WriteSource(ctx, t.ID(), fileName, []byte(recovery.ExtractCode(resp)))
		if err != nil {
			return s.failed(ctx, res, err)
		}
		if !t.RecordFile(fileName, path) {
			path = t.Files()[fileName]
		}
		s.logger.Info(ctx, "file produced", zap.String("path", path), zap.Int("round", round))
		res.Outcome = task.OutcomeCodeProduced
		res.Path = path
		return res
	}

	s.logger.Warn(ctx, "round limit reached", zap.Int("max_rounds", s.maxRounds))
	res.Outcome = task.OutcomeRoundLimit
	return res
}

func (s *Stage) interrupted(ctx context.Context, res task.FileResult, err error) task.FileResult {
	res.Outcome = task.OutcomeTimedOut
	if errors.Is(ctx.Err(), context.Canceled) {
		res.Outcome = task.OutcomeFailed
	}
	res.Error = err.Error()
	s.logger.Warn(ctx, "file loop interrupted", zap.String("outcome", string(res.Outcome)), zap.Error(err))
	return res
}

func (s *Stage) failed(ctx context.Context, res task.FileResult, err error) task.FileResult {
	res.Outcome = task.OutcomeFailed
	res.Error = err.Error()
	s.logger.Error(ctx, "file loop failed", zap.Error(err))
	return res
}

type toolCall struct {
	name  string
	param string
}

// parseToolCall recognizes {"tool": "...", "param": "..."} replies
func parseToolCall(resp string) (toolCall, bool) {
	if !strings.Contains(resp, `"tool"`) {
		return toolCall{}, false
	}
	obj, err := recovery.ParseJSON(resp)
	if err != nil {
		return toolCall{}, false
	}
	name, ok := obj["tool"].(string)
	if !ok || strings.TrimSpace(name) == "" {
		return toolCall{}, false
	}
	param, ok := obj["param"].(string)
	if !ok {
		return toolCall{}, false
	}
	return toolCall{name: strings.TrimSpace(name), param: param}, true
}
