package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/storyforge/internal/generation"
	"github.com/fyrsmithlabs/storyforge/internal/manifest"
	"github.com/fyrsmithlabs/storyforge/internal/task"
)

// Phase is a stage of a task run
type Phase string

const (
	// PhaseStart clears the task directory
	PhaseStart Phase = "start"

	// PhaseAnalyzing turns the story into an analysis
	PhaseAnalyzing Phase = "analyzing"

	// PhasePlanning derives the files to produce
	PhasePlanning Phase = "planning"

	// PhaseGeneratingFiles runs the per-file loops
	PhaseGeneratingFiles Phase = "generating_files"

	// PhaseSynthesizingManifest writes the dependency manifest
	PhaseSynthesizingManifest Phase = "synthesizing_manifest"

	// PhaseDone is terminal
	PhaseDone Phase = "done"

	// PhaseFailed is terminal
	PhaseFailed Phase = "failed"
)

// AllPhases returns the phases of a successful run in execution order
func AllPhases() []Phase {
	return []Phase{
		PhaseStart,
		PhaseAnalyzing,
		PhasePlanning,
		PhaseGeneratingFiles,
		PhaseSynthesizingManifest,
		PhaseDone,
	}
}

// transitions lists the phases reachable from each phase. An empty plan
// moves planning to failed.
var transitions = map[Phase][]Phase{
	PhaseStart:                {PhaseAnalyzing, PhaseFailed},
	PhaseAnalyzing:            {PhasePlanning, PhaseFailed},
	PhasePlanning:             {PhaseGeneratingFiles, PhaseFailed},
	PhaseGeneratingFiles:      {PhaseSynthesizingManifest, PhaseFailed},
	PhaseSynthesizingManifest: {PhaseDone, PhaseFailed},
}

// Terminal reports whether no phase follows p
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

// PhaseStatus represents the completion status of a phase
type PhaseStatus string

const (
	StatusInProgress PhaseStatus = "in_progress"
	StatusCompleted  PhaseStatus = "completed"
	StatusFailed     PhaseStatus = "failed"
)

// PhaseResult captures the outcome of a phase execution
type PhaseResult struct {
	Phase       Phase       `json:"phase"`
	Status      PhaseStatus `json:"status"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt time.Time   `json:"completed_at,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// RunState tracks the phase machine of one run
type RunState struct {
	Phase   Phase                  `json:"current_phase"`
	Results map[Phase]*PhaseResult `json:"results"`
}

// NewRunState creates a state positioned at PhaseStart
func NewRunState() *RunState {
	return &RunState{
		Phase:   PhaseStart,
		Results: make(map[Phase]*PhaseResult),
	}
}

// CanTransition checks if the state can move to next
func (s *RunState) CanTransition(next Phase) error {
	for _, p := range transitions[s.Phase] {
		if p == next {
			return nil
		}
	}
	if s.Phase.Terminal() {
		return fmt.Errorf("cannot transition from terminal phase %s", s.Phase)
	}
	return fmt.Errorf("cannot transition from %s to %s", s.Phase, next)
}

// Transition moves to next, closing the current phase's result
func (s *RunState) Transition(next Phase, now time.Time) error {
	if err := s.CanTransition(next); err != nil {
		return err
	}
	if r, ok := s.Results[s.Phase]; ok && r.CompletedAt.IsZero() {
		r.CompletedAt = now
		if next == PhaseFailed {
			r.Status = StatusFailed
		} else {
			r.Status = StatusCompleted
		}
	}
	s.Phase = next
	status := StatusInProgress
	if next.Terminal() {
		status = StatusCompleted
		if next == PhaseFailed {
			status = StatusFailed
		}
	}
	s.Results[next] = &PhaseResult{Phase: next, Status: status, StartedAt: now}
	return nil
}

// PhaseProgress reports progress during execution. File, Outcome and
// Rounds are set for per-file reports of PhaseGeneratingFiles; Planned is
// set when that phase starts.
type PhaseProgress struct {
	TaskID  string       `json:"task_id"`
	RunID   string       `json:"run_id"`
	Phase   Phase        `json:"phase"`
	Status  PhaseStatus  `json:"status"`
	Message string       `json:"message,omitempty"`
	Planned int          `json:"planned,omitempty"`
	File    string       `json:"file,omitempty"`
	Outcome task.Outcome `json:"outcome,omitempty"`
	Rounds  int          `json:"rounds,omitempty"`
}

// ProgressCallback receives progress updates during execution. It is
// called from the dispatcher's goroutines and must be safe for concurrent
// use.
type ProgressCallback func(progress PhaseProgress)

// Architect analyzes stories and plans files
type Architect interface {
	Analyze(ctx context.Context, story string) (*task.Analysis, error)
	Plan(ctx context.Context, analysis *task.Analysis) (task.Plan, error)
}

// Dispatcher generates the planned files
type Dispatcher interface {
	Dispatch(ctx context.Context, t *task.Task, plan *generation.LivePlan, files []string, onResult func(task.FileResult)) []task.FileResult
}

// Synthesizer writes the task's dependency manifest
type Synthesizer interface {
	Synthesize(ctx context.Context, taskID string, files map[string]string) (*manifest.Result, error)
}

// Workspace owns the task output directories
type Workspace interface {
	Clear(ctx context.Context, taskID string) error
}

// Recorder snapshots a finished task's output, returning a revision id
type Recorder interface {
	Record(ctx context.Context, taskID string, fileCount int) (string, error)
}
