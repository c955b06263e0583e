package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/storyforge/internal/generation"
	"github.com/fyrsmithlabs/storyforge/internal/logging"
	"github.com/fyrsmithlabs/storyforge/internal/metrics"
	"github.com/fyrsmithlabs/storyforge/internal/task"
)

const instrumentationName = "github.com/fyrsmithlabs/storyforge/internal/orchestrator"

// ErrEmptyPlan is recorded on a result when planning produced no files
var ErrEmptyPlan = errors.New("no files planned, please review the user story")

const (
	msgPlanned   = "planning succeeded"
	msgNoFiles   = "no files planned"
	msgAnalysis  = "analysis failed"
	taskSuccess  = "success"
	taskEmpty    = "empty_plan"
	taskFailed   = "failed"
	taskCanceled = "canceled"
)

// Orchestrator runs stories through analysis, planning, concurrent file
// generation and manifest synthesis. It holds no per-task state and is
// safe for concurrent use.
type Orchestrator struct {
	architect   Architect
	dispatcher  Dispatcher
	synthesizer Synthesizer
	workspace   Workspace
	recorder    Recorder
	logger      *logging.Logger
	tracer      trace.Tracer
	now         func() time.Time

	mu       sync.RWMutex
	progress []ProgressCallback
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithRecorder snapshots each run's output after the manifest is written
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithProgress registers a progress callback
func WithProgress(cb ProgressCallback) Option {
	return func(o *Orchestrator) { o.progress = append(o.progress, cb) }
}

// New creates an orchestrator
func New(architect Architect, dispatcher Dispatcher, synthesizer Synthesizer, workspace Workspace, logger *logging.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	o := &Orchestrator{
		architect:   architect,
		dispatcher:  dispatcher,
		synthesizer: synthesizer,
		workspace:   workspace,
		logger:      logger.Named("orchestrator"),
		tracer:      otel.Tracer(instrumentationName),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// OnProgress adds a progress callback
func (o *Orchestrator) OnProgress(cb ProgressCallback) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.progress = append(o.progress, cb)
}

// run carries the state of one ProcessTask call
type run struct {
	task  *task.Task
	state *RunState
	start time.Time
}

// ProcessTask turns story into generated files. Only a failed analysis (or
// a cancelled ctx) returns an error; every other problem is reported on the
// result. The result is always populated.
func (o *Orchestrator) ProcessTask(ctx context.Context, story string) (task.Result, error) {
	t := task.New(story)
	ctx = logging.WithTaskID(ctx, t.ID())
	ctx = logging.WithRunID(ctx, t.RunID())

	ctx, span := o.tracer.Start(ctx, "orchestrator.process_task",
		trace.WithAttributes(
			attribute.String("task.id", t.ID()),
			attribute.String("run.id", t.RunID()),
		))
	defer span.End()

	r := &run{task: t, state: NewRunState(), start: o.now()}
	r.state.Results[PhaseStart] = &PhaseResult{Phase: PhaseStart, Status: StatusInProgress, StartedAt: r.start}
	o.logger.Info(ctx, "task started", zap.Int("story_chars", len(story)))

	res, err := o.process(ctx, r, story)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(
		attribute.Bool("task.success", res.Success),
		attribute.Int("task.files", len(res.Files)),
	)
	return res, err
}

func (o *Orchestrator) process(ctx context.Context, r *run, story string) (task.Result, error) {
	t := r.task

	phaseStart := o.now()
	if err := o.workspace.Clear(ctx, t.ID()); err != nil {
		return o.fail(ctx, r, fmt.Errorf("clear task directory: %w", err))
	}
	metrics.ObservePhase(string(PhaseStart), phaseStart)

	// analysis
	o.enter(ctx, r, PhaseAnalyzing)
	phaseStart = o.now()
	analysis, err := o.architect.Analyze(ctx, story)
	metrics.ObservePhase(string(PhaseAnalyzing), phaseStart)
	if err != nil {
		t.SetMessage(fmt.Sprintf("%s: %v", msgAnalysis, err))
		return o.fail(ctx, r, fmt.Errorf("analyze story: %w", err))
	}
	t.SetAnalysis(analysis)

	// planning
	o.enter(ctx, r, PhasePlanning)
	phaseStart = o.now()
	plan, err := o.architect.Plan(ctx, analysis)
	metrics.ObservePhase(string(PhasePlanning), phaseStart)
	if err != nil && ctx.Err() != nil {
		return o.fail(ctx, r, fmt.Errorf("plan files: %w", err))
	}
	if err != nil || len(plan.Files) == 0 {
		validation := ErrEmptyPlan.Error()
		if err != nil {
			validation = "planning failed: " + err.Error()
			o.logger.Warn(ctx, "planning failed", zap.Error(err))
		}
		t.SetSuccess(false)
		t.SetMessage(msgNoFiles)
		t.SetValidation(validation)
		o.logger.Info(ctx, "planning finished", zap.Bool("success", false), zap.Int("files_count", 0))
		return o.softFail(ctx, r, taskEmpty), nil
	}
	t.SetSuccess(true)
	t.SetMessage(msgPlanned)
	o.logger.Info(ctx, "planning finished",
		zap.Bool("success", true),
		zap.Int("files_count", len(plan.Files)),
		zap.Strings("files", plan.Files))

	// generation
	o.transition(ctx, r, PhaseGeneratingFiles)
	o.report(PhaseProgress{
		TaskID:  t.ID(),
		RunID:   t.RunID(),
		Phase:   PhaseGeneratingFiles,
		Status:  StatusInProgress,
		Planned: len(plan.Files),
	})
	phaseStart = o.now()
	results := o.dispatcher.Dispatch(ctx, t, generation.NewLivePlan(plan), plan.Files, func(fr task.FileResult) {
		o.report(PhaseProgress{
			TaskID:  t.ID(),
			RunID:   t.RunID(),
			Phase:   PhaseGeneratingFiles,
			Status:  StatusCompleted,
			Message: fr.Error,
			File:    fr.Name,
			Outcome: fr.Outcome,
			Rounds:  fr.Rounds,
		})
	})
	metrics.ObservePhase(string(PhaseGeneratingFiles), phaseStart)
	o.logger.Info(ctx, "generation finished",
		zap.Int("planned", len(results)),
		zap.Int("produced", len(t.Files())))
	if err := ctx.Err(); err != nil {
		return o.fail(ctx, r, fmt.Errorf("generate files: %w", err))
	}

	// manifest
	o.enter(ctx, r, PhaseSynthesizingManifest)
	phaseStart = o.now()
	mres, err := o.synthesizer.Synthesize(ctx, t.ID(), t.Files())
	metrics.ObservePhase(string(PhaseSynthesizingManifest), phaseStart)
	switch {
	case err != nil && ctx.Err() != nil:
		return o.fail(ctx, r, fmt.Errorf("synthesize manifest: %w", err))
	case err != nil:
		o.logger.Error(ctx, "manifest synthesis failed", zap.Error(err))
		t.SetValidation("manifest: " + err.Error())
	default:
		t.SetManifest(mres.Path)
		if !mres.Check.Valid() {
			t.SetValidation(strings.Join(mres.Check.Deviations, "; "))
		}
	}

	if o.recorder != nil {
		files := len(t.Files())
		if rev, err := o.recorder.Record(ctx, t.ID(), files); err != nil {
			o.logger.Warn(ctx, "recording task output failed", zap.Error(err))
		} else if rev != "" {
			o.logger.Info(ctx, "task output recorded", zap.String("revision", rev))
		}
	}

	return o.finish(ctx, r, taskSuccess), nil
}

// transition moves r to phase. The phase order is fixed in process, so a
// rejected transition is logged as a bug rather than returned.
func (o *Orchestrator) transition(ctx context.Context, r *run, phase Phase) {
	if err := r.state.Transition(phase, o.now()); err != nil {
		o.logger.Error(ctx, "invalid phase transition", zap.Error(err))
	}
	trace.SpanFromContext(ctx).AddEvent(string(phase))
	o.logger.Debug(ctx, "phase entered", zap.String("phase", string(phase)))
}

// enter moves r to phase and reports it
func (o *Orchestrator) enter(ctx context.Context, r *run, phase Phase) {
	o.transition(ctx, r, phase)
	o.report(PhaseProgress{
		TaskID: r.task.ID(),
		RunID:  r.task.RunID(),
		Phase:  phase,
		Status: StatusInProgress,
	})
}

func (o *Orchestrator) finish(ctx context.Context, r *run, outcome string) task.Result {
	o.transition(ctx, r, PhaseDone)
	res := r.task.Result()
	metrics.RecordTask(outcome)
	o.logger.Info(ctx, "task finished",
		zap.Bool("success", res.Success),
		zap.Int("files", len(res.Files)),
		zap.Duration("duration", o.now().Sub(r.start)))
	o.report(PhaseProgress{
		TaskID:  res.TaskID,
		RunID:   res.RunID,
		Phase:   PhaseDone,
		Status:  StatusCompleted,
		Message: res.Message,
	})
	return res
}

// softFail ends the run in the failed phase without an error. The reason
// is already on the task.
func (o *Orchestrator) softFail(ctx context.Context, r *run, outcome string) task.Result {
	o.transition(ctx, r, PhaseFailed)
	res := r.task.Result()
	metrics.RecordTask(outcome)
	o.logger.Info(ctx, "task finished without files",
		zap.Duration("duration", o.now().Sub(r.start)))
	o.report(PhaseProgress{
		TaskID:  res.TaskID,
		RunID:   res.RunID,
		Phase:   PhaseFailed,
		Status:  StatusFailed,
		Message: res.Message,
	})
	return res
}

func (o *Orchestrator) fail(ctx context.Context, r *run, err error) (task.Result, error) {
	r.task.SetSuccess(false)
	if r.task.Message() == "" {
		r.task.SetMessage(err.Error())
	}
	o.transition(ctx, r, PhaseFailed)
	outcome := taskFailed
	if ctx.Err() != nil {
		outcome = taskCanceled
	}
	metrics.RecordTask(outcome)
	o.logger.Error(ctx, "task failed", zap.Error(err))
	o.report(PhaseProgress{
		TaskID:  r.task.ID(),
		RunID:   r.task.RunID(),
		Phase:   PhaseFailed,
		Status:  StatusFailed,
		Message: err.Error(),
	})
	return r.task.Result(), err
}

// report sends progress updates to the callbacks
func (o *Orchestrator) report(p PhaseProgress) {
	o.mu.RLock()
	callbacks := append([]ProgressCallback(nil), o.progress...)
	o.mu.RUnlock()
	for _, cb := range callbacks {
		cb(p)
	}
}
