// Package dispatch fans a task's planned files out to the generation loop
// and collects one result per file.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
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

const instrumentationName = "github.com/fyrsmithlabs/storyforge/internal/dispatch"

// DefaultFileTimeout is the per-file deadline when none is configured
const DefaultFileTimeout = 2 * time.Minute

// Runner generates a single file
type Runner interface {
	Run(ctx context.Context, t *task.Task, plan *generation.LivePlan, fileName string) task.FileResult
}

// Config configures a Dispatcher
type Config struct {
	// FileTimeout is the deadline of each file's loop. The context passed
	// to the runner is cancelled when it expires.
	FileTimeout time.Duration

	// MaxConcurrency caps concurrent files; zero runs every file at once
	MaxConcurrency int
}

// Dispatcher runs the generation loop for each planned file concurrently
type Dispatcher struct {
	runner         Runner
	fileTimeout    time.Duration
	maxConcurrency int
	logger         *logging.Logger
	tracer         trace.Tracer
}

// New creates a dispatcher
func New(runner Runner, cfg Config, logger *logging.Logger) *Dispatcher {
	if cfg.FileTimeout <= 0 {
		cfg.FileTimeout = DefaultFileTimeout
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Dispatcher{
		runner:         runner,
		fileTimeout:    cfg.FileTimeout,
		maxConcurrency: cfg.MaxConcurrency,
		logger:         logger.Named("dispatch"),
		tracer:         otel.Tracer(instrumentationName),
	}
}

// Dispatch generates files for t and returns one result per distinct file
// name, in plan order. Duplicate names are generated once. Each outcome is
// recorded on the task and passed to onResult, when set, from the file's
// goroutine. Errors and panics of one file never reach its siblings or the
// caller.
func (d *Dispatcher) Dispatch(ctx context.Context, t *task.Task, plan *generation.LivePlan, files []string, onResult func(task.FileResult)) []task.FileResult {
	names := Unique(files)
	results := make([]task.FileResult, len(names))
	if len(names) == 0 {
		return results
	}

	p := pool.New()
	if d.maxConcurrency > 0 {
		p = p.WithMaxGoroutines(d.maxConcurrency)
	}
	for i, name := range names {
		p.Go(func() {
			res := d.runFile(ctx, t, plan, name)
			results[i] = res
			t.RecordOutcome(res.Name, res.Outcome)
			metrics.RecordOutcome(string(res.Outcome), res.Rounds)
			if onResult != nil {
				onResult(res)
			}
		})
	}
	p.Wait()

	d.logger.Info(ctx, "files dispatched", zap.Int("files", len(names)), zap.Int("produced", countProduced(results)))
	return results
}

func (d *Dispatcher) runFile(ctx context.Context, t *task.Task, plan *generation.LivePlan, name string) (res task.FileResult) {
	fctx, cancel := context.WithTimeout(ctx, d.fileTimeout)
	defer cancel()

	fctx, span := d.tracer.Start(fctx, "dispatch.file",
		trace.WithAttributes(
			attribute.String("task.id", t.ID()),
			attribute.String("file.name", name),
		))
	defer span.End()

	var pc panics.Catcher
	pc.Try(func() {
		res = d.runner.Run(fctx, t, plan, name)
	})
	if r := pc.Recovered(); r != nil {
		err := r.AsError()
		d.logger.Error(fctx, "file generation panicked", zap.String("file", name), zap.Error(err))
		span.RecordError(err)
		res = task.FileResult{Name: name, Outcome: task.OutcomeFailed, Error: err.Error()}
	}
	res.Name = name

	// a runner that ignored its context still cannot report past the deadline
	if res.Outcome != task.OutcomeCodeProduced && errors.Is(fctx.Err(), context.DeadlineExceeded) {
		res.Outcome = task.OutcomeTimedOut
		if res.Error == "" {
			res.Error = fmt.Sprintf("file deadline of %s exceeded", d.fileTimeout)
		}
	}
	if res.Outcome == "" {
		res.Outcome = task.OutcomeFailed
	}

	span.SetAttributes(
		attribute.String("file.outcome", string(res.Outcome)),
		attribute.Int("file.rounds", res.Rounds),
	)
	if res.Outcome != task.OutcomeCodeProduced {
		span.SetStatus(codes.Error, string(res.Outcome))
	}
	return res
}

// Unique returns names without duplicates, keeping first occurrences
func Unique(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

func countProduced(results []task.FileResult) int {
	n := 0
	for _, r := range results {
		if r.Outcome == task.OutcomeCodeProduced {
			n++
		}
	}
	return n
}
