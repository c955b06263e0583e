// Package orchestrator turns a user story into generated source files.
//
// # Overview
//
// A run moves through a fixed phase machine:
//
//	start → analyzing → planning → generating_files → synthesizing_manifest → done
//
// Any phase may move to failed. An empty or failed plan ends the run in
// failed without returning an error; the result carries success=false and
// a validation message.
//
// # Key Components
//
// ## Orchestrator
//
// The Orchestrator is the entry point. ProcessTask clears the task
// directory, asks the Architect for an analysis and a file plan, hands the
// plan to the Dispatcher, then asks the Synthesizer for the dependency
// manifest. An optional Recorder snapshots the output afterwards.
//
// ## Failure policy
//
//   - Analysis failures abort the run and are returned as errors
//   - Planning failures and empty plans are soft failures on the result
//   - Per-file failures are contained in that file's outcome
//   - Manifest failures are recorded as validation text
//
// # Usage Example
//
//	orch := orchestrator.New(architect, dispatcher, synthesizer, writer, logger,
//		orchestrator.WithRecorder(git))
//	orch.OnProgress(func(p orchestrator.PhaseProgress) {
//		fmt.Printf("%s %s %s\n", p.Phase, p.Status, p.File)
//	})
//	res, err := orch.ProcessTask(ctx, "As a doctor I want a dashboard with patient records")
//
// # Thread Safety
//
// An Orchestrator may serve concurrent ProcessTask calls. Progress
// callbacks are invoked from dispatcher goroutines and must synchronize
// their own state.
package orchestrator
