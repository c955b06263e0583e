// Package task holds the data model of a generation run: the task record,
// the story analysis, the file plan and per-file outcomes.
package task

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Outcome is the terminal state of one file's generation loop
type Outcome string

const (
	// OutcomeCodeProduced means code was extracted and persisted
	OutcomeCodeProduced Outcome = "code-produced"

	// OutcomeUnknownTool means the coder asked for an unregistered tool
	OutcomeUnknownTool Outcome = "aborted-unknown-tool"

	// OutcomeNoFeedback means the architect could not answer the coder
	OutcomeNoFeedback Outcome = "aborted-no-feedback"

	// OutcomeRoundLimit means no terminal outcome within the round limit
	OutcomeRoundLimit Outcome = "round-limit-exceeded"

	// OutcomeTimedOut means the file deadline expired first
	OutcomeTimedOut Outcome = "timed-out"

	// OutcomeFailed means a collaborator or persistence error ended the loop
	OutcomeFailed Outcome = "failed"
)

// FileResult is what the generation loop reports for one planned file
type FileResult struct {
	Name    string  `json:"name"`
	Path    string  `json:"path,omitempty"`
	Outcome Outcome `json:"outcome"`
	Rounds  int     `json:"rounds"`
	Error   string  `json:"error,omitempty"`
}

// ID returns the stable identifier of a story: the hex md5 of its text
func ID(story string) string {
	sum := md5.Sum([]byte(story))
	return hex.EncodeToString(sum[:])
}

// Task is one execution of the pipeline for a story. Its file map only
// grows and a recorded file is never overwritten. Safe for concurrent use.
type Task struct {
	id       string
	runID    string
	analysis *Analysis

	mu         sync.Mutex
	files      map[string]string
	outcomes   map[string]Outcome
	success    bool
	validation *string
	message    string
	manifest   string
}

// New creates a task for story with a fresh run ID
func New(story string) *Task {
	return &Task{
		id:       ID(story),
		runID:    uuid.NewString(),
		files:    make(map[string]string),
		outcomes: make(map[string]Outcome),
	}
}

func (t *Task) ID() string    { return t.id }
func (t *Task) RunID() string { return t.runID }

// Analysis returns the attached analysis, nil before analysis completes
func (t *Task) Analysis() *Analysis {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.analysis
}

func (t *Task) SetAnalysis(a *Analysis) {
	t.mu.Lock()
	t.analysis = a
	t.mu.Unlock()
}

// RecordFile stores the artifact path for name. It returns false and keeps
// the existing path when name was already recorded.
func (t *Task) RecordFile(name, path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.files[name]; ok {
		return false
	}
	t.files[name] = path
	return true
}

// HasFile reports whether name already has an artifact
func (t *Task) HasFile(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.files[name]
	return ok
}

// Files returns a copy of the name to path map
func (t *Task) Files() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]string, len(t.files))
	for k, v := range t.files {
		out[k] = v
	}
	return out
}

// RecordOutcome remembers the terminal outcome of a file. The first
// outcome recorded for a name wins.
func (t *Task) RecordOutcome(name string, o Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.outcomes[name]; !ok {
		t.outcomes[name] = o
	}
}

func (t *Task) Outcomes() map[string]Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Outcome, len(t.outcomes))
	for k, v := range t.outcomes {
		out[k] = v
	}
	return out
}

func (t *Task) SetSuccess(ok bool) {
	t.mu.Lock()
	t.success = ok
	t.mu.Unlock()
}

func (t *Task) Success() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.success
}

func (t *Task) SetValidation(v string) {
	t.mu.Lock()
	t.validation = &v
	t.mu.Unlock()
}

// SetManifest records the path of the dependency manifest. The manifest is
// not a planned file and never appears in Files.
func (t *Task) SetManifest(path string) {
	t.mu.Lock()
	t.manifest = path
	t.mu.Unlock()
}

func (t *Task) SetMessage(msg string) {
	t.mu.Lock()
	t.message = msg
	t.mu.Unlock()
}

func (t *Task) Message() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.message
}

// Result is the serializable outcome of a task
type Result struct {
	TaskID     string             `json:"task_id" yaml:"task_id" toml:"task_id"`
	RunID      string             `json:"run_id" yaml:"run_id" toml:"run_id"`
	Success    bool               `json:"success" yaml:"success" toml:"success"`
	Files      map[string]string  `json:"files" yaml:"files" toml:"files"`
	Analysis   *AnalysisView      `json:"analysis" yaml:"analysis" toml:"analysis,omitempty"`
	Validation *string            `json:"validation" yaml:"validation" toml:"validation,omitempty"`
	Message    string             `json:"message" yaml:"message" toml:"message"`
	Manifest   string             `json:"manifest,omitempty" yaml:"manifest,omitempty" toml:"manifest,omitempty"`
	Outcomes   map[string]Outcome `json:"outcomes,omitempty" yaml:"outcomes,omitempty" toml:"outcomes,omitempty"`
}

// FileNames returns the produced file names in sorted order
func (r Result) FileNames() []string {
	names := make([]string, 0, len(r.Files))
	for n := range r.Files {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Result snapshots the task. Later mutations of the task do not affect it.
func (t *Task) Result() Result {
	files := t.Files()
	outcomes := t.Outcomes()

	t.mu.Lock()
	defer t.mu.Unlock()
	r := Result{
		TaskID:   t.id,
		RunID:    t.runID,
		Success:  t.success,
		Files:    files,
		Message:  t.message,
		Manifest: t.manifest,
		Outcomes: outcomes,
	}
	if t.validation != nil {
		v := *t.validation
		r.Validation = &v
	}
	if t.analysis != nil {
		v := t.analysis.View()
		r.Analysis = &v
	}
	return r
}
