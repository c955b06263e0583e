package watch

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/storyforge/internal/logging"
	"github.com/fyrsmithlabs/storyforge/internal/task"
)

type fakeProcessor struct {
	mu      sync.Mutex
	stories []string
	err     error
}

func (f *fakeProcessor) ProcessTask(_ context.Context, story string) (task.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stories = append(f.stories, story)
	res := task.Result{TaskID: task.ID(story), Success: f.err == nil, Files: map[string]string{}}
	return res, f.err
}

func (f *fakeProcessor) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.stories...)
}

func startWatcher(t *testing.T, proc TaskProcessor, dir string, logger *logging.Logger) *Watcher {
	t.Helper()
	w, err := New(proc, Config{Dir: dir, Debounce: 20 * time.Millisecond}, logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = w.Close()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("watcher did not stop")
		}
	})
	return w
}

func readReport(t *testing.T, path string) Report {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var r Report
	require.NoError(t, json.Unmarshal(data, &r))
	return r
}

func waitForFile(t *testing.T, path string) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond, "expected %s", path)
}

func TestNew_Validation(t *testing.T) {
	dir := t.TempDir()

	_, err := New(nil, Config{Dir: dir}, nil)
	assert.Error(t, err)

	_, err = New(&fakeProcessor{}, Config{Dir: filepath.Join(dir, "missing")}, nil)
	assert.Error(t, err)

	file := filepath.Join(dir, "a.story")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	_, err = New(&fakeProcessor{}, Config{Dir: file}, nil)
	assert.ErrorIs(t, err, ErrNotDirectory)
}

func TestNew_Defaults(t *testing.T) {
	w, err := New(&fakeProcessor{}, Config{Dir: t.TempDir(), Extension: "txt"}, nil)
	require.NoError(t, err)
	defer w.Close()

	assert.Equal(t, ".txt", w.cfg.Extension)
	assert.Equal(t, DefaultDebounce, w.cfg.Debounce)
}

func TestResultPath(t *testing.T) {
	assert.Equal(t, "/in/dashboard.result.json", ResultPath("/in/dashboard.story", ".story"))
	assert.Equal(t, "/in/a.b.result.json", ResultPath("/in/a.b.txt", ".txt"))
}

func TestWatcher_ProcessesNewStory(t *testing.T) {
	dir := t.TempDir()
	proc := &fakeProcessor{}
	startWatcher(t, proc, dir, nil)

	// give the watch a moment to register before writing
	time.Sleep(50 * time.Millisecond)
	story := filepath.Join(dir, "dashboard.story")
	require.NoError(t, os.WriteFile(story, []byte("  dashboard with patient records\n"), 0o644))

	out := ResultPath(story, DefaultExtension)
	waitForFile(t, out)

	report := readReport(t, out)
	assert.Equal(t, "dashboard.story", report.Story)
	assert.True(t, report.Result.Success)
	assert.Equal(t, task.ID("dashboard with patient records"), report.Result.TaskID)
	assert.Empty(t, report.Error)
	assert.Equal(t, []string{"dashboard with patient records"}, proc.seen())
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	proc := &fakeProcessor{}
	startWatcher(t, proc, dir, nil)

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("not a story"), 0o644))
	story := filepath.Join(dir, "b.story")
	require.NoError(t, os.WriteFile(story, []byte("appointments"), 0o644))

	waitForFile(t, ResultPath(story, DefaultExtension))
	assert.Equal(t, []string{"appointments"}, proc.seen())
}

func TestWatcher_ProcessesBacklog(t *testing.T) {
	dir := t.TempDir()
	pending := filepath.Join(dir, "pending.story")
	finished := filepath.Join(dir, "finished.story")
	require.NoError(t, os.WriteFile(pending, []byte("pending story"), 0o644))
	require.NoError(t, os.WriteFile(finished, []byte("finished story"), 0o644))
	require.NoError(t, os.WriteFile(ResultPath(finished, DefaultExtension), []byte("{}"), 0o644))

	proc := &fakeProcessor{}
	startWatcher(t, proc, dir, nil)

	waitForFile(t, ResultPath(pending, DefaultExtension))
	assert.Equal(t, []string{"pending story"}, proc.seen())
}

func TestWatcher_RecordsAbortedRun(t *testing.T) {
	dir := t.TempDir()
	story := filepath.Join(dir, "broken.story")
	require.NoError(t, os.WriteFile(story, []byte("broken story"), 0o644))

	logger, logs := logging.NewObserved()
	startWatcher(t, &fakeProcessor{err: errors.New("analysis failed")}, dir, logger)

	out := ResultPath(story, DefaultExtension)
	waitForFile(t, out)

	report := readReport(t, out)
	assert.False(t, report.Result.Success)
	assert.Equal(t, "analysis failed", report.Error)
	assert.True(t, logging.Logged(logs, zapcore.ErrorLevel, "task aborted"))
}

func TestWatcher_SkipsEmptyStory(t *testing.T) {
	dir := t.TempDir()
	story := filepath.Join(dir, "empty.story")
	require.NoError(t, os.WriteFile(story, []byte("   \n"), 0o644))

	logger, logs := logging.NewObserved()
	proc := &fakeProcessor{}
	startWatcher(t, proc, dir, logger)

	require.Eventually(t, func() bool {
		return logs.FilterMessageSnippet("story skipped").Len() > 0
	}, 5*time.Second, 10*time.Millisecond)
	assert.Empty(t, proc.seen())
	assert.NoFileExists(t, ResultPath(story, DefaultExtension))
}

func TestWatcher_CloseStopsRun(t *testing.T) {
	w, err := New(&fakeProcessor{}, Config{Dir: t.TempDir()}, nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close(), "close is idempotent")

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}
