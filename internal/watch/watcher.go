// Package watch runs stories dropped into a directory.
//
// A story file (default extension .story) that is created or written is
// processed once its writes settle, and the outcome is stored next to it
// as <name>.result.json. Stories without a result file are picked up when
// the watcher starts. Runs are serialized.
package watch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/storyforge/internal/logging"
	"github.com/fyrsmithlabs/storyforge/internal/task"
)

const (
	// DefaultExtension marks story files
	DefaultExtension = ".story"

	// DefaultDebounce is how long a file must stay quiet before it runs
	DefaultDebounce = 500 * time.Millisecond

	resultSuffix  = ".result.json"
	maxStoryBytes = 64 * 1024
	queueSize     = 64
)

var (
	// ErrWatcherFailed indicates the filesystem watcher failed to initialize
	ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

	// ErrNotDirectory indicates the watched path is not a directory
	ErrNotDirectory = errors.New("not a directory")
)

// TaskProcessor runs one story
type TaskProcessor interface {
	ProcessTask(ctx context.Context, story string) (task.Result, error)
}

// Config configures a Watcher
type Config struct {
	Dir       string
	Extension string
	Debounce  time.Duration
}

// Report is written to the result file of a story
type Report struct {
	Story  string      `json:"story_file"`
	Result task.Result `json:"result"`
	Error  string      `json:"error,omitempty"`
}

// Watcher processes story files of one directory
type Watcher struct {
	cfg       Config
	processor TaskProcessor
	logger    *logging.Logger
	watcher   *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]*time.Timer
	closed  bool

	jobs chan string
	stop chan struct{}
	once sync.Once
}

// New creates a watcher for cfg.Dir
func New(processor TaskProcessor, cfg Config, logger *logging.Logger) (*Watcher, error) {
	if processor == nil {
		return nil, errors.New("processor cannot be nil")
	}
	if cfg.Extension == "" {
		cfg.Extension = DefaultExtension
	}
	if !strings.HasPrefix(cfg.Extension, ".") {
		cfg.Extension = "." + cfg.Extension
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	info, err := os.Stat(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("watch directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, cfg.Dir)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}

	return &Watcher{
		cfg:       cfg,
		processor: processor,
		logger:    logger.Named("watch"),
		watcher:   fw,
		pending:   make(map[string]*time.Timer),
		jobs:      make(chan string, queueSize),
		stop:      make(chan struct{}),
	}, nil
}

// ResultPath returns where the report for storyPath is written
func ResultPath(storyPath, ext string) string {
	return strings.TrimSuffix(storyPath, ext) + resultSuffix
}

// Run watches until ctx is done or Close is called. Stories already queued
// when Close is called still run before Run returns.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.watcher.Add(w.cfg.Dir); err != nil {
		select {
		case <-w.stop:
			return nil
		default:
		}
		return fmt.Errorf("watching %s: %w", w.cfg.Dir, err)
	}
	w.logger.Info(ctx, "watching for stories",
		zap.String("dir", w.cfg.Dir),
		zap.String("extension", w.cfg.Extension))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.work(ctx)
	}()

	w.enqueueBacklog(ctx)
	w.processEvents(ctx)

	w.mu.Lock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	w.closed = true
	close(w.jobs)
	w.mu.Unlock()
	wg.Wait()
	return nil
}

// Close stops the watcher and releases the filesystem watch
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.stop)
		err = w.watcher.Close()
	})
	return err
}

// processEvents turns filesystem events into debounced jobs
func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if w.isStory(event.Name) {
				w.schedule(ctx, event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn(ctx, "filesystem watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) isStory(path string) bool {
	return filepath.Ext(path) == w.cfg.Extension
}

// schedule (re)starts the quiet period of path
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Reset(w.cfg.Debounce)
		return
	}
	w.pending[path] = time.AfterFunc(w.cfg.Debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.enqueue(ctx, path)
	})
}

func (w *Watcher) enqueue(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.jobs <- path:
	default:
		w.logger.Warn(ctx, "story queue full, dropped", zap.String("story_file", path))
	}
}

// enqueueBacklog queues stories that have no result yet
func (w *Watcher) enqueueBacklog(ctx context.Context) {
	matches, err := filepath.Glob(filepath.Join(w.cfg.Dir, "*"+w.cfg.Extension))
	if err != nil {
		w.logger.Warn(ctx, "listing stories failed", zap.Error(err))
		return
	}
	for _, path := range matches {
		if _, err := os.Stat(ResultPath(path, w.cfg.Extension)); err == nil {
			continue
		}
		w.enqueue(ctx, path)
	}
}

func (w *Watcher) work(ctx context.Context) {
	for path := range w.jobs {
		if ctx.Err() != nil {
			continue
		}
		w.process(ctx, path)
	}
}

// process runs one story file and writes its report. A story whose
// result is newer than the story itself is not run again.
func (w *Watcher) process(ctx context.Context, path string) {
	if upToDate(path, ResultPath(path, w.cfg.Extension)) {
		w.logger.Debug(ctx, "story unchanged", zap.String("story_file", path))
		return
	}
	story, err := readStory(path)
	if err != nil {
		w.logger.Warn(ctx, "story skipped", zap.String("story_file", path), zap.Error(err))
		return
	}

	w.logger.Info(ctx, "story picked up", zap.String("story_file", path))
	res, runErr := w.processor.ProcessTask(ctx, story)
	report := Report{Story: filepath.Base(path), Result: res}
	if runErr != nil {
		report.Error = runErr.Error()
		w.logger.Error(ctx, "task aborted", zap.String("story_file", path), zap.Error(runErr))
	}

	out := ResultPath(path, w.cfg.Extension)
	if err := writeReport(out, report); err != nil {
		w.logger.Error(ctx, "writing result failed", zap.String("result_file", out), zap.Error(err))
		return
	}
	w.logger.Info(ctx, "story processed",
		zap.String("result_file", out),
		zap.Bool("success", res.Success),
		zap.Int("files", len(res.Files)))
}

func upToDate(storyPath, resultPath string) bool {
	story, err := os.Stat(storyPath)
	if err != nil {
		return false
	}
	result, err := os.Stat(resultPath)
	if err != nil {
		return false
	}
	return !result.ModTime().Before(story.ModTime())
}

func readStory(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxStoryBytes+1))
	if err != nil {
		return "", err
	}
	if len(data) > maxStoryBytes {
		return "", fmt.Errorf("story exceeds %d bytes", maxStoryBytes)
	}
	story := strings.TrimSpace(string(data))
	if story == "" {
		return "", errors.New("empty story")
	}
	return story, nil
}

// writeReport replaces out atomically so readers never see a partial file
func writeReport(out string, report Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	tmp := out + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, out); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
