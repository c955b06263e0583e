// Package artifact persists generated files under a per-task directory.
//
// Layout:
//
//	<root>/<taskID>/src/<namespace path>/<file>
//	<root>/<taskID>/assets/<asset>
//	<root>/<taskID>/<manifest>
package artifact

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/storyforge/internal/logging"
)

const (
	SourceDir = "src"
	AssetDir  = "assets"
)

// ErrInvalidName is returned for absolute or escaping file names
var ErrInvalidName = errors.New("invalid artifact name")

var namespacePattern = regexp.MustCompile(`namespace\s+([a-zA-Z0-9_\\]+);`)

// Writer stores artifacts on an afero filesystem. Concurrent writers for
// different file names never share a path.
type Writer struct {
	fs     afero.Fs
	root   string
	logger *logging.Logger
}

// NewWriter creates a writer rooted at root on the OS filesystem
func NewWriter(root string, logger *logging.Logger) *Writer {
	return NewWriterFs(afero.NewOsFs(), root, logger)
}

// NewWriterFs creates a writer rooted at root on fs
func NewWriterFs(fs afero.Fs, root string, logger *logging.Logger) *Writer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Writer{fs: fs, root: root, logger: logger.Named("artifact")}
}

// Root returns the output root directory
func (w *Writer) Root() string { return w.root }

// Fs returns the underlying filesystem
func (w *Writer) Fs() afero.Fs { return w.fs }

// TaskDir returns the directory holding a task's artifacts
func (w *Writer) TaskDir(taskID string) string {
	return filepath.Join(w.root, taskID)
}

// Clear removes everything previously written for taskID
func (w *Writer) Clear(ctx context.Context, taskID string) error {
	if err := validateName(taskID); err != nil {
		return err
	}
	dir := w.TaskDir(taskID)
	if err := w.fs.RemoveAll(dir); err != nil {
		return fmt.Errorf("clear %s: %w", dir, err)
	}
	w.logger.Debug(ctx, "cleared task directory", zap.String("dir", dir))
	return nil
}

// WriteSource stores generated code for fileName. A namespace declaration
// in content nests the file under the namespace path and keeps only its
// base name.
func (w *Writer) WriteSource(ctx context.Context, taskID, fileName string, content []byte) (string, error) {
	if err := validateName(taskID); err != nil {
		return "", err
	}
	if err := validateName(fileName); err != nil {
		return "", err
	}

	dir := filepath.Join(w.TaskDir(taskID), SourceDir)
	rel := filepath.FromSlash(path.Clean(strings.ReplaceAll(fileName, `\`, "/")))
	if ns := NamespacePath(string(content)); ns != "" {
		dir = filepath.Join(dir, ns)
		rel = filepath.Base(rel)
	}
	return w.write(ctx, filepath.Join(dir, rel), content)
}

// WriteRoot stores a file directly in the task directory, e.g. the manifest
func (w *Writer) WriteRoot(ctx context.Context, taskID, name string, content []byte) (string, error) {
	if err := validateName(taskID); err != nil {
		return "", err
	}
	if err := validateName(name); err != nil {
		return "", err
	}
	return w.write(ctx, filepath.Join(w.TaskDir(taskID), filepath.Base(name)), content)
}

// WriteAsset stores a binary asset produced by a tool
func (w *Writer) WriteAsset(ctx context.Context, taskID, name string, data []byte) (string, error) {
	if taskID == "" {
		taskID = "_shared"
	}
	if err := validateName(taskID); err != nil {
		return "", err
	}
	if err := validateName(name); err != nil {
		return "", err
	}
	return w.write(ctx, filepath.Join(w.TaskDir(taskID), AssetDir, filepath.Base(name)), data)
}

// ReadFile returns the content of a previously written artifact
func (w *Writer) ReadFile(p string) ([]byte, error) {
	return afero.ReadFile(w.fs, p)
}

func (w *Writer) write(ctx context.Context, p string, data []byte) (string, error) {
	if err := w.fs.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("create dir for %s: %w", p, err)
	}
	if err := afero.WriteFile(w.fs, p, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", p, err)
	}
	w.logger.Debug(ctx, "artifact written", zap.String("path", p), zap.Int("bytes", len(data)))
	return p, nil
}

// NamespacePath maps the first `namespace A\B;` declaration in content to
// the relative path A/B, or "" when there is none.
func NamespacePath(content string) string {
	m := namespacePattern.FindStringSubmatch(content)
	if m == nil {
		return ""
	}
	parts := strings.FieldsFunc(strings.TrimSpace(m[1]), func(r rune) bool { return r == '\\' })
	return filepath.Join(parts...)
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	slashed := strings.ReplaceAll(name, `\`, "/")
	if path.IsAbs(slashed) || filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return fmt.Errorf("%w: %q is absolute", ErrInvalidName, name)
	}
	for _, part := range strings.Split(slashed, "/") {
		if part == ".." {
			return fmt.Errorf("%w: %q escapes the output directory", ErrInvalidName, name)
		}
	}
	return nil
}
