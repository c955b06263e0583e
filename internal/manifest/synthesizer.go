package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/storyforge/internal/agent"
	"github.com/fyrsmithlabs/storyforge/internal/logging"
	"github.com/fyrsmithlabs/storyforge/internal/recovery"
)

// CodeGenerator is the coder capability the synthesizer needs
type CodeGenerator interface {
	GenerateCode(ctx context.Context, req agent.CodeRequest) (string, error)
}

// Store reads generated sources and writes the manifest
type Store interface {
	ReadFile(path string) ([]byte, error)
	WriteRoot(ctx context.Context, taskID, name string, content []byte) (string, error)
}

// Result describes a synthesized manifest
type Result struct {
	Path       string
	References []string
	Check      Check
}

// Synthesizer asks the coder for a manifest covering the references found
// in a task's generated files.
type Synthesizer struct {
	coder   CodeGenerator
	store   Store
	pattern *regexp.Regexp
	logger  *logging.Logger
}

// NewSynthesizer creates a synthesizer. A nil pattern selects
// DefaultReferencePattern.
func NewSynthesizer(coder CodeGenerator, store Store, pattern *regexp.Regexp, logger *logging.Logger) *Synthesizer {
	if pattern == nil {
		pattern = regexp.MustCompile(DefaultReferencePattern)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Synthesizer{coder: coder, store: store, pattern: pattern, logger: logger.Named("manifest")}
}

// Synthesize scans files (name to path), asks the coder for a manifest and
// writes the validated result at the task root. Unreadable sources are
// skipped. A coder failure still writes the bare skeleton.
func (s *Synthesizer) Synthesize(ctx context.Context, taskID string, files map[string]string) (*Result, error) {
	names := make([]string, 0, len(files))
	for n := range files {
		names = append(names, n)
	}
	sort.Strings(names)

	sources := make([]string, 0, len(names))
	for _, n := range names {
		data, err := s.store.ReadFile(files[n])
		if err != nil {
			s.logger.Warn(ctx, "skipping unreadable source", zap.String("file", n), zap.Error(err))
			continue
		}
		sources = append(sources, string(data))
	}
	refs := References(s.pattern, sources...)
	s.logger.Debug(ctx, "references collected", zap.Strings("references", refs))

	var check Check
	resp, err := s.coder.GenerateCode(ctx, agent.CodeRequest{Prompt: Prompt(refs), DisableTools: true})
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("synthesize manifest: %w", err)
		}
		s.logger.Warn(ctx, "coder failed to produce a manifest", zap.Error(err))
		check = Check{
			Content:    prettyBytes(Skeleton()),
			Deviations: []string{"coder error: " + err.Error()},
		}
	} else {
		check, err = Apply(manifestJSON(resp))
		if err != nil {
			return nil, fmt.Errorf("synthesize manifest: %w", err)
		}
	}
	if !check.Valid() {
		s.logger.Warn(ctx, "manifest deviates from skeleton", zap.Strings("deviations", check.Deviations))
	}

	path, err := s.store.WriteRoot(ctx, taskID, FileName, check.Content)
	if err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	return &Result{Path: path, References: refs, Check: check}, nil
}

// manifestJSON recovers the JSON object from a coder response, falling back
// to the raw text so Apply can report it.
func manifestJSON(resp string) []byte {
	obj, err := recovery.ParseJSON(resp)
	if err != nil {
		return []byte(strings.TrimSpace(resp))
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return []byte(strings.TrimSpace(resp))
	}
	return b
}
