package task

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrEmptyValue is returned by Analysis setters given empty input
var ErrEmptyValue = errors.New("value cannot be empty")

// ErrInvalidComplexity is returned for labels outside the complexity set
var ErrInvalidComplexity = errors.New("invalid complexity")

// Complexity is the estimated effort of a story
type Complexity string

const (
	ComplexityLow     Complexity = "low"
	ComplexityMedium  Complexity = "medium"
	ComplexityHigh    Complexity = "high"
	ComplexityUnknown Complexity = "unknown"
)

// DefaultArchitecture is used when no architecture style was reported
const DefaultArchitecture = "unknown"

// ParseComplexity normalizes s, mapping anything outside the known set to
// ComplexityUnknown.
func ParseComplexity(s string) Complexity {
	switch c := Complexity(strings.ToLower(strings.TrimSpace(s))); c {
	case ComplexityLow, ComplexityMedium, ComplexityHigh:
		return c
	default:
		return ComplexityUnknown
	}
}

// Valid reports whether c is one of the known labels
func (c Complexity) Valid() bool {
	switch c {
	case ComplexityLow, ComplexityMedium, ComplexityHigh, ComplexityUnknown:
		return true
	}
	return false
}

// AnalysisView is an immutable copy of an Analysis
type AnalysisView struct {
	Requirements []string   `json:"requirements" toml:"requirements"`
	Entities     []string   `json:"entities" toml:"entities"`
	Actions      []string   `json:"actions" toml:"actions"`
	Complexity   Complexity `json:"complexity" toml:"complexity"`
	Architecture string     `json:"architecture" toml:"architecture"`
}

// Analysis is the structured reading of a story. The story text is fixed at
// construction; other fields change only through setters, which reject
// empty input. Safe for concurrent use.
type Analysis struct {
	mu           sync.RWMutex
	story        string
	requirements []string
	entities     []string
	actions      []string
	complexity   Complexity
	architecture string
}

// NewAnalysis creates an empty analysis of story
func NewAnalysis(story string) *Analysis {
	return &Analysis{
		story:        story,
		requirements: []string{},
		entities:     []string{},
		actions:      []string{},
		complexity:   ComplexityUnknown,
		architecture: DefaultArchitecture,
	}
}

// Story returns the original request text
func (a *Analysis) Story() string {
	return a.story
}

func (a *Analysis) SetRequirements(v []string) error {
	return a.setList(&a.requirements, "requirements", v)
}

func (a *Analysis) SetEntities(v []string) error {
	return a.setList(&a.entities, "entities", v)
}

func (a *Analysis) SetActions(v []string) error {
	return a.setList(&a.actions, "actions", v)
}

func (a *Analysis) setList(dst *[]string, field string, v []string) error {
	if len(v) == 0 {
		return fmt.Errorf("%s: %w", field, ErrEmptyValue)
	}
	a.mu.Lock()
	*dst = append([]string(nil), v...)
	a.mu.Unlock()
	return nil
}

// SetComplexity accepts low, medium, high or unknown
func (a *Analysis) SetComplexity(c Complexity) error {
	if c == "" {
		return fmt.Errorf("complexity: %w", ErrEmptyValue)
	}
	if !c.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidComplexity, c)
	}
	a.mu.Lock()
	a.complexity = c
	a.mu.Unlock()
	return nil
}

func (a *Analysis) SetArchitecture(v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("architecture: %w", ErrEmptyValue)
	}
	a.mu.Lock()
	a.architecture = v
	a.mu.Unlock()
	return nil
}

func (a *Analysis) Requirements() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]string(nil), a.requirements...)
}

func (a *Analysis) Entities() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]string(nil), a.entities...)
}

func (a *Analysis) Actions() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]string(nil), a.actions...)
}

func (a *Analysis) Complexity() Complexity {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.complexity
}

func (a *Analysis) Architecture() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.architecture
}

// View returns a consistent copy of every field
func (a *Analysis) View() AnalysisView {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return AnalysisView{
		Requirements: append([]string{}, a.requirements...),
		Entities:     append([]string{}, a.entities...),
		Actions:      append([]string{}, a.actions...),
		Complexity:   a.complexity,
		Architecture: a.architecture,
	}
}

// ApplyPlan re-populates the analysis from a merged plan. Empty lists leave
// the current value in place; complexity is normalized and architecture
// falls back to DefaultArchitecture.
func (a *Analysis) ApplyPlan(p Plan) {
	if len(p.Requirements) > 0 {
		_ = a.SetRequirements(p.Requirements)
	}
	if len(p.Entities) > 0 {
		_ = a.SetEntities(p.Entities)
	}
	if len(p.Actions) > 0 {
		_ = a.SetActions(p.Actions)
	}
	_ = a.SetComplexity(ParseComplexity(string(p.Complexity)))
	arch := p.Architecture
	if strings.TrimSpace(arch) == "" {
		arch = DefaultArchitecture
	}
	_ = a.SetArchitecture(arch)
}
