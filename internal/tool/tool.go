// Package tool provides the registry of external capabilities the coder
// may invoke mid-generation, and the tools shipped with storyforge.
package tool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownTool is returned when a requested tool is not registered
var ErrUnknownTool = errors.New("unknown tool")

// Tool is a synchronous, side-effecting capability invoked by name
type Tool interface {
	// Name is the identifier the coder uses to request the tool
	Name() string
	// Execute runs the tool with a free-text parameter and returns text
	// to inject into the next prompt.
	Execute(ctx context.Context, param string) (string, error)
}

// Registry maps lowercased tool names to tools. It is read-only after
// construction and safe for concurrent use.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry registers tools. Names are matched case-insensitively and
// must be unique.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		name := strings.ToLower(strings.TrimSpace(t.Name()))
		if name == "" {
			return nil, fmt.Errorf("tool with empty name")
		}
		if _, dup := r.tools[name]; dup {
			return nil, fmt.Errorf("tool %q registered twice", name)
		}
		r.tools[name] = t
	}
	return r, nil
}

// Lookup finds a tool by case-insensitive name
func (r *Registry) Lookup(name string) (Tool, bool) {
	if r == nil {
		return nil, false
	}
	t, ok := r.tools[strings.ToLower(strings.TrimSpace(name))]
	return t, ok
}

// Names returns the registered names, sorted
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered tools
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.tools)
}

// Execute runs the named tool
func (r *Registry) Execute(ctx context.Context, name, param string) (string, error) {
	t, ok := r.Lookup(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return t.Execute(ctx, param)
}
