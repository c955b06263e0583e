// Package llmtest provides scripted collaborators for tests.
package llmtest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/fyrsmithlabs/storyforge/internal/llm"
)

// Rule answers prompts containing Match. Replies are consumed in order; the
// last reply repeats once the queue is exhausted.
type Rule struct {
	Match   string
	Replies []string
	Err     error

	served int
}

// Call records one collaborator invocation.
type Call struct {
	Method string
	Prompt string
	Opts   llm.Options
}

// Scripted is a deterministic llm.Collaborator. Rules are checked in the
// order they were added; an unmatched prompt gets Fallback.
type Scripted struct {
	mu       sync.Mutex
	rules    []*Rule
	calls    []Call
	Fallback string
}

var _ llm.Collaborator = (*Scripted)(nil)

// NewScripted returns an empty script.
func NewScripted() *Scripted {
	return &Scripted{}
}

// On appends a rule matching prompts that contain match.
func (s *Scripted) On(match string, replies ...string) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, &Rule{Match: match, Replies: replies})
	return s
}

// OnError appends a rule that fails prompts containing match.
func (s *Scripted) OnError(match string, err error) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, &Rule{Match: match, Err: err})
	return s
}

// Calls returns a copy of every recorded call.
func (s *Scripted) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallsMatching counts recorded prompts containing substr.
func (s *Scripted) CallsMatching(substr string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if strings.Contains(c.Prompt, substr) {
			n++
		}
	}
	return n
}

func (s *Scripted) reply(method, prompt string, opts llm.Options) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: method, Prompt: prompt, Opts: opts})

	for _, r := range s.rules {
		if !strings.Contains(prompt, r.Match) {
			continue
		}
		if r.Err != nil {
			return "", r.Err
		}
		if len(r.Replies) == 0 {
			return "", nil
		}
		i := r.served
		if i >= len(r.Replies) {
			i = len(r.Replies) - 1
		}
		r.served++
		return r.Replies[i], nil
	}
	return s.Fallback, nil
}

func (s *Scripted) Generate(ctx context.Context, prompt string, opts llm.Options) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.reply("Generate", prompt, opts)
}

func (s *Scripted) GenerateStream(ctx context.Context, prompt string, onToken llm.TokenFunc, opts llm.Options) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	out, err := s.reply("GenerateStream", prompt, opts)
	if err != nil {
		return err
	}
	for _, tok := range strings.SplitAfter(out, " ") {
		if tok == "" {
			continue
		}
		if err := onToken(tok); err != nil {
			return fmt.Errorf("token callback: %w", err)
		}
	}
	return nil
}

func (s *Scripted) GenerateStreamResult(ctx context.Context, prompt string, opts llm.Options) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.reply("GenerateStreamResult", prompt, opts)
}
