package memo

import (
	"context"

	"github.com/fyrsmithlabs/storyforge/internal/llm"
)

// CachingCollaborator memoizes Generate and GenerateStreamResult of the
// wrapped collaborator. GenerateStream returns nothing worth caching and
// always calls through.
type CachingCollaborator struct {
	next     llm.Collaborator
	identity string
	memo     *Memoizer
}

var _ llm.Collaborator = (*CachingCollaborator)(nil)

// NewCachingCollaborator wraps next. identity distinguishes wrapped targets
// sharing one store, e.g. "architect" and "coder".
func NewCachingCollaborator(next llm.Collaborator, identity string, m *Memoizer) *CachingCollaborator {
	return &CachingCollaborator{next: next, identity: identity, memo: m}
}

func (c *CachingCollaborator) Generate(ctx context.Context, prompt string, opts llm.Options) (string, error) {
	key, err := Key(c.identity, "Generate", prompt, opts)
	if err != nil {
		return "", err
	}
	return c.memo.Do(ctx, key, func(ctx context.Context) (string, error) {
		return c.next.Generate(ctx, prompt, opts)
	})
}

func (c *CachingCollaborator) GenerateStream(ctx context.Context, prompt string, onToken llm.TokenFunc, opts llm.Options) error {
	return c.next.GenerateStream(ctx, prompt, onToken, opts)
}

func (c *CachingCollaborator) GenerateStreamResult(ctx context.Context, prompt string, opts llm.Options) (string, error) {
	key, err := Key(c.identity, "GenerateStreamResult", prompt, opts)
	if err != nil {
		return "", err
	}
	return c.memo.Do(ctx, key, func(ctx context.Context) (string, error) {
		return c.next.GenerateStreamResult(ctx, prompt, opts)
	})
}
