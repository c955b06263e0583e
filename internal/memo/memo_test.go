package memo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/storyforge/internal/cache"
	"github.com/fyrsmithlabs/storyforge/internal/llm"
)

// MockCollaborator is a mock implementation of llm.Collaborator
type MockCollaborator struct {
	mock.Mock
}

func (m *MockCollaborator) Generate(ctx context.Context, prompt string, opts llm.Options) (string, error) {
	args := m.Called(ctx, prompt, opts)
	return args.String(0), args.Error(1)
}

func (m *MockCollaborator) GenerateStream(ctx context.Context, prompt string, onToken llm.TokenFunc, opts llm.Options) error {
	args := m.Called(ctx, prompt, onToken, opts)
	return args.Error(0)
}

func (m *MockCollaborator) GenerateStreamResult(ctx context.Context, prompt string, opts llm.Options) (string, error) {
	args := m.Called(ctx, prompt, opts)
	return args.String(0), args.Error(1)
}

// failingStore fails every operation.
type failingStore struct{ cache.Store }

func (failingStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("disk on fire")
}

func (failingStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("disk on fire")
}

func TestKey_Deterministic(t *testing.T) {
	opts := llm.Options{Model: "m", Temperature: 0.1}

	k1, err := Key("coder", "Generate", "prompt", opts)
	require.NoError(t, err)
	k2, err := Key("coder", "Generate", "prompt", opts)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 64)

	differs := []struct {
		name           string
		target, method string
		args           []any
	}{
		{"target", "architect", "Generate", []any{"prompt", opts}},
		{"method", "coder", "GenerateStreamResult", []any{"prompt", opts}},
		{"prompt", "coder", "Generate", []any{"other", opts}},
		{"options", "coder", "Generate", []any{"prompt", llm.Options{Model: "m", Temperature: 0}}},
	}
	for _, tt := range differs {
		t.Run(tt.name, func(t *testing.T) {
			k, err := Key(tt.target, tt.method, tt.args...)
			require.NoError(t, err)
			assert.NotEqual(t, k1, k)
		})
	}
}

func TestKey_MapArgumentOrderIrrelevant(t *testing.T) {
	a, err := Key("t", "m", map[string]int{"a": 1, "b": 2})
	require.NoError(t, err)
	b, err := Key("t", "m", map[string]int{"b": 2, "a": 1})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestKey_UnencodableArgument(t *testing.T) {
	_, err := Key("t", "m", make(chan int))
	assert.Error(t, err)
}

func TestCachingCollaborator_CallsThroughOnce(t *testing.T) {
	ctx := context.Background()
	next := new(MockCollaborator)
	opts := llm.Options{Model: "qwen", Temperature: 0}
	next.On("Generate", mock.Anything, "write Patient.php", opts).Return("```php\n<?php\n```", nil).Once()

	c := NewCachingCollaborator(next, "coder", New(cache.NewMemoryStore(), time.Hour, nil))

	first, err := c.Generate(ctx, "write Patient.php", opts)
	require.NoError(t, err)
	second, err := c.Generate(ctx, "write Patient.php", opts)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	next.AssertNumberOfCalls(t, "Generate", 1)
}

func TestCachingCollaborator_EmptyResultNotCached(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	next := new(MockCollaborator)
	next.On("GenerateStreamResult", mock.Anything, "analyze", mock.Anything).Return("", nil).Once()
	next.On("GenerateStreamResult", mock.Anything, "analyze", mock.Anything).Return(`{"requirements":["a"]}`, nil).Once()

	c := NewCachingCollaborator(next, "architect", New(store, time.Hour, nil))

	out, err := c.GenerateStreamResult(ctx, "analyze", llm.Options{})
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, 0, store.Len())

	out, err = c.GenerateStreamResult(ctx, "analyze", llm.Options{})
	require.NoError(t, err)
	assert.Equal(t, `{"requirements":["a"]}`, out)
	assert.Equal(t, 1, store.Len())
	next.AssertNumberOfCalls(t, "GenerateStreamResult", 2)
}

func TestCachingCollaborator_BlankResultNotCached(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	next := new(MockCollaborator)
	next.On("GenerateStreamResult", mock.Anything, "analyze", mock.Anything).Return("\n", nil).Once()
	next.On("GenerateStreamResult", mock.Anything, "analyze", mock.Anything).Return(" \t\n ", nil).Once()
	next.On("GenerateStreamResult", mock.Anything, "analyze", mock.Anything).Return(`{"requirements":["a"]}`, nil).Once()

	c := NewCachingCollaborator(next, "architect", New(store, time.Hour, nil))

	for _, blank := range []string{"\n", " \t\n "} {
		out, err := c.GenerateStreamResult(ctx, "analyze", llm.Options{})
		require.NoError(t, err)
		assert.Equal(t, blank, out)
		assert.Equal(t, 0, store.Len(), "blank reply %q must not be cached", blank)
	}

	out, err := c.GenerateStreamResult(ctx, "analyze", llm.Options{})
	require.NoError(t, err)
	assert.Equal(t, `{"requirements":["a"]}`, out)
	assert.Equal(t, 1, store.Len())
	next.AssertNumberOfCalls(t, "GenerateStreamResult", 3)
}

func TestCachingCollaborator_ErrorsNotCached(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	next := new(MockCollaborator)
	next.On("Generate", mock.Anything, "p", mock.Anything).Return("", errors.New("timeout")).Once()

	c := NewCachingCollaborator(next, "coder", New(store, time.Hour, nil))
	_, err := c.Generate(ctx, "p", llm.Options{})
	require.Error(t, err)
	assert.Equal(t, 0, store.Len())
}

func TestCachingCollaborator_StreamPassesThrough(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	next := new(MockCollaborator)
	next.On("GenerateStream", mock.Anything, "p", mock.Anything, mock.Anything).Return(nil).Twice()

	c := NewCachingCollaborator(next, "coder", New(store, time.Hour, nil))
	noop := func(string) error { return nil }
	require.NoError(t, c.GenerateStream(ctx, "p", noop, llm.Options{}))
	require.NoError(t, c.GenerateStream(ctx, "p", noop, llm.Options{}))

	next.AssertNumberOfCalls(t, "GenerateStream", 2)
	assert.Equal(t, 0, store.Len())
}

func TestCachingCollaborator_IdentitySeparatesTargets(t *testing.T) {
	ctx := context.Background()
	m := New(cache.NewMemoryStore(), time.Hour, nil)

	architect := new(MockCollaborator)
	architect.On("Generate", mock.Anything, "p", mock.Anything).Return("from architect", nil).Once()
	coder := new(MockCollaborator)
	coder.On("Generate", mock.Anything, "p", mock.Anything).Return("from coder", nil).Once()

	a, err := NewCachingCollaborator(architect, "architect", m).Generate(ctx, "p", llm.Options{})
	require.NoError(t, err)
	c, err := NewCachingCollaborator(coder, "coder", m).Generate(ctx, "p", llm.Options{})
	require.NoError(t, err)

	assert.Equal(t, "from architect", a)
	assert.Equal(t, "from coder", c)
}

func TestMemoizer_StoreFailureBypassesCache(t *testing.T) {
	m := New(failingStore{}, time.Minute, nil)
	calls := 0
	fn := func(context.Context) (string, error) {
		calls++
		return "value", nil
	}

	for i := 0; i < 2; i++ {
		out, err := m.Do(context.Background(), "k", fn)
		require.NoError(t, err)
		assert.Equal(t, "value", out)
	}
	assert.Equal(t, 2, calls)
}

func TestNew_DefaultTTL(t *testing.T) {
	assert.Equal(t, DefaultTTL, New(cache.NewMemoryStore(), 0, nil).TTL())
	assert.Equal(t, time.Minute, New(cache.NewMemoryStore(), time.Minute, nil).TTL())
}
