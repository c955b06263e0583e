package tool

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/storyforge/internal/logging"
)

// MockTool is a mock implementation of Tool
type MockTool struct {
	mock.Mock
	name string
}

func (m *MockTool) Name() string { return m.name }

func (m *MockTool) Execute(ctx context.Context, param string) (string, error) {
	args := m.Called(ctx, param)
	return args.String(0), args.Error(1)
}

// MockAssetWriter is a mock implementation of AssetWriter
type MockAssetWriter struct {
	mock.Mock
}

func (m *MockAssetWriter) WriteAsset(ctx context.Context, taskID, name string, data []byte) (string, error) {
	args := m.Called(ctx, taskID, name, data)
	return args.String(0), args.Error(1)
}

func TestRegistry_CaseInsensitiveLookup(t *testing.T) {
	sd := &MockTool{name: "Stable_Diffusion"}
	r, err := NewRegistry(sd)
	require.NoError(t, err)

	for _, name := range []string{"stable_diffusion", "STABLE_DIFFUSION", " Stable_Diffusion "} {
		got, ok := r.Lookup(name)
		assert.True(t, ok, name)
		assert.Same(t, sd, got)
	}
	_, ok := r.Lookup("dall_e")
	assert.False(t, ok)
	assert.Equal(t, []string{"stable_diffusion"}, r.Names())
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_RejectsDuplicatesAndEmptyNames(t *testing.T) {
	_, err := NewRegistry(&MockTool{name: "a"}, &MockTool{name: "A"})
	assert.Error(t, err)

	_, err = NewRegistry(&MockTool{name: " "})
	assert.Error(t, err)
}

func TestRegistry_Execute(t *testing.T) {
	m := &MockTool{name: "echo"}
	m.On("Execute", mock.Anything, "hi").Return("hi back", nil)
	r, err := NewRegistry(m)
	require.NoError(t, err)

	out, err := r.Execute(context.Background(), "ECHO", "hi")
	require.NoError(t, err)
	assert.Equal(t, "hi back", out)

	_, err = r.Execute(context.Background(), "missing", "x")
	assert.ErrorIs(t, err, ErrUnknownTool)
	m.AssertExpectations(t)
}

func TestRegistry_NilIsEmpty(t *testing.T) {
	var r *Registry
	_, ok := r.Lookup("x")
	assert.False(t, ok)
	assert.Empty(t, r.Names())
	assert.Zero(t, r.Len())
}

func TestStableDiffusion_Execute(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}
	var got txt2imgRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(txt2imgResponse{Images: []string{base64.StdEncoding.EncodeToString(png)}})
	}))
	defer srv.Close()

	assets := new(MockAssetWriter)
	assets.On("WriteAsset", mock.Anything, "task-1", "output_1700000000.png", png).
		Return("/out/task-1/assets/output_1700000000.png", nil)

	sd := NewStableDiffusion(StableDiffusionConfig{URL: srv.URL}, assets, nil)
	sd.now = func() time.Time { return time.Unix(1700000000, 0) }

	ctx := logging.WithTaskID(context.Background(), "task-1")
	out, err := sd.Execute(ctx, "a friendly doctor")
	require.NoError(t, err)
	assert.Equal(t, "image generated: /out/task-1/assets/output_1700000000.png", out)
	assert.Equal(t, txt2imgRequest{Prompt: "a friendly doctor", Steps: 20, Width: 512, Height: 512}, got)
	assets.AssertExpectations(t)
}

func TestStableDiffusion_NoImages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"images":[]}`))
	}))
	defer srv.Close()

	assets := new(MockAssetWriter)
	sd := NewStableDiffusion(StableDiffusionConfig{URL: srv.URL}, assets, nil)

	out, err := sd.Execute(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "image generation failed", out)
	assets.AssertNotCalled(t, "WriteAsset", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStableDiffusion_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"images":[""]}`))
	}))
	defer srv.Close()

	sd := NewStableDiffusion(StableDiffusionConfig{URL: srv.URL}, new(MockAssetWriter), nil)
	sd.backoff = time.Millisecond

	out, err := sd.Execute(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "image generation failed", out)
	assert.Equal(t, int32(2), calls.Load())
}

func TestStableDiffusion_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad prompt", http.StatusBadRequest)
	}))
	defer srv.Close()

	sd := NewStableDiffusion(StableDiffusionConfig{URL: srv.URL}, new(MockAssetWriter), nil)
	sd.backoff = time.Millisecond

	_, err := sd.Execute(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Equal(t, int32(1), calls.Load())
}
