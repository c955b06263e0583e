package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/storyforge/internal/cache"
	"github.com/fyrsmithlabs/storyforge/internal/llm/llmtest"
	"github.com/fyrsmithlabs/storyforge/internal/memo"
	"github.com/fyrsmithlabs/storyforge/internal/recovery"
	"github.com/fyrsmithlabs/storyforge/internal/retry"
	"github.com/fyrsmithlabs/storyforge/internal/task"
)

func noSleep(context.Context, time.Duration) error { return nil }

func newInvoker() *retry.Invoker {
	return retry.NewInvoker(3, time.Second, nil).WithSleep(noSleep)
}

const analysisJSON = "```json\n" + `{
  "requirements": [{"name": "View patient records"}, {"beschreibung": "no name"}],
  "entities": [{"name": "Patient", "properties": {"id": {"type": "int"}}}],
  "actions": ["listPatients"],
  "complexity": "medium",
  "architecture": "layered"
}` + "\n```"

func TestArchitect_Analyze(t *testing.T) {
	llm := llmtest.NewScripted().On("User Story:", analysisJSON)
	a := NewArchitect(llm, newInvoker(), ArchitectConfig{}, nil)

	analysis, err := a.Analyze(context.Background(), "dashboard with patient records")
	require.NoError(t, err)

	v := analysis.View()
	assert.Equal(t, []string{"View patient records", "Unnamed"}, v.Requirements)
	assert.Equal(t, []string{"Patient"}, v.Entities)
	assert.Equal(t, []string{"listPatients"}, v.Actions)
	assert.Equal(t, task.ComplexityMedium, v.Complexity)
	assert.Equal(t, "layered", v.Architecture)
	assert.Equal(t, "dashboard with patient records", analysis.Story())

	calls := llm.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, DefaultAnalysisModel, calls[0].Opts.Model)
	assert.InDelta(t, 0.1, calls[0].Opts.Temperature, 1e-9)
	assert.Contains(t, calls[0].Prompt, "dashboard with patient records")
}

func TestArchitect_AnalyzeRetriesPastCachedBlank(t *testing.T) {
	scripted := llmtest.NewScripted().On("User Story:", "\n", analysisJSON)
	store := cache.NewMemoryStore()
	cached := memo.NewCachingCollaborator(scripted, "architect", memo.New(store, time.Hour, nil))
	a := NewArchitect(cached, newInvoker(), ArchitectConfig{}, nil)

	analysis, err := a.Analyze(context.Background(), "dashboard with patient records")
	require.NoError(t, err)
	assert.Equal(t, task.ComplexityMedium, analysis.Complexity())
	assert.Len(t, scripted.Calls(), 2, "the blank reply is retried against the collaborator")
	assert.Equal(t, 1, store.Len())
}

func TestArchitect_AnalyzeDefaultsUnknown(t *testing.T) {
	llm := llmtest.NewScripted().On("User Story:", `{"complexity": "galactic"}`)
	a := NewArchitect(llm, newInvoker(), ArchitectConfig{}, nil)

	analysis, err := a.Analyze(context.Background(), "story")
	require.NoError(t, err)
	assert.Equal(t, task.ComplexityUnknown, analysis.Complexity())
	assert.Equal(t, task.DefaultArchitecture, analysis.Architecture())
	assert.Empty(t, analysis.Requirements())
}

func TestArchitect_AnalyzeRetriesEmpty(t *testing.T) {
	llm := llmtest.NewScripted().On("User Story:", "", "  ", `{"complexity":"low"}`)
	a := NewArchitect(llm, newInvoker(), ArchitectConfig{}, nil)

	analysis, err := a.Analyze(context.Background(), "story")
	require.NoError(t, err)
	assert.Equal(t, task.ComplexityLow, analysis.Complexity())
	assert.Equal(t, 3, llm.CallsMatching("User Story:"))
}

func TestArchitect_AnalyzeExhausted(t *testing.T) {
	llm := llmtest.NewScripted().On("User Story:", "")
	a := NewArchitect(llm, newInvoker(), ArchitectConfig{}, nil)

	_, err := a.Analyze(context.Background(), "story")
	require.ErrorIs(t, err, retry.ErrExhaustedRetries)
	assert.Equal(t, 4, llm.CallsMatching("User Story:"))
}

func TestArchitect_AnalyzeMalformed(t *testing.T) {
	llm := llmtest.NewScripted().On("User Story:", "I cannot help with that")
	a := NewArchitect(llm, newInvoker(), ArchitectConfig{}, nil)

	_, err := a.Analyze(context.Background(), "story")
	require.ErrorIs(t, err, recovery.ErrMalformedResponse)
}

func TestArchitect_Plan(t *testing.T) {
	llm := llmtest.NewScripted().
		On("plan the files", `{"files":[{"name":"Patient.php","purpose":"entity"},{"purpose":"no name"},"Dashboard.php"]}`)
	a := NewArchitect(llm, newInvoker(), ArchitectConfig{PlanningModel: "planner"}, nil)

	analysis := task.NewAnalysis("story")
	require.NoError(t, analysis.SetEntities([]string{"Patient"}))

	plan, err := a.Plan(context.Background(), analysis)
	require.NoError(t, err)
	assert.Equal(t, []string{"Patient.php", "Unknown.php", "Dashboard.php"}, plan.Files)
	assert.Equal(t, []string{"Patient"}, plan.Entities)
	assert.Equal(t, "planner", llm.Calls()[0].Opts.Model)
	assert.Contains(t, llm.Calls()[0].Prompt, `"Patient"`)
}

func TestArchitect_PlanWithoutFiles(t *testing.T) {
	llm := llmtest.NewScripted().On("plan the files", `{"notes": "nothing to do"}`)
	a := NewArchitect(llm, newInvoker(), ArchitectConfig{}, nil)

	plan, err := a.Plan(context.Background(), task.NewAnalysis("story"))
	require.NoError(t, err)
	assert.Empty(t, plan.Files)
}

func TestArchitect_PlanFromFeedback(t *testing.T) {
	llm := llmtest.NewScripted().On("needs more details", `{
		"entities": [{"name": "Doctor"}],
		"files": [{"name": "Doctor.php"}],
		"complexity": "HIGH",
		"architecture": " hexagonal "
	}`)
	a := NewArchitect(llm, newInvoker(), ArchitectConfig{}, nil)

	u, err := a.PlanFromFeedback(context.Background(), "Which fields does a doctor have?")
	require.NoError(t, err)
	assert.Equal(t, []string{"Doctor"}, u.Entities)
	assert.Equal(t, []string{"Doctor.php"}, u.Files)
	assert.Equal(t, task.ComplexityHigh, u.Complexity)
	assert.Equal(t, "hexagonal", u.Architecture)
	assert.Contains(t, llm.Calls()[0].Prompt, "Which fields does a doctor have?")
}

func TestArchitect_PlanFromFeedbackEmpty(t *testing.T) {
	llm := llmtest.NewScripted().On("needs more details", "")
	a := NewArchitect(llm, newInvoker(), ArchitectConfig{}, nil)

	u, err := a.PlanFromFeedback(context.Background(), "?")
	require.NoError(t, err)
	assert.True(t, u.IsEmpty())
	assert.Equal(t, 1, llm.CallsMatching("needs more details"), "feedback is not retried")
}

func TestArchitect_PlanFromFeedbackTransportError(t *testing.T) {
	llm := llmtest.NewScripted().OnError("needs more details", errors.New("connection reset"))
	a := NewArchitect(llm, newInvoker(), ArchitectConfig{}, nil)

	_, err := a.PlanFromFeedback(context.Background(), "?")
	assert.Error(t, err)
}

func TestCoder_GenerateCode(t *testing.T) {
	llm := llmtest.NewScripted().On("Patient.php", "  ```php\n<?php\n```  ")
	c := NewCoder(llm, "", nil)

	prompt := BuildCoderPrompt(task.AnalysisView{Entities: []string{"Patient"}, Complexity: task.ComplexityMedium, Architecture: "layered"}, "Patient.php")
	out, err := c.GenerateCode(context.Background(), CodeRequest{
		Prompt:     prompt,
		ToolResult: "image generated: /tmp/x.png",
		ToolNames:  []string{"stable_diffusion"},
	})
	require.NoError(t, err)
	assert.Equal(t, "```php\n<?php\n```", out)

	call := llm.Calls()[0]
	assert.Equal(t, DefaultCodingModel, call.Opts.Model)
	assert.Zero(t, call.Opts.Temperature)
	assert.Contains(t, call.Prompt, "generate ONLY the file **Patient.php**")
	assert.Contains(t, call.Prompt, "Additional info: image generated: /tmp/x.png")
	assert.Contains(t, call.Prompt, `{"tool": "stable_diffusion", "param":`)
	assert.Contains(t, call.Prompt, "Complexity: medium")
}

func TestCoder_DisableTools(t *testing.T) {
	llm := llmtest.NewScripted()
	llm.Fallback = "{}"
	c := NewCoder(llm, "qwen", nil)

	_, err := c.GenerateCode(context.Background(), CodeRequest{
		Prompt:       "create a manifest",
		ToolNames:    []string{"stable_diffusion"},
		DisableTools: true,
	})
	require.NoError(t, err)
	assert.NotContains(t, llm.Calls()[0].Prompt, `"tool"`)
	assert.Equal(t, "qwen", llm.Calls()[0].Opts.Model)
}
