package monitor

import (
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/storyforge/internal/orchestrator"
	"github.com/fyrsmithlabs/storyforge/internal/task"
)

const story = "As a doctor I want a dashboard with patient records"

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out, cmd
}

func TestNewModel(t *testing.T) {
	model := NewModel(story, nil)
	assert.Equal(t, story, model.story)
	assert.False(t, model.quitting)
	assert.False(t, model.Done())
	assert.Empty(t, model.files)
}

func TestModel_Init(t *testing.T) {
	model := NewModel(story, nil)
	assert.NotNil(t, model.Init())
}

func TestModel_Update_QuitCancelsRun(t *testing.T) {
	var cancelled bool
	model := NewModel(story, func() { cancelled = true })

	keyMsg := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}}
	m, cmd := update(t, model, keyMsg)

	assert.True(t, m.Quitting())
	assert.True(t, cancelled)
	assert.NotNil(t, cmd)
	assert.Empty(t, m.View())
}

func TestModel_Update_QuitAfterDoneKeepsRun(t *testing.T) {
	var cancelled bool
	model := NewModel(story, func() { cancelled = true })
	model, _ = update(t, model, DoneMsg{Result: task.Result{Success: true}})

	_, cmd := update(t, model, tea.KeyMsg{Type: tea.KeyCtrlC})
	assert.NotNil(t, cmd)
	assert.False(t, cancelled)
}

func TestModel_Update_TickMsg(t *testing.T) {
	model := NewModel(story, nil)

	m, cmd := update(t, model, tickMsg(model.started.Add(3*time.Second)))
	assert.Equal(t, 3*time.Second, m.elapsed)
	assert.NotNil(t, cmd, "next tick scheduled")

	m.done = true
	_, cmd = update(t, m, tickMsg(time.Now()))
	assert.Nil(t, cmd, "clock stops once the run is done")
}

func TestModel_Update_ProgressMsg(t *testing.T) {
	model := NewModel(story, nil)

	reports := []orchestrator.PhaseProgress{
		{TaskID: "abc", Phase: orchestrator.PhaseAnalyzing, Status: orchestrator.StatusInProgress},
		{TaskID: "abc", Phase: orchestrator.PhasePlanning, Status: orchestrator.StatusInProgress},
		{TaskID: "abc", Phase: orchestrator.PhaseGeneratingFiles, Status: orchestrator.StatusInProgress, Planned: 2},
		{TaskID: "abc", Phase: orchestrator.PhaseGeneratingFiles, Status: orchestrator.StatusCompleted,
			File: "Patient.php", Outcome: task.OutcomeCodeProduced, Rounds: 2},
	}
	for _, p := range reports {
		var cmd tea.Cmd
		model, cmd = update(t, model, ProgressMsg(p))
		assert.Nil(t, cmd)
	}

	assert.Equal(t, "abc", model.taskID)
	assert.Equal(t, orchestrator.PhaseGeneratingFiles, model.phase)
	assert.Equal(t, orchestrator.StatusCompleted, model.status[orchestrator.PhaseAnalyzing])
	assert.Equal(t, orchestrator.StatusCompleted, model.status[orchestrator.PhasePlanning])
	assert.Equal(t, orchestrator.StatusInProgress, model.status[orchestrator.PhaseGeneratingFiles],
		"file reports do not end the phase")
	assert.Equal(t, 2, model.planned)
	require.Len(t, model.files, 1)
	assert.Equal(t, []float64{2}, model.rounds)
}

func TestModel_Update_DoneMsg(t *testing.T) {
	model := NewModel(story, nil)

	m, cmd := update(t, model, DoneMsg{Result: task.Result{TaskID: "abc", Success: true}})
	assert.True(t, m.Done())
	require.NotNil(t, m.result)
	assert.True(t, m.result.Success)
	assert.NotNil(t, cmd, "program quits")
	assert.Contains(t, m.View(), "SUCCESS")
}

func TestModel_View_Running(t *testing.T) {
	model := NewModel(story, nil)
	model, _ = update(t, model, ProgressMsg{TaskID: "abc", Phase: orchestrator.PhaseGeneratingFiles,
		Status: orchestrator.StatusInProgress, Planned: 2})
	model, _ = update(t, model, ProgressMsg{TaskID: "abc", Phase: orchestrator.PhaseGeneratingFiles,
		Status: orchestrator.StatusCompleted, File: "Patient.php", Outcome: task.OutcomeCodeProduced, Rounds: 1})
	model, _ = update(t, model, ProgressMsg{TaskID: "abc", Phase: orchestrator.PhaseGeneratingFiles,
		Status: orchestrator.StatusCompleted, File: "Search.php", Outcome: task.OutcomeUnknownTool, Rounds: 1})

	view := model.View()

	assert.Contains(t, view, "storyforge")
	assert.Contains(t, view, "RUNNING")
	assert.Contains(t, view, "dashboard with patient")
	assert.Contains(t, view, "abc")
	assert.Contains(t, view, "Phases")
	assert.Contains(t, view, "generating_files")
	assert.Contains(t, view, "2/2")
	assert.Contains(t, view, "Patient.php")
	assert.Contains(t, view, "code-produced, 1 round")
	assert.Contains(t, view, "Search.php")
	assert.Contains(t, view, "cancel run")
}

func TestModel_View_Aborted(t *testing.T) {
	model := NewModel(story, nil)
	model, _ = update(t, model, ProgressMsg{TaskID: "abc", Phase: orchestrator.PhaseFailed,
		Status: orchestrator.StatusFailed, Message: "analyze story: retries exhausted"})
	model, _ = update(t, model, DoneMsg{Err: errors.New("analyze story: retries exhausted")})

	view := model.View()
	assert.Contains(t, view, "ABORTED")
	assert.Contains(t, view, "failed")
	assert.Contains(t, view, "retries exhausted")
	assert.Contains(t, view, "[q]")
}

func TestModel_View_NoFiles(t *testing.T) {
	model := NewModel(story, nil)

	view := model.View()
	assert.Contains(t, view, "no data")
	assert.Contains(t, view, "0/0")
}
