package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllPhases(t *testing.T) {
	phases := AllPhases()

	require.Len(t, phases, 6, "should have 6 phases")
	assert.Equal(t, PhaseStart, phases[0], "start should be first")
	assert.Equal(t, PhaseDone, phases[5], "done should be last")
}

func TestRunState_FollowsPhaseOrder(t *testing.T) {
	state := NewRunState()
	now := time.Now()

	for _, p := range AllPhases()[1:] {
		require.NoError(t, state.Transition(p, now), "transition to %s", p)
	}
	assert.Equal(t, PhaseDone, state.Phase)
	assert.Equal(t, StatusCompleted, state.Results[PhaseAnalyzing].Status)
	assert.False(t, state.Results[PhaseAnalyzing].CompletedAt.IsZero())
}

func TestRunState_CanTransition_SkipPhase(t *testing.T) {
	state := NewRunState()

	err := state.CanTransition(PhasePlanning)
	assert.Error(t, err, "should not allow skipping analysis")
	assert.Contains(t, err.Error(), "cannot transition from start to planning")
}

func TestRunState_EmptyPlanFails(t *testing.T) {
	state := NewRunState()
	now := time.Now()
	require.NoError(t, state.Transition(PhaseAnalyzing, now))
	require.NoError(t, state.Transition(PhasePlanning, now))

	assert.Error(t, state.CanTransition(PhaseDone), "planning cannot skip to done")
	assert.NoError(t, state.CanTransition(PhaseFailed))
}

func TestRunState_FailedIsTerminal(t *testing.T) {
	state := NewRunState()
	now := time.Now()
	require.NoError(t, state.Transition(PhaseAnalyzing, now))
	require.NoError(t, state.Transition(PhaseFailed, now))

	assert.Equal(t, StatusFailed, state.Results[PhaseAnalyzing].Status)
	assert.Equal(t, StatusFailed, state.Results[PhaseFailed].Status)
	err := state.CanTransition(PhasePlanning)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "terminal")
}
