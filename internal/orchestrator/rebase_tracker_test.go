package orchestrator

import (
	"testing"

	"github.com/compozy/gitdeck/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebaseTracker(t *testing.T) {
	t.Run("Should start idle for unseen repositories", func(t *testing.T) {
		tracker := NewRebaseTracker()
		assert.Equal(t, domain.RebasePhaseIdle, tracker.Phase("r1"))
		assert.NoError(t, tracker.Check("r1", domain.OperationKindRebaseStart))
		assert.NoError(t, tracker.Check("r1", domain.OperationKindPush))
		assert.ErrorIs(t, tracker.Check("r1", domain.OperationKindRebaseContinue), domain.ErrInvalidStateTransition)
		assert.ErrorIs(t, tracker.Check("r1", domain.OperationKindRebaseAbort), domain.ErrInvalidStateTransition)
		assert.False(t, tracker.Observed("r1"))
	})
	t.Run("Should count a repository as observed once its state was read", func(t *testing.T) {
		tracker := NewRebaseTracker()
		_, err := tracker.Apply("r1", domain.OperationKindFetch, domain.RebaseState{}, false)
		require.NoError(t, err)
		assert.False(t, tracker.Observed("r1"), "a guess is not an observation")
		tracker.Observe("r1", domain.RebaseState{InProgress: true, Step: 2, Total: 3})
		assert.True(t, tracker.Observed("r1"))
		assert.NoError(t, tracker.Check("r1", domain.OperationKindRebaseContinue))
		tracker.Evict("r1")
		assert.False(t, tracker.Observed("r1"))
	})
	t.Run("Should keep repositories independent", func(t *testing.T) {
		tracker := NewRebaseTracker()
		_, err := tracker.Apply("r1", domain.OperationKindRebaseStart, domain.RebaseState{InProgress: true, Step: 1, Total: 3}, true)
		require.NoError(t, err)
		assert.Equal(t, domain.RebasePhaseInProgress, tracker.Phase("r1"))
		assert.Equal(t, domain.RebasePhaseIdle, tracker.Phase("r2"))
	})
	t.Run("Should finish immediately when the start leaves no rebase behind", func(t *testing.T) {
		tracker := NewRebaseTracker()
		state, err := tracker.Apply("r1", domain.OperationKindRebaseStart, domain.RebaseState{}, true)
		require.NoError(t, err)
		assert.Equal(t, domain.RebaseState{}, state)
	})
	t.Run("Should assume progress when no status was observed", func(t *testing.T) {
		tracker := NewRebaseTracker()
		state, err := tracker.Apply("r1", domain.OperationKindRebaseStart, domain.RebaseState{}, false)
		require.NoError(t, err)
		assert.Equal(t, domain.RebaseState{InProgress: true, Step: 1}, state)
	})
	t.Run("Should adopt observations from other operations", func(t *testing.T) {
		tracker := NewRebaseTracker()
		state, err := tracker.Apply("r1", domain.OperationKindRefreshStatus,
			domain.RebaseState{InProgress: true, Step: 2, Total: 4, Conflicts: []string{"x.go"}}, true)
		require.NoError(t, err)
		assert.Equal(t, []string{"x.go"}, state.Conflicts)
		assert.NoError(t, tracker.Check("r1", domain.OperationKindRebaseContinue))
		tracker.Evict("r1")
		assert.Equal(t, domain.RebasePhaseIdle, tracker.Phase("r1"))
	})
	t.Run("Should list every repository with a machine", func(t *testing.T) {
		tracker := NewRebaseTracker()
		tracker.Observe("r1", domain.RebaseState{InProgress: true})
		tracker.Observe("r2", domain.RebaseState{InProgress: true})
		assert.ElementsMatch(t, []string{"r1", "r2"}, tracker.IDs())
		tracker.Evict("r1")
		assert.Equal(t, []string{"r2"}, tracker.IDs())
		assert.Equal(t, domain.RebaseState{}, tracker.State("r1"))
	})
}
