package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestRebaseMachine_Lifecycle(t *testing.T) {
	t.Run("Should walk start, conflict, continue and completion", func(t *testing.T) {
		m := NewRebaseMachine()
		require.NoError(t, m.Start(1, 3))
		assert.Equal(t, RebaseState{InProgress: true, Step: 1, Total: 3}, m.State())

		m.Observe(RebaseState{InProgress: true, Step: 2, Total: 3, Conflicts: []string{"a.txt"}})
		assert.Equal(t, RebasePhaseConflict, m.Phase())
		assert.Equal(t, []string{"a.txt"}, m.State().Conflicts)

		require.NoError(t, m.Continue(RebaseState{InProgress: true, Step: 2, Total: 3}))
		assert.Equal(t, RebaseState{InProgress: true, Step: 2, Total: 3}, m.State())

		m.Observe(RebaseState{})
		assert.Equal(t, RebasePhaseIdle, m.Phase())
		assert.Equal(t, RebaseState{}, m.State())
	})
	t.Run("Should replace conflicts when continue reports new ones", func(t *testing.T) {
		m := NewRebaseMachine()
		require.NoError(t, m.Start(1, 2))
		m.Observe(RebaseState{InProgress: true, Step: 1, Total: 2, Conflicts: []string{"a.txt"}})
		require.NoError(t, m.Continue(RebaseState{InProgress: true, Step: 2, Total: 2, Conflicts: []string{"b.txt"}}))
		assert.Equal(t, RebasePhaseConflict, m.Phase())
		assert.Equal(t, []string{"b.txt"}, m.State().Conflicts)
	})
	t.Run("Should increment step when continue reports no progress", func(t *testing.T) {
		m := NewRebaseMachine()
		require.NoError(t, m.Start(1, 3))
		m.Observe(RebaseState{InProgress: true, Conflicts: []string{"a.txt"}})
		require.NoError(t, m.Continue(RebaseState{InProgress: true}))
		assert.Equal(t, RebaseState{InProgress: true, Step: 2, Total: 3}, m.State())
	})
	t.Run("Should return to idle when continue finishes the rebase", func(t *testing.T) {
		m := NewRebaseMachine()
		require.NoError(t, m.Start(3, 3))
		m.Observe(RebaseState{InProgress: true, Step: 3, Total: 3, Conflicts: []string{"a.txt"}})
		require.NoError(t, m.Continue(RebaseState{}))
		assert.Equal(t, RebasePhaseIdle, m.Phase())
	})
	t.Run("Should continue a rebase paused without conflicts", func(t *testing.T) {
		m := NewRebaseMachine()
		m.Observe(RebaseState{InProgress: true, Step: 2, Total: 3})
		require.NoError(t, m.Continue(RebaseState{InProgress: true, Step: 3, Total: 3}))
		assert.Equal(t, RebaseState{InProgress: true, Step: 3, Total: 3}, m.State())
		require.NoError(t, m.Continue(RebaseState{}))
		assert.Equal(t, RebasePhaseIdle, m.Phase())
	})
	t.Run("Should abort from in progress and from conflict", func(t *testing.T) {
		m := NewRebaseMachine()
		require.NoError(t, m.Start(1, 2))
		require.NoError(t, m.Abort())
		assert.Equal(t, RebasePhaseIdle, m.Phase())

		require.NoError(t, m.Start(1, 2))
		m.Observe(RebaseState{InProgress: true, Step: 1, Total: 2, Conflicts: []string{"x"}})
		require.NoError(t, m.Abort())
		assert.Equal(t, RebasePhaseIdle, m.Phase())
	})
}

func TestRebaseMachine_InvalidTransitions(t *testing.T) {
	t.Run("Should reject continue while idle without side effects", func(t *testing.T) {
		m := NewRebaseMachine()
		err := m.Continue(RebaseState{InProgress: true, Step: 1, Total: 1})
		assert.ErrorIs(t, err, ErrInvalidStateTransition)
		assert.Equal(t, RebasePhaseIdle, m.Phase())
	})
	t.Run("Should reject abort while idle", func(t *testing.T) {
		assert.ErrorIs(t, NewRebaseMachine().Abort(), ErrInvalidStateTransition)
	})
	t.Run("Should reject start while a rebase is active", func(t *testing.T) {
		m := NewRebaseMachine()
		require.NoError(t, m.Start(1, 2))
		assert.ErrorIs(t, m.Start(1, 2), ErrInvalidStateTransition)
		assert.Equal(t, RebaseState{InProgress: true, Step: 1, Total: 2}, m.State())
	})
}

func TestRebaseMachine_Observe(t *testing.T) {
	t.Run("Should adopt a rebase started outside the engine", func(t *testing.T) {
		m := NewRebaseMachine()
		m.Observe(RebaseState{InProgress: true, Step: 4, Total: 7})
		assert.Equal(t, RebaseState{InProgress: true, Step: 4, Total: 7}, m.State())
	})
	t.Run("Should wait for continue once conflicts are resolved", func(t *testing.T) {
		m := NewRebaseMachine()
		require.NoError(t, m.Start(1, 3))
		m.Observe(RebaseState{InProgress: true, Step: 2, Total: 3, Conflicts: []string{"a.txt"}})
		m.Observe(RebaseState{InProgress: true, Step: 2, Total: 3})
		assert.Equal(t, RebasePhaseConflict, m.Phase())
		assert.Empty(t, m.State().Conflicts)
		require.NoError(t, m.Continue(RebaseState{InProgress: true, Step: 3, Total: 3}))
		assert.Equal(t, RebaseState{InProgress: true, Step: 3, Total: 3}, m.State())
	})
	t.Run("Should move on when a later step is observed", func(t *testing.T) {
		m := NewRebaseMachine()
		m.Observe(RebaseState{InProgress: true, Step: 1, Total: 3, Conflicts: []string{"a.txt"}})
		m.Observe(RebaseState{InProgress: true, Step: 2, Total: 3})
		assert.Equal(t, RebasePhaseInProgress, m.Phase())
	})
	t.Run("Should clamp a step beyond the total", func(t *testing.T) {
		m := NewRebaseMachine()
		m.Observe(RebaseState{InProgress: true, Step: 9, Total: 3})
		assert.Equal(t, 3, m.State().Step)
	})
}

func TestRebaseState_Validate(t *testing.T) {
	t.Run("Should reject conflicts outside a rebase", func(t *testing.T) {
		assert.Error(t, RebaseState{Conflicts: []string{"a"}}.Validate())
	})
	t.Run("Should reject step greater than total", func(t *testing.T) {
		assert.Error(t, RebaseState{InProgress: true, Step: 4, Total: 3}.Validate())
	})
	t.Run("Should accept unknown progress", func(t *testing.T) {
		assert.NoError(t, RebaseState{InProgress: true}.Validate())
	})
}

func drawRebaseState(t *rapid.T, label string) RebaseState {
	if !rapid.Bool().Draw(t, label+"_active") {
		return RebaseState{}
	}
	total := rapid.IntRange(-1, 6).Draw(t, label+"_total")
	step := rapid.IntRange(-1, 8).Draw(t, label+"_step")
	conflicts := rapid.SliceOfN(rapid.SampledFrom([]string{"a.txt", "b.go", "c.md"}), 0, 3).Draw(t, label+"_conflicts")
	return RebaseState{InProgress: true, Step: step, Total: total, Conflicts: conflicts}
}

func TestRebaseMachine_Invariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := NewRebaseMachine()
		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			before := m.State()
			var err error
			switch rapid.IntRange(0, 3).Draw(t, "action") {
			case 0:
				err = m.Start(rapid.IntRange(0, 5).Draw(t, "step"), rapid.IntRange(0, 5).Draw(t, "total"))
			case 1:
				err = m.Continue(drawRebaseState(t, "continue"))
			case 2:
				err = m.Abort()
			default:
				m.Observe(drawRebaseState(t, "observe"))
			}
			if err != nil {
				if !assert.ErrorIs(t, err, ErrInvalidStateTransition) {
					t.Fatalf("unexpected error: %v", err)
				}
				if !assert.Equal(t, before, m.State()) {
					t.Fatalf("rejected transition mutated state")
				}
			}
			state := m.State()
			if vErr := state.Validate(); vErr != nil {
				t.Fatalf("invariant violated: %v (%+v)", vErr, state)
			}
			if len(state.Conflicts) > 0 && m.Phase() != RebasePhaseConflict {
				t.Fatalf("conflicts %v inconsistent with phase %s", state.Conflicts, m.Phase())
			}
		}
	})
}
