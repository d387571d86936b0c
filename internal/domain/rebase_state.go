package domain

import (
	"fmt"
	"slices"
)

// RebasePhase is the tag of the rebase lifecycle variant.
type RebasePhase string

const (
	RebasePhaseIdle       RebasePhase = "idle"
	RebasePhaseInProgress RebasePhase = "in_progress"
	RebasePhaseConflict   RebasePhase = "conflict"
)

// RebaseState is the flattened view of the rebase lifecycle embedded in RepoStatus.
// Step and Total are zero when unknown.
type RebaseState struct {
	InProgress bool     `json:"in_progress"`
	Step       int      `json:"step,omitempty"`
	Total      int      `json:"total,omitempty"`
	Conflicts  []string `json:"conflicts,omitempty"`
}

// Phase derives the lifecycle tag from the flattened fields.
func (r RebaseState) Phase() RebasePhase {
	switch {
	case !r.InProgress:
		return RebasePhaseIdle
	case len(r.Conflicts) > 0:
		return RebasePhaseConflict
	default:
		return RebasePhaseInProgress
	}
}

// Clone returns a copy that does not share the conflicts slice.
func (r RebaseState) Clone() RebaseState {
	r.Conflicts = slices.Clone(r.Conflicts)
	return r
}

// Validate checks the structural invariants of the state.
func (r RebaseState) Validate() error {
	if r.Step < 0 || r.Total < 0 {
		return fmt.Errorf("negative rebase progress %d/%d", r.Step, r.Total)
	}
	if r.Total > 0 && r.Step > r.Total {
		return fmt.Errorf("rebase step %d exceeds total %d", r.Step, r.Total)
	}
	if !r.InProgress && (len(r.Conflicts) > 0 || r.Step != 0 || r.Total != 0) {
		return fmt.Errorf("idle rebase state carries progress or conflicts")
	}
	return nil
}

// RebaseMachine models the rebase lifecycle as Idle, InProgress(step, total)
// and Conflict(conflicts). Requested transitions (Start, Continue, Abort) are
// validated; observations reported by the adapter are always applied.
type RebaseMachine struct {
	phase     RebasePhase
	step      int
	total     int
	conflicts []string
}

// NewRebaseMachine returns a machine in the Idle state.
func NewRebaseMachine() *RebaseMachine {
	return &RebaseMachine{phase: RebasePhaseIdle}
}

// Phase returns the current lifecycle tag.
func (m *RebaseMachine) Phase() RebasePhase {
	return m.phase
}

// State returns the flattened view of the machine.
func (m *RebaseMachine) State() RebaseState {
	if m.phase == RebasePhaseIdle {
		return RebaseState{}
	}
	return RebaseState{
		InProgress: true,
		Step:       m.step,
		Total:      m.total,
		Conflicts:  slices.Clone(m.conflicts),
	}
}

// CanStart reports whether a rebase may be started.
func (m *RebaseMachine) CanStart() error {
	if m.phase != RebasePhaseIdle {
		return m.invalid("start")
	}
	return nil
}

// CanContinue reports whether a paused rebase may be continued. A rebase in
// progress between operations is stopped on a step, with or without conflicts.
func (m *RebaseMachine) CanContinue() error {
	if m.phase == RebasePhaseIdle {
		return m.invalid("continue")
	}
	return nil
}

// CanAbort reports whether the active rebase may be aborted.
func (m *RebaseMachine) CanAbort() error {
	if m.phase == RebasePhaseIdle {
		return m.invalid("abort")
	}
	return nil
}

// Start moves Idle to InProgress. A zero step defaults to 1.
func (m *RebaseMachine) Start(step, total int) error {
	if err := m.CanStart(); err != nil {
		return err
	}
	if step <= 0 {
		step = 1
	}
	m.setInProgress(step, total)
	return nil
}

// Continue applies the outcome of a successful continue request. The step
// advances to the observed one, or by one when the adapter reported none.
// Reported conflicts keep the machine in Conflict with the set replaced, and
// a finished rebase returns it to Idle.
func (m *RebaseMachine) Continue(observed RebaseState) error {
	if err := m.CanContinue(); err != nil {
		return err
	}
	if !observed.InProgress {
		m.reset()
		return nil
	}
	step := observed.Step
	if step <= 0 {
		step = m.step + 1
	}
	total := observed.Total
	if total <= 0 {
		total = m.total
	}
	if len(observed.Conflicts) > 0 {
		m.setConflict(step, total, observed.Conflicts)
		return nil
	}
	m.setInProgress(step, total)
	return nil
}

// Abort returns an active rebase to Idle.
func (m *RebaseMachine) Abort() error {
	if err := m.CanAbort(); err != nil {
		return err
	}
	m.reset()
	return nil
}

// Observe reconciles the machine with the state reported by the adapter.
// It never fails: a rebase started or finished outside the engine is adopted.
// A Conflict whose paths were resolved on the same step stays in Conflict
// with an empty set until continue is requested.
func (m *RebaseMachine) Observe(observed RebaseState) {
	switch observed.Phase() {
	case RebasePhaseIdle:
		m.reset()
	case RebasePhaseConflict:
		step, total := observed.Step, observed.Total
		if step <= 0 {
			step = m.step
		}
		if total <= 0 {
			total = m.total
		}
		m.setConflict(step, total, observed.Conflicts)
	default:
		step, total := observed.Step, observed.Total
		if m.phase == RebasePhaseConflict && (step <= 0 || step == m.step) {
			// conflicts resolved on the stopped step; still waiting for continue
			m.conflicts = nil
			if total > 0 {
				m.step, m.total = clampProgress(m.step, total)
			}
			return
		}
		if step <= 0 {
			step = max(m.step, 1)
		}
		if total <= 0 {
			total = m.total
		}
		m.setInProgress(step, total)
	}
}

func (m *RebaseMachine) setInProgress(step, total int) {
	m.phase = RebasePhaseInProgress
	m.step, m.total = clampProgress(step, total)
	m.conflicts = nil
}

func (m *RebaseMachine) setConflict(step, total int, conflicts []string) {
	m.phase = RebasePhaseConflict
	m.step, m.total = clampProgress(step, total)
	m.conflicts = slices.Clone(conflicts)
}

func (m *RebaseMachine) reset() {
	m.phase = RebasePhaseIdle
	m.step, m.total = 0, 0
	m.conflicts = nil
}

func (m *RebaseMachine) invalid(action string) error {
	return fmt.Errorf("%w: cannot %s rebase while %s", ErrInvalidStateTransition, action, m.phase)
}

func clampProgress(step, total int) (int, int) {
	if step < 0 {
		step = 0
	}
	if total < 0 {
		total = 0
	}
	if total > 0 && step > total {
		step = total
	}
	return step, total
}
