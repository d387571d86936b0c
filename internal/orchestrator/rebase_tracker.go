package orchestrator

import (
	"sync"

	"github.com/compozy/gitdeck/internal/domain"
)

// RebaseTracker keeps one rebase state machine per repository, created lazily
// in the Idle state. Machines are mutated only from their repository's queue.
// A machine counts as observed once it has been reconciled with the working
// copy; until then its Idle state is an assumption.
type RebaseTracker struct {
	mu       sync.Mutex
	machines map[string]*domain.RebaseMachine
	observed map[string]bool
}

// NewRebaseTracker creates an empty tracker.
func NewRebaseTracker() *RebaseTracker {
	return &RebaseTracker{
		machines: make(map[string]*domain.RebaseMachine),
		observed: make(map[string]bool),
	}
}

// Observed reports whether repoID has been reconciled with its working copy.
func (t *RebaseTracker) Observed(repoID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.observed[repoID]
}

// IDs returns every repository with a machine.
func (t *RebaseTracker) IDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.machines))
	for id := range t.machines {
		ids = append(ids, id)
	}
	return ids
}

func (t *RebaseTracker) machine(repoID string) *domain.RebaseMachine {
	m, ok := t.machines[repoID]
	if !ok {
		m = domain.NewRebaseMachine()
		t.machines[repoID] = m
	}
	return m
}

// State returns the flattened rebase state of repoID.
func (t *RebaseTracker) State(repoID string) domain.RebaseState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m, ok := t.machines[repoID]; ok {
		return m.State()
	}
	return domain.RebaseState{}
}

// Phase returns the lifecycle tag of repoID.
func (t *RebaseTracker) Phase(repoID string) domain.RebasePhase {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m, ok := t.machines[repoID]; ok {
		return m.Phase()
	}
	return domain.RebasePhaseIdle
}

// Check reports whether kind may be dispatched for repoID. Only the rebase
// family is constrained.
func (t *RebaseTracker) Check(repoID string, kind domain.OperationKind) error {
	if !kind.IsRebase() {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	m := t.machine(repoID)
	switch kind {
	case domain.OperationKindRebaseStart:
		return m.CanStart()
	case domain.OperationKindRebaseContinue:
		return m.CanContinue()
	default:
		return m.CanAbort()
	}
}

// Apply records the successful completion of kind. observed is the rebase
// state reported afterwards; known is false when no status could be read.
func (t *RebaseTracker) Apply(repoID string, kind domain.OperationKind, observed domain.RebaseState, known bool) (domain.RebaseState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := t.machine(repoID)
	if known {
		t.observed[repoID] = true
	}
	var err error
	switch kind {
	case domain.OperationKindRebaseStart:
		if err = m.Start(observed.Step, observed.Total); err == nil && known {
			m.Observe(observed)
		}
	case domain.OperationKindRebaseContinue:
		if !known {
			observed = domain.RebaseState{InProgress: true}
		}
		err = m.Continue(observed)
	case domain.OperationKindRebaseAbort:
		err = m.Abort()
	default:
		if known {
			m.Observe(observed)
		}
	}
	return m.State(), err
}

// Observe reconciles repoID with externally reported state.
func (t *RebaseTracker) Observe(repoID string, observed domain.RebaseState) domain.RebaseState {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := t.machine(repoID)
	m.Observe(observed)
	t.observed[repoID] = true
	return m.State()
}

// Evict forgets repoID; the next access starts from an unobserved Idle.
func (t *RebaseTracker) Evict(repoID string) {
	t.mu.Lock()
	delete(t.machines, repoID)
	delete(t.observed, repoID)
	t.mu.Unlock()
}
