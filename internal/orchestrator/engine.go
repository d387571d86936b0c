package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/compozy/gitdeck/internal/cache"
	"github.com/compozy/gitdeck/internal/domain"
	"github.com/compozy/gitdeck/internal/events"
	"github.com/compozy/gitdeck/internal/repository"
	"go.uber.org/zap"
)

// Engine is the boundary used by the CLI and the watcher. Reads are served
// from the status cache; every adapter round-trip goes through the executor.
type Engine struct {
	registry repository.Registry
	cache    *cache.StatusCache
	tracker  *RebaseTracker
	bus      *events.Bus
	executor *Executor
	logger   *zap.Logger
}

// NewEngine assembles an engine from its components.
func NewEngine(
	registry repository.Registry,
	statusCache *cache.StatusCache,
	tracker *RebaseTracker,
	bus *events.Bus,
	executor *Executor,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		registry: registry,
		cache:    statusCache,
		tracker:  tracker,
		bus:      bus,
		executor: executor,
		logger:   logger,
	}
}

// Status returns the cached snapshot of repoID. Absence is not an error.
func (e *Engine) Status(repoID string) (*domain.RepoStatus, bool) {
	return e.cache.Get(repoID)
}

// IsStale reports whether the snapshot of repoID is absent or older than maxAge.
func (e *Engine) IsStale(repoID string, maxAge time.Duration) bool {
	return e.cache.IsStale(repoID, maxAge)
}

// RefreshStatus queues a status read behind any pending operation of repoID
// and returns the resulting snapshot.
func (e *Engine) RefreshStatus(ctx context.Context, repoID string) (*domain.RepoStatus, error) {
	opID, err := e.executor.Submit(repoID, domain.OperationKindRefreshStatus, nil)
	if err != nil {
		return nil, err
	}
	result, err := e.executor.Await(ctx, opID)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, fmt.Errorf("refresh %s: %w", repoID, result.Err)
	}
	status, ok := e.cache.Get(repoID)
	if !ok {
		return nil, fmt.Errorf("refresh %s: %w: status unavailable", repoID, domain.ErrAdapterFailure)
	}
	return status, nil
}

// StatusFresh serves the cached snapshot unless it is older than maxAge.
func (e *Engine) StatusFresh(ctx context.Context, repoID string, maxAge time.Duration) (*domain.RepoStatus, error) {
	if !e.cache.IsStale(repoID, maxAge) {
		if status, ok := e.cache.Get(repoID); ok {
			return status, nil
		}
	}
	return e.RefreshStatus(ctx, repoID)
}

// RefreshResult pairs a repository with the outcome of its refresh.
type RefreshResult struct {
	Repository domain.Repository
	Status     *domain.RepoStatus
	Err        error
}

// RefreshAll refreshes every registered repository concurrently. Results are
// returned in registry order.
func (e *Engine) RefreshAll(ctx context.Context) ([]RefreshResult, error) {
	repos, err := e.registry.List()
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	results := make([]RefreshResult, len(repos))
	var wg sync.WaitGroup
	for i, repo := range repos {
		wg.Add(1)
		go func(i int, repo domain.Repository) {
			defer wg.Done()
			status, err := e.RefreshStatus(ctx, repo.ID)
			results[i] = RefreshResult{Repository: repo, Status: status, Err: err}
		}(i, repo)
	}
	wg.Wait()
	return results, nil
}

// SubmitOperation queues kind for repoID.
func (e *Engine) SubmitOperation(repoID string, kind domain.OperationKind, params domain.Params) (domain.OpID, error) {
	return e.executor.Submit(repoID, kind, params)
}

// Await blocks until opID completes.
func (e *Engine) Await(ctx context.Context, opID domain.OpID) (domain.OperationResult, error) {
	return e.executor.Await(ctx, opID)
}

// Cancel withdraws a queued operation.
func (e *Engine) Cancel(opID domain.OpID) bool {
	return e.executor.Cancel(opID)
}

// Pending lists the executing and queued operations of repoID.
func (e *Engine) Pending(repoID string) []domain.PendingOperation {
	return e.executor.Pending(repoID)
}

// RebaseState returns the tracked rebase state of repoID.
func (e *Engine) RebaseState(repoID string) domain.RebaseState {
	return e.tracker.State(repoID)
}

// Subscribe registers handler for topic and returns its unsubscribe function.
func (e *Engine) Subscribe(topic events.Topic, handler events.Handler) func() {
	return e.bus.Subscribe(topic, handler)
}

// Repositories lists the registered repositories.
func (e *Engine) Repositories() ([]domain.Repository, error) {
	return e.registry.List()
}

// Untrack withdraws queued work for repoID and evicts its cached state once
// the operation executing for it, if any, has finished.
func (e *Engine) Untrack(ctx context.Context, repoID string) error {
	withdrawn, err := e.executor.Forget(ctx, repoID)
	if err != nil {
		return fmt.Errorf("untrack %s: %w", repoID, err)
	}
	e.logger.Debug("repository untracked", zap.String("repo", repoID), zap.Int("withdrawn", withdrawn))
	return nil
}

// Clear evicts every cached snapshot and rebase state.
func (e *Engine) Clear(ctx context.Context) error {
	ids := e.cache.TrackedIDs()
	for _, id := range e.tracker.IDs() {
		ids[id] = struct{}{}
	}
	var errs []error
	for id := range ids {
		if _, err := e.executor.Forget(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("clear %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Close shuts the executor down.
func (e *Engine) Close(ctx context.Context) error {
	return e.executor.Close(ctx)
}
