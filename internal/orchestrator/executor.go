package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/compozy/gitdeck/internal/cache"
	"github.com/compozy/gitdeck/internal/domain"
	"github.com/compozy/gitdeck/internal/events"
	"github.com/compozy/gitdeck/internal/repository"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

type opState int

const (
	opQueued opState = iota
	opRunning
	opWithdrawn
	opDone
)

type opHandle struct {
	op     domain.PendingOperation
	state  opState
	done   chan struct{}
	result domain.OperationResult
	// evict marks the internal slot that drops the repository's cached state.
	evict bool
}

type repoQueue struct {
	items   []*opHandle
	current *opHandle
}

type adapterOutcome struct {
	result domain.AdapterResult
	err    error
}

// Executor runs operations through the process adapter, one at a time per
// repository and concurrently across repositories. It is the only writer of
// the status cache and the rebase tracker.
type Executor struct {
	adapter  repository.ProcessAdapter
	registry repository.Registry
	cache    *cache.StatusCache
	tracker  *RebaseTracker
	bus      *events.Bus
	logger   *zap.Logger
	clock    cache.Clock

	timeout      time.Duration
	retryCount   uint64
	retryDelay   time.Duration
	historyLimit int

	sessionID string
	seq       atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	queues  map[string]*repoQueue
	ops     map[domain.OpID]*opHandle
	history []domain.OpID
	closed  bool
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithExecutorLogger sets the logger.
func WithExecutorLogger(logger *zap.Logger) ExecutorOption {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithOperationTimeout bounds each adapter invocation.
func WithOperationTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithStatusRetry configures the backoff of the post-operation status fetch.
func WithStatusRetry(count uint64, delay time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.retryCount = count
		if delay > 0 {
			e.retryDelay = delay
		}
	}
}

// WithHistoryLimit sets how many completed results remain awaitable.
func WithHistoryLimit(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.historyLimit = n
		}
	}
}

// NewExecutor wires an executor. Timestamps come from the cache clock.
func NewExecutor(
	adapter repository.ProcessAdapter,
	registry repository.Registry,
	statusCache *cache.StatusCache,
	tracker *RebaseTracker,
	bus *events.Bus,
	opts ...ExecutorOption,
) *Executor {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Executor{
		adapter:      adapter,
		registry:     registry,
		cache:        statusCache,
		tracker:      tracker,
		bus:          bus,
		logger:       zap.NewNop(),
		clock:        cache.ClockFunc(statusCache.Now),
		timeout:      DefaultOperationTimeout,
		retryCount:   DefaultRetryCount,
		retryDelay:   DefaultRetryDelay,
		historyLimit: DefaultHistoryLimit,
		sessionID:    uuid.NewString(),
		ctx:          ctx,
		cancel:       cancel,
		queues:       make(map[string]*repoQueue),
		ops:          make(map[domain.OpID]*opHandle),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SessionID identifies this executor instance; every OpID is prefixed with it.
func (e *Executor) SessionID() string {
	return e.sessionID
}

// Submit validates and enqueues an operation, returning immediately.
func (e *Executor) Submit(repoID string, kind domain.OperationKind, params domain.Params) (domain.OpID, error) {
	if err := ValidateParams(kind, params); err != nil {
		return "", err
	}
	repo, err := e.registry.Lookup(repoID)
	if err != nil {
		return "", err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return "", domain.ErrExecutorClosed
	}
	seq := e.seq.Add(1)
	h := &opHandle{
		op: domain.PendingOperation{
			OpID:     domain.OpID(fmt.Sprintf("%s-%d", e.sessionID, seq)),
			Seq:      seq,
			RepoID:   repo.ID,
			RepoPath: repo.Path,
			Kind:     kind,
			Params:   maps.Clone(params),
			QueuedAt: e.clock.Now(),
		},
		done: make(chan struct{}),
	}
	e.ops[h.op.OpID] = h
	q, ok := e.queues[repo.ID]
	if !ok {
		q = &repoQueue{}
		e.queues[repo.ID] = q
	}
	q.items = append(q.items, h)
	if !ok {
		e.wg.Add(1)
		go e.drain(repo.ID, q)
	}
	e.logger.Debug("operation queued",
		zap.String("repo", repo.ID),
		zap.String("op", string(h.op.OpID)),
		zap.String("kind", string(kind)),
		zap.Int("depth", len(q.items)))
	return h.op.OpID, nil
}

// drain is the worker of one repository. It exits when the queue is empty;
// the next Submit starts a new one.
func (e *Executor) drain(repoID string, q *repoQueue) {
	defer e.wg.Done()
	for {
		e.mu.Lock()
		if len(q.items) == 0 {
			q.current = nil
			delete(e.queues, repoID)
			e.mu.Unlock()
			return
		}
		h := q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
		q.current = h
		h.state = opRunning
		e.mu.Unlock()
		if h.evict {
			e.evict(h)
			continue
		}
		e.run(h)
	}
}

func (e *Executor) run(h *opHandle) {
	op := h.op
	result := domain.OperationResult{
		OpID:      op.OpID,
		Seq:       op.Seq,
		RepoID:    op.RepoID,
		Kind:      op.Kind,
		StartedAt: e.clock.Now(),
	}
	if op.Kind.IsRebase() && !e.tracker.Observed(op.RepoID) {
		if err := e.observeRebase(op); err != nil {
			result.Reason = domain.FailureReasonAdapter
			result.Err = err
			result.Stderr = err.Error()
			e.complete(h, result)
			return
		}
	}
	if err := e.tracker.Check(op.RepoID, op.Kind); err != nil {
		result.Reason = domain.FailureReasonInvalidStateTransition
		result.Err = err
		result.Stderr = err.Error()
		e.complete(h, result)
		return
	}
	e.logger.Debug("operation started",
		zap.String("repo", op.RepoID),
		zap.String("op", string(op.OpID)),
		zap.String("kind", string(op.Kind)))

	ctx, cancel := context.WithTimeout(e.ctx, e.timeout)
	defer cancel()
	outcome := make(chan adapterOutcome, 1)
	go func() {
		res, err := e.execute(ctx, op.RepoPath, domain.OperationSpec{Kind: op.Kind, Params: op.Params})
		outcome <- adapterOutcome{result: res, err: err}
	}()

	var out adapterOutcome
	select {
	case out = <-outcome:
	case <-ctx.Done():
		e.interrupted(h, result, ctx.Err())
		// the adapter must return before the next operation of this repository starts
		<-outcome
		return
	}
	if ctxErr := ctx.Err(); out.err != nil && ctxErr != nil {
		e.interrupted(h, result, ctxErr)
		return
	}
	result.ExitCode = out.result.ExitCode
	result.Stdout = out.result.Stdout
	result.Stderr = out.result.Stderr
	if out.err != nil || out.result.ExitCode != 0 {
		result.Reason = domain.FailureReasonAdapter
		if out.err != nil {
			result.Err = fmt.Errorf("%w: %w", domain.ErrAdapterFailure, out.err)
			if result.Stderr == "" {
				result.Stderr = out.err.Error()
			}
		} else {
			result.Err = fmt.Errorf("%w: %s exited with code %d", domain.ErrAdapterFailure, op.Kind, out.result.ExitCode)
		}
		e.complete(h, result)
		return
	}
	result.Success = true
	e.commit(h, result, out.result.ParsedStatus)
}

func (e *Executor) execute(ctx context.Context, repoPath string, spec domain.OperationSpec) (res domain.AdapterResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("adapter panicked: %v", r)
		}
	}()
	return e.adapter.Execute(ctx, repoPath, spec)
}

// observeRebase reconciles a repository the tracker has never seen with its
// working copy, so a rebase left behind by another process can be continued
// or aborted. It runs in the operation's own queue slot.
func (e *Executor) observeRebase(op domain.PendingOperation) error {
	status, err := e.fetchStatus(op)
	if err != nil {
		return fmt.Errorf("failed to read rebase state of %s: %w", op.RepoID, err)
	}
	state := e.tracker.Observe(op.RepoID, status.Rebase)
	e.logger.Debug("rebase state observed",
		zap.String("repo", op.RepoID),
		zap.String("phase", string(state.Phase())))
	return nil
}

func (e *Executor) interrupted(h *opHandle, result domain.OperationResult, cause error) {
	if errors.Is(cause, context.DeadlineExceeded) {
		result.Reason = domain.FailureReasonTimeout
		result.Err = fmt.Errorf("%w after %s", domain.ErrOperationTimeout, e.timeout)
	} else {
		result.Reason = domain.FailureReasonCancelled
		result.Err = fmt.Errorf("%w: %w", domain.ErrOperationCancelled, domain.ErrExecutorClosed)
	}
	result.ExitCode = -1
	e.complete(h, result)
}

// commit writes the post-operation state and publishes status-changed ahead
// of operation-completed.
func (e *Executor) commit(h *opHandle, result domain.OperationResult, parsed *domain.RepoStatus) {
	op := h.op
	status := parsed
	if status == nil {
		fetched, err := e.fetchStatus(op)
		if err != nil {
			e.logger.Warn("status refresh after operation failed",
				zap.String("repo", op.RepoID),
				zap.String("op", string(op.OpID)),
				zap.Error(err))
		}
		status = fetched
	}
	var observed domain.RebaseState
	if status != nil {
		observed = status.Rebase
	}
	rebase, err := e.tracker.Apply(op.RepoID, op.Kind, observed, status != nil)
	if err != nil {
		e.logger.Error("rebase transition rejected after dispatch",
			zap.String("repo", op.RepoID),
			zap.String("op", string(op.OpID)),
			zap.Error(err))
	}
	if status == nil {
		e.cache.Invalidate(op.RepoID)
		e.complete(h, result)
		return
	}
	snapshot := status.WithRebase(rebase)
	snapshot.RepoID = op.RepoID
	snapshot.LastUpdatedAt = e.clock.Now()
	e.cache.Set(op.RepoID, snapshot)
	e.bus.Publish(context.Background(), events.TopicStatusChanged, events.StatusChanged{
		RepoID: op.RepoID,
		OpID:   op.OpID,
		Status: snapshot.Clone(),
	})
	e.complete(h, result)
}

// fetchStatus re-reads the working copy, retrying while another git process
// holds the index lock.
func (e *Executor) fetchStatus(op domain.PendingOperation) (*domain.RepoStatus, error) {
	ctx, cancel := context.WithTimeout(e.ctx, e.timeout)
	defer cancel()
	var status *domain.RepoStatus
	backoff := retry.WithMaxRetries(e.retryCount, retry.NewExponential(e.retryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		res, err := e.execute(ctx, op.RepoPath, domain.OperationSpec{Kind: domain.OperationKindRefreshStatus})
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrAdapterFailure, err)
		}
		if res.ExitCode != 0 {
			err := fmt.Errorf("%w: status exited with code %d: %s",
				domain.ErrAdapterFailure, res.ExitCode, strings.TrimSpace(res.Stderr))
			if isLockContention(res.Stderr) {
				return retry.RetryableError(err)
			}
			return err
		}
		if res.ParsedStatus == nil {
			return fmt.Errorf("%w: status output was not parsed", domain.ErrAdapterFailure)
		}
		status = res.ParsedStatus
		return nil
	})
	if err != nil {
		return nil, err
	}
	return status, nil
}

func isLockContention(stderr string) bool {
	return strings.Contains(stderr, "index.lock") || strings.Contains(stderr, "Unable to create")
}

// complete publishes operation-completed and then releases awaiters.
func (e *Executor) complete(h *opHandle, result domain.OperationResult) {
	if result.FinishedAt.IsZero() {
		result.FinishedAt = e.clock.Now()
	}
	fields := []zap.Field{
		zap.String("repo", result.RepoID),
		zap.String("op", string(result.OpID)),
		zap.String("kind", string(result.Kind)),
		zap.Duration("duration", result.Duration()),
	}
	if result.Success {
		e.logger.Debug("operation completed", fields...)
	} else {
		e.logger.Warn("operation failed", append(fields,
			zap.String("reason", string(result.Reason)),
			zap.Int("exit_code", result.ExitCode),
			zap.Error(result.Err))...)
	}
	e.bus.Publish(context.Background(), events.TopicOperationCompleted, events.OperationCompleted{
		RepoID: result.RepoID,
		OpID:   result.OpID,
		Result: result,
	})
	e.mu.Lock()
	h.result = result
	h.state = opDone
	close(h.done)
	e.history = append(e.history, result.OpID)
	for len(e.history) > e.historyLimit {
		delete(e.ops, e.history[0])
		e.history = e.history[1:]
	}
	e.mu.Unlock()
}

// Await blocks until opID completes or ctx ends.
func (e *Executor) Await(ctx context.Context, opID domain.OpID) (domain.OperationResult, error) {
	e.mu.Lock()
	h, ok := e.ops[opID]
	e.mu.Unlock()
	if !ok {
		return domain.OperationResult{}, fmt.Errorf("%w: %s", domain.ErrUnknownOperation, opID)
	}
	select {
	case <-h.done:
		return h.result, nil
	case <-ctx.Done():
		return domain.OperationResult{}, ctx.Err()
	}
}

// Cancel withdraws a queued operation that has not started. It reports
// whether the operation was withdrawn.
func (e *Executor) Cancel(opID domain.OpID) bool {
	e.mu.Lock()
	h, ok := e.ops[opID]
	if !ok || h.state != opQueued {
		e.mu.Unlock()
		return false
	}
	if q, found := e.queues[h.op.RepoID]; found {
		q.items = removeHandle(q.items, h)
	}
	h.state = opWithdrawn
	e.mu.Unlock()
	e.complete(h, cancelledResult(h.op, domain.ErrOperationCancelled))
	return true
}

// CancelRepo withdraws every queued operation of repoID and returns how many
// were withdrawn. The executing one, if any, runs to completion.
func (e *Executor) CancelRepo(repoID string) int {
	e.mu.Lock()
	q, ok := e.queues[repoID]
	if !ok {
		e.mu.Unlock()
		return 0
	}
	withdrawn := e.withdraw(q)
	e.mu.Unlock()
	for _, h := range withdrawn {
		e.complete(h, cancelledResult(h.op, domain.ErrOperationCancelled))
	}
	return len(withdrawn)
}

// withdraw empties q of its operations, keeping eviction slots queued.
// Callers hold e.mu.
func (e *Executor) withdraw(q *repoQueue) []*opHandle {
	var withdrawn, kept []*opHandle
	for _, h := range q.items {
		if h.evict {
			kept = append(kept, h)
			continue
		}
		h.state = opWithdrawn
		withdrawn = append(withdrawn, h)
	}
	q.items = kept
	return withdrawn
}

// Forget withdraws the queued operations of repoID and drops its cached
// status and rebase state once the executing operation, if any, has
// finished. It reports how many operations were withdrawn.
func (e *Executor) Forget(ctx context.Context, repoID string) (int, error) {
	withdrawn := e.CancelRepo(repoID)
	e.mu.Lock()
	q, ok := e.queues[repoID]
	if !ok {
		// no worker owns the repository; evict in place while new work is held off
		e.cache.Invalidate(repoID)
		e.tracker.Evict(repoID)
		e.mu.Unlock()
		return withdrawn, nil
	}
	h := &opHandle{
		op:    domain.PendingOperation{RepoID: repoID},
		done:  make(chan struct{}),
		evict: true,
	}
	q.items = append(q.items, h)
	e.mu.Unlock()
	select {
	case <-h.done:
		return withdrawn, nil
	case <-ctx.Done():
		return withdrawn, ctx.Err()
	}
}

func (e *Executor) evict(h *opHandle) {
	e.cache.Invalidate(h.op.RepoID)
	e.tracker.Evict(h.op.RepoID)
	e.mu.Lock()
	h.state = opDone
	close(h.done)
	e.mu.Unlock()
}

// Pending lists the executing and queued operations of repoID in order.
func (e *Executor) Pending(repoID string) []domain.PendingOperation {
	e.mu.Lock()
	defer e.mu.Unlock()
	q, ok := e.queues[repoID]
	if !ok {
		return nil
	}
	var out []domain.PendingOperation
	if q.current != nil && q.current.state == opRunning && !q.current.evict {
		out = append(out, q.current.op)
	}
	for _, h := range q.items {
		if !h.evict {
			out = append(out, h.op)
		}
	}
	return out
}

// Close stops accepting operations, withdraws queued ones and waits for the
// executing ones. When ctx ends first, in-flight adapter calls are cancelled.
func (e *Executor) Close(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	var withdrawn []*opHandle
	for _, q := range e.queues {
		withdrawn = append(withdrawn, e.withdraw(q)...)
	}
	e.mu.Unlock()
	for _, h := range withdrawn {
		e.complete(h, cancelledResult(h.op, domain.ErrExecutorClosed))
	}

	idle := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(idle)
	}()
	select {
	case <-idle:
		e.cancel()
		return nil
	case <-ctx.Done():
		e.cancel()
		return fmt.Errorf("executor shutdown: %w", ctx.Err())
	}
}

func cancelledResult(op domain.PendingOperation, cause error) domain.OperationResult {
	err := domain.ErrOperationCancelled
	if !errors.Is(cause, domain.ErrOperationCancelled) {
		err = fmt.Errorf("%w: %w", domain.ErrOperationCancelled, cause)
	}
	return domain.OperationResult{
		OpID:   op.OpID,
		Seq:    op.Seq,
		RepoID: op.RepoID,
		Kind:   op.Kind,
		Reason: domain.FailureReasonCancelled,
		Err:    err,
	}
}

func removeHandle(items []*opHandle, target *opHandle) []*opHandle {
	for i, h := range items {
		if h == target {
			return append(items[:i], items[i+1:]...)
		}
	}
	return items
}
