package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/compozy/gitdeck/internal/domain"
	"github.com/compozy/gitdeck/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_Status(t *testing.T) {
	ctx := context.Background()
	t.Run("Should report absent status as a normal state", func(t *testing.T) {
		h := newHarness(t, newFakeAdapter())
		status, ok := h.engine.Status("r1")
		assert.False(t, ok)
		assert.Nil(t, status)
		assert.True(t, h.engine.IsStale("r1", time.Hour))
	})
	t.Run("Should refresh through the queue and cache the result", func(t *testing.T) {
		h := newHarness(t, newFakeAdapter())
		status, err := h.engine.RefreshStatus(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, "main", status.Branch)
		cached, ok := h.engine.Status("r1")
		require.True(t, ok)
		assert.Equal(t, status, cached)
	})
	t.Run("Should order a refresh behind a queued mutation", func(t *testing.T) {
		adapter := newFakeAdapter()
		h := newHarness(t, adapter)
		release := adapter.hold("/repos/r1")
		commit := h.submit(t, "r1", domain.OperationKindCommit, domain.Params{"message": "wip"})
		adapter.waitStarted(t, "/repos/r1")
		refreshed := make(chan error, 1)
		go func() {
			_, err := h.engine.RefreshStatus(ctx, "r1")
			refreshed <- err
		}()
		release()
		require.NoError(t, <-refreshed)
		h.await(t, commit)
		calls := adapter.callsFor("/repos/r1")
		require.Len(t, calls, 2)
		assert.Equal(t, domain.OperationKindCommit, calls[0].Kind)
		assert.Equal(t, domain.OperationKindRefreshStatus, calls[1].Kind)
	})
	t.Run("Should return the failure of a refresh", func(t *testing.T) {
		adapter := newFakeAdapter()
		adapter.setRespond(func(string, domain.OperationSpec) (domain.AdapterResult, error) {
			return domain.AdapterResult{ExitCode: 128, Stderr: "fatal: not a git repository"}, nil
		})
		h := newHarness(t, adapter)
		_, err := h.engine.RefreshStatus(ctx, "r1")
		assert.ErrorIs(t, err, domain.ErrAdapterFailure)
		_, err = h.engine.RefreshStatus(ctx, "unknown")
		assert.ErrorIs(t, err, domain.ErrUnknownRepository)
	})
	t.Run("Should serve fresh snapshots from the cache", func(t *testing.T) {
		adapter := newFakeAdapter()
		h := newHarness(t, adapter)
		_, err := h.engine.StatusFresh(ctx, "r1", 30*time.Second)
		require.NoError(t, err)
		assert.Equal(t, 1, adapter.callCount())

		h.clock.Advance(29999 * time.Millisecond)
		_, err = h.engine.StatusFresh(ctx, "r1", 30*time.Second)
		require.NoError(t, err)
		assert.Equal(t, 1, adapter.callCount())

		h.clock.Advance(2 * time.Millisecond)
		_, err = h.engine.StatusFresh(ctx, "r1", 30*time.Second)
		require.NoError(t, err)
		assert.Equal(t, 2, adapter.callCount())
	})
	t.Run("Should refresh every registered repository", func(t *testing.T) {
		adapter := newFakeAdapter()
		adapter.setRespond(func(path string, _ domain.OperationSpec) (domain.AdapterResult, error) {
			if path == "/repos/r2" {
				return domain.AdapterResult{ExitCode: 128, Stderr: "fatal"}, nil
			}
			return cleanStatus("main"), nil
		})
		h := newHarness(t, adapter)
		results, err := h.engine.RefreshAll(ctx)
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, "r1", results[0].Repository.ID)
		assert.NoError(t, results[0].Err)
		assert.Error(t, results[1].Err)
		assert.NotNil(t, results[2].Status)
	})
}

func TestEngine_Lifecycle(t *testing.T) {
	ctx := context.Background()
	t.Run("Should evict state when a repository is untracked", func(t *testing.T) {
		repo := newRebaseRepo(domain.RebaseState{})
		repo.onRun[domain.OperationKindRebaseStart] = domain.RebaseState{InProgress: true, Step: 1, Total: 2}
		adapter := newFakeAdapter()
		adapter.setRespond(repo.respond)
		h := newHarness(t, adapter)
		require.True(t, h.run(t, "r1", domain.OperationKindRebaseStart, domain.Params{"onto": "main"}).Success)
		require.NoError(t, h.engine.Untrack(ctx, "r1"))
		_, ok := h.engine.Status("r1")
		assert.False(t, ok)
		assert.Equal(t, domain.RebaseState{}, h.engine.RebaseState("r1"))
		assert.False(t, h.tracker.Observed("r1"))
	})
	t.Run("Should evict only after the executing operation has finished", func(t *testing.T) {
		adapter := newFakeAdapter()
		h := newHarness(t, adapter)
		release := adapter.hold("/repos/r1")
		running := h.submit(t, "r1", domain.OperationKindFetch, nil)
		adapter.waitStarted(t, "/repos/r1")
		queued := h.submit(t, "r1", domain.OperationKindPush, nil)

		untracked := make(chan error, 1)
		go func() { untracked <- h.engine.Untrack(ctx, "r1") }()
		assert.Equal(t, domain.FailureReasonCancelled, h.await(t, queued).Reason)
		select {
		case err := <-untracked:
			t.Fatalf("untrack returned while an operation was executing: %v", err)
		case <-time.After(20 * time.Millisecond):
		}
		release()
		assert.True(t, h.await(t, running).Success)
		require.NoError(t, <-untracked)
		_, ok := h.cache.Get("r1")
		assert.False(t, ok, "the finished operation must not leave a snapshot behind")
		assert.Empty(t, h.engine.Pending("r1"))
	})
	t.Run("Should give up waiting when the context ends", func(t *testing.T) {
		adapter := newFakeAdapter()
		h := newHarness(t, adapter)
		release := adapter.hold("/repos/r1")
		defer release()
		h.submit(t, "r1", domain.OperationKindFetch, nil)
		adapter.waitStarted(t, "/repos/r1")
		short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, h.engine.Untrack(short, "r1"), context.DeadlineExceeded)
	})
	t.Run("Should clear every repository", func(t *testing.T) {
		h := newHarness(t, newFakeAdapter())
		_, err := h.engine.RefreshAll(ctx)
		require.NoError(t, err)
		assert.Len(t, h.cache.TrackedIDs(), 3)
		require.NoError(t, h.engine.Clear(ctx))
		assert.Empty(t, h.cache.TrackedIDs())
		assert.Empty(t, h.tracker.IDs())
	})
	t.Run("Should deliver events to engine subscribers until unsubscribed", func(t *testing.T) {
		h := newHarness(t, newFakeAdapter())
		received := 0
		var unsubscribe func()
		unsubscribe = h.engine.Subscribe(events.TopicOperationCompleted, func(context.Context, any) error {
			received++
			unsubscribe()
			return nil
		})
		h.run(t, "r1", domain.OperationKindFetch, nil)
		h.run(t, "r1", domain.OperationKindFetch, nil)
		assert.Equal(t, 1, received)
	})
	t.Run("Should list registered repositories", func(t *testing.T) {
		h := newHarness(t, newFakeAdapter())
		repos, err := h.engine.Repositories()
		require.NoError(t, err)
		assert.Len(t, repos, 3)
	})
}
