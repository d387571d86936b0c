package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/compozy/gitdeck/internal/cache"
	"github.com/compozy/gitdeck/internal/domain"
	"github.com/compozy/gitdeck/internal/events"
	"github.com/compozy/gitdeck/internal/repository"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// mockProcessAdapter is a testify mock of repository.ProcessAdapter.
type mockProcessAdapter struct{ mock.Mock }

func (m *mockProcessAdapter) Execute(ctx context.Context, repoPath string, spec domain.OperationSpec) (domain.AdapterResult, error) {
	args := m.Called(ctx, repoPath, spec)
	return args.Get(0).(domain.AdapterResult), args.Error(1)
}

func kindIs(kind domain.OperationKind) any {
	return mock.MatchedBy(func(spec domain.OperationSpec) bool { return spec.Kind == kind })
}

type adapterCall struct {
	Path   string
	Kind   domain.OperationKind
	Params domain.Params
}

// fakeAdapter records every call, tracks how many calls run at once per
// repository path and can hold a path until its gate is opened.
type fakeAdapter struct {
	mu         sync.Mutex
	calls      []adapterCall
	running    map[string]int
	maxRunning map[string]int
	gates      map[string]chan struct{}
	started    chan adapterCall
	delay      time.Duration
	respond    func(repoPath string, spec domain.OperationSpec) (domain.AdapterResult, error)
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		running:    make(map[string]int),
		maxRunning: make(map[string]int),
		gates:      make(map[string]chan struct{}),
		started:    make(chan adapterCall, 256),
	}
}

func (f *fakeAdapter) Execute(ctx context.Context, repoPath string, spec domain.OperationSpec) (domain.AdapterResult, error) {
	call := adapterCall{Path: repoPath, Kind: spec.Kind, Params: spec.Params}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.running[repoPath]++
	if f.running[repoPath] > f.maxRunning[repoPath] {
		f.maxRunning[repoPath] = f.running[repoPath]
	}
	gate := f.gates[repoPath]
	respond := f.respond
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.running[repoPath]--
		f.mu.Unlock()
	}()
	select {
	case f.started <- call:
	default:
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return domain.AdapterResult{}, ctx.Err()
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if respond != nil {
		return respond(repoPath, spec)
	}
	return cleanStatus("main"), nil
}

// hold blocks calls for repoPath until the returned function is called.
func (f *fakeAdapter) hold(repoPath string) func() {
	gate := make(chan struct{})
	f.mu.Lock()
	f.gates[repoPath] = gate
	f.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.gates, repoPath)
			f.mu.Unlock()
			close(gate)
		})
	}
}

func (f *fakeAdapter) setRespond(fn func(repoPath string, spec domain.OperationSpec) (domain.AdapterResult, error)) {
	f.mu.Lock()
	f.respond = fn
	f.mu.Unlock()
}

func (f *fakeAdapter) callsFor(repoPath string) []adapterCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []adapterCall
	for _, c := range f.calls {
		if c.Path == repoPath {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeAdapter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeAdapter) maxConcurrent(repoPath string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxRunning[repoPath]
}

func (f *fakeAdapter) waitStarted(t *testing.T, repoPath string) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case call := <-f.started:
			if call.Path == repoPath {
				return
			}
		case <-timeout:
			t.Fatalf("adapter was never called for %s", repoPath)
		}
	}
}

func cleanStatus(branch string) domain.AdapterResult {
	return domain.AdapterResult{ParsedStatus: &domain.RepoStatus{Branch: branch}}
}

func rebaseStatus(branch string, rs domain.RebaseState) domain.AdapterResult {
	status := &domain.RepoStatus{Branch: branch, Rebase: rs}
	for _, path := range rs.Conflicts {
		status.Changes.Unstaged = append(status.Changes.Unstaged, domain.FileChange{
			Path:   path,
			Status: "UU",
			Kind:   domain.ChangeKindConflict,
		})
	}
	status.IsDirty = status.HasChanges()
	return domain.AdapterResult{ParsedStatus: status}
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// eventLog records the topic and op id of every published event in order.
type eventLog struct {
	mu      sync.Mutex
	entries []string
	results map[domain.OpID]domain.OperationResult
}

func newEventLog(bus *events.Bus) *eventLog {
	log := &eventLog{results: make(map[domain.OpID]domain.OperationResult)}
	bus.Subscribe(events.TopicStatusChanged, func(_ context.Context, payload any) error {
		ev := payload.(events.StatusChanged)
		log.add("status-changed:"+ev.RepoID+":"+string(ev.OpID), nil)
		return nil
	})
	bus.Subscribe(events.TopicOperationCompleted, func(_ context.Context, payload any) error {
		ev := payload.(events.OperationCompleted)
		log.add("operation-completed:"+ev.RepoID+":"+string(ev.OpID), &ev.Result)
		return nil
	})
	return log
}

func (l *eventLog) add(entry string, result *domain.OperationResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	if result != nil {
		l.results[result.OpID] = *result
	}
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

func (l *eventLog) forOp(opID domain.OpID) []string {
	var out []string
	for _, entry := range l.snapshot() {
		if len(entry) > len(opID) && entry[len(entry)-len(opID):] == string(opID) {
			out = append(out, entry)
		}
	}
	return out
}

type harness struct {
	adapter  repository.ProcessAdapter
	registry *repository.MemoryRegistry
	clock    *manualClock
	cache    *cache.StatusCache
	tracker  *RebaseTracker
	bus      *events.Bus
	executor *Executor
	engine   *Engine
	events   *eventLog
}

func newHarness(t *testing.T, adapter repository.ProcessAdapter, opts ...ExecutorOption) *harness {
	t.Helper()
	h := &harness{
		adapter: adapter,
		registry: repository.NewMemoryRegistry(
			domain.Repository{ID: "r1", Path: "/repos/r1"},
			domain.Repository{ID: "r2", Path: "/repos/r2"},
			domain.Repository{ID: "r3", Path: "/repos/r3"},
		),
		clock:   newManualClock(),
		tracker: NewRebaseTracker(),
		bus:     events.NewBus(),
	}
	h.cache = cache.NewStatusCache(h.clock)
	h.events = newEventLog(h.bus)
	h.executor = NewExecutor(adapter, h.registry, h.cache, h.tracker, h.bus, opts...)
	h.engine = NewEngine(h.registry, h.cache, h.tracker, h.bus, h.executor, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.executor.Close(ctx)
	})
	return h
}

func (h *harness) submit(t *testing.T, repoID string, kind domain.OperationKind, params domain.Params) domain.OpID {
	t.Helper()
	opID, err := h.executor.Submit(repoID, kind, params)
	require.NoError(t, err)
	return opID
}

func (h *harness) await(t *testing.T, opID domain.OpID) domain.OperationResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := h.executor.Await(ctx, opID)
	require.NoError(t, err)
	return result
}

func (h *harness) run(t *testing.T, repoID string, kind domain.OperationKind, params domain.Params) domain.OperationResult {
	t.Helper()
	return h.await(t, h.submit(t, repoID, kind, params))
}
