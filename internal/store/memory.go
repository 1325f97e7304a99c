package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/linkflow-ai/officeflow-engine/internal/domain"
)

// MemoryStore is an in-process Store implementation for tests and local
// development, grounded on the teacher's small-struct-fake test-double
// style (e.g. its scheduler ScheduleStore interface with a Postgres and an
// in-memory-shaped variant).
type MemoryStore struct {
	mu sync.Mutex

	workflows map[string]*domain.WorkflowState
	nodes     map[string]*domain.NodeState // key: runID+"\x00"+nodeID
	locks     map[string]lockEntry
	retry     map[string]retryEntry // key: runID+"\x00"+nodeID
	breakers  map[string]*domain.CircuitBreakerRecord
	errors    []*domain.ErrorLogEntry
}

type lockEntry struct {
	holder    string
	expiresAt time.Time
}

type retryEntry struct {
	runID, nodeID string
	scoredAt      int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows: make(map[string]*domain.WorkflowState),
		nodes:     make(map[string]*domain.NodeState),
		locks:     make(map[string]lockEntry),
		retry:     make(map[string]retryEntry),
		breakers:  make(map[string]*domain.CircuitBreakerRecord),
	}
}

func nodeKey(runID, nodeID string) string { return runID + "\x00" + nodeID }

func (m *MemoryStore) GetWorkflowState(_ context.Context, runID string) (*domain.WorkflowState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.workflows[runID]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) PutWorkflowState(_ context.Context, state *domain.WorkflowState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *state
	m.workflows[state.RunID] = &cp
	return nil
}

func (m *MemoryStore) DeleteWorkflowState(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.workflows, runID)
	for k := range m.nodes {
		if len(k) > len(runID) && k[:len(runID)] == runID && k[len(runID)] == 0 {
			delete(m.nodes, k)
		}
	}
	delete(m.locks, runID)
	return nil
}

func (m *MemoryStore) ListActiveRunIDs(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.workflows))
	for id := range m.workflows {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) GetNodeState(_ context.Context, runID, nodeID string) (*domain.NodeState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.nodes[nodeKey(runID, nodeID)]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) PutNodeState(_ context.Context, state *domain.NodeState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *state
	m.nodes[nodeKey(state.RunID, state.NodeID)] = &cp
	return nil
}

func (m *MemoryStore) GetAllNodeStates(_ context.Context, runID string) ([]*domain.NodeState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.NodeState
	prefix := runID + "\x00"
	for k, v := range m.nodes {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			cp := *v
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out, nil
}

func (m *MemoryStore) BatchPutNodeStates(ctx context.Context, states []*domain.NodeState) error {
	for _, s := range states {
		if err := m.PutNodeState(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStore) AcquireLock(_ context.Context, runID, holder string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if e, ok := m.locks[runID]; ok && e.expiresAt.After(now) {
		return false, nil
	}
	m.locks[runID] = lockEntry{holder: holder, expiresAt: now.Add(ttl)}
	return true, nil
}

func (m *MemoryStore) ReleaseLock(_ context.Context, runID, holder string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.locks[runID]
	if !ok || e.holder != holder {
		return false, nil
	}
	delete(m.locks, runID)
	return true, nil
}

func (m *MemoryStore) ExtendLock(_ context.Context, runID, holder string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.locks[runID]
	if !ok || e.holder != holder {
		return false, nil
	}
	e.expiresAt = time.Now().Add(ttl)
	m.locks[runID] = e
	return true, nil
}

func (m *MemoryStore) ScheduleRetry(_ context.Context, runID, nodeID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retry[nodeKey(runID, nodeID)] = retryEntry{runID: runID, nodeID: nodeID, scoredAt: at.UnixMilli()}
	return nil
}

func (m *MemoryStore) GetNodesReadyForRetry(_ context.Context, now time.Time, limit int) ([]RetryScheduleEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []retryEntry
	for _, e := range m.retry {
		if e.scoredAt <= now.UnixMilli() {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].scoredAt < due[j].scoredAt })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	out := make([]RetryScheduleEntry, len(due))
	for i, e := range due {
		out[i] = RetryScheduleEntry{RunID: e.runID, NodeID: e.nodeID, ScoredAt: e.scoredAt}
	}
	return out, nil
}

func (m *MemoryStore) RemoveFromRetrySchedule(_ context.Context, runID, nodeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.retry, nodeKey(runID, nodeID))
	return nil
}

func (m *MemoryStore) GetCircuitBreaker(_ context.Context, service string) (*domain.CircuitBreakerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.breakers[service]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) PutCircuitBreaker(_ context.Context, record *domain.CircuitBreakerRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *record
	m.breakers[record.Service] = &cp
	return nil
}

func (m *MemoryStore) PutErrorLog(_ context.Context, entry *domain.ErrorLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, entry)
	return nil
}

// Errors returns a snapshot of every error logged so far, for test
// assertions.
func (m *MemoryStore) Errors() []*domain.ErrorLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.ErrorLogEntry, len(m.errors))
	copy(out, m.errors)
	return out
}
