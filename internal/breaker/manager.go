package breaker

import (
	"context"
	"strings"
	"sync"

	"github.com/linkflow-ai/officeflow-engine/internal/domain"
	"github.com/linkflow-ai/officeflow-engine/internal/store"
)

// Manager owns one Breaker per external service name and persists its state
// to the store after Execute and RecordOutcome so other engine instances
// observe it; an OPEN -> HALF_OPEN move made inside Check is not persisted
// by Check itself.
// Grounded on the teacher's circuitbreaker.Manager (double-checked-locking
// lazy create) extended with store sync.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	cfg      Config
	st       store.Store
}

func NewManager(st store.Store, cfg Config) *Manager {
	return &Manager{breakers: make(map[string]*Breaker), cfg: cfg, st: st}
}

// ServiceForNodeType derives an external-service bucket name from a dotted
// node type, mirroring the teacher's getCategoryFromType in
// internal/worker/core/types.go ("the substring before the first dot").
func ServiceForNodeType(nodeType domain.NodeType) string {
	s := string(nodeType)
	if idx := strings.IndexByte(s, '.'); idx >= 0 {
		return s[:idx]
	}
	return s
}

// Get returns the Breaker for service, hydrating it from the store on
// first access within this process.
func (m *Manager) Get(ctx context.Context, service string) (*Breaker, error) {
	m.mu.RLock()
	b, ok := m.breakers[service]
	m.mu.RUnlock()
	if ok {
		return b, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[service]; ok {
		return b, nil
	}

	rec, err := m.st.GetCircuitBreaker(ctx, service)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		b = LoadRecord(m.cfg, rec)
	} else {
		b = New(service, m.cfg)
	}
	m.breakers[service] = b
	return b, nil
}

// Execute runs op through the named service's breaker and persists the
// resulting state to the store.
func (m *Manager) Execute(ctx context.Context, service string, op func(context.Context) error) error {
	b, err := m.Get(ctx, service)
	if err != nil {
		return err
	}
	execErr := b.Execute(ctx, op)
	_ = m.st.PutCircuitBreaker(ctx, b.Record())
	return execErr
}

// Check reports whether a call to service may proceed right now, for
// callers whose op runs asynchronously over the bus rather than in-process
// (so Execute, which needs to call op itself, doesn't fit). Pair with
// RecordOutcome once the async result comes back.
func (m *Manager) Check(ctx context.Context, service string) error {
	b, err := m.Get(ctx, service)
	if err != nil {
		return err
	}
	return b.Allow()
}

// RecordOutcome applies the outcome of a call previously admitted by Check
// and persists the resulting breaker state to the store.
func (m *Manager) RecordOutcome(ctx context.Context, service string, success bool) error {
	b, err := m.Get(ctx, service)
	if err != nil {
		return err
	}
	b.ApplyOutcome(success)
	return m.st.PutCircuitBreaker(ctx, b.Record())
}

// States returns a snapshot of every known service's current state.
func (m *Manager) States() map[string]domain.CircuitState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]domain.CircuitState, len(m.breakers))
	for name, b := range m.breakers {
		out[name] = b.State()
	}
	return out
}
