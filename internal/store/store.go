package store

import (
	"context"
	"errors"
	"time"

	"github.com/linkflow-ai/officeflow-engine/internal/domain"
)

// ErrStore wraps any transport-level failure from the backing store, per
// spec §4.2's fault policy: ops catch transport errors and return a typed
// StoreError; write ops surface it to the caller.
type ErrStore struct {
	Op  string
	Err error
}

func (e *ErrStore) Error() string { return "store: " + e.Op + ": " + e.Err.Error() }
func (e *ErrStore) Unwrap() error { return e.Err }

// ErrNotHolder reports that a caller does not currently hold the named
// lock. ReleaseLock and ExtendLock signal that case by returning false with
// a nil error rather than this value.
var ErrNotHolder = errors.New("caller is not the current lock holder")

// Defaults, per spec §6 configuration table.
const (
	DefaultWorkflowTTL    = 24 * time.Hour
	DefaultNodeTTL        = 24 * time.Hour
	DefaultLockTTL        = 5 * time.Minute
	DefaultRetryScheduleTTL = 7 * 24 * time.Hour
	DefaultCircuitTTL     = time.Hour
	DefaultErrorLogTTL    = 7 * 24 * time.Hour
)

// RetryScheduleEntry is one due-for-retry (run, node) pair, scored by the
// epoch-millisecond time it became eligible for re-dispatch.
type RetryScheduleEntry struct {
	RunID    string
	NodeID   string
	ScoredAt int64
}

// Store is the single capability descriptor the rest of the engine depends
// on. A Redis-backed implementation is used in production; an in-memory one
// backs unit tests without a live Redis instance.
type Store interface {
	GetWorkflowState(ctx context.Context, runID string) (*domain.WorkflowState, error)
	PutWorkflowState(ctx context.Context, state *domain.WorkflowState) error
	DeleteWorkflowState(ctx context.Context, runID string) error
	// ListActiveRunIDs enumerates every run currently tracked by the store,
	// for the orchestrator's timeout monitor to scan. "Active" here means
	// merely present; callers filter by status after loading each state.
	ListActiveRunIDs(ctx context.Context) ([]string, error)

	GetNodeState(ctx context.Context, runID, nodeID string) (*domain.NodeState, error)
	PutNodeState(ctx context.Context, state *domain.NodeState) error
	GetAllNodeStates(ctx context.Context, runID string) ([]*domain.NodeState, error)
	BatchPutNodeStates(ctx context.Context, states []*domain.NodeState) error

	AcquireLock(ctx context.Context, runID, holder string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, runID, holder string) (bool, error)
	ExtendLock(ctx context.Context, runID, holder string, ttl time.Duration) (bool, error)

	ScheduleRetry(ctx context.Context, runID, nodeID string, at time.Time) error
	GetNodesReadyForRetry(ctx context.Context, now time.Time, limit int) ([]RetryScheduleEntry, error)
	RemoveFromRetrySchedule(ctx context.Context, runID, nodeID string) error

	GetCircuitBreaker(ctx context.Context, service string) (*domain.CircuitBreakerRecord, error)
	PutCircuitBreaker(ctx context.Context, record *domain.CircuitBreakerRecord) error

	PutErrorLog(ctx context.Context, entry *domain.ErrorLogEntry) error
}

// AcquireLockWithRenewal acquires the run lock and, if successful, starts a
// background refresher that extends the TTL every renewEvery until ctx is
// cancelled or another holder is observed (ExtendLock returns false). The
// returned stop ends the refresher and releases the lock.
// Mirrors the teacher's leader-election lease-renewal loop
// (internal/scheduler/leader/election.go).
func AcquireLockWithRenewal(ctx context.Context, s Store, runID, holder string, ttl, renewEvery time.Duration) (acquired bool, stop func(), err error) {
	ok, err := s.AcquireLock(ctx, runID, holder, ttl)
	if err != nil || !ok {
		return ok, func() {}, err
	}

	renewCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(renewEvery)
		defer ticker.Stop()
		for {
			select {
			case <-renewCtx.Done():
				return
			case <-ticker.C:
				extended, extendErr := s.ExtendLock(renewCtx, runID, holder, ttl)
				if extendErr != nil || !extended {
					return
				}
			}
		}
	}()

	stop = func() {
		cancel()
		<-done
		_, _ = s.ReleaseLock(context.Background(), runID, holder)
	}
	return true, stop, nil
}
