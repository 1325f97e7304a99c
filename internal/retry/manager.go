package retry

import (
	"context"
	"time"

	"github.com/linkflow-ai/officeflow-engine/internal/domain"
	"github.com/linkflow-ai/officeflow-engine/internal/pkg/metrics"
	"github.com/linkflow-ai/officeflow-engine/internal/statemachine"
	"github.com/linkflow-ai/officeflow-engine/internal/store"
)

// Manager decides whether a failed node attempt should be retried and, if
// so, schedules the re-dispatch via the store's time-indexed retry queue.
type Manager struct {
	st store.Store
}

func NewManager(st store.Store) *Manager {
	return &Manager{st: st}
}

// Decision is the outcome of evaluating a node failure against its policy.
type Decision struct {
	Retry   bool
	RetryAt time.Time
	Delay   time.Duration
}

// Evaluate decides whether node (currently at the given attempt, about to
// fail with err) should be retried under policy.
func Evaluate(attempt int, policy domain.RetryPolicy, err NodeError) Decision {
	if !ShouldRetry(attempt, policy.MaxRetries, err) {
		return Decision{Retry: false}
	}
	delay := Delay(attempt, policy.BackoffMs, policy.Multiplier, policy.MaxBackoffMs, policy.Jitter)
	return Decision{Retry: true, RetryAt: time.Now().Add(delay), Delay: delay}
}

// ScheduleRetry transitions nodeState to RETRYING with nextRetryAt and
// inserts (runId, nodeId, retryAt) into the store's retry schedule, per
// spec §4.6.
func (m *Manager) ScheduleRetry(ctx context.Context, nodeState *domain.NodeState, nodeType domain.NodeType, decision Decision) error {
	if err := statemachine.TransitionNode(nodeState, "retry"); err != nil {
		return err
	}
	retryAt := decision.RetryAt
	nodeState.NextRetryAt = &retryAt

	if err := m.st.PutNodeState(ctx, nodeState); err != nil {
		return err
	}
	if err := m.st.ScheduleRetry(ctx, nodeState.RunID, nodeState.NodeID, retryAt); err != nil {
		return err
	}
	metrics.RetriesScheduledTotal.WithLabelValues(string(nodeType)).Inc()
	return nil
}

// PopDueRetries queues nodes up (transitioning RETRYING -> QUEUED) and
// removes them from the schedule, returning the run/node ids the caller
// (the orchestrator's retry processor loop) must re-dispatch. Bounded per
// tick by limit.
func (m *Manager) PopDueRetries(ctx context.Context, limit int) ([]store.RetryScheduleEntry, error) {
	entries, err := m.st.GetNodesReadyForRetry(ctx, time.Now(), limit)
	if err != nil {
		return nil, err
	}
	var ready []store.RetryScheduleEntry
	for _, e := range entries {
		nodeState, err := m.st.GetNodeState(ctx, e.RunID, e.NodeID)
		if err != nil || nodeState == nil || nodeState.Status != domain.NodeRetrying {
			_ = m.st.RemoveFromRetrySchedule(ctx, e.RunID, e.NodeID)
			continue
		}
		if err := statemachine.TransitionNode(nodeState, "queue"); err != nil {
			continue
		}
		if err := m.st.PutNodeState(ctx, nodeState); err != nil {
			continue
		}
		if err := m.st.RemoveFromRetrySchedule(ctx, e.RunID, e.NodeID); err != nil {
			continue
		}
		ready = append(ready, e)
	}
	return ready, nil
}
