package statemachine

import (
	"time"

	"github.com/linkflow-ai/officeflow-engine/internal/domain"
)

// nodeTransitions is the table from spec §4.3.
var nodeTransitions = map[domain.NodeStatus]map[string]domain.NodeStatus{
	domain.NodeQueued: {
		"start":  domain.NodeRunning,
		"skip":   domain.NodeSkipped,
		"cancel": domain.NodeCancelled,
	},
	domain.NodeRunning: {
		"complete": domain.NodeCompleted,
		"fail":     domain.NodeFailed,
		"cancel":   domain.NodeCancelled,
		"timeout":  domain.NodeTimeout,
	},
	domain.NodeFailed: {
		"retry": domain.NodeRetrying,
	},
	domain.NodeRetrying: {
		"queue": domain.NodeQueued,
	},
}

// TransitionNode applies trigger to state: sets startedAt on first RUNNING,
// endedAt on any terminal status, or fails with INVALID_TRANSITION.
func TransitionNode(state *domain.NodeState, trigger string) error {
	next, ok := nodeTransitions[state.Status][trigger]
	if !ok {
		return &ErrInvalidNodeTransition{From: state.Status, Trigger: trigger}
	}
	now := time.Now()
	state.Status = next
	if next == domain.NodeRunning && state.StartedAt == nil {
		state.StartedAt = &now
	}
	if next.IsTerminal() {
		state.EndedAt = &now
	}
	if next != domain.NodeRetrying {
		state.NextRetryAt = nil
	}
	return nil
}

// CanTransitionNode reports whether trigger is legal from status.
func CanTransitionNode(status domain.NodeStatus, trigger string) bool {
	_, ok := nodeTransitions[status][trigger]
	return ok
}
