// Package statemachine implements the declarative transition tables for
// workflow and node status, generalized from the teacher's flat status
// strings (domain/models.ExecutionStatus, NodeStatus in
// worker/processor/types.go) into an explicit table that rejects invalid
// transitions instead of assuming every transition is legal.
package statemachine

import (
	"fmt"
	"time"

	"github.com/linkflow-ai/officeflow-engine/internal/domain"
)

// ErrInvalidTransition is returned when a trigger is not legal from the
// current status.
type ErrInvalidTransition struct {
	From    domain.WorkflowStatus
	Trigger string
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("INVALID_TRANSITION: no transition %q from %s", e.Trigger, e.From)
}

// ErrInvalidNodeTransition is the node-status analogue of ErrInvalidTransition.
type ErrInvalidNodeTransition struct {
	From    domain.NodeStatus
	Trigger string
}

func (e *ErrInvalidNodeTransition) Error() string {
	return fmt.Sprintf("INVALID_TRANSITION: no transition %q from %s", e.Trigger, e.From)
}

// workflowTransitions is the table from spec §4.3.
var workflowTransitions = map[domain.WorkflowStatus]map[string]domain.WorkflowStatus{
	domain.WorkflowPending: {
		"start": domain.WorkflowRunning,
	},
	domain.WorkflowRunning: {
		"pause":    domain.WorkflowPaused,
		"complete": domain.WorkflowCompleted,
		"fail":     domain.WorkflowFailed,
		"cancel":   domain.WorkflowCancelled,
		"timeout":  domain.WorkflowTimeout,
	},
	domain.WorkflowPaused: {
		"resume": domain.WorkflowRunning,
		"cancel": domain.WorkflowCancelled,
	},
	domain.WorkflowFailed: {
		"start": domain.WorkflowCompensating,
	},
	domain.WorkflowCompensating: {
		"complete": domain.WorkflowFailed,
	},
}

// TransitionWorkflow applies trigger to state, returning INVALID_TRANSITION
// if the current status has no such trigger defined.
func TransitionWorkflow(state *domain.WorkflowState, trigger string) error {
	next, ok := workflowTransitions[state.Status][trigger]
	if !ok {
		return &ErrInvalidTransition{From: state.Status, Trigger: trigger}
	}
	state.Status = next
	state.LastUpdatedAt = time.Now()
	return nil
}

// CanTransitionWorkflow reports whether trigger is legal from status,
// without mutating anything.
func CanTransitionWorkflow(status domain.WorkflowStatus, trigger string) bool {
	_, ok := workflowTransitions[status][trigger]
	return ok
}
