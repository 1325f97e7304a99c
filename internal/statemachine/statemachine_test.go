package statemachine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkflow-ai/officeflow-engine/internal/domain"
	"github.com/linkflow-ai/officeflow-engine/internal/statemachine"
)

func TestTransitionWorkflow_HappyPath(t *testing.T) {
	ws := &domain.WorkflowState{Status: domain.WorkflowPending}
	require.NoError(t, statemachine.TransitionWorkflow(ws, "start"))
	assert.Equal(t, domain.WorkflowRunning, ws.Status)
	require.NoError(t, statemachine.TransitionWorkflow(ws, "complete"))
	assert.Equal(t, domain.WorkflowCompleted, ws.Status)
}

func TestTransitionWorkflow_InvalidRejected(t *testing.T) {
	ws := &domain.WorkflowState{Status: domain.WorkflowPending}
	err := statemachine.TransitionWorkflow(ws, "complete")
	require.Error(t, err)
	var target *statemachine.ErrInvalidTransition
	assert.ErrorAs(t, err, &target)
}

func TestTransitionWorkflow_FailThenCompensate(t *testing.T) {
	ws := &domain.WorkflowState{Status: domain.WorkflowRunning}
	require.NoError(t, statemachine.TransitionWorkflow(ws, "fail"))
	require.NoError(t, statemachine.TransitionWorkflow(ws, "start"))
	assert.Equal(t, domain.WorkflowCompensating, ws.Status)
	require.NoError(t, statemachine.TransitionWorkflow(ws, "complete"))
	assert.Equal(t, domain.WorkflowFailed, ws.Status)
}

func TestTransitionNode_SetsTimestamps(t *testing.T) {
	ns := &domain.NodeState{Status: domain.NodeQueued}
	require.NoError(t, statemachine.TransitionNode(ns, "start"))
	require.NotNil(t, ns.StartedAt)
	require.Nil(t, ns.EndedAt)

	require.NoError(t, statemachine.TransitionNode(ns, "complete"))
	require.NotNil(t, ns.EndedAt)
}

func TestTransitionNode_RetryCycle(t *testing.T) {
	ns := &domain.NodeState{Status: domain.NodeQueued}
	require.NoError(t, statemachine.TransitionNode(ns, "start"))
	require.NoError(t, statemachine.TransitionNode(ns, "fail"))
	require.NoError(t, statemachine.TransitionNode(ns, "retry"))
	assert.Equal(t, domain.NodeRetrying, ns.Status)
	require.NoError(t, statemachine.TransitionNode(ns, "queue"))
	assert.Equal(t, domain.NodeQueued, ns.Status)
}

func TestTransitionNode_InvalidRejected(t *testing.T) {
	ns := &domain.NodeState{Status: domain.NodeCompleted}
	err := statemachine.TransitionNode(ns, "start")
	require.Error(t, err)
}
