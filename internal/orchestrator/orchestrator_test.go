package orchestrator_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkflow-ai/officeflow-engine/internal/dispatch"
	"github.com/linkflow-ai/officeflow-engine/internal/domain"
	"github.com/linkflow-ai/officeflow-engine/internal/orchestrator"
	"github.com/linkflow-ai/officeflow-engine/internal/store"
)

func testEngine(t *testing.T) (*orchestrator.Orchestrator, *store.MemoryStore, *dispatch.MemoryBus) {
	t.Helper()
	st := store.NewMemoryStore()
	bus := dispatch.NewMemoryBus()
	cfg := orchestrator.DefaultConfig("test-instance")
	cfg.LockTTL = 2 * time.Second
	cfg.LockRenewEvery = time.Second
	cfg.RetryPollInterval = 20 * time.Millisecond
	cfg.TimeoutScanInterval = 20 * time.Millisecond
	o := orchestrator.New(cfg, st, bus, nil)
	return o, st, bus
}

func trigger() domain.TriggerEvent {
	return domain.TriggerEvent{Type: domain.TriggerOnboard, Payload: domain.Variables{}, Timestamp: time.Now().UnixMilli()}
}

// resultFor builds a success/failure result envelope for nodeID in runID,
// the way a node executor service would reply on node.execute.result.
func resultFor(runID, nodeID string, status dispatch.ResultStatus, errDetails *domain.ErrorDetails, output domain.Variables) dispatch.NodeExecutionResult {
	return dispatch.NodeExecutionResult{
		RunID: runID, NodeID: nodeID, Status: status, Output: output, Error: errDetails,
		Metadata: dispatch.ResultMetadata{Timestamp: time.Now().UnixMilli()},
	}
}

func linearDefinition() *domain.WorkflowDefinition {
	return &domain.WorkflowDefinition{
		ID: "wf-linear", OrgID: "org-1", Name: "linear", Trigger: domain.TriggerOnboard, Version: 1, IsActive: true,
		DAG: domain.DAG{
			Nodes: []domain.Node{
				{ID: "a", Type: domain.NodeEmailSend, Name: "send-welcome"},
				{ID: "b", Type: domain.NodeSlackMessage, Name: "notify-slack"},
			},
			Edges: []domain.Edge{{ID: "e1", FromNodeID: "a", ToNodeID: "b"}},
		},
	}
}

// Scenario 1: linear happy path — two nodes, one dependency, both succeed.
func TestExecuteWorkflow_LinearHappyPath(t *testing.T) {
	o, st, _ := testEngine(t)
	ctx := context.Background()

	runState, verrs, err := o.ExecuteWorkflow(ctx, linearDefinition(), "emp-1", trigger(), "")
	require.NoError(t, err)
	require.Empty(t, verrs)
	require.NotNil(t, runState)
	assert.Equal(t, domain.WorkflowRunning, runState.Status)
	assert.True(t, runState.CurrentNodes["a"])

	require.NoError(t, o.HandleNodeResult(ctx, resultFor(runState.RunID, "a", dispatch.ResultSuccess, nil, domain.Variables{"ok": true})))

	mid, err := st.GetWorkflowState(ctx, runState.RunID)
	require.NoError(t, err)
	assert.True(t, mid.CompletedNodes["a"])
	assert.True(t, mid.CurrentNodes["b"])

	require.NoError(t, o.HandleNodeResult(ctx, resultFor(runState.RunID, "b", dispatch.ResultSuccess, nil, domain.Variables{"ok": true})))

	final, err := st.GetWorkflowState(ctx, runState.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowCompleted, final.Status)
	assert.Empty(t, final.CurrentNodes)
	assert.Len(t, final.CompletedNodes, 2)
}

// Scenario 2: retryable failure eventually succeeds after two scheduled
// retries, the node's attempt counter advancing 1 -> 2 -> 3 and its status
// cycling FAILED -> RETRYING -> QUEUED -> RUNNING each time. Exact backoff
// math (2000ms/4000ms for {backoffMs:2000,multiplier:2,jitter:false}) is
// covered in internal/retry; here the policy uses small values so the
// background retry processor's poll loop can observe both retries quickly.
func TestHandleNodeResult_RetryThenSucceed(t *testing.T) {
	o, st, _ := testEngine(t)
	ctx := context.Background()

	def := linearDefinition()
	def.DAG.Nodes[0].RetryPolicy = &domain.RetryPolicy{MaxRetries: 3, BackoffMs: 15, Multiplier: 2, MaxBackoffMs: 1000, Jitter: false}

	runState, _, err := o.ExecuteWorkflow(ctx, def, "emp-1", trigger(), "")
	require.NoError(t, err)

	o.Start(ctx)
	defer o.Stop()

	retryableErr := &domain.ErrorDetails{Code: "EXTERNAL_SERVICE_ERROR", Message: "service unavailable"}

	require.NoError(t, o.HandleNodeResult(ctx, resultFor(runState.RunID, "a", dispatch.ResultFailed, retryableErr, nil)))
	ns, err := st.GetNodeState(ctx, runState.RunID, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.NodeRetrying, ns.Status)
	assert.Equal(t, 1, ns.Attempt)

	require.Eventually(t, func() bool {
		ns, _ := st.GetNodeState(ctx, runState.RunID, "a")
		return ns != nil && ns.Status == domain.NodeRunning && ns.Attempt == 2
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, o.HandleNodeResult(ctx, resultFor(runState.RunID, "a", dispatch.ResultFailed, retryableErr, nil)))

	require.Eventually(t, func() bool {
		ns, _ := st.GetNodeState(ctx, runState.RunID, "a")
		return ns != nil && ns.Status == domain.NodeRunning && ns.Attempt == 3
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, o.HandleNodeResult(ctx, resultFor(runState.RunID, "a", dispatch.ResultSuccess, nil, domain.Variables{"ok": true})))
	require.NoError(t, o.HandleNodeResult(ctx, resultFor(runState.RunID, "b", dispatch.ResultSuccess, nil, domain.Variables{"ok": true})))

	final, err := st.GetWorkflowState(ctx, runState.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowCompleted, final.Status)
}

// Scenario 3: a non-retryable failure on the only in-flight node fails the
// workflow immediately (no eligible nodes, no in-flight nodes remain).
func TestHandleNodeResult_NonRetryableFailureFailsWorkflow(t *testing.T) {
	o, st, _ := testEngine(t)
	ctx := context.Background()

	runState, _, err := o.ExecuteWorkflow(ctx, linearDefinition(), "emp-1", trigger(), "")
	require.NoError(t, err)

	fatalErr := &domain.ErrorDetails{Code: "VALIDATION_ERROR", Message: "bad input"}
	require.NoError(t, o.HandleNodeResult(ctx, resultFor(runState.RunID, "a", dispatch.ResultFailed, fatalErr, nil)))

	final, err := st.GetWorkflowState(ctx, runState.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowFailed, final.Status)
	assert.True(t, final.FailedNodes["a"])
	assert.Empty(t, final.CurrentNodes)
}

// Scenario 4: a failure whose error code is compensatable drives the
// workflow through COMPENSATING and back to FAILED, with the compensating
// node (identity.deprovision, the synthesized reverse of identity.provision)
// dispatched and completed.
func TestHandleNodeResult_CompensationRunsOnFailure(t *testing.T) {
	o, st, bus := testEngine(t)
	ctx := context.Background()

	def := &domain.WorkflowDefinition{
		ID: "wf-comp", OrgID: "org-1", Name: "comp", Trigger: domain.TriggerOnboard, Version: 1, IsActive: true,
		DAG: domain.DAG{
			Nodes: []domain.Node{
				{ID: "provision", Type: domain.NodeIdentityProvision, Name: "provision"},
				{ID: "invite", Type: domain.NodeSlackChannelInvite, Name: "invite"},
			},
			Edges: []domain.Edge{{ID: "e1", FromNodeID: "provision", ToNodeID: "invite"}},
		},
	}

	runState, _, err := o.ExecuteWorkflow(ctx, def, "emp-1", trigger(), "")
	require.NoError(t, err)

	require.NoError(t, o.HandleNodeResult(ctx, resultFor(runState.RunID, "provision", dispatch.ResultSuccess, nil, domain.Variables{"identityId": "id-1"})))

	fatalErr := &domain.ErrorDetails{Code: "EXTERNAL_SERVICE_ERROR", Message: "slack down"}
	// Force the invite node past its retry budget by disabling retry for this run's type via a zero-retry override.
	def.DAG.Nodes[1].RetryPolicy = &domain.RetryPolicy{MaxRetries: 0, BackoffMs: 10, Multiplier: 1, MaxBackoffMs: 10, Jitter: false}
	require.NoError(t, o.HandleNodeResult(ctx, resultFor(runState.RunID, "invite", dispatch.ResultFailed, fatalErr, nil)))

	var compNodeID string
	require.Eventually(t, func() bool {
		for _, msg := range bus.Published() {
			if msg.Topic == "node.execute.identity.deprovision" {
				compNodeID = "compensation:provision"
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
	require.NotEmpty(t, compNodeID)

	require.NoError(t, o.HandleNodeResult(ctx, resultFor(runState.RunID, compNodeID, dispatch.ResultSuccess, nil, domain.Variables{"revoked": true})))

	require.Eventually(t, func() bool {
		s, err := st.GetWorkflowState(ctx, runState.RunID)
		return err == nil && s.Status == domain.WorkflowFailed
	}, time.Second, 5*time.Millisecond)
}

// Scenario 5: a diamond DAG (one entry fans out to two parallel branches
// that join on a final node) dispatches both parallel branches exactly
// once and only joins after both complete — no duplicate dispatch of the
// join node.
func TestExecuteWorkflow_ParallelFanOutJoin(t *testing.T) {
	o, st, bus := testEngine(t)
	ctx := context.Background()

	def := &domain.WorkflowDefinition{
		ID: "wf-diamond", OrgID: "org-1", Name: "diamond", Trigger: domain.TriggerOnboard, Version: 1, IsActive: true,
		DAG: domain.DAG{
			Nodes: []domain.Node{
				{ID: "start", Type: domain.NodeEmailSend, Name: "start"},
				{ID: "left", Type: domain.NodeSlackMessage, Name: "left"},
				{ID: "right", Type: domain.NodeCalendarSchedule, Name: "right"},
				{ID: "join", Type: domain.NodeWebhookCall, Name: "join"},
			},
			Edges: []domain.Edge{
				{ID: "e1", FromNodeID: "start", ToNodeID: "left"},
				{ID: "e2", FromNodeID: "start", ToNodeID: "right"},
				{ID: "e3", FromNodeID: "left", ToNodeID: "join"},
				{ID: "e4", FromNodeID: "right", ToNodeID: "join"},
			},
		},
	}

	runState, _, err := o.ExecuteWorkflow(ctx, def, "emp-1", trigger(), "")
	require.NoError(t, err)

	require.NoError(t, o.HandleNodeResult(ctx, resultFor(runState.RunID, "start", dispatch.ResultSuccess, nil, nil)))

	mid, err := st.GetWorkflowState(ctx, runState.RunID)
	require.NoError(t, err)
	assert.True(t, mid.CurrentNodes["left"])
	assert.True(t, mid.CurrentNodes["right"])
	assert.False(t, mid.CurrentNodes["join"])

	require.NoError(t, o.HandleNodeResult(ctx, resultFor(runState.RunID, "left", dispatch.ResultSuccess, nil, nil)))

	afterOneBranch, err := st.GetWorkflowState(ctx, runState.RunID)
	require.NoError(t, err)
	assert.False(t, afterOneBranch.CurrentNodes["join"], "join must not dispatch until both branches complete")

	require.NoError(t, o.HandleNodeResult(ctx, resultFor(runState.RunID, "right", dispatch.ResultSuccess, nil, nil)))

	afterBothBranches, err := st.GetWorkflowState(ctx, runState.RunID)
	require.NoError(t, err)
	assert.True(t, afterBothBranches.CurrentNodes["join"])

	joinDispatches := 0
	for _, msg := range bus.Published() {
		if msg.Topic == "node.execute.webhook.call" {
			joinDispatches++
		}
	}
	assert.Equal(t, 1, joinDispatches, "join node must be dispatched exactly once")

	require.NoError(t, o.HandleNodeResult(ctx, resultFor(runState.RunID, "join", dispatch.ResultSuccess, nil, nil)))
	final, err := st.GetWorkflowState(ctx, runState.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowCompleted, final.Status)
}

// A condition node whose evaluated branch is false skips the true-branch
// target and leaves the false-branch target to run and complete normally.
func TestHandleNodeResult_ConditionSkipsUntakenBranch(t *testing.T) {
	o, st, _ := testEngine(t)
	ctx := context.Background()

	def := &domain.WorkflowDefinition{
		ID: "wf-cond", OrgID: "org-1", Name: "cond", Trigger: domain.TriggerOnboard, Version: 1, IsActive: true,
		DAG: domain.DAG{
			Nodes: []domain.Node{
				{ID: "check", Type: domain.NodeCondition, Name: "check", Params: domain.Variables{
					"trueNodeId": "onTrue", "falseNodeId": "onFalse",
				}},
				{ID: "onTrue", Type: domain.NodeSlackMessage, Name: "on-true"},
				{ID: "onFalse", Type: domain.NodeEmailSend, Name: "on-false"},
			},
			Edges: []domain.Edge{
				{ID: "e1", FromNodeID: "check", ToNodeID: "onTrue"},
				{ID: "e2", FromNodeID: "check", ToNodeID: "onFalse"},
			},
		},
	}

	runState, _, err := o.ExecuteWorkflow(ctx, def, "emp-1", trigger(), "")
	require.NoError(t, err)

	require.NoError(t, o.HandleNodeResult(ctx, resultFor(runState.RunID, "check", dispatch.ResultSuccess, nil, domain.Variables{"result": false})))

	mid, err := st.GetWorkflowState(ctx, runState.RunID)
	require.NoError(t, err)
	assert.True(t, mid.SkippedNodes["onTrue"], "the untaken true-branch target must be skipped")
	assert.True(t, mid.CurrentNodes["onFalse"], "the taken false-branch target must be dispatched")
	assert.False(t, mid.CurrentNodes["onTrue"])

	require.NoError(t, o.HandleNodeResult(ctx, resultFor(runState.RunID, "onFalse", dispatch.ResultSuccess, nil, nil)))

	final, err := st.GetWorkflowState(ctx, runState.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowCompleted, final.Status)
}

// Scenario 6: a workflow definition containing a cycle is rejected at
// ExecuteWorkflow time with a CYCLE_DETECTED validation error, and no
// run state is persisted.
func TestExecuteWorkflow_RejectsCycle(t *testing.T) {
	o, st, _ := testEngine(t)
	ctx := context.Background()

	def := &domain.WorkflowDefinition{
		ID: "wf-cycle", OrgID: "org-1", Name: "cycle", Trigger: domain.TriggerOnboard, Version: 1, IsActive: true,
		DAG: domain.DAG{
			Nodes: []domain.Node{
				{ID: "a", Type: domain.NodeEmailSend, Name: "a"},
				{ID: "b", Type: domain.NodeSlackMessage, Name: "b"},
			},
			Edges: []domain.Edge{
				{ID: "e1", FromNodeID: "a", ToNodeID: "b"},
				{ID: "e2", FromNodeID: "b", ToNodeID: "a"},
			},
		},
	}

	runState, verrs, err := o.ExecuteWorkflow(ctx, def, "emp-1", trigger(), "")
	require.NoError(t, err)
	require.Nil(t, runState)
	require.NotEmpty(t, verrs)

	ids, err := st.ListActiveRunIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

// PauseWorkflow/ResumeWorkflow/CancelWorkflow exercise the operator-facing
// lifecycle controls and their statemachine-enforced preconditions.
func TestPauseResumeCancel(t *testing.T) {
	o, st, _ := testEngine(t)
	ctx := context.Background()

	runState, _, err := o.ExecuteWorkflow(ctx, linearDefinition(), "emp-1", trigger(), "")
	require.NoError(t, err)

	require.NoError(t, o.PauseWorkflow(ctx, runState.RunID))
	paused, err := st.GetWorkflowState(ctx, runState.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowPaused, paused.Status)

	assert.Error(t, o.PauseWorkflow(ctx, runState.RunID), "pausing an already-paused run is an invalid transition")

	require.NoError(t, o.ResumeWorkflow(ctx, runState.RunID))
	resumed, err := st.GetWorkflowState(ctx, runState.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowRunning, resumed.Status)

	require.NoError(t, o.CancelWorkflow(ctx, runState.RunID, "operator request"))
	cancelled, err := st.GetWorkflowState(ctx, runState.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowCancelled, cancelled.Status)

	nodeA, err := st.GetNodeState(ctx, runState.RunID, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.NodeCancelled, nodeA.Status)
}

// HandleNodeResult must silently no-op a result for a node that is already
// terminal (e.g. CANCELLED), per the engine's cooperative-cancellation
// contract: in-flight executor work may complete after cancellation and
// its delivery must not be treated as an error.
func TestHandleNodeResult_NoopAfterCancellation(t *testing.T) {
	o, st, _ := testEngine(t)
	ctx := context.Background()

	runState, _, err := o.ExecuteWorkflow(ctx, linearDefinition(), "emp-1", trigger(), "")
	require.NoError(t, err)
	require.NoError(t, o.CancelWorkflow(ctx, runState.RunID, "test"))

	err = o.HandleNodeResult(ctx, resultFor(runState.RunID, "a", dispatch.ResultSuccess, nil, domain.Variables{"ok": true}))
	require.NoError(t, err)

	ns, err := st.GetNodeState(ctx, runState.RunID, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.NodeCancelled, ns.Status, "a result for an already-terminal node must not resurrect it")
}

// A result for a run that no longer exists in the store (late/duplicate
// delivery after the run was deleted) is accepted and silently ignored.
func TestHandleNodeResult_UnknownRunIsNoop(t *testing.T) {
	o, _, _ := testEngine(t)
	ctx := context.Background()

	err := o.HandleNodeResult(ctx, resultFor("no-such-run", "a", dispatch.ResultSuccess, nil, nil))
	assert.NoError(t, err)
}
