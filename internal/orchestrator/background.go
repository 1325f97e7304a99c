package orchestrator

import (
	"context"
	"time"

	"github.com/linkflow-ai/officeflow-engine/internal/breaker"
	"github.com/linkflow-ai/officeflow-engine/internal/domain"
	"github.com/linkflow-ai/officeflow-engine/internal/execctx"
	"github.com/linkflow-ai/officeflow-engine/internal/pkg/metrics"
	"github.com/linkflow-ai/officeflow-engine/internal/statemachine"
)

// runRetryProcessor ticks every cfg.RetryPollInterval and re-dispatches any
// RETRYING node whose nextRetryAt has passed, per spec §5's background-task
// model: a ticker-driven loop with an explicit cancellation token, never a
// raw time.Sleep on the critical path.
func (o *Orchestrator) runRetryProcessor(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(o.cfg.RetryPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.processDueRetries(ctx)
		}
	}
}

func (o *Orchestrator) processDueRetries(ctx context.Context) {
	due, err := o.retries.PopDueRetries(ctx, o.cfg.RetryPollBatchSize)
	if err != nil {
		return
	}
	for _, entry := range due {
		o.redispatchRetry(ctx, entry.RunID, entry.NodeID)
	}
}

// redispatchRetry re-dispatches a single node that PopDueRetries has already
// transitioned RETRYING -> QUEUED. It acquires the run's lock itself since
// it runs off the retry-processor tick, not an inbound event.
func (o *Orchestrator) redispatchRetry(ctx context.Context, runID, nodeID string) {
	runState, stop, err := o.lockedState(ctx, runID)
	if err != nil {
		return
	}
	defer stop()

	if runState.Status != domain.WorkflowRunning {
		return
	}
	nodeState, err := o.st.GetNodeState(ctx, runID, nodeID)
	if err != nil || nodeState == nil || nodeState.Status != domain.NodeQueued {
		return
	}
	parsed, ok := o.registry.Get(runState.WorkflowID)
	if !ok {
		return
	}
	node := parsed.GetNode(nodeID)
	if node == nil {
		return
	}

	nodeState.Attempt++
	nodeOutputs := o.collectNodeOutputs(ctx, runState, parsed)
	execCtx := &domain.ExecutionContext{
		OrgID: runState.OrgID, EmployeeID: runState.EmployeeID,
		Variables: runState.Context, Secrets: map[string]string{},
	}

	input, err := execctx.ResolveMappings(node.ParamMappings, execCtx, nodeOutputs)
	if err != nil {
		nodeState.ErrorDetails = &domain.ErrorDetails{Code: "MISSING_REQUIRED_PARAMETER", Message: err.Error(), NodeID: nodeID, Timestamp: time.Now()}
		_ = statemachine.TransitionNode(nodeState, "start")
		_ = statemachine.TransitionNode(nodeState, "fail")
		_ = o.st.PutNodeState(ctx, nodeState)
		runState.FailedNodes[nodeID] = true
		delete(runState.CurrentNodes, nodeID)
		_ = o.st.PutWorkflowState(ctx, runState)
		_ = o.maybeFinish(ctx, runState, parsed)
		return
	}
	for k, v := range node.Params {
		if _, exists := input[k]; !exists {
			input[k] = v
		}
	}

	runState.CurrentNodes[nodeID] = true
	if err := o.st.PutWorkflowState(ctx, runState); err != nil {
		return
	}
	if err := o.dispatcher.DispatchOne(ctx, runState, nodeState, node, runState.CorrelationID, input, execCtx.Variables); err != nil {
		delete(runState.CurrentNodes, nodeID)
		runState.FailedNodes[nodeID] = true
		_ = o.st.PutWorkflowState(ctx, runState)
		if o.errs != nil {
			o.errs.Log(ctx, domain.ErrorLogEntry{
				Level: "ERROR", Category: "NODE",
				Code: "DISPATCH_FAILED", Message: err.Error(), Timestamp: time.Now(),
			})
		}
		_ = o.maybeFinish(ctx, runState, parsed)
	}
}

// runTimeoutMonitor ticks every cfg.TimeoutScanInterval, scanning every
// tracked run for a workflow or node that has exceeded its configured
// timeout and firing the "timeout" transition, per spec §4.9.
func (o *Orchestrator) runTimeoutMonitor(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(o.cfg.TimeoutScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.scanTimeouts(ctx)
		}
	}
}

func (o *Orchestrator) scanTimeouts(ctx context.Context) {
	runIDs, err := o.st.ListActiveRunIDs(ctx)
	if err != nil {
		return
	}
	now := time.Now()
	for _, runID := range runIDs {
		o.scanRunTimeout(ctx, runID, now)
	}
}

// scanRunTimeout checks one run against both timeout thresholds without
// holding the lock, then re-checks and applies the timeout transition under
// lock only if a violation is still present — avoiding a lock acquisition
// for the overwhelmingly common case of a run well within its budget.
func (o *Orchestrator) scanRunTimeout(ctx context.Context, runID string, now time.Time) {
	runState, err := o.st.GetWorkflowState(ctx, runID)
	if err != nil || runState == nil || runState.Status != domain.WorkflowRunning {
		return
	}
	if !o.exceedsTimeout(ctx, runState, now) {
		return
	}

	runState, stop, err := o.lockedState(ctx, runID)
	if err != nil {
		return
	}
	defer stop()
	if runState.Status != domain.WorkflowRunning {
		return
	}
	if !o.exceedsTimeout(ctx, runState, now) {
		return
	}

	nodeStates, err := o.st.GetAllNodeStates(ctx, runID)
	if err != nil {
		return
	}
	parsed, _ := o.registry.Get(runState.WorkflowID)
	for _, ns := range nodeStates {
		if ns.Status != domain.NodeRunning {
			continue
		}
		if err := statemachine.TransitionNode(ns, "timeout"); err != nil {
			continue
		}
		_ = o.st.PutNodeState(ctx, ns)
		delete(runState.CurrentNodes, ns.NodeID)
		runState.FailedNodes[ns.NodeID] = true
		if parsed != nil {
			if node := parsed.GetNode(ns.NodeID); node != nil {
				_ = o.breakers.RecordOutcome(ctx, breaker.ServiceForNodeType(node.Type), false)
				metrics.RecordNodeExecution(string(node.Type), string(ns.Status), nodeDuration(ns))
			}
		}
	}

	runState.ErrorDetails = &domain.ErrorDetails{Code: "WORKFLOW_TIMEOUT", Message: "workflow exceeded its execution timeout", Timestamp: now}
	if err := statemachine.TransitionWorkflow(runState, "timeout"); err != nil {
		return
	}
	_ = o.st.PutWorkflowState(ctx, runState)
	metrics.RecordWorkflowExecution(runState.WorkflowID, string(domain.WorkflowTimeout), runState.Context.GetString("event.type"), time.Since(runState.StartedAt).Seconds())
	metrics.WorkflowsInProgress.Dec()

	if o.errs != nil {
		o.errs.Log(ctx, domain.ErrorLogEntry{
			Level: "ERROR", Category: "WORKFLOW",
			Code: "WORKFLOW_TIMEOUT", Message: "workflow exceeded its execution timeout", Timestamp: now,
		})
	}
}

// exceedsTimeout checks the run-level deadline first, then each RUNNING
// node against its own declared TimeoutMs (parser.go treats 0 as unset),
// falling back to cfg.NodeExecutionTimeout when a node has none or the
// workflow definition can't be resolved.
func (o *Orchestrator) exceedsTimeout(ctx context.Context, runState *domain.WorkflowState, now time.Time) bool {
	if now.Sub(runState.StartedAt) > o.cfg.WorkflowExecutionTimeout {
		return true
	}
	if len(runState.CurrentNodes) == 0 {
		return false
	}
	nodeStates, err := o.st.GetAllNodeStates(ctx, runState.RunID)
	if err != nil {
		return false
	}
	parsed, _ := o.registry.Get(runState.WorkflowID)
	for _, ns := range nodeStates {
		if ns.Status != domain.NodeRunning || ns.StartedAt == nil {
			continue
		}
		timeout := o.cfg.NodeExecutionTimeout
		if parsed != nil {
			if node := parsed.GetNode(ns.NodeID); node != nil && node.TimeoutMs > 0 {
				timeout = time.Duration(node.TimeoutMs) * time.Millisecond
			}
		}
		if now.Sub(*ns.StartedAt) > timeout {
			return true
		}
	}
	return false
}
