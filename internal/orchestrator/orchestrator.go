// Package orchestrator implements the event-driven scheduler (C9): it
// acquires run locks, dispatches eligible nodes, consumes node execution
// results, advances the DAG, and drives every run to a terminal status,
// wiring together the dag, statemachine, store, execctx, breaker, retry,
// compensation, dispatch and errsink packages.
//
// Grounded on the teacher's internal/worker/processor/processor.go
// (ProcessExecution: level-by-level dispatch, result application, error
// pipeline) generalized from a single-process, wait-group-barrier model
// into the spec's fully event-driven, lock-serialized, many-instance model.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/linkflow-ai/officeflow-engine/internal/breaker"
	"github.com/linkflow-ai/officeflow-engine/internal/compensation"
	"github.com/linkflow-ai/officeflow-engine/internal/dag"
	"github.com/linkflow-ai/officeflow-engine/internal/dispatch"
	"github.com/linkflow-ai/officeflow-engine/internal/domain"
	"github.com/linkflow-ai/officeflow-engine/internal/errsink"
	"github.com/linkflow-ai/officeflow-engine/internal/execctx"
	"github.com/linkflow-ai/officeflow-engine/internal/pkg/metrics"
	"github.com/linkflow-ai/officeflow-engine/internal/retry"
	"github.com/linkflow-ai/officeflow-engine/internal/statemachine"
	"github.com/linkflow-ai/officeflow-engine/internal/store"
)

// nodeDuration returns the elapsed time between a node's StartedAt and
// EndedAt, or 0 if either is unset (never dispatched, or still in flight).
func nodeDuration(nodeState *domain.NodeState) float64 {
	if nodeState.StartedAt == nil || nodeState.EndedAt == nil {
		return 0
	}
	return nodeState.EndedAt.Sub(*nodeState.StartedAt).Seconds()
}

// ErrLockUnavailable is returned when a run's distributed lock is held by
// another caller.
var ErrLockUnavailable = errors.New("LOCK_UNAVAILABLE")

// ErrRunNotFound is returned when an operation names a runId with no
// tracked WorkflowState.
var ErrRunNotFound = errors.New("run not found")

// Orchestrator is the engine's event-driven core. One instance may be
// shared by many bus-consumer goroutines; all cross-instance coordination
// happens through the Store.
type Orchestrator struct {
	cfg Config

	st         store.Store
	bus        dispatch.Bus
	dispatcher *dispatch.Dispatcher
	breakers   *breaker.Manager
	retries    *retry.Manager
	compExec   *compensation.Executor
	errs       errsink.ErrorSink
	registry   *Registry

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, st store.Store, bus dispatch.Bus, errs errsink.ErrorSink) *Orchestrator {
	dispatcher := dispatch.NewDispatcher(bus, st)
	breakerCfg := breaker.DefaultConfig()
	breakerCfg.FailureThreshold = cfg.CircuitBreakerThreshold
	breakers := breaker.NewManager(st, breakerCfg)
	dispatcher.SetBreakers(breakers)
	return &Orchestrator{
		cfg:        cfg,
		st:         st,
		bus:        bus,
		dispatcher: dispatcher,
		breakers:   breakers,
		retries:    retry.NewManager(st),
		compExec:   compensation.NewExecutor(dispatcher, st),
		errs:       errs,
		registry:   NewRegistry(),
	}
}

// Breakers exposes the circuit breaker manager so executors or the engine
// service can wrap outbound calls to external services through it.
func (o *Orchestrator) Breakers() *breaker.Manager { return o.breakers }

// Start launches the background retry processor and timeout monitor on a
// context derived from ctx. Stop cancels that context and waits for both to
// drain.
func (o *Orchestrator) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.wg.Add(2)
	go o.runRetryProcessor(runCtx)
	go o.runTimeoutMonitor(runCtx)
}

// Stop cancels every background task and blocks until they exit.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
}

// ExecuteWorkflow loads+parses workflow (via the Registry), creates a new
// run, acquires its lock, writes initial state, transitions it to RUNNING
// and dispatches entry nodes. A non-empty validation error slice means the
// definition was rejected synchronously; no state is written, per spec §7.
func (o *Orchestrator) ExecuteWorkflow(ctx context.Context, def *domain.WorkflowDefinition, employeeID string, trigger domain.TriggerEvent, correlationID string) (*domain.WorkflowState, []dag.ValidationError, error) {
	parsed, errs := o.registry.Register(def)
	if len(errs) > 0 {
		return nil, errs, nil
	}

	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	runID := uuid.New().String()
	execCtx := domain.NewExecutionContext(def.OrgID, employeeID, trigger, correlationID)
	runState := domain.NewWorkflowState(runID, def, employeeID, correlationID, execCtx.Variables)

	ok, err := o.st.AcquireLock(ctx, runID, o.cfg.InstanceID, o.cfg.LockTTL)
	if err != nil {
		return nil, nil, &store.ErrStore{Op: "AcquireLock", Err: err}
	}
	if !ok {
		return nil, nil, ErrLockUnavailable
	}
	defer func() { _, _ = o.st.ReleaseLock(ctx, runID, o.cfg.InstanceID) }()

	if err := statemachine.TransitionWorkflow(runState, "start"); err != nil {
		return nil, nil, err
	}
	if err := o.st.PutWorkflowState(ctx, runState); err != nil {
		return nil, nil, err
	}
	metrics.WorkflowsInProgress.Inc()

	eligible := parsed.GetEligibleNodes(nil, nil, nil)
	o.dispatchNodes(ctx, runState, parsed, eligible, correlationID)
	return runState, nil, nil
}

// PauseWorkflow requires current status RUNNING and transitions to PAUSED.
func (o *Orchestrator) PauseWorkflow(ctx context.Context, runID string) error {
	runState, stop, err := o.lockedState(ctx, runID)
	if err != nil {
		return err
	}
	defer stop()
	if err := statemachine.TransitionWorkflow(runState, "pause"); err != nil {
		return err
	}
	return o.st.PutWorkflowState(ctx, runState)
}

// ResumeWorkflow requires PAUSED, transitions to RUNNING, recomputes
// eligible nodes and dispatches them.
func (o *Orchestrator) ResumeWorkflow(ctx context.Context, runID string) error {
	runState, stop, err := o.lockedState(ctx, runID)
	if err != nil {
		return err
	}
	defer stop()
	if err := statemachine.TransitionWorkflow(runState, "resume"); err != nil {
		return err
	}
	if err := o.st.PutWorkflowState(ctx, runState); err != nil {
		return err
	}

	parsed, ok := o.registry.Get(runState.WorkflowID)
	if !ok {
		return fmt.Errorf("workflow %s not registered with this instance", runState.WorkflowID)
	}
	var eligible []string
	for _, id := range parsed.GetEligibleNodes(runState.CompletedNodes, runState.FailedNodes, runState.CurrentNodes) {
		if !runState.SkippedNodes[id] {
			eligible = append(eligible, id)
		}
	}
	o.dispatchNodes(ctx, runState, parsed, eligible, runState.CorrelationID)
	return nil
}

// CancelWorkflow requires RUNNING or PAUSED, transitions to CANCELLED, and
// cancels every RUNNING/QUEUED/RETRYING node.
func (o *Orchestrator) CancelWorkflow(ctx context.Context, runID, reason string) error {
	runState, stop, err := o.lockedState(ctx, runID)
	if err != nil {
		return err
	}
	defer stop()
	if err := statemachine.TransitionWorkflow(runState, "cancel"); err != nil {
		return err
	}
	metrics.RecordWorkflowExecution(runState.WorkflowID, string(domain.WorkflowCancelled), runState.Context.GetString("event.type"), time.Since(runState.StartedAt).Seconds())
	metrics.WorkflowsInProgress.Dec()

	nodeStates, err := o.st.GetAllNodeStates(ctx, runID)
	if err == nil {
		for _, ns := range nodeStates {
			switch ns.Status {
			case domain.NodeRetrying:
				_ = o.st.RemoveFromRetrySchedule(ctx, runID, ns.NodeID)
				if err := statemachine.TransitionNode(ns, "queue"); err != nil {
					continue
				}
				_ = o.dispatcher.CancelNode(ctx, ns, reason)
			case domain.NodeQueued, domain.NodeRunning:
				_ = o.dispatcher.CancelNode(ctx, ns, reason)
			}
		}
	}

	return o.st.PutWorkflowState(ctx, runState)
}

// HandleNodeResult applies an inbound node.execute.result message: it is
// the single entry point the bus consumer calls for every result. Results
// for an unknown run or an already-terminal node are accepted and treated
// as a no-op, per spec §5's cancellation note.
func (o *Orchestrator) HandleNodeResult(ctx context.Context, result dispatch.NodeExecutionResult) error {
	runState, err := o.st.GetWorkflowState(ctx, result.RunID)
	if err != nil {
		return err
	}
	if runState == nil {
		return nil
	}

	acquired, stop, err := store.AcquireLockWithRenewal(ctx, o.st, result.RunID, o.cfg.InstanceID, o.cfg.LockTTL, o.cfg.LockRenewEvery)
	if err != nil {
		return err
	}
	if !acquired {
		return ErrLockUnavailable
	}
	defer stop()

	runState, err = o.st.GetWorkflowState(ctx, result.RunID)
	if err != nil || runState == nil {
		return err
	}

	nodeState, err := o.st.GetNodeState(ctx, result.RunID, result.NodeID)
	if err != nil {
		return err
	}
	if nodeState == nil {
		return nil
	}
	if nodeState.Status.IsTerminal() {
		return nil
	}
	metrics.DecQueueDepth()

	if runState.Status == domain.WorkflowCompensating {
		_ = compensation.ApplyResult(nodeState, result.Status, result.Output, result.Error)
		_ = o.st.PutNodeState(ctx, nodeState)
		o.compExec.NotifyTerminal(result.RunID, result.NodeID, nodeState)
		return nil
	}

	parsed, ok := o.registry.Get(runState.WorkflowID)
	if !ok {
		return fmt.Errorf("workflow %s not registered with this instance", runState.WorkflowID)
	}

	if result.Status == dispatch.ResultSuccess {
		return o.handleNodeCompletion(ctx, runState, parsed, nodeState, result)
	}
	return o.handleNodeFailure(ctx, runState, parsed, nodeState, result)
}

// handleNodeCompletion implements spec §4.9's handleNodeCompletion: move
// the node to completed, merge its output into context, dispatch newly
// eligible nodes or evaluate overall completion.
func (o *Orchestrator) handleNodeCompletion(ctx context.Context, runState *domain.WorkflowState, parsed *dag.ParsedWorkflow, nodeState *domain.NodeState, result dispatch.NodeExecutionResult) error {
	if err := statemachine.TransitionNode(nodeState, "complete"); err != nil {
		return err
	}
	nodeState.Output = result.Output
	if err := o.st.PutNodeState(ctx, nodeState); err != nil {
		return err
	}

	delete(runState.CurrentNodes, nodeState.NodeID)
	runState.CompletedNodes[nodeState.NodeID] = true

	node := parsed.GetNode(nodeState.NodeID)
	var name string
	if node != nil {
		name = node.Name
	}
	if runState.Context == nil {
		runState.Context = make(domain.Variables)
	}
	mergeCtx := &domain.ExecutionContext{Variables: runState.Context}
	mergeCtx.MergeNodeOutput(nodeState.NodeID, name, result.Output)
	runState.Context = mergeCtx.Variables

	if node != nil && node.Type == domain.NodeCondition {
		o.applyConditionBranch(runState, node, nodeState)
	}
	if node != nil {
		_ = o.breakers.RecordOutcome(ctx, breaker.ServiceForNodeType(node.Type), true)
		metrics.RecordNodeExecution(string(node.Type), string(nodeState.Status), nodeDuration(nodeState))
	}

	if err := o.st.PutWorkflowState(ctx, runState); err != nil {
		return err
	}
	return o.maybeFinish(ctx, runState, parsed)
}

// applyConditionBranch implements the condition-node branching rule: a
// condition node's params name its two successors as trueNodeId/falseNodeId,
// and its output carries the evaluated boolean under "result". The branch
// not taken is marked SKIPPED so the completion predicate can still be
// satisfied without that node ever running; the condition node itself is
// never skipped and the branch taken is left untouched for normal
// eligibility/dispatch to pick up.
func (o *Orchestrator) applyConditionBranch(runState *domain.WorkflowState, node *domain.Node, nodeState *domain.NodeState) {
	trueID := node.Params.GetString("trueNodeId")
	falseID := node.Params.GetString("falseNodeId")
	if trueID == "" || falseID == "" {
		return
	}
	result := nodeState.Output.GetBool("result")
	skip := falseID
	if !result {
		skip = trueID
	}
	if runState.CompletedNodes[skip] || runState.FailedNodes[skip] || runState.CurrentNodes[skip] || runState.SkippedNodes[skip] {
		return
	}
	runState.SkippedNodes[skip] = true
}

// handleNodeFailure implements spec §4.9's handleNodeFailure: records the
// outcome against the node type's circuit breaker, classifies retryability
// of the reported error, schedules a retry or moves the node to failed,
// then evaluates continuation.
func (o *Orchestrator) handleNodeFailure(ctx context.Context, runState *domain.WorkflowState, parsed *dag.ParsedWorkflow, nodeState *domain.NodeState, result dispatch.NodeExecutionResult) error {
	node := parsed.GetNode(nodeState.NodeID)
	errDetails := result.Error
	if errDetails == nil {
		errDetails = &domain.ErrorDetails{Code: "UNKNOWN_ERROR", Message: "node execution failed"}
	}
	errDetails.NodeID = nodeState.NodeID
	errDetails.Timestamp = time.Now()

	var nodeType domain.NodeType
	var override *domain.RetryPolicy
	if node != nil {
		nodeType = node.Type
		override = node.RetryPolicy
	}
	policy := retry.ResolvePolicy(nodeType, override)
	nodeErr := retry.NodeError{Message: errDetails.Message, Code: errDetails.Code}
	errDetails.Retryable = retry.IsRetryable(nodeErr)

	if node != nil {
		_ = o.breakers.RecordOutcome(ctx, breaker.ServiceForNodeType(node.Type), false)
	}

	if err := statemachine.TransitionNode(nodeState, "fail"); err != nil {
		return err
	}
	nodeState.ErrorDetails = errDetails
	delete(runState.CurrentNodes, nodeState.NodeID)

	wantsRetry := result.Status == dispatch.ResultRetry || errDetails.Retryable
	canRetry := o.cfg.EnableRetry && nodeState.Attempt < policy.MaxRetries && wantsRetry

	if canRetry {
		if err := o.st.PutWorkflowState(ctx, runState); err != nil {
			return err
		}
		delay := retry.Delay(nodeState.Attempt, policy.BackoffMs, policy.Multiplier, policy.MaxBackoffMs, policy.Jitter)
		decision := retry.Decision{Retry: true, RetryAt: time.Now().Add(delay), Delay: delay}
		return o.retries.ScheduleRetry(ctx, nodeState, nodeType, decision)
	}

	runState.FailedNodes[nodeState.NodeID] = true
	runState.ErrorDetails = errDetails
	metrics.RecordNodeExecution(string(nodeType), string(nodeState.Status), nodeDuration(nodeState))
	if err := o.st.PutNodeState(ctx, nodeState); err != nil {
		return err
	}
	if err := o.st.PutWorkflowState(ctx, runState); err != nil {
		return err
	}

	if o.errs != nil {
		o.errs.Log(ctx, domain.ErrorLogEntry{
			Level: errsink.LevelError, Category: errsink.CategoryNode,
			Code: errDetails.Code, Message: errDetails.Message, Timestamp: time.Now(),
		})
	}
	return o.maybeFinish(ctx, runState, parsed)
}

// maybeFinish is the shared tail of every event handler that may have
// changed completed/failed/current: when nothing is currently in flight, it
// either dispatches the newly eligible nodes or, if none remain, evaluates
// the completion predicate and transitions the workflow to its terminal
// status, kicking off compensation in the background when applicable.
func (o *Orchestrator) maybeFinish(ctx context.Context, runState *domain.WorkflowState, parsed *dag.ParsedWorkflow) error {
	if len(runState.CurrentNodes) != 0 {
		return nil
	}

	var eligible []string
	for _, id := range parsed.GetEligibleNodes(runState.CompletedNodes, runState.FailedNodes, runState.CurrentNodes) {
		if !runState.SkippedNodes[id] {
			eligible = append(eligible, id)
		}
	}
	if len(eligible) > 0 {
		o.dispatchNodes(ctx, runState, parsed, eligible, runState.CorrelationID)
		return nil
	}

	// No eligible nodes and nothing in flight. A failed node already blocks
	// the run from ever completing normally, so it fails now regardless of
	// whether every node was formally accounted for (downstream-of-failure
	// nodes that depended on the failed node are simply never dispatched —
	// per handleNodeFailure's contract this is sufficient for failure,
	// independent of the success-path completion predicate below).
	var done bool
	status := domain.WorkflowCompleted
	if len(runState.FailedNodes) > 0 {
		done, status = true, domain.WorkflowFailed
	} else {
		done, status = parsed.IsComplete(runState.CompletedNodes, runState.FailedNodes, runState.SkippedNodes)
	}
	if !done {
		return nil
	}

	trigger := "complete"
	if status == domain.WorkflowFailed {
		trigger = "fail"
	}
	if err := statemachine.TransitionWorkflow(runState, trigger); err != nil {
		return err
	}
	if err := o.st.PutWorkflowState(ctx, runState); err != nil {
		return err
	}

	metrics.RecordWorkflowExecution(runState.WorkflowID, string(status), runState.Context.GetString("event.type"), time.Since(runState.StartedAt).Seconds())
	metrics.WorkflowsInProgress.Dec()

	if status == domain.WorkflowFailed && o.cfg.EnableCompensation &&
		runState.ErrorDetails != nil && compensation.IsCompensatable(runState.ErrorDetails.Code) {
		runCopy := *runState
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.runCompensation(&runCopy, parsed)
		}()
	}
	return nil
}

// runCompensation drives a failed run's compensation plan to completion. It
// is always launched detached from the inbound event that triggered it
// (via a background context and its own lock acquisitions) because the
// executor waits synchronously for each compensation node's terminal
// status, which itself arrives through a later, independent
// HandleNodeResult call that must be able to acquire the same run lock.
func (o *Orchestrator) runCompensation(runState *domain.WorkflowState, parsed *dag.ParsedWorkflow) {
	ctx := context.Background()

	// The HandleNodeResult call that launched this, and the one applying each
	// compensation node's result, may still hold the run lock when an
	// acquisition starts, so each acquisition keeps trying for up to LockTTL.
	acquire := func() (bool, func(), error) {
		deadline := time.Now().Add(o.cfg.LockTTL)
		for {
			acquired, stop, err := store.AcquireLockWithRenewal(ctx, o.st, runState.RunID, o.cfg.InstanceID, o.cfg.LockTTL, o.cfg.LockRenewEvery)
			if err != nil || acquired || time.Now().After(deadline) {
				return acquired, stop, err
			}
			time.Sleep(10 * time.Millisecond)
		}
	}

	acquired, stop, err := acquire()
	if err != nil || !acquired {
		return
	}
	if err := statemachine.TransitionWorkflow(runState, "start"); err != nil {
		stop()
		return
	}
	_ = o.st.PutWorkflowState(ctx, runState)
	stop()

	completedIDs := make([]string, 0, len(runState.CompletedNodes))
	for id := range runState.CompletedNodes {
		completedIDs = append(completedIDs, id)
	}
	plan := compensation.BuildPlan(completedIDs, parsed)
	o.compExec.Run(ctx, runState, runState.CorrelationID, plan)

	acquired, stop, err = acquire()
	if err != nil || !acquired {
		return
	}
	defer stop()
	if err := statemachine.TransitionWorkflow(runState, "complete"); err != nil {
		return
	}
	_ = o.st.PutWorkflowState(ctx, runState)
}

// dispatchNodes resolves each node's input from its parameter mappings and
// static params, marks it current, and fans dispatch out across the set.
// Nodes whose input fails to resolve are marked FAILED immediately rather
// than dispatched.
func (o *Orchestrator) dispatchNodes(ctx context.Context, runState *domain.WorkflowState, parsed *dag.ParsedWorkflow, nodeIDs []string, correlationID string) {
	if len(nodeIDs) == 0 {
		return
	}

	nodeOutputs := o.collectNodeOutputs(ctx, runState, parsed)
	execCtx := &domain.ExecutionContext{
		OrgID: runState.OrgID, EmployeeID: runState.EmployeeID,
		Variables: runState.Context, Secrets: map[string]string{},
	}

	var reqs []dispatch.DispatchRequest
	for _, id := range nodeIDs {
		node := parsed.GetNode(id)
		if node == nil {
			continue
		}
		nodeState := domain.NewNodeState(runState.RunID, id)

		input, err := execctx.ResolveMappings(node.ParamMappings, execCtx, nodeOutputs)
		if err != nil {
			_ = statemachine.TransitionNode(nodeState, "start")
			_ = statemachine.TransitionNode(nodeState, "fail")
			nodeState.ErrorDetails = &domain.ErrorDetails{Code: "MISSING_REQUIRED_PARAMETER", Message: err.Error(), NodeID: id, Timestamp: time.Now()}
			_ = o.st.PutNodeState(ctx, nodeState)
			runState.FailedNodes[id] = true
			if o.errs != nil {
				o.errs.Log(ctx, domain.ErrorLogEntry{
					Level: errsink.LevelError, Category: errsink.CategoryNode,
					Code: "MISSING_REQUIRED_PARAMETER", Message: err.Error(), Timestamp: time.Now(),
				})
			}
			continue
		}
		for k, v := range node.Params {
			if _, exists := input[k]; !exists {
				input[k] = v
			}
		}

		runState.CurrentNodes[id] = true
		reqs = append(reqs, dispatch.DispatchRequest{NodeState: nodeState, Node: node, Input: input, ExecContext: execCtx.Variables})
	}

	if err := o.st.PutWorkflowState(ctx, runState); err != nil {
		return
	}
	if len(reqs) == 0 {
		_ = o.maybeFinish(ctx, runState, parsed)
		return
	}

	errs := o.dispatcher.DispatchMany(ctx, runState, reqs, correlationID, o.cfg.MaxConcurrentWorkflows)
	anyFailed := false
	for i, err := range errs {
		if err == nil {
			continue
		}
		anyFailed = true
		id := reqs[i].NodeState.NodeID
		delete(runState.CurrentNodes, id)
		runState.FailedNodes[id] = true
		if o.errs != nil {
			o.errs.Log(ctx, domain.ErrorLogEntry{
				Level: errsink.LevelError, Category: errsink.CategoryNode,
				Code: "DISPATCH_FAILED", Message: err.Error(), Timestamp: time.Now(),
			})
		}
	}
	if anyFailed {
		_ = o.st.PutWorkflowState(ctx, runState)
	}
	// Always re-evaluate: even when every dispatched request succeeded this
	// is a cheap no-op (maybeFinish returns immediately while CurrentNodes is
	// non-empty), and it is the only place that notices a node which failed
	// to resolve its input earlier in this same call without ever reaching
	// DispatchMany.
	_ = o.maybeFinish(ctx, runState, parsed)
}

// collectNodeOutputs builds the node_output resolution table, keyed by both
// a node's id and its name, from whatever has completed so far.
func (o *Orchestrator) collectNodeOutputs(ctx context.Context, runState *domain.WorkflowState, parsed *dag.ParsedWorkflow) map[string]domain.Variables {
	out := make(map[string]domain.Variables)
	states, err := o.st.GetAllNodeStates(ctx, runState.RunID)
	if err != nil {
		return out
	}
	for _, ns := range states {
		if ns.Output == nil {
			continue
		}
		out[ns.NodeID] = ns.Output
		if node := parsed.GetNode(ns.NodeID); node != nil && node.Name != "" {
			out[node.Name] = ns.Output
		}
	}
	return out
}

// lockedState loads runID's state and acquires its lock with a background
// renewal goroutine, re-reading state once the lock is held since another
// instance may have mutated it in the meantime.
func (o *Orchestrator) lockedState(ctx context.Context, runID string) (*domain.WorkflowState, func(), error) {
	runState, err := o.st.GetWorkflowState(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	if runState == nil {
		return nil, nil, ErrRunNotFound
	}

	acquired, stop, err := store.AcquireLockWithRenewal(ctx, o.st, runID, o.cfg.InstanceID, o.cfg.LockTTL, o.cfg.LockRenewEvery)
	if err != nil {
		return nil, nil, err
	}
	if !acquired {
		return nil, nil, ErrLockUnavailable
	}

	fresh, err := o.st.GetWorkflowState(ctx, runID)
	if err != nil {
		stop()
		return nil, nil, err
	}
	if fresh == nil {
		stop()
		return nil, nil, ErrRunNotFound
	}
	return fresh, stop, nil
}
