package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/linkflow-ai/officeflow-engine/internal/breaker"
	"github.com/linkflow-ai/officeflow-engine/internal/domain"
	"github.com/linkflow-ai/officeflow-engine/internal/pkg/metrics"
	"github.com/linkflow-ai/officeflow-engine/internal/statemachine"
	"github.com/linkflow-ai/officeflow-engine/internal/store"
)

// Dispatcher performs the steps of spec §4.5 for every eligible node:
// compute idempotency key, transition to RUNNING, publish the request
// envelope onto the node type's mapped topic.
type Dispatcher struct {
	bus      Bus
	st       store.Store
	source   string
	rl       *RateLimiter
	breakers *breaker.Manager
}

func NewDispatcher(bus Bus, st store.Store) *Dispatcher {
	return &Dispatcher{bus: bus, st: st, source: "workflow-engine", rl: NewRateLimiter(DefaultRateLimitConfig())}
}

// SetBreakers wires a circuit breaker manager into the dispatcher: every
// DispatchOne first checks the target service's breaker (per spec §4.7,
// OPEN rejects the dispatch outright). Left nil, dispatch is unguarded —
// tests that don't care about breaker behavior can skip this.
func (d *Dispatcher) SetBreakers(m *breaker.Manager) {
	d.breakers = m
}

// IdempotencyKey builds "<runId>:<nodeId>:<attempt>", the triple executors
// use to deduplicate replays.
func IdempotencyKey(runID, nodeID string, attempt int) string {
	return fmt.Sprintf("%s:%s:%d", runID, nodeID, attempt)
}

// DispatchOne dispatches a single node: transitions its state to RUNNING
// (attempt is left unchanged for a first dispatch; callers re-dispatching
// after a retry must have already bumped Attempt on nodeState before
// calling this), builds and publishes the request envelope. On publish
// failure the node is marked FAILED with DISPATCH_FAILED and the error is
// returned.
func (d *Dispatcher) DispatchOne(ctx context.Context, runState *domain.WorkflowState, nodeState *domain.NodeState, node *domain.Node, correlationID string, input, execContext domain.Variables) error {
	topic, err := TopicForNodeType(node.Type)
	if err != nil {
		return err
	}

	if err := statemachine.TransitionNode(nodeState, "start"); err != nil {
		return err
	}

	if d.breakers != nil {
		if err := d.breakers.Check(ctx, breaker.ServiceForNodeType(node.Type)); err != nil {
			return d.markDispatchFailed(ctx, nodeState, err)
		}
	}

	req := NodeExecutionRequest{
		RunID:          runState.RunID,
		NodeID:         node.ID,
		OrgID:          runState.OrgID,
		EmployeeID:     runState.EmployeeID,
		NodeType:       node.Type,
		Input:          input,
		Context:        execContext,
		IdempotencyKey: IdempotencyKey(runState.RunID, node.ID, nodeState.Attempt),
		RetryAttempt:   nodeState.Attempt,
		TimeoutMs:      node.TimeoutMs,
	}
	envelope := RequestEnvelope{
		Type:    "node.execute.request",
		Payload: req,
		Metadata: RequestMetadata{
			CorrelationID: correlationID,
			OrgID:         runState.OrgID,
			EmployeeID:    runState.EmployeeID,
			Source:        d.source,
			Version:       "1.0",
		},
	}

	if err := d.st.PutNodeState(ctx, nodeState); err != nil {
		return err
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		return d.markDispatchFailed(ctx, nodeState, err)
	}
	if err := d.rl.Wait(ctx, runState.OrgID, node.Type); err != nil {
		return d.markDispatchFailed(ctx, nodeState, err)
	}
	if err := d.bus.Publish(ctx, topic, runState.OrgID, payload); err != nil {
		return d.markDispatchFailed(ctx, nodeState, err)
	}
	metrics.IncQueueDepth()
	return nil
}

func (d *Dispatcher) markDispatchFailed(ctx context.Context, nodeState *domain.NodeState, cause error) error {
	nodeState.ErrorDetails = &domain.ErrorDetails{Code: "DISPATCH_FAILED", Message: cause.Error()}
	if err := statemachine.TransitionNode(nodeState, "fail"); err != nil {
		return err
	}
	_ = d.st.PutNodeState(ctx, nodeState)
	return &ErrDispatchFailed{NodeID: nodeState.NodeID, Cause: cause}
}

// ErrDispatchFailed is returned when publishing a node's request fails.
type ErrDispatchFailed struct {
	NodeID string
	Cause  error
}

func (e *ErrDispatchFailed) Error() string {
	return fmt.Sprintf("DISPATCH_FAILED: node %s: %v", e.NodeID, e.Cause)
}
func (e *ErrDispatchFailed) Unwrap() error { return e.Cause }

// DispatchRequest bundles everything DispatchMany needs for one node so
// callers can fan a node list out without re-deriving input per node.
type DispatchRequest struct {
	NodeState   *domain.NodeState
	Node        *domain.Node
	Input       domain.Variables
	ExecContext domain.Variables
}

// DispatchMany parallelises dispatch across the eligible node set, mirroring
// the teacher's executeParallel semaphore-bounded fan-out
// (internal/worker/processor/processor.go) generalized from per-level
// barriers to a flat per-node fan-out since the caller has already computed
// exactly the nodes that are eligible right now.
func (d *Dispatcher) DispatchMany(ctx context.Context, runState *domain.WorkflowState, requests []DispatchRequest, correlationID string, maxConcurrent int) []error {
	if maxConcurrent <= 0 {
		maxConcurrent = len(requests)
		if maxConcurrent == 0 {
			maxConcurrent = 1
		}
	}
	sem := make(chan struct{}, maxConcurrent)
	errs := make([]error, len(requests))
	var wg sync.WaitGroup

	for i, req := range requests {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, req DispatchRequest) {
			defer wg.Done()
			defer func() { <-sem }()
			errs[i] = d.DispatchOne(ctx, runState, req.NodeState, req.Node, correlationID, req.Input, req.ExecContext)
		}(i, req)
	}
	wg.Wait()
	return errs
}

// CancelNode publishes a best-effort node.execute.cancel message, then
// transitions nodeState to CANCELLED and persists it; downstream
// cancellability is executor-defined.
func (d *Dispatcher) CancelNode(ctx context.Context, nodeState *domain.NodeState, reason string) error {
	msg := CancelMessage{RunID: nodeState.RunID, NodeID: nodeState.NodeID, Reason: reason}
	payload, err := json.Marshal(msg)
	if err == nil {
		_ = d.bus.Publish(ctx, TopicNodeExecuteCancel, nodeState.RunID, payload)
	}
	if err := statemachine.TransitionNode(nodeState, "cancel"); err != nil {
		return err
	}
	return d.st.PutNodeState(ctx, nodeState)
}
