package compensation

import (
	"context"
	"sync"
	"time"

	"github.com/linkflow-ai/officeflow-engine/internal/dispatch"
	"github.com/linkflow-ai/officeflow-engine/internal/domain"
	"github.com/linkflow-ai/officeflow-engine/internal/pkg/metrics"
	"github.com/linkflow-ai/officeflow-engine/internal/statemachine"
	"github.com/linkflow-ai/officeflow-engine/internal/store"
)

// resultWaitTimeout is the 30s-per-node timeout spec §4.8 calls for.
const resultWaitTimeout = 30 * time.Second

// Executor runs a compensation plan serially in descending order, dispatching
// each action through the same Dispatcher path as any forward node.
type Executor struct {
	dispatcher *dispatch.Dispatcher
	st         store.Store

	mu      sync.Mutex
	waiters map[string]chan *domain.NodeState // key: runID+"\x00"+nodeID
}

func NewExecutor(dispatcher *dispatch.Dispatcher, st store.Store) *Executor {
	return &Executor{dispatcher: dispatcher, st: st, waiters: make(map[string]chan *domain.NodeState)}
}

func waiterKey(runID, nodeID string) string { return runID + "\x00" + nodeID }

// NotifyTerminal must be called by the orchestrator whenever a node result
// arrives for a run that is currently COMPENSATING, instead of routing it
// through normal DAG advancement. It wakes up Run's wait on that node.
func (e *Executor) NotifyTerminal(runID, nodeID string, state *domain.NodeState) {
	e.mu.Lock()
	ch, ok := e.waiters[waiterKey(runID, nodeID)]
	e.mu.Unlock()
	if ok {
		select {
		case ch <- state:
		default:
		}
	}
}

func (e *Executor) registerWaiter(runID, nodeID string) chan *domain.NodeState {
	ch := make(chan *domain.NodeState, 1)
	e.mu.Lock()
	e.waiters[waiterKey(runID, nodeID)] = ch
	e.mu.Unlock()
	return ch
}

func (e *Executor) unregisterWaiter(runID, nodeID string) {
	e.mu.Lock()
	delete(e.waiters, waiterKey(runID, nodeID))
	e.mu.Unlock()
}

// Run executes plan serially in the order BuildPlan already sorted it
// (descending compensationOrder). A failing action aborts the remaining
// plan unless its CompensationType is cleanup or notification, which
// continue regardless. Returns the actions that actually ran.
func (e *Executor) Run(ctx context.Context, runState *domain.WorkflowState, correlationID string, plan []Action) (ran []Action, aborted bool) {
	defer func() {
		outcome := "completed"
		if aborted {
			outcome = "aborted"
		}
		metrics.CompensationsTotal.WithLabelValues(outcome).Inc()
	}()

	for _, action := range plan {
		compNode := &domain.Node{
			ID:   syntheticNodeID(action),
			Type: action.NodeType,
			Name: "compensate:" + action.TargetNodeID,
		}
		nodeState := domain.NewNodeState(runState.RunID, compNode.ID)
		_ = e.st.PutNodeState(ctx, nodeState)

		waitCh := e.registerWaiter(runState.RunID, compNode.ID)
		err := e.dispatcher.DispatchOne(ctx, runState, nodeState, compNode, correlationID,
			domain.Variables{"targetNodeId": action.TargetNodeID}, runState.Context)
		if err != nil {
			e.unregisterWaiter(runState.RunID, compNode.ID)
			ran = append(ran, action)
			if !continuesOnFailure(action.CompensationType) {
				return ran, true
			}
			continue
		}

		final := e.waitForTerminal(ctx, waitCh)
		e.unregisterWaiter(runState.RunID, compNode.ID)
		ran = append(ran, action)

		if final == nil || final.Status != domain.NodeCompleted {
			if !continuesOnFailure(action.CompensationType) {
				return ran, true
			}
		}
	}
	return ran, false
}

func (e *Executor) waitForTerminal(ctx context.Context, waitCh chan *domain.NodeState) *domain.NodeState {
	timer := time.NewTimer(resultWaitTimeout)
	defer timer.Stop()
	select {
	case state := <-waitCh:
		return state
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return nil
	}
}

func continuesOnFailure(ctype CompensationType) bool {
	return ctype == TypeCleanup || ctype == TypeNotification
}

func syntheticNodeID(action Action) string {
	return "compensation:" + action.TargetNodeID
}

// ApplyResult transitions a compensation node's local state from a bus
// result, the same way the dispatcher would for a forward node, and is
// what the orchestrator calls before NotifyTerminal.
func ApplyResult(nodeState *domain.NodeState, status dispatch.ResultStatus, output domain.Variables, errDetails *domain.ErrorDetails) error {
	switch status {
	case dispatch.ResultSuccess:
		nodeState.Output = output
		return statemachine.TransitionNode(nodeState, "complete")
	case dispatch.ResultFailed:
		nodeState.ErrorDetails = errDetails
		return statemachine.TransitionNode(nodeState, "fail")
	default:
		return statemachine.TransitionNode(nodeState, "fail")
	}
}
