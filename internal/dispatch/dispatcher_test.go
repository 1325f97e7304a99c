package dispatch_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkflow-ai/officeflow-engine/internal/dispatch"
	"github.com/linkflow-ai/officeflow-engine/internal/domain"
	"github.com/linkflow-ai/officeflow-engine/internal/store"
)

func TestDispatchOne_PublishesToMappedTopic(t *testing.T) {
	bus := dispatch.NewMemoryBus()
	st := store.NewMemoryStore()
	d := dispatch.NewDispatcher(bus, st)

	runState := &domain.WorkflowState{RunID: "run-1", OrgID: "org-1", EmployeeID: "emp-1"}
	node := &domain.Node{ID: "A", Type: domain.NodeEmailSend, Name: "send"}
	nodeState := domain.NewNodeState("run-1", "A")

	err := d.DispatchOne(context.Background(), runState, nodeState, node, "corr-1", domain.Variables{"to": "a@b.com"}, domain.Variables{})
	require.NoError(t, err)
	assert.Equal(t, domain.NodeRunning, nodeState.Status)

	published := bus.Published()
	require.Len(t, published, 1)
	assert.Equal(t, "node.execute.email.send", published[0].Topic)
	assert.Equal(t, "org-1", published[0].PartitionKey)
}

func TestDispatchOne_UnknownNodeTypeErrors(t *testing.T) {
	bus := dispatch.NewMemoryBus()
	st := store.NewMemoryStore()
	d := dispatch.NewDispatcher(bus, st)

	runState := &domain.WorkflowState{RunID: "run-2"}
	node := &domain.Node{ID: "A", Type: "not.a.type"}
	nodeState := domain.NewNodeState("run-2", "A")

	err := d.DispatchOne(context.Background(), runState, nodeState, node, "corr", nil, nil)
	require.Error(t, err)
	var target *dispatch.ErrNoTopicForNodeType
	assert.ErrorAs(t, err, &target)
}

func TestIdempotencyKey(t *testing.T) {
	assert.Equal(t, "run-1:node-1:3", dispatch.IdempotencyKey("run-1", "node-1", 3))
}

func TestDispatchMany_ParallelFanOut(t *testing.T) {
	bus := dispatch.NewMemoryBus()
	st := store.NewMemoryStore()
	d := dispatch.NewDispatcher(bus, st)

	runState := &domain.WorkflowState{RunID: "run-3", OrgID: "org-1"}
	requests := []dispatch.DispatchRequest{
		{NodeState: domain.NewNodeState("run-3", "A"), Node: &domain.Node{ID: "A", Type: domain.NodeEmailSend}},
		{NodeState: domain.NewNodeState("run-3", "B"), Node: &domain.Node{ID: "B", Type: domain.NodeSlackMessage}},
	}
	errs := d.DispatchMany(context.Background(), runState, requests, "corr", 4)
	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Len(t, bus.Published(), 2)
}
