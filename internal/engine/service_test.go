package engine_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkflow-ai/officeflow-engine/internal/dispatch"
	"github.com/linkflow-ai/officeflow-engine/internal/domain"
	"github.com/linkflow-ai/officeflow-engine/internal/engine"
	"github.com/linkflow-ai/officeflow-engine/internal/orchestrator"
	"github.com/linkflow-ai/officeflow-engine/internal/store"
)

func TestService_LifecycleEventStartsRun(t *testing.T) {
	st := store.NewMemoryStore()
	bus := dispatch.NewMemoryBus()
	orch := orchestrator.New(orchestrator.DefaultConfig("test"), st, bus, nil)

	defs := engine.NewStaticDefinitions()
	def := &domain.WorkflowDefinition{
		ID: "wf-1", OrgID: "org-1", Name: "onboarding", Trigger: domain.TriggerOnboard, Version: 1, IsActive: true,
		DAG: domain.DAG{Nodes: []domain.Node{{ID: "a", Type: domain.NodeEmailSend, Name: "send"}}},
	}
	defs.Register(def)

	svc := engine.New(orch, bus, defs)
	svc.RegisterHandlers()

	env := dispatch.LifecycleEventEnvelope{
		OrgID: "org-1", EmployeeID: "emp-1",
		Trigger: domain.TriggerEvent{Type: domain.TriggerOnboard, Payload: domain.Variables{}, Timestamp: time.Now().UnixMilli()},
	}
	payload, err := json.Marshal(env)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), dispatch.TopicEmployeeOnboard, "org-1", payload))

	runIDs, err := st.ListActiveRunIDs(context.Background())
	require.NoError(t, err)
	require.Len(t, runIDs, 1)

	state, err := st.GetWorkflowState(context.Background(), runIDs[0])
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowRunning, state.Status)
	assert.True(t, state.CurrentNodes["a"])
}

func TestService_InvalidLifecycleEventIsRejected(t *testing.T) {
	st := store.NewMemoryStore()
	bus := dispatch.NewMemoryBus()
	orch := orchestrator.New(orchestrator.DefaultConfig("test"), st, bus, nil)
	defs := engine.NewStaticDefinitions()

	svc := engine.New(orch, bus, defs)
	svc.RegisterHandlers()

	env := dispatch.LifecycleEventEnvelope{EmployeeID: "emp-1"}
	payload, err := json.Marshal(env)
	require.NoError(t, err)

	err = bus.Publish(context.Background(), dispatch.TopicEmployeeOnboard, "", payload)
	require.Error(t, err, "missing orgId must fail validation")

	runIDs, err := st.ListActiveRunIDs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, runIDs)
}

func TestService_UnknownTriggerIsNoop(t *testing.T) {
	st := store.NewMemoryStore()
	bus := dispatch.NewMemoryBus()
	orch := orchestrator.New(orchestrator.DefaultConfig("test"), st, bus, nil)
	defs := engine.NewStaticDefinitions()

	svc := engine.New(orch, bus, defs)
	svc.RegisterHandlers()

	env := dispatch.LifecycleEventEnvelope{OrgID: "org-unknown", EmployeeID: "emp-1"}
	payload, err := json.Marshal(env)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), dispatch.TopicEmployeeOnboard, "org-unknown", payload))

	runIDs, err := st.ListActiveRunIDs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, runIDs)
}
