package compensation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkflow-ai/officeflow-engine/internal/compensation"
	"github.com/linkflow-ai/officeflow-engine/internal/dag"
	"github.com/linkflow-ai/officeflow-engine/internal/domain"
)

func TestBuildPlan_SynthesizesIdentityDeprovision(t *testing.T) {
	def := &domain.WorkflowDefinition{
		ID: "wf1", OrgID: "org1",
		DAG: domain.DAG{
			Nodes: []domain.Node{
				{ID: "A", Name: "provision", Type: domain.NodeIdentityProvision},
				{ID: "B", Name: "notify", Type: domain.NodeEmailSend},
			},
			Edges: []domain.Edge{{ID: "A-B", FromNodeID: "A", ToNodeID: "B"}},
		},
	}
	parsed, errs := dag.Parse(def)
	require.Empty(t, errs)

	plan := compensation.BuildPlan([]string{"A"}, parsed)
	require.Len(t, plan, 1)
	assert.Equal(t, domain.NodeIdentityDeprovision, plan[0].NodeType)
	assert.Equal(t, compensation.TypeRollback, plan[0].CompensationType)
}

func TestBuildPlan_DescendingOrder(t *testing.T) {
	def := &domain.WorkflowDefinition{
		ID: "wf2", OrgID: "org1",
		DAG: domain.DAG{
			Nodes: []domain.Node{
				{ID: "A", Name: "provision", Type: domain.NodeIdentityProvision},
				{ID: "B", Name: "email", Type: domain.NodeEmailSend},
			},
		},
	}
	parsed, errs := dag.Parse(def)
	require.Empty(t, errs)

	plan := compensation.BuildPlan([]string{"A", "B"}, parsed)
	require.Len(t, plan, 2)
	assert.GreaterOrEqual(t, plan[0].Order, plan[1].Order)
}

func TestIsCompensatable(t *testing.T) {
	assert.False(t, compensation.IsCompensatable("VALIDATION_ERROR"))
	assert.True(t, compensation.IsCompensatable("EXTERNAL_SERVICE_ERROR"))
}
