package dag_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkflow-ai/officeflow-engine/internal/dag"
	"github.com/linkflow-ai/officeflow-engine/internal/domain"
)

func node(id string) domain.Node {
	return domain.Node{ID: id, Type: domain.NodeEmailSend, Name: id, TimeoutMs: 5000}
}

func edge(from, to string) domain.Edge {
	return domain.Edge{ID: from + "-" + to, FromNodeID: from, ToNodeID: to}
}

func TestParse_LinearHappyPath(t *testing.T) {
	def := &domain.WorkflowDefinition{
		ID: "wf1", OrgID: "org1", Name: "three node",
		DAG: domain.DAG{
			Nodes: []domain.Node{node("A"), node("B"), node("C")},
			Edges: []domain.Edge{edge("A", "B"), edge("B", "C")},
		},
	}
	pw, errs := dag.Parse(def)
	require.Empty(t, errs)
	require.NotNil(t, pw)
	assert.Equal(t, []string{"A"}, pw.EntryNodes)
	assert.Equal(t, []string{"C"}, pw.ExitNodes)
	assert.Equal(t, []string{"A", "B", "C"}, pw.TopologicalOrder)
}

func TestParse_CycleRejected(t *testing.T) {
	def := &domain.WorkflowDefinition{
		ID: "wf2", OrgID: "org1", Name: "cycle",
		DAG: domain.DAG{
			Nodes: []domain.Node{node("X"), node("Y"), node("Z")},
			Edges: []domain.Edge{edge("X", "Y"), edge("Y", "Z"), edge("Z", "X")},
		},
	}
	pw, errs := dag.Parse(def)
	require.Nil(t, pw)
	require.Len(t, errs, 1)
	assert.Equal(t, dag.CodeCycleDetected, errs[0].Code)
}

func TestParse_ParallelFanOutLevels(t *testing.T) {
	def := &domain.WorkflowDefinition{
		ID: "wf3", OrgID: "org1", Name: "fan-out",
		DAG: domain.DAG{
			Nodes: []domain.Node{node("R"), node("A"), node("B"), node("J")},
			Edges: []domain.Edge{edge("R", "A"), edge("R", "B"), edge("A", "J"), edge("B", "J")},
		},
	}
	pw, errs := dag.Parse(def)
	require.Empty(t, errs)
	levels := pw.GetLevels()
	require.Len(t, levels, 3)
	assert.ElementsMatch(t, []string{"R"}, levels[0])
	assert.ElementsMatch(t, []string{"A", "B"}, levels[1])
	assert.ElementsMatch(t, []string{"J"}, levels[2])
}

func TestGetEligibleNodes_FailedDependencyBlocksNotSkips(t *testing.T) {
	def := &domain.WorkflowDefinition{
		ID: "wf4", OrgID: "org1", Name: "blocked",
		DAG: domain.DAG{
			Nodes: []domain.Node{node("A"), node("B")},
			Edges: []domain.Edge{edge("A", "B")},
		},
	}
	pw, errs := dag.Parse(def)
	require.Empty(t, errs)

	failed := map[string]bool{"A": true}
	eligible := pw.GetEligibleNodes(nil, failed, nil)
	assert.Empty(t, eligible)
}

func TestIsComplete(t *testing.T) {
	def := &domain.WorkflowDefinition{
		ID: "wf5", OrgID: "org1", Name: "two",
		DAG: domain.DAG{Nodes: []domain.Node{node("A"), node("B")}},
	}
	pw, errs := dag.Parse(def)
	require.Empty(t, errs)

	done, status := pw.IsComplete(map[string]bool{"A": true}, nil, nil)
	assert.False(t, done)

	done, status = pw.IsComplete(map[string]bool{"A": true, "B": true}, nil, nil)
	assert.True(t, done)
	assert.Equal(t, domain.WorkflowCompleted, status)

	done, status = pw.IsComplete(map[string]bool{"A": true}, map[string]bool{"B": true}, nil)
	assert.True(t, done)
	assert.Equal(t, domain.WorkflowFailed, status)
}

func TestValidation_UnsupportedNodeType(t *testing.T) {
	def := &domain.WorkflowDefinition{
		ID: "wf6", OrgID: "org1", Name: "bad type",
		DAG: domain.DAG{
			Nodes: []domain.Node{{ID: "A", Name: "a", Type: "not.a.real.type"}},
		},
	}
	_, errs := dag.Parse(def)
	require.Len(t, errs, 1)
	assert.Equal(t, dag.CodeUnsupportedType, errs[0].Code)
}

func TestValidation_NoEntryNodesReportedAsCycle(t *testing.T) {
	def := &domain.WorkflowDefinition{
		ID: "wf7", OrgID: "org1", Name: "all cyclic but structurally valid edges",
		DAG: domain.DAG{
			Nodes: []domain.Node{node("A"), node("B")},
			Edges: []domain.Edge{edge("A", "B"), edge("B", "A")},
		},
	}
	_, errs := dag.Parse(def)
	require.Len(t, errs, 1)
	assert.Equal(t, dag.CodeCycleDetected, errs[0].Code)
}
