package dag

import (
	"github.com/linkflow-ai/officeflow-engine/internal/domain"
)

const (
	minMaxRetries  = 0
	maxMaxRetries  = 10
	minBackoffMs   = 100
	maxBackoffMs   = 300_000
	minTimeoutMs   = 1_000
	maxTimeoutMs   = 3_600_000
)

// Parse validates a definition and, if valid, builds a ParsedWorkflow.
// Mirrors the teacher's BuildDAG+Validate split but returns a single
// (*ParsedWorkflow, []ValidationError) pair: a non-empty error slice means
// the definition is rejected and no ParsedWorkflow is returned.
func Parse(def *domain.WorkflowDefinition) (*ParsedWorkflow, []ValidationError) {
	if errs := validateStructure(def); len(errs) > 0 {
		return nil, errs
	}

	pw := &ParsedWorkflow{
		Definition:          def,
		NodeByID:            make(map[string]*domain.Node, len(def.DAG.Nodes)),
		nodeIndex:           make(map[string]int, len(def.DAG.Nodes)),
		OutgoingEdgesByNode: make(map[string][]domain.Edge),
		DependenciesByNode:  make(map[string][]string),
	}
	for i := range def.DAG.Nodes {
		n := &def.DAG.Nodes[i]
		pw.NodeByID[n.ID] = n
		pw.nodeIndex[n.ID] = i
	}
	for _, e := range def.DAG.Edges {
		pw.OutgoingEdgesByNode[e.FromNodeID] = append(pw.OutgoingEdgesByNode[e.FromNodeID], e)
		pw.DependenciesByNode[e.ToNodeID] = append(pw.DependenciesByNode[e.ToNodeID], e.FromNodeID)
	}

	if cyc := detectCycle(pw); cyc != nil {
		return nil, []ValidationError{{Code: CodeCycleDetected, Message: cyc.Error()}}
	}

	order, err := topologicalSort(pw)
	if err != nil {
		return nil, []ValidationError{{Code: CodeCycleDetected, Message: err.Error()}}
	}
	pw.TopologicalOrder = order

	pw.EntryNodes = computeEntryNodes(pw)
	pw.ExitNodes = computeExitNodes(pw)
	if len(pw.EntryNodes) == 0 {
		return nil, []ValidationError{{Code: CodeNoEntryNodes, Message: "workflow has no entry (in-degree 0) nodes"}}
	}

	return pw, nil
}

func validateStructure(def *domain.WorkflowDefinition) []ValidationError {
	var errs []ValidationError

	if def == nil {
		return []ValidationError{{Code: CodeMissingDefinition, Message: "workflow definition is nil"}}
	}
	if len(def.DAG.Nodes) == 0 {
		errs = append(errs, ValidationError{Code: CodeNoNodes, Message: "workflow has no nodes"})
		return errs
	}

	seenNodeIDs := make(map[string]bool, len(def.DAG.Nodes))
	for _, n := range def.DAG.Nodes {
		if n.ID == "" {
			errs = append(errs, ValidationError{Code: CodeMissingNodeID, Message: "node missing id"})
			continue
		}
		if seenNodeIDs[n.ID] {
			errs = append(errs, ValidationError{Code: CodeDuplicateNodeIDs, Message: "duplicate node id", NodeID: n.ID})
			continue
		}
		seenNodeIDs[n.ID] = true

		if n.Name == "" {
			errs = append(errs, ValidationError{Code: CodeMissingNodeName, Message: "node missing name", NodeID: n.ID})
		}
		if n.Type == "" {
			errs = append(errs, ValidationError{Code: CodeMissingNodeType, Message: "node missing type", NodeID: n.ID})
		} else if !domain.SupportedNodeTypes[n.Type] {
			errs = append(errs, ValidationError{Code: CodeUnsupportedType, Message: string(n.Type), NodeID: n.ID})
		}
		if n.RetryPolicy != nil {
			rp := n.RetryPolicy
			if rp.MaxRetries < minMaxRetries || rp.MaxRetries > maxMaxRetries {
				errs = append(errs, ValidationError{Code: CodeInvalidRetryPolicy, Message: "maxRetries out of [0,10]", NodeID: n.ID})
			}
			if rp.BackoffMs < minBackoffMs || rp.BackoffMs > maxBackoffMs {
				errs = append(errs, ValidationError{Code: CodeInvalidBackoff, Message: "backoffMs out of [100,300000]", NodeID: n.ID})
			}
		}
		if n.TimeoutMs != 0 && (n.TimeoutMs < minTimeoutMs || n.TimeoutMs > maxTimeoutMs) {
			errs = append(errs, ValidationError{Code: CodeInvalidTimeout, Message: "timeoutMs out of [1000,3600000]", NodeID: n.ID})
		}
	}

	seenEdgeIDs := make(map[string]bool, len(def.DAG.Edges))
	seenEdgePairs := make(map[string]bool, len(def.DAG.Edges))
	for _, e := range def.DAG.Edges {
		if e.ID != "" {
			if seenEdgeIDs[e.ID] {
				errs = append(errs, ValidationError{Code: CodeDuplicateEdgeIDs, Message: "duplicate edge id", EdgeID: e.ID})
			}
			seenEdgeIDs[e.ID] = true
		}
		pairKey := e.FromNodeID + "->" + e.ToNodeID
		if seenEdgePairs[pairKey] {
			errs = append(errs, ValidationError{Code: CodeDuplicateEdges, Message: "duplicate edge", EdgeID: e.ID})
		}
		seenEdgePairs[pairKey] = true

		if e.FromNodeID == e.ToNodeID {
			errs = append(errs, ValidationError{Code: CodeSelfReferencing, Message: "edge references itself", EdgeID: e.ID})
			continue
		}
		if !seenNodeIDs[e.FromNodeID] {
			errs = append(errs, ValidationError{Code: CodeInvalidFromNode, Message: e.FromNodeID, EdgeID: e.ID})
		}
		if !seenNodeIDs[e.ToNodeID] {
			errs = append(errs, ValidationError{Code: CodeInvalidToNode, Message: e.ToNodeID, EdgeID: e.ID})
		}
	}

	return errs
}
