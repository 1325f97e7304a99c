package dag

import "github.com/linkflow-ai/officeflow-engine/internal/domain"

// ParsedWorkflow is the derived, non-persisted structure spec §3 describes:
// definition plus topological order, entry/exit nodes and dependency maps.
type ParsedWorkflow struct {
	Definition          *domain.WorkflowDefinition
	TopologicalOrder    []string
	EntryNodes          []string
	ExitNodes           []string
	NodeByID            map[string]*domain.Node
	OutgoingEdgesByNode map[string][]domain.Edge
	DependenciesByNode  map[string][]string

	nodeIndex map[string]int // definition order, for deterministic tie-break
}

// NodeCount returns the number of nodes in the workflow.
func (p *ParsedWorkflow) NodeCount() int {
	return len(p.Definition.DAG.Nodes)
}

// GetNode returns the node definition for id, or nil if absent.
func (p *ParsedWorkflow) GetNode(id string) *domain.Node {
	return p.NodeByID[id]
}

// GetSuccessors returns the node ids reachable by one outgoing edge from id,
// in definition order.
func (p *ParsedWorkflow) GetSuccessors(id string) []string {
	edges := p.OutgoingEdgesByNode[id]
	out := make([]string, 0, len(edges))
	for _, e := range edges {
		out = append(out, e.ToNodeID)
	}
	return sortByDefinitionOrder(p, out)
}

// GetPredecessors returns the node ids id directly depends on, in
// definition order.
func (p *ParsedWorkflow) GetPredecessors(id string) []string {
	return sortByDefinitionOrder(p, append([]string(nil), p.DependenciesByNode[id]...))
}

func sortByDefinitionOrder(p *ParsedWorkflow, ids []string) []string {
	// Small-n insertion sort keyed by definition index; a node's dependency
	// and successor lists are never large enough to warrant sort.Slice's
	// overhead, and this keeps the tie-break rule in one obvious place.
	for i := 1; i < len(ids); i++ {
		j := i
		for j > 0 && p.nodeIndex[ids[j-1]] > p.nodeIndex[ids[j]] {
			ids[j-1], ids[j] = ids[j], ids[j-1]
			j--
		}
	}
	return ids
}

func computeEntryNodes(p *ParsedWorkflow) []string {
	var entries []string
	for _, n := range p.Definition.DAG.Nodes {
		if len(p.DependenciesByNode[n.ID]) == 0 {
			entries = append(entries, n.ID)
		}
	}
	return entries
}

func computeExitNodes(p *ParsedWorkflow) []string {
	var exits []string
	for _, n := range p.Definition.DAG.Nodes {
		if len(p.OutgoingEdgesByNode[n.ID]) == 0 {
			exits = append(exits, n.ID)
		}
	}
	return exits
}

// detectCycle runs DFS with an explicit recursion stack. On a back-edge it
// returns the cycle path: the detected node plus the ordered recursion
// stack from that node, per spec §4.1.
func detectCycle(p *ParsedWorkflow) *CycleError {
	const (
		white = 0 // unvisited
		gray  = 1 // on recursion stack
		black = 2 // fully explored
	)
	color := make(map[string]int, len(p.Definition.DAG.Nodes))
	var stack []string
	var cyc *CycleError

	var visit func(id string)
	visit = func(id string) {
		if cyc != nil {
			return
		}
		color[id] = gray
		stack = append(stack, id)
		for _, e := range p.OutgoingEdgesByNode[id] {
			next := e.ToNodeID
			switch color[next] {
			case white:
				visit(next)
				if cyc != nil {
					return
				}
			case gray:
				// Back-edge: build the path from next's position in the
				// stack through to the end, closing the loop back to next.
				start := 0
				for i, s := range stack {
					if s == next {
						start = i
						break
					}
				}
				path := append([]string(nil), stack[start:]...)
				path = append(path, next)
				cyc = &CycleError{Path: path}
				return
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
	}

	for _, n := range p.Definition.DAG.Nodes {
		if color[n.ID] == white {
			visit(n.ID)
			if cyc != nil {
				return cyc
			}
		}
	}
	return nil
}

// topologicalSort runs Kahn's algorithm with ties broken by definition
// order. A length mismatch against the node count is the belt-and-braces
// cycle check spec §4.1 calls for (detectCycle already ran first in Parse,
// so this should never trigger there, but the function stays independently
// correct for callers that invoke it directly).
func topologicalSort(p *ParsedWorkflow) ([]string, error) {
	inDegree := make(map[string]int, len(p.Definition.DAG.Nodes))
	for _, n := range p.Definition.DAG.Nodes {
		inDegree[n.ID] = len(p.DependenciesByNode[n.ID])
	}

	var queue []string
	for _, n := range p.Definition.DAG.Nodes {
		if inDegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}
	queue = sortByDefinitionOrder(p, queue)

	var order []string
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		var newlyEligible []string
		for _, e := range p.OutgoingEdgesByNode[id] {
			inDegree[e.ToNodeID]--
			if inDegree[e.ToNodeID] == 0 {
				newlyEligible = append(newlyEligible, e.ToNodeID)
			}
		}
		newlyEligible = sortByDefinitionOrder(p, newlyEligible)
		queue = append(queue, newlyEligible...)
		queue = sortByDefinitionOrder(p, queue)
	}

	if len(order) != len(p.Definition.DAG.Nodes) {
		return nil, &CycleError{Path: order}
	}
	return order, nil
}

// GetEligibleNodes returns nodes not in completed/failed/current whose every
// dependency is in completed. Failed dependencies block a node without
// causing it to be skipped; skip is handled at the workflow level.
func (p *ParsedWorkflow) GetEligibleNodes(completed, failed, current map[string]bool) []string {
	var eligible []string
	for _, n := range p.Definition.DAG.Nodes {
		if completed[n.ID] || failed[n.ID] || current[n.ID] {
			continue
		}
		ready := true
		for _, dep := range p.DependenciesByNode[n.ID] {
			if !completed[dep] {
				ready = false
				break
			}
		}
		if ready {
			eligible = append(eligible, n.ID)
		}
	}
	return eligible
}

// IsComplete implements the completion predicate: complete when
// |completed|+|failed|+|skipped| = |nodes|. The returned status is FAILED
// if any node failed, else COMPLETED.
func (p *ParsedWorkflow) IsComplete(completed, failed, skipped map[string]bool) (done bool, status domain.WorkflowStatus) {
	total := len(completed) + len(failed) + len(skipped)
	if total != p.NodeCount() {
		return false, ""
	}
	if len(failed) > 0 {
		return true, domain.WorkflowFailed
	}
	return true, domain.WorkflowCompleted
}

// GetLevels groups the topological order into waves where every node in a
// wave has all dependencies already in an earlier wave — useful for callers
// that want coarse parallel batches rather than strict per-node eligibility.
func (p *ParsedWorkflow) GetLevels() [][]string {
	level := make(map[string]int, len(p.Definition.DAG.Nodes))
	var levels [][]string
	for _, id := range p.TopologicalOrder {
		maxDepLevel := -1
		for _, dep := range p.DependenciesByNode[id] {
			if level[dep] > maxDepLevel {
				maxDepLevel = level[dep]
			}
		}
		lvl := maxDepLevel + 1
		level[id] = lvl
		for len(levels) <= lvl {
			levels = append(levels, nil)
		}
		levels[lvl] = append(levels[lvl], id)
	}
	return levels
}
