// Package compensation implements the saga-style rollback manager (C8):
// building a compensation plan from a failed run's completed nodes and
// executing it serially in descending order.
//
// Grounded on the teacher's node-registry/dispatch pattern (a compensation
// node executes through the same path as any forward node — see
// internal/worker/nodes/registry.go) and on
// internal/worker/processor/processor.go's executeSequential for the
// serial, ordered-list execution shape.
package compensation

import (
	"sort"

	"github.com/linkflow-ai/officeflow-engine/internal/dag"
	"github.com/linkflow-ai/officeflow-engine/internal/domain"
)

// CompensationType names how a compensation action behaves on failure: a
// rollback or custom action aborts the whole plan, cleanup/notification
// actions continue regardless.
type CompensationType string

const (
	TypeRollback     CompensationType = "rollback"
	TypeCleanup      CompensationType = "cleanup"
	TypeNotification CompensationType = "notification"
	TypeCustom       CompensationType = "custom"
)

// Action is one step of a compensation plan.
type Action struct {
	TargetNodeID     string
	NodeType         domain.NodeType
	CompensationType CompensationType
	Order            int
	Declared         bool // true if taken from a DAG-declared `compensation` node
}

// synthesizedReverse is the fixed table of automatic reverse actions for
// known forward types, per spec §4.8.
var synthesizedReverse = map[domain.NodeType]struct {
	reverse domain.NodeType
	ctype   CompensationType
	order   int
}{
	domain.NodeIdentityProvision: {domain.NodeIdentityDeprovision, TypeRollback, 100},
	domain.NodeEmailSend:         {domain.NodeEmailSend, TypeNotification, 10},
	domain.NodeDocumentDistribute: {domain.NodeCompensation, TypeCleanup, 50},
}

// nonCompensatableCodes skip compensation entirely, per spec §4.8.
var nonCompensatableCodes = map[string]bool{
	"VALIDATION_ERROR": true,
	"INVALID_INPUT":    true,
	"UNAUTHORIZED":     true,
	"FORBIDDEN":        true,
}

// IsCompensatable reports whether a failure with the given error code
// should trigger compensation at all.
func IsCompensatable(errorCode string) bool {
	return !nonCompensatableCodes[errorCode]
}

// BuildPlan synthesizes or looks up a compensation action for every
// completed node, honoring any DAG-declared `compensation` node that names
// it in compensatesFor. Actions are returned sorted by descending Order
// (reverse of forward execution order), the order the executor must run
// them in.
func BuildPlan(completedNodeIDs []string, parsed *dag.ParsedWorkflow) []Action {
	declaredFor := declaredCompensations(parsed)

	var actions []Action
	for _, nodeID := range completedNodeIDs {
		node := parsed.GetNode(nodeID)
		if node == nil {
			continue
		}
		if declared, ok := declaredFor[nodeID]; ok {
			actions = append(actions, declared)
			continue
		}
		if syn, ok := synthesizedReverse[node.Type]; ok {
			actions = append(actions, Action{
				TargetNodeID:     nodeID,
				NodeType:         syn.reverse,
				CompensationType: syn.ctype,
				Order:            syn.order,
			})
		}
	}

	sort.SliceStable(actions, func(i, j int) bool { return actions[i].Order > actions[j].Order })
	return actions
}

// declaredCompensations collects every `compensation`-type node in the DAG,
// keyed by each node id it compensates for.
func declaredCompensations(parsed *dag.ParsedWorkflow) map[string]Action {
	out := make(map[string]Action)
	for _, n := range parsed.Definition.DAG.Nodes {
		if n.Type != domain.NodeCompensation {
			continue
		}
		compensatesFor := n.Params.GetArray("compensatesFor")
		ctype := CompensationType(n.Params.GetString("compensationType"))
		order := n.Params.GetInt("compensationOrder")
		for _, target := range compensatesFor {
			targetID, ok := target.(string)
			if !ok {
				continue
			}
			out[targetID] = Action{
				TargetNodeID:     targetID,
				NodeType:         n.Type,
				CompensationType: ctype,
				Order:            order,
				Declared:         true,
			}
		}
	}
	return out
}
