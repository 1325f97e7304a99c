package orchestrator

import (
	"sync"

	"github.com/linkflow-ai/officeflow-engine/internal/dag"
	"github.com/linkflow-ai/officeflow-engine/internal/domain"
)

// Registry holds parsed workflows by workflow id for the lifetime of this
// process. A run's WorkflowState only remembers the workflow id; the
// orchestrator consults the registry to recover the DAG shape needed to
// compute eligibility, since re-parsing on every event would be wasteful
// and the definition itself is immutable once registered.
type Registry struct {
	mu     sync.RWMutex
	parsed map[string]*dag.ParsedWorkflow
}

func NewRegistry() *Registry {
	return &Registry{parsed: make(map[string]*dag.ParsedWorkflow)}
}

// Register validates def and, if valid, makes it available via Get. A
// non-empty validation error slice means the definition was rejected and
// nothing was registered.
func (r *Registry) Register(def *domain.WorkflowDefinition) (*dag.ParsedWorkflow, []dag.ValidationError) {
	parsed, errs := dag.Parse(def)
	if len(errs) > 0 {
		return nil, errs
	}
	r.mu.Lock()
	r.parsed[def.ID] = parsed
	r.mu.Unlock()
	return parsed, nil
}

// Get returns the parsed workflow previously registered under workflowID.
func (r *Registry) Get(workflowID string) (*dag.ParsedWorkflow, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.parsed[workflowID]
	return p, ok
}
