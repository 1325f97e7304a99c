package engine

import (
	"context"
	"sync"

	"github.com/linkflow-ai/officeflow-engine/internal/domain"
)

// StaticDefinitions is a process-memory DefinitionProvider keyed by
// (orgId, trigger): the simplest thing that satisfies the seam until a real
// CRUD-backed repository (out of scope per spec.md §1) is wired in.
type StaticDefinitions struct {
	mu    sync.RWMutex
	byKey map[string]*domain.WorkflowDefinition
}

func NewStaticDefinitions() *StaticDefinitions {
	return &StaticDefinitions{byKey: make(map[string]*domain.WorkflowDefinition)}
}

// Register makes def the active definition for its OrgID and Trigger,
// replacing whatever was previously registered for that pair.
func (d *StaticDefinitions) Register(def *domain.WorkflowDefinition) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byKey[d.key(def.OrgID, def.Trigger)] = def
}

func (d *StaticDefinitions) ActiveDefinitionFor(_ context.Context, orgID string, trigger domain.TriggerType) (*domain.WorkflowDefinition, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	def, ok := d.byKey[d.key(orgID, trigger)]
	if !ok || !def.IsActive {
		return nil, nil
	}
	return def, nil
}

func (d *StaticDefinitions) key(orgID string, trigger domain.TriggerType) string {
	return orgID + "|" + string(trigger)
}
