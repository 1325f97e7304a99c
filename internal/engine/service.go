// Package engine implements the Engine Service (C10): it binds every other
// component together, subscribes the bus to the inbound lifecycle-event and
// control topics, and exposes ExecuteWorkflow/PauseWorkflow/ResumeWorkflow/
// CancelWorkflow as plain Go methods a thin RPC/HTTP layer would call.
//
// Grounded on the teacher's cmd/worker/main.go wiring style and
// internal/pkg/queue/server.go's ServeMux.HandleFunc registration pattern,
// generalized from "one queue per email job" into "one topic per lifecycle
// trigger type plus the control-plane topics".
package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/linkflow-ai/officeflow-engine/internal/dispatch"
	"github.com/linkflow-ai/officeflow-engine/internal/domain"
	"github.com/linkflow-ai/officeflow-engine/internal/orchestrator"
)

// validate enforces LifecycleEventEnvelope's struct tags at the bus
// boundary, the one place inbound data crosses from an external publisher
// into the engine. validator.Validate is safe for concurrent use.
var validate = validator.New()

// DefinitionProvider resolves the active workflow definition an
// organization runs for a given trigger type. Workflow CRUD is an external
// collaborator per spec.md §1; this is the narrow seam the engine needs
// from it.
type DefinitionProvider interface {
	ActiveDefinitionFor(ctx context.Context, orgID string, trigger domain.TriggerType) (*domain.WorkflowDefinition, error)
}

// Service wires the Orchestrator to a Bus: inbound lifecycle events start
// new runs, node.execute.result feeds HandleNodeResult, and the three
// control topics drive Pause/Resume/Cancel.
type Service struct {
	orch *orchestrator.Orchestrator
	bus  dispatch.Bus
	defs DefinitionProvider
}

func New(orch *orchestrator.Orchestrator, bus dispatch.Bus, defs DefinitionProvider) *Service {
	return &Service{orch: orch, bus: bus, defs: defs}
}

// RegisterHandlers subscribes every inbound topic this service understands.
// Must be called before Run.
func (s *Service) RegisterHandlers() {
	for trigger, topic := range dispatch.LifecycleTopicsByTrigger {
		trigger := trigger
		s.bus.Subscribe(topic, func(ctx context.Context, _ string, payload []byte) error {
			return s.handleLifecycleEvent(ctx, trigger, payload)
		})
	}
	s.bus.Subscribe(dispatch.TopicNodeExecuteResult, s.handleNodeResult)
	s.bus.Subscribe(dispatch.TopicWorkflowPause, s.handlePause)
	s.bus.Subscribe(dispatch.TopicWorkflowResume, s.handleResume)
	s.bus.Subscribe(dispatch.TopicWorkflowCancel, s.handleCancel)
}

// Run starts the orchestrator's background tasks and blocks serving the
// bus until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.orch.Start(ctx)
	defer s.orch.Stop()
	return s.bus.Run(ctx)
}

func (s *Service) handleLifecycleEvent(ctx context.Context, trigger domain.TriggerType, payload []byte) error {
	var env dispatch.LifecycleEventEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return fmt.Errorf("unmarshal lifecycle event: %w", err)
	}
	if err := validate.Struct(env); err != nil {
		return fmt.Errorf("invalid lifecycle event: %w", err)
	}
	def, err := s.defs.ActiveDefinitionFor(ctx, env.OrgID, trigger)
	if err != nil {
		return fmt.Errorf("resolve active definition: %w", err)
	}
	if def == nil {
		log.Warn().Str("org_id", env.OrgID).Str("trigger", string(trigger)).Msg("no active workflow for trigger, dropping event")
		return nil
	}
	_, verrs, err := s.orch.ExecuteWorkflow(ctx, def, env.EmployeeID, env.Trigger, env.CorrelationID)
	if err != nil {
		return err
	}
	if len(verrs) > 0 {
		log.Error().Str("workflow_id", def.ID).Int("errors", len(verrs)).Msg("workflow definition failed validation, run not started")
	}
	return nil
}

func (s *Service) handleNodeResult(ctx context.Context, _ string, payload []byte) error {
	var result dispatch.NodeExecutionResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return fmt.Errorf("unmarshal node execution result: %w", err)
	}
	return s.orch.HandleNodeResult(ctx, result)
}

type runControlMessage struct {
	RunID  string `json:"runId" validate:"required"`
	Reason string `json:"reason,omitempty"`
}

func (s *Service) handlePause(ctx context.Context, _ string, payload []byte) error {
	var msg runControlMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("unmarshal pause message: %w", err)
	}
	if err := validate.Struct(msg); err != nil {
		return fmt.Errorf("invalid pause message: %w", err)
	}
	return s.orch.PauseWorkflow(ctx, msg.RunID)
}

func (s *Service) handleResume(ctx context.Context, _ string, payload []byte) error {
	var msg runControlMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("unmarshal resume message: %w", err)
	}
	if err := validate.Struct(msg); err != nil {
		return fmt.Errorf("invalid resume message: %w", err)
	}
	return s.orch.ResumeWorkflow(ctx, msg.RunID)
}

func (s *Service) handleCancel(ctx context.Context, _ string, payload []byte) error {
	var msg runControlMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("unmarshal cancel message: %w", err)
	}
	if err := validate.Struct(msg); err != nil {
		return fmt.Errorf("invalid cancel message: %w", err)
	}
	return s.orch.CancelWorkflow(ctx, msg.RunID, msg.Reason)
}
