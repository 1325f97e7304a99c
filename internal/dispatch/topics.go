// Package dispatch implements the node dispatcher (C5): mapping node types
// to bus topics, publishing typed execution requests, and applying inbound
// results.
//
// Grounded directly on the teacher's internal/pkg/queue/client.go and
// server.go (task types, per-queue priority, asynq.Timeout/MaxRetry/
// Retention, the asynqLogger shim over zerolog) and the node-type registry
// pattern in internal/worker/core/types.go and internal/worker/nodes/registry.go,
// generalized from "node executes in-process" to "node type maps to an
// outbound bus topic".
package dispatch

import "github.com/linkflow-ai/officeflow-engine/internal/domain"

// ErrNoTopicForNodeType is returned when a node type has no entry in the
// dispatch table.
type ErrNoTopicForNodeType struct {
	NodeType domain.NodeType
}

func (e *ErrNoTopicForNodeType) Error() string {
	return "NO_TOPIC_FOR_NODE_TYPE: " + string(e.NodeType)
}

// topicTable maps each supported node type to its outbound request topic.
// Fixed at construction, per spec §4.5.
var topicTable = map[domain.NodeType]string{
	domain.NodeIdentityProvision:   "node.execute.identity.provision",
	domain.NodeIdentityDeprovision: "node.execute.identity.deprovision",
	domain.NodeEmailSend:           "node.execute.email.send",
	domain.NodeCalendarSchedule:    "node.execute.calendar.schedule",
	domain.NodeSlackMessage:        "node.execute.slack.message",
	domain.NodeSlackChannelInvite:  "node.execute.slack.channel_invite",
	domain.NodeDocumentDistribute:  "node.execute.document.distribute",
	domain.NodeAIGenerateContent:   "node.execute.ai.generate_content",
	domain.NodeWebhookCall:         "node.execute.webhook.call",
	domain.NodeDelay:               "node.execute.delay",
	domain.NodeCondition:           "node.execute.condition",
	domain.NodeParallel:            "node.execute.parallel",
	domain.NodeCompensation:        "node.execute.compensation",
}

// TopicForNodeType returns the outbound topic for nodeType, or
// ErrNoTopicForNodeType if the type is not registered.
func TopicForNodeType(nodeType domain.NodeType) (string, error) {
	topic, ok := topicTable[nodeType]
	if !ok {
		return "", &ErrNoTopicForNodeType{NodeType: nodeType}
	}
	return topic, nil
}

const (
	TopicNodeExecuteResult = "node.execute.result"
	TopicNodeExecuteCancel = "node.execute.cancel"
	TopicAuditEvents       = "audit.events"

	TopicWorkflowPause  = "workflow.run.pause"
	TopicWorkflowResume = "workflow.run.resume"
	TopicWorkflowCancel = "workflow.run.cancel"
)

// Inbound lifecycle-event topics the engine service consumes to start new
// runs, one per spec §1 trigger type.
const (
	TopicEmployeeOnboard  = "employee.onboard"
	TopicEmployeeExit     = "employee.exit"
	TopicEmployeeTransfer = "employee.transfer"
	TopicEmployeeUpdate   = "employee.update"
)

// LifecycleTopicsByTrigger maps each TriggerType to the inbound topic the
// engine service subscribes to for it.
var LifecycleTopicsByTrigger = map[domain.TriggerType]string{
	domain.TriggerOnboard:  TopicEmployeeOnboard,
	domain.TriggerExit:     TopicEmployeeExit,
	domain.TriggerTransfer: TopicEmployeeTransfer,
	domain.TriggerUpdate:   TopicEmployeeUpdate,
}

// LifecycleEventEnvelope is the inbound payload published on a
// TopicEmployee* topic to start a new workflow run for an organization's
// active definition for that trigger type.
type LifecycleEventEnvelope struct {
	OrgID         string              `json:"orgId" validate:"required"`
	EmployeeID    string              `json:"employeeId" validate:"required"`
	Trigger       domain.TriggerEvent `json:"trigger"`
	CorrelationID string              `json:"correlationId"`
}

// NodeExecutionRequest is the payload published for every dispatch.
type NodeExecutionRequest struct {
	RunID          string          `json:"runId"`
	NodeID         string          `json:"nodeId"`
	OrgID          string          `json:"orgId"`
	EmployeeID     string          `json:"employeeId"`
	NodeType       domain.NodeType `json:"nodeType"`
	Input          domain.Variables `json:"input"`
	Context        domain.Variables `json:"context"`
	IdempotencyKey string          `json:"idempotencyKey"`
	RetryAttempt   int             `json:"retryAttempt"`
	TimeoutMs      int64           `json:"timeoutMs"`
}

// RequestMetadata is carried alongside every outbound request envelope.
type RequestMetadata struct {
	CorrelationID string `json:"correlationId"`
	OrgID         string `json:"orgId"`
	EmployeeID    string `json:"employeeId"`
	Source        string `json:"source"`
	Version       string `json:"version"`
}

// RequestEnvelope is the wire shape published onto a node-type topic.
type RequestEnvelope struct {
	Type     string               `json:"type"`
	Payload  NodeExecutionRequest `json:"payload"`
	Metadata RequestMetadata      `json:"metadata"`
}

// ResultStatus is the outcome an executor reports back.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultFailed  ResultStatus = "failed"
	ResultRetry   ResultStatus = "retry"
)

// ResultMetadata accompanies every inbound result.
type ResultMetadata struct {
	ExecutionTimeMs int64     `json:"executionTimeMs"`
	Attempt         int       `json:"attempt"`
	Timestamp       int64     `json:"timestamp"`
}

// NodeExecutionResult is the inbound payload consumed from
// TopicNodeExecuteResult.
type NodeExecutionResult struct {
	RunID    string           `json:"runId"`
	NodeID   string           `json:"nodeId"`
	Status   ResultStatus     `json:"status"`
	Output   domain.Variables `json:"output,omitempty"`
	Error    *domain.ErrorDetails `json:"error,omitempty"`
	Metadata ResultMetadata   `json:"metadata"`
}

// CancelMessage is published best-effort on cancellation.
type CancelMessage struct {
	RunID  string `json:"runId"`
	NodeID string `json:"nodeId"`
	Reason string `json:"reason"`
}
