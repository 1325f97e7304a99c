package domain

// NodeType is the closed set of node types a workflow DAG may reference.
// Concrete execution of each type lives in an external executor service;
// the engine only knows how to dispatch and track it.
type NodeType string

const (
	NodeIdentityProvision  NodeType = "identity.provision"
	NodeIdentityDeprovision NodeType = "identity.deprovision"
	NodeEmailSend          NodeType = "email.send"
	NodeCalendarSchedule   NodeType = "calendar.schedule"
	NodeSlackMessage       NodeType = "slack.message"
	NodeSlackChannelInvite NodeType = "slack.channel_invite"
	NodeDocumentDistribute NodeType = "document.distribute"
	NodeAIGenerateContent  NodeType = "ai.generate_content"
	NodeWebhookCall        NodeType = "webhook.call"
	NodeDelay              NodeType = "delay"
	NodeCondition          NodeType = "condition"
	NodeParallel           NodeType = "parallel"
	NodeCompensation       NodeType = "compensation"
)

// SupportedNodeTypes is the closed set validated by the DAG parser.
var SupportedNodeTypes = map[NodeType]bool{
	NodeIdentityProvision:   true,
	NodeIdentityDeprovision: true,
	NodeEmailSend:           true,
	NodeCalendarSchedule:    true,
	NodeSlackMessage:        true,
	NodeSlackChannelInvite:  true,
	NodeDocumentDistribute:  true,
	NodeAIGenerateContent:   true,
	NodeWebhookCall:         true,
	NodeDelay:               true,
	NodeCondition:           true,
	NodeParallel:            true,
	NodeCompensation:        true,
}

// RetryPolicy overrides the engine's default backoff behaviour for a node.
type RetryPolicy struct {
	MaxRetries   int     `json:"maxRetries"`
	BackoffMs    int64   `json:"backoffMs"`
	Multiplier   float64 `json:"multiplier"`
	MaxBackoffMs int64   `json:"maxBackoffMs"`
	Jitter       bool    `json:"jitter"`
}

// Node is one action inside a workflow DAG.
type Node struct {
	ID            string             `json:"id"`
	Type          NodeType           `json:"type"`
	Name          string             `json:"name"`
	Params        Variables          `json:"params"`
	ParamMappings []ParameterMapping `json:"paramMappings,omitempty"`
	RetryPolicy   *RetryPolicy       `json:"retryPolicy,omitempty"`
	TimeoutMs     int64              `json:"timeoutMs"`
	Position      Position           `json:"position"`
}

// Position is presentation-only metadata carried through unmodified.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Edge is a directed dependency from one node to another.
type Edge struct {
	ID         string `json:"id"`
	FromNodeID string `json:"fromNodeId"`
	ToNodeID   string `json:"toNodeId"`
}

// DAG is the raw, as-authored graph inside a WorkflowDefinition.
type DAG struct {
	Nodes    []Node    `json:"nodes"`
	Edges    []Edge    `json:"edges"`
	Metadata Variables `json:"metadata,omitempty"`
}

// TriggerType names the lifecycle event class a workflow responds to.
type TriggerType string

const (
	TriggerOnboard  TriggerType = "onboard"
	TriggerExit     TriggerType = "exit"
	TriggerTransfer TriggerType = "transfer"
	TriggerUpdate   TriggerType = "update"
)

// WorkflowDefinition is the immutable, authored workflow record.
type WorkflowDefinition struct {
	ID       string      `json:"id"`
	OrgID    string      `json:"orgId"`
	Name     string      `json:"name"`
	Trigger  TriggerType `json:"trigger"`
	Version  int         `json:"version"`
	IsActive bool        `json:"isActive"`
	DAG      DAG         `json:"dag"`
}
