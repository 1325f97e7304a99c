package domain

// TriggerEvent is the tagged variant for the lifecycle event that started a
// run, replacing the source's free-form `any` payload.
type TriggerEvent struct {
	Type      TriggerType `json:"type"`
	Payload   Variables   `json:"payload"`
	Timestamp int64       `json:"timestamp"`
}

// ExecutionContext is the mutable variable bag threaded through a run.
// Secrets are kept out of Variables and redacted on Serialize so a
// persisted context never carries credentials at rest.
type ExecutionContext struct {
	OrgID         string            `json:"orgId"`
	EmployeeID    string            `json:"employeeId"`
	TriggerEvent  TriggerEvent      `json:"triggerEvent"`
	Variables     Variables         `json:"variables"`
	Secrets       map[string]string `json:"secrets"`
	CorrelationID string            `json:"correlationId"`
	ParentContext *ExecutionContext `json:"parentContext,omitempty"`
}

// NewExecutionContext seeds the system.* and event.* variable namespaces,
// mirroring the teacher's RuntimeContext seeding in PrepareNodeInput.
func NewExecutionContext(orgID, employeeID string, trigger TriggerEvent, correlationID string) *ExecutionContext {
	vars := Variables{
		"system.organizationId": orgID,
		"system.employeeId":     employeeID,
		"system.triggerEvent":   string(trigger.Type),
		"event.type":            string(trigger.Type),
		"event.payload":         map[string]any(trigger.Payload),
		"event.timestamp":       trigger.Timestamp,
	}
	return &ExecutionContext{
		OrgID:         orgID,
		EmployeeID:    employeeID,
		TriggerEvent:  trigger,
		Variables:     vars,
		Secrets:       make(map[string]string),
		CorrelationID: correlationID,
	}
}

// MergeNodeOutput records a completed node's output under both its id and
// name namespaces, per spec §4.4.
func (c *ExecutionContext) MergeNodeOutput(nodeID, nodeName string, output Variables) {
	for k, v := range output {
		c.Variables["nodes."+nodeID+"."+k] = v
		if nodeName != "" {
			c.Variables["nodes."+nodeName+"."+k] = v
		}
	}
	c.Variables["nodes."+nodeID+".output"] = map[string]any(output)
	if nodeName != "" {
		c.Variables["nodes."+nodeName+".output"] = map[string]any(output)
	}
}

// RedactedSecret is stored in place of every secret value on serialize.
const RedactedSecret = "[REDACTED]"

// SerializableContext is the on-the-wire / at-rest shape of ExecutionContext:
// secrets are redacted, never the real values.
type SerializableContext struct {
	OrgID         string            `json:"orgId"`
	EmployeeID    string            `json:"employeeId"`
	TriggerEvent  TriggerEvent      `json:"triggerEvent"`
	Variables     Variables         `json:"variables"`
	Secrets       map[string]string `json:"secrets"`
	CorrelationID string            `json:"correlationId"`
}

// Serialize redacts secrets before returning an at-rest representation.
func (c *ExecutionContext) Serialize() SerializableContext {
	redacted := make(map[string]string, len(c.Secrets))
	for k := range c.Secrets {
		redacted[k] = RedactedSecret
	}
	return SerializableContext{
		OrgID:         c.OrgID,
		EmployeeID:    c.EmployeeID,
		TriggerEvent:  c.TriggerEvent,
		Variables:     c.Variables,
		Secrets:       redacted,
		CorrelationID: c.CorrelationID,
	}
}

// Deserialize rebuilds an ExecutionContext from its at-rest form. Secrets are
// always empty: they must be reloaded from a secret source by the caller.
func Deserialize(s SerializableContext) *ExecutionContext {
	return &ExecutionContext{
		OrgID:         s.OrgID,
		EmployeeID:    s.EmployeeID,
		TriggerEvent:  s.TriggerEvent,
		Variables:     s.Variables,
		Secrets:       make(map[string]string),
		CorrelationID: s.CorrelationID,
	}
}

// ParameterSourceType names where a parameter mapping draws its value from.
type ParameterSourceType string

const (
	SourceStatic     ParameterSourceType = "static"
	SourceContext    ParameterSourceType = "context"
	SourceNodeOutput ParameterSourceType = "node_output"
	SourceExpression ParameterSourceType = "expression"
)

// ParameterMapping resolves one node input field.
type ParameterMapping struct {
	SourceType   ParameterSourceType `json:"sourceType"`
	SourcePath   string              `json:"sourcePath"`
	TargetPath   string              `json:"targetPath"`
	DefaultValue any                 `json:"defaultValue,omitempty"`
	Required     bool                `json:"required,omitempty"`
}
