package domain

import "time"

// WorkflowStatus is the authoritative status of a workflow run.
type WorkflowStatus string

const (
	WorkflowPending      WorkflowStatus = "PENDING"
	WorkflowRunning      WorkflowStatus = "RUNNING"
	WorkflowPaused       WorkflowStatus = "PAUSED"
	WorkflowCompleted    WorkflowStatus = "COMPLETED"
	WorkflowFailed       WorkflowStatus = "FAILED"
	WorkflowCancelled    WorkflowStatus = "CANCELLED"
	WorkflowTimeout      WorkflowStatus = "TIMEOUT"
	WorkflowCompensating WorkflowStatus = "COMPENSATING"
)

// NodeStatus is the authoritative status of one node within a run.
type NodeStatus string

const (
	NodeQueued    NodeStatus = "QUEUED"
	NodeRunning   NodeStatus = "RUNNING"
	NodeCompleted NodeStatus = "COMPLETED"
	NodeFailed    NodeStatus = "FAILED"
	NodeRetrying  NodeStatus = "RETRYING"
	NodeSkipped   NodeStatus = "SKIPPED"
	NodeCancelled NodeStatus = "CANCELLED"
	NodeTimeout   NodeStatus = "TIMEOUT"
)

// ErrorDetails is the minimal error record carried on run/node state.
type ErrorDetails struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	NodeID    string    `json:"nodeId,omitempty"`
	Retryable bool      `json:"retryable"`
	Timestamp time.Time `json:"timestamp"`
}

// WorkflowState is the per-run mutable record keyed by runId.
type WorkflowState struct {
	RunID         string         `json:"runId"`
	WorkflowID    string         `json:"workflowId"`
	OrgID         string         `json:"orgId"`
	EmployeeID    string         `json:"employeeId"`
	CorrelationID string         `json:"correlationId"`
	Status        WorkflowStatus `json:"status"`

	CurrentNodes   map[string]bool `json:"currentNodes"`
	CompletedNodes map[string]bool `json:"completedNodes"`
	FailedNodes    map[string]bool `json:"failedNodes"`
	SkippedNodes   map[string]bool `json:"skippedNodes"`

	Context Variables `json:"context"`

	StartedAt     time.Time     `json:"startedAt"`
	LastUpdatedAt time.Time     `json:"lastUpdatedAt"`
	ErrorDetails  *ErrorDetails `json:"errorDetails,omitempty"`
}

// NewWorkflowState builds an initial PENDING WorkflowState.
func NewWorkflowState(runID string, def *WorkflowDefinition, employeeID, correlationID string, ctx Variables) *WorkflowState {
	now := time.Now()
	return &WorkflowState{
		RunID:          runID,
		WorkflowID:     def.ID,
		OrgID:          def.OrgID,
		EmployeeID:     employeeID,
		CorrelationID:  correlationID,
		Status:         WorkflowPending,
		CurrentNodes:   make(map[string]bool),
		CompletedNodes: make(map[string]bool),
		FailedNodes:    make(map[string]bool),
		SkippedNodes:   make(map[string]bool),
		Context:        ctx,
		StartedAt:      now,
		LastUpdatedAt:  now,
	}
}

// TotalAccountedFor returns |completed|+|failed|+|skipped|, the left side of
// the completion predicate in spec §4.1.
func (s *WorkflowState) TotalAccountedFor() int {
	return len(s.CompletedNodes) + len(s.FailedNodes) + len(s.SkippedNodes)
}

// NodeState is the per-(runId,nodeId) mutable record.
type NodeState struct {
	RunID        string        `json:"runId"`
	NodeID       string        `json:"nodeId"`
	Status       NodeStatus    `json:"status"`
	Attempt      int           `json:"attempt"`
	Input        Variables     `json:"input,omitempty"`
	Output       Variables     `json:"output,omitempty"`
	ErrorDetails *ErrorDetails `json:"errorDetails,omitempty"`
	StartedAt    *time.Time    `json:"startedAt,omitempty"`
	EndedAt      *time.Time    `json:"endedAt,omitempty"`
	NextRetryAt  *time.Time    `json:"nextRetryAt,omitempty"`
}

// NewNodeState builds an initial QUEUED NodeState at attempt 1.
func NewNodeState(runID, nodeID string) *NodeState {
	return &NodeState{
		RunID:   runID,
		NodeID:  nodeID,
		Status:  NodeQueued,
		Attempt: 1,
	}
}

// IsTerminal reports whether status is one from which no further
// transition is possible without external intervention.
func (s NodeStatus) IsTerminal() bool {
	switch s {
	case NodeCompleted, NodeFailed, NodeSkipped, NodeCancelled, NodeTimeout:
		return true
	default:
		return false
	}
}

// CircuitState is the per-external-service circuit breaker state.
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"
	CircuitOpen     CircuitState = "OPEN"
	CircuitHalfOpen CircuitState = "HALF_OPEN"
)

// CircuitBreakerRecord is the cross-instance-shared state for one service.
type CircuitBreakerRecord struct {
	Service        string       `json:"service"`
	State          CircuitState `json:"state"`
	FailureCount   int64        `json:"failureCount"`
	SuccessCount   int64        `json:"successCount"`
	TotalRequests  int64        `json:"totalRequests"`
	LastFailureAt  *time.Time   `json:"lastFailureAt,omitempty"`
	NextRetryAt    *time.Time   `json:"nextRetryAt,omitempty"`
}

// ErrorLogEntry is the structured record emitted to the error sink.
type ErrorLogEntry struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	Level      string         `json:"level"`
	Category   string         `json:"category"`
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Context    map[string]any `json:"context,omitempty"`
	StackTrace string         `json:"stackTrace,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
}
