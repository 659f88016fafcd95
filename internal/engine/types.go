package engine

import "time"

// EventType classifies execution lifecycle events.
type EventType string

const (
	EventExecutionStarted   EventType = "execution.started"
	EventExecutionSuspended EventType = "execution.suspended"
	EventExecutionResumed   EventType = "execution.resumed"
	EventExecutionFinished  EventType = "execution.finished"
	EventNodeCompleted      EventType = "node.completed"
	EventNodeFailed         EventType = "node.failed"
)

// Event is published on the bus as an execution progresses.
type Event struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	WorkflowID  string    `json:"workflow_id"`
	ExecutionID string    `json:"execution_id"`
	NodeID      string    `json:"node_id,omitempty"`
	Type        EventType `json:"type"`
	Payload     any       `json:"payload,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}
