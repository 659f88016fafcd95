package deskflow

import "time"

// ExecutionStatus is the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "PENDING"
	ExecutionRunning   ExecutionStatus = "RUNNING"
	ExecutionCompleted ExecutionStatus = "COMPLETED"
	ExecutionFailed    ExecutionStatus = "FAILED"
	ExecutionCancelled ExecutionStatus = "CANCELLED"
)

// Terminal reports whether s can no longer change.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionCancelled
}

// NodeStatus is the outcome of a visited node.
type NodeStatus string

const (
	NodeSuccess NodeStatus = "SUCCESS"
	NodeFailure NodeStatus = "FAILURE"
)

// NodeResult records one visited node.
type NodeResult struct {
	NodeID string         `json:"node_id"`
	Type   NodeType       `json:"type"`
	Status NodeStatus     `json:"status"`
	Output map[string]any `json:"output,omitempty"`
	Error  string         `json:"error,omitempty"`
	// Ignorable marks a failure that does not fail the run (continue_on_error
	// or routed through an onError edge).
	Ignorable   bool      `json:"ignorable,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// WorkflowExecution is one run of a workflow for a single triggering event.
// After creation only Status, CompletedAt, NodeResults and the suspension
// cursor change, and a terminal execution never changes again.
type WorkflowExecution struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenant_id"`
	WorkflowID      string          `json:"workflow_id"`
	WorkflowVersion int             `json:"workflow_version"`
	TriggerEventID  string          `json:"trigger_event_id"`
	ConversationID  string          `json:"conversation_id,omitempty"`
	Status          ExecutionStatus `json:"status"`
	StartedAt       time.Time       `json:"started_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	NodeResults     []NodeResult    `json:"node_results"`
	Error           string          `json:"error,omitempty"`

	// Trigger is the event that started the run, replayed on resumption.
	Trigger TriggerContext `json:"trigger"`
	// Pending holds the nodes activated but not yet visited while suspended.
	Pending []string `json:"pending,omitempty"`
	// WaitingOn is the delay node the run is suspended on, if any.
	WaitingOn string     `json:"waiting_on,omitempty"`
	ResumeAt  *time.Time `json:"resume_at,omitempty"`
	// CancelRequested is set by Cancel and honored between nodes.
	CancelRequested bool `json:"cancel_requested,omitempty"`
	// Version increments on every store write (compare-and-swap token).
	Version int64 `json:"version"`
}

// Suspended reports whether the run is parked on a delay node.
func (e *WorkflowExecution) Suspended() bool {
	return e.Status == ExecutionRunning && e.WaitingOn != ""
}

// Duration returns the wall-clock duration of a finished execution.
func (e *WorkflowExecution) Duration() (time.Duration, bool) {
	if e.CompletedAt == nil {
		return 0, false
	}
	return e.CompletedAt.Sub(e.StartedAt), true
}

// FirstFailure returns the first failed node result, if any.
func (e *WorkflowExecution) FirstFailure() (NodeResult, bool) {
	for _, r := range e.NodeResults {
		if r.Status == NodeFailure {
			return r, true
		}
	}
	return NodeResult{}, false
}

// ExecutionSummary is the dashboard view of an execution: its status and
// the first failing node, never a stack trace.
type ExecutionSummary struct {
	ID            string          `json:"id"`
	WorkflowID    string          `json:"workflow_id"`
	Status        ExecutionStatus `json:"status"`
	StartedAt     time.Time       `json:"started_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	FailedNodeID  string          `json:"failed_node_id,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
}

// Summary builds the dashboard view.
func (e *WorkflowExecution) Summary() ExecutionSummary {
	s := ExecutionSummary{
		ID:          e.ID,
		WorkflowID:  e.WorkflowID,
		Status:      e.Status,
		StartedAt:   e.StartedAt,
		CompletedAt: e.CompletedAt,
	}
	if f, ok := e.FirstFailure(); ok {
		s.FailedNodeID = f.NodeID
		s.FailureReason = f.Error
	}
	return s
}

// Clone returns a deep-enough copy for store isolation.
func (e *WorkflowExecution) Clone() *WorkflowExecution {
	cp := *e
	cp.NodeResults = append([]NodeResult(nil), e.NodeResults...)
	cp.Pending = append([]string(nil), e.Pending...)
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		cp.CompletedAt = &t
	}
	if e.ResumeAt != nil {
		t := *e.ResumeAt
		cp.ResumeAt = &t
	}
	return &cp
}

// Wakeup is a durable resumption request for a suspended execution.
// Delivery is at-least-once; the engine ignores stale or repeated wakeups.
type Wakeup struct {
	ExecutionID string    `json:"execution_id"`
	NodeID      string    `json:"node_id"`
	DueAt       time.Time `json:"due_at"`
	Attempts    int       `json:"attempts"`
}

// Key identifies the wakeup.
func (w Wakeup) Key() string { return w.ExecutionID + "/" + w.NodeID }

// ConcurrencyLimits controls how many executions can run simultaneously.
type ConcurrencyLimits struct {
	GlobalMax   int `json:"global_max"   yaml:"global_max"`
	PerWorkflow int `json:"per_workflow" yaml:"per_workflow"`
}

// DefaultConcurrencyLimits returns sensible defaults.
func DefaultConcurrencyLimits() ConcurrencyLimits {
	return ConcurrencyLimits{
		GlobalMax:   32,
		PerWorkflow: 8,
	}
}

// RetryPolicy defines how an action collaborator retries its own calls.
type RetryPolicy struct {
	MaxRetries    int           `json:"max_retries"    yaml:"max_retries"`
	InitialDelay  time.Duration `json:"initial_delay"  yaml:"initial_delay"`
	MaxDelay      time.Duration `json:"max_delay"      yaml:"max_delay"`
	BackoffFactor float64       `json:"backoff_factor" yaml:"backoff_factor"`
}

// DefaultRetryPolicy returns a sensible default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    2,
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}
