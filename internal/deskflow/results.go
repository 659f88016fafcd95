package deskflow

import "time"

// TriggerReason explains a TriggerResult.
type TriggerReason string

const (
	// ReasonApplied: this configuration won and its transition was applied.
	ReasonApplied TriggerReason = "applied"
	// ReasonShadowed: matched, but a higher-priority configuration won.
	ReasonShadowed TriggerReason = "shadowed"
	// ReasonDuplicate: the message was already escalated earlier.
	ReasonDuplicate TriggerReason = "duplicate"
	// ReasonNoMatch: nothing matched (not an error).
	ReasonNoMatch TriggerReason = "no_match"
	// ReasonRuleError: the configuration could not be evaluated and was skipped.
	ReasonRuleError TriggerReason = "rule_error"
	// ReasonConflict: the status write lost twice to concurrent writers.
	ReasonConflict TriggerReason = "conflict"
	// ReasonAlreadyEscalated: matched, but the conversation was already in
	// the target state so nothing was written or sent.
	ReasonAlreadyEscalated TriggerReason = "already_escalated"
)

// TriggerResult is the outcome of one escalation configuration for one message.
type TriggerResult struct {
	ID              string        `json:"id"`
	TenantID        string        `json:"tenant_id"`
	ConfigurationID string        `json:"configuration_id,omitempty"`
	Name            string        `json:"name,omitempty"`
	Priority        int           `json:"priority"`
	ConversationID  string        `json:"conversation_id"`
	MessageID       string        `json:"message_id"`
	Matched         bool          `json:"matched"`
	Success         bool          `json:"success"`
	Reason          TriggerReason `json:"reason"`
	// Conflict is set when the transition could not be written; the caller
	// may re-evaluate.
	Conflict    bool      `json:"conflict,omitempty"`
	Notified    bool      `json:"notified,omitempty"`
	Error       string    `json:"error,omitempty"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// TriageResult is the outcome of one triage rule for one conversation.
type TriageResult struct {
	RuleID         string `json:"rule_id"`
	Name           string `json:"name,omitempty"`
	Matched        bool   `json:"matched"`
	Delta          int    `json:"delta"`
	AssignmentHint string `json:"assignment_hint,omitempty"`
	Error          string `json:"error,omitempty"`
}

// PriorityBand is a coarse label derived from the score.
type PriorityBand string

const (
	PriorityUrgent PriorityBand = "urgent"
	PriorityHigh   PriorityBand = "high"
	PriorityNormal PriorityBand = "normal"
	PriorityLow    PriorityBand = "low"
)

// Valid reports whether b is a known band.
func (b PriorityBand) Valid() bool {
	switch b {
	case PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// PriorityQueueEntry is a derived, never persisted, queue position.
// Ordering is (Score desc, EnqueuedAt asc).
type PriorityQueueEntry struct {
	ConversationID    string       `json:"conversation_id"`
	Score             float64      `json:"score"`
	Priority          PriorityBand `json:"priority"`
	AssignedTo        string       `json:"assigned_to,omitempty"`
	SuggestedAssignee string       `json:"suggested_assignee,omitempty"`
	EnqueuedAt        time.Time    `json:"enqueued_at"`
}

// QueueFilter narrows GetPriorityQueue.
type QueueFilter struct {
	TenantID   string       `json:"tenant_id"`
	Priority   PriorityBand `json:"priority,omitempty"`
	AssignedTo string       `json:"assigned_to,omitempty"`
	Limit      int          `json:"limit"`
	Offset     int          `json:"offset"`
}

// Evaluation is the combined result of evaluateMessage.
type Evaluation struct {
	Escalated          bool               `json:"escalated"`
	Conflict           bool               `json:"conflict,omitempty"`
	TriggerResults     []TriggerResult    `json:"trigger_results"`
	TriageResults      []TriageResult     `json:"triage_results"`
	Score              float64            `json:"score"`
	WorkflowExecutions []ExecutionSummary `json:"workflow_executions"`
}
