package deskflow

import "time"

// EscalationAction is what happens when an escalation configuration wins.
type EscalationAction struct {
	// TargetStatus is the conversation status to transition to.
	TargetStatus ConversationStatus  `json:"target_status"`
	AssignTo     string              `json:"assign_to,omitempty"`
	Notify       *NotificationTarget `json:"notify,omitempty"`
}

// EscalationConfiguration is a staff-authored escalation rule. Lower
// Priority fires first.
type EscalationConfiguration struct {
	ID        string           `json:"id"`
	TenantID  string           `json:"tenant_id"`
	Name      string           `json:"name"`
	IsActive  bool             `json:"is_active"`
	Condition Condition        `json:"condition"`
	Priority  int              `json:"priority"`
	Action    EscalationAction `json:"action"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// TriageRule adds PriorityScoreDelta to a conversation's score when its
// condition matches. All active rules apply; there is no first-match.
type TriageRule struct {
	ID                 string    `json:"id"`
	TenantID           string    `json:"tenant_id"`
	Name               string    `json:"name"`
	IsActive           bool      `json:"is_active"`
	Condition          Condition `json:"condition"`
	PriorityScoreDelta int       `json:"priority_score_delta"`
	AssignmentHint     string    `json:"assignment_hint,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// NotificationTarget addresses a delivery channel. ConnectionID refers to a
// tenant connection holding the channel credentials.
type NotificationTarget struct {
	Channel      ConnectionType `json:"channel"`
	ConnectionID string         `json:"connection_id,omitempty"`
	// Address overrides the connection's default recipient (channel, chat id,
	// email address or URL depending on Channel).
	Address string `json:"address,omitempty"`
}

// NotificationPayload is what gets delivered.
type NotificationPayload struct {
	TenantID       string         `json:"tenant_id"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Subject        string         `json:"subject,omitempty"`
	Text           string         `json:"text"`
	Fields         map[string]any `json:"fields,omitempty"`
}
