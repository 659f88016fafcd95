package deskflow

import "time"

// MessageEvent is the single inbound event evaluateMessage handles.
type MessageEvent struct {
	// EventID identifies the triggering event; it defaults to MessageID.
	EventID        string         `json:"event_id,omitempty"`
	Kind           EventKind      `json:"kind,omitempty"`
	TenantID       string         `json:"tenant_id"`
	ConversationID string         `json:"conversation_id"`
	MessageID      string         `json:"message_id"`
	Role           MessageRole    `json:"role,omitempty"`
	Content        string         `json:"content"`
	SentimentScore *float64       `json:"sentiment_score,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	ReceivedAt     time.Time      `json:"received_at"`
}

// TriggerContext is the event as seen by a workflow run.
type TriggerContext struct {
	EventID        string         `json:"event_id"`
	Kind           EventKind      `json:"kind"`
	TenantID       string         `json:"tenant_id"`
	ConversationID string         `json:"conversation_id,omitempty"`
	MessageID      string         `json:"message_id,omitempty"`
	Content        string         `json:"content,omitempty"`
	SentimentScore *float64       `json:"sentiment_score,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
}

// Trigger converts the message event into a trigger context.
func (e MessageEvent) Trigger() TriggerContext {
	kind := e.Kind
	if kind == "" {
		kind = EventMessageReceived
	}
	id := e.EventID
	if id == "" {
		id = e.MessageID
	}
	return TriggerContext{
		EventID:        id,
		Kind:           kind,
		TenantID:       e.TenantID,
		ConversationID: e.ConversationID,
		MessageID:      e.MessageID,
		Content:        e.Content,
		SentimentScore: e.SentimentScore,
		Metadata:       e.Metadata,
		OccurredAt:     e.ReceivedAt,
	}
}

// Float returns a pointer to v; convenient for optional sentiment scores.
func Float(v float64) *float64 { return &v }
