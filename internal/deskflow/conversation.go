package deskflow

import "time"

// ConversationStatus is the handling state of a conversation.
type ConversationStatus string

const (
	ConversationAI       ConversationStatus = "ai_handling"
	ConversationHuman    ConversationStatus = "human_handling"
	ConversationResolved ConversationStatus = "resolved"
)

// Valid reports whether s is a known status.
func (s ConversationStatus) Valid() bool {
	switch s {
	case ConversationAI, ConversationHuman, ConversationResolved:
		return true
	}
	return false
}

// Conversation is the engine's view of a support conversation. Version is the
// optimistic-concurrency token: every status write compares and bumps it.
type Conversation struct {
	ID         string             `json:"id"`
	TenantID   string             `json:"tenant_id"`
	Status     ConversationStatus `json:"status"`
	AssignedTo string             `json:"assigned_to,omitempty"`
	Tags       []string           `json:"tags,omitempty"`
	Metadata   map[string]any     `json:"metadata,omitempty"`
	Version    int64              `json:"version"`

	// EnqueuedAt is when the conversation entered human handling.
	EnqueuedAt *time.Time `json:"enqueued_at,omitempty"`
	// LastHumanTouchAt is the last agent reply; wait time counts from here
	// (or from EnqueuedAt when no agent has replied yet).
	LastHumanTouchAt *time.Time `json:"last_human_touch_at,omitempty"`
	LastMessageAt    *time.Time `json:"last_message_at,omitempty"`

	// Last inbound message, denormalized so the queue can score lazily.
	LastMessageText      string   `json:"last_message_text,omitempty"`
	LastMessageSentiment *float64 `json:"last_message_sentiment,omitempty"`

	// LastScore is an analytics-only cache of the last computed priority.
	LastScore *float64 `json:"last_score,omitempty"`

	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Clone returns a copy safe to mutate.
func (c *Conversation) Clone() *Conversation {
	cp := *c
	cp.Tags = append([]string(nil), c.Tags...)
	if c.Metadata != nil {
		cp.Metadata = make(map[string]any, len(c.Metadata))
		for k, v := range c.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// WaitingSince returns the instant wait time is measured from.
func (c *Conversation) WaitingSince() time.Time {
	switch {
	case c.LastHumanTouchAt != nil && (c.EnqueuedAt == nil || c.LastHumanTouchAt.After(*c.EnqueuedAt)):
		return *c.LastHumanTouchAt
	case c.EnqueuedAt != nil:
		return *c.EnqueuedAt
	default:
		return c.CreatedAt
	}
}

// MessageRole identifies who authored a message.
type MessageRole string

const (
	RoleCustomer MessageRole = "customer"
	RoleBot      MessageRole = "bot"
	RoleAgent    MessageRole = "agent"
)

// Message is one entry of conversation history.
type Message struct {
	ID             string         `json:"id"`
	TenantID       string         `json:"tenant_id"`
	ConversationID string         `json:"conversation_id"`
	Role           MessageRole    `json:"role"`
	Content        string         `json:"content"`
	Sentiment      *float64       `json:"sentiment,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}
