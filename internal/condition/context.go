// Package condition evaluates condition trees and expressions against a
// message and conversation context. Evaluation is pure and total: missing
// fields compare false and nothing panics on a well-formed context.
package condition

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/soochol/deskflow/internal/deskflow"
)

// negativeSentiment is the threshold under which a history message counts
// toward history.negative_count.
const negativeSentiment = -0.3

// Context is everything a condition can address. Any part may be absent.
type Context struct {
	// HasMessage is false for events that carry no message (status changes).
	HasMessage      bool
	MessageText     string
	Sentiment       *float64
	MessageMetadata map[string]any

	Conversation *deskflow.Conversation
	// History is the bounded lookback of recent messages, oldest first.
	History []*deskflow.Message
	Now     time.Time
}

// FromTrigger builds a Context for a trigger event.
func FromTrigger(tc deskflow.TriggerContext, conv *deskflow.Conversation, history []*deskflow.Message, now time.Time) *Context {
	return &Context{
		HasMessage:      tc.MessageID != "" || tc.Content != "",
		MessageText:     tc.Content,
		Sentiment:       tc.SentimentScore,
		MessageMetadata: tc.Metadata,
		Conversation:    conv,
		History:         history,
		Now:             now,
	}
}

// Lookup resolves field. ok is false when the value is absent.
func (c *Context) Lookup(field deskflow.Field) (any, bool) {
	if c == nil {
		return nil, false
	}
	switch field {
	case deskflow.FieldMessageText:
		if !c.HasMessage {
			return nil, false
		}
		return c.MessageText, true
	case deskflow.FieldMessageLength:
		if !c.HasMessage {
			return nil, false
		}
		return float64(utf8.RuneCountInString(c.MessageText)), true
	case deskflow.FieldSentiment:
		if c.Sentiment == nil {
			return nil, false
		}
		return *c.Sentiment, true
	case deskflow.FieldConversationStatus:
		if c.Conversation == nil {
			return nil, false
		}
		return string(c.Conversation.Status), true
	case deskflow.FieldConversationAssignee:
		if c.Conversation == nil || c.Conversation.AssignedTo == "" {
			return nil, false
		}
		return c.Conversation.AssignedTo, true
	case deskflow.FieldMessageCount:
		if c.Conversation == nil {
			return nil, false
		}
		return float64(c.Conversation.MessageCount), true
	case deskflow.FieldWaitMinutes:
		if c.Conversation == nil || c.Now.IsZero() {
			return nil, false
		}
		return waitMinutes(c.Conversation, c.Now), true
	case deskflow.FieldHistoryText:
		if len(c.History) == 0 {
			return nil, false
		}
		return c.historyText(), true
	case deskflow.FieldNegativeHistoryCount:
		return float64(c.negativeCount()), true
	}

	if key, ok := field.MetadataKey(); ok && key != "" {
		if v, ok := c.MessageMetadata[key]; ok && v != nil {
			return v, true
		}
		if c.Conversation != nil {
			if v, ok := c.Conversation.Metadata[key]; ok && v != nil {
				return v, true
			}
		}
	}
	return nil, false
}

func (c *Context) historyText() string {
	parts := make([]string, 0, len(c.History))
	for _, m := range c.History {
		parts = append(parts, m.Content)
	}
	return strings.Join(parts, "\n")
}

func (c *Context) negativeCount() int {
	n := 0
	for _, m := range c.History {
		if m.Sentiment != nil && *m.Sentiment < negativeSentiment {
			n++
		}
	}
	return n
}

func waitMinutes(conv *deskflow.Conversation, now time.Time) float64 {
	d := now.Sub(conv.WaitingSince())
	if d < 0 {
		return 0
	}
	return d.Minutes()
}
