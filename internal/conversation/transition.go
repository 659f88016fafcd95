// Package conversation applies conversation status changes under
// optimistic concurrency: read, mutate, compare-and-swap, retry once on a
// lost race, then report the conflict instead of dropping the write.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/soochol/deskflow/internal/deskflow"
	"github.com/soochol/deskflow/internal/deskflow/ports"
	"github.com/soochol/deskflow/internal/repository"
)

var _ ports.ConversationTransitioner = (*Transitioner)(nil)

// ErrUnchanged may be returned by a mutate func to skip the write when the
// conversation is already in the wanted state.
var ErrUnchanged = errors.New("conversation unchanged")

// maxAttempts is one write plus one retry with a fresh read.
const maxAttempts = 2

// Transitioner writes conversation changes with compare-and-swap.
type Transitioner struct {
	repo repository.ConversationRepository
	now  func() time.Time
}

func NewTransitioner(repo repository.ConversationRepository) *Transitioner {
	return &Transitioner{repo: repo, now: time.Now}
}

// Transition reads the conversation, applies mutate to a copy and writes
// it if nobody else wrote in between. It returns the stored conversation.
// After two lost races it returns the latest read and an error wrapping
// deskflow.ErrConcurrencyConflict. A mutate returning ErrUnchanged ends
// the transition without a write; the current conversation is returned
// together with ErrUnchanged so callers can tell a no-op from a change.
func (t *Transitioner) Transition(ctx context.Context, tenantID, conversationID string, mutate func(*deskflow.Conversation) error) (*deskflow.Conversation, error) {
	var latest *deskflow.Conversation
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		cur, err := t.repo.Get(ctx, tenantID, conversationID)
		if err != nil {
			return nil, deskflow.WrapStore("get conversation", err)
		}
		latest = cur

		next := cur.Clone()
		if err := mutate(next); err != nil {
			return cur, err
		}
		next.UpdatedAt = t.now()

		err = t.repo.CompareAndSwap(ctx, next, cur.Version)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, deskflow.ErrConcurrencyConflict) {
			return cur, deskflow.WrapStore("update conversation", err)
		}
		slog.Debug("conversation write lost a race", "conversation", conversationID, "attempt", attempt)
	}
	return latest, fmt.Errorf("conversation %s: %w", conversationID, deskflow.ErrConcurrencyConflict)
}

// Escalate moves a conversation to target (human handling by default),
// stamping EnqueuedAt on entry into human handling. assignTo is applied
// when non-empty.
func Escalate(target deskflow.ConversationStatus, assignTo string, now time.Time) func(*deskflow.Conversation) error {
	if target == "" {
		target = deskflow.ConversationHuman
	}
	return func(c *deskflow.Conversation) error {
		if c.Status == target && (assignTo == "" || c.AssignedTo == assignTo) {
			return ErrUnchanged
		}
		if c.Status != deskflow.ConversationHuman && target == deskflow.ConversationHuman {
			c.EnqueuedAt = &now
		}
		c.Status = target
		if assignTo != "" {
			c.AssignedTo = assignTo
		}
		return nil
	}
}

// Update is a generic field update used by the update_conversation action.
type Update struct {
	Status     deskflow.ConversationStatus `json:"status,omitempty"`
	AssignedTo *string                     `json:"assigned_to,omitempty"`
	AddTags    []string                    `json:"add_tags,omitempty"`
	Metadata   map[string]any              `json:"metadata,omitempty"`
}

// Apply returns a mutate func for u.
func (u Update) Apply(now time.Time) func(*deskflow.Conversation) error {
	return func(c *deskflow.Conversation) error {
		if u.Status != "" {
			if !u.Status.Valid() {
				return fmt.Errorf("unknown conversation status %q", u.Status)
			}
			if c.Status != deskflow.ConversationHuman && u.Status == deskflow.ConversationHuman {
				c.EnqueuedAt = &now
			}
			c.Status = u.Status
		}
		if u.AssignedTo != nil {
			c.AssignedTo = *u.AssignedTo
		}
		for _, tag := range u.AddTags {
			if !hasTag(c.Tags, tag) {
				c.Tags = append(c.Tags, tag)
			}
		}
		if len(u.Metadata) > 0 && c.Metadata == nil {
			c.Metadata = make(map[string]any, len(u.Metadata))
		}
		for k, v := range u.Metadata {
			c.Metadata[k] = v
		}
		return nil
	}
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}
