package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/soochol/deskflow/internal/deskflow"
)

// MemoryConversationRepository keeps conversations and their messages in
// memory.
type MemoryConversationRepository struct {
	mu            sync.RWMutex
	conversations map[string]*deskflow.Conversation
	messages      map[string][]*deskflow.Message
	messageIDs    map[string]bool
}

func NewMemoryConversationRepository() *MemoryConversationRepository {
	return &MemoryConversationRepository{
		conversations: make(map[string]*deskflow.Conversation),
		messages:      make(map[string][]*deskflow.Message),
		messageIDs:    make(map[string]bool),
	}
}

func convKey(tenantID, id string) string { return tenantID + "/" + id }

func (r *MemoryConversationRepository) Get(_ context.Context, tenantID, id string) (*deskflow.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conversations[convKey(tenantID, id)]
	if !ok {
		return nil, fmt.Errorf("conversation %q: %w", id, ErrNotFound)
	}
	return c.Clone(), nil
}

func (r *MemoryConversationRepository) Create(_ context.Context, conv *deskflow.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := convKey(conv.TenantID, conv.ID)
	if _, ok := r.conversations[key]; ok {
		return fmt.Errorf("conversation %q: %w", conv.ID, deskflow.ErrDuplicate)
	}
	if conv.Version == 0 {
		conv.Version = 1
	}
	r.conversations[key] = conv.Clone()
	return nil
}

func (r *MemoryConversationRepository) CompareAndSwap(_ context.Context, conv *deskflow.Conversation, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := convKey(conv.TenantID, conv.ID)
	cur, ok := r.conversations[key]
	if !ok {
		return fmt.Errorf("conversation %q: %w", conv.ID, ErrNotFound)
	}
	if cur.Version != expectedVersion {
		return fmt.Errorf("conversation %q at version %d: %w", conv.ID, expectedVersion, deskflow.ErrConcurrencyConflict)
	}
	conv.Version = expectedVersion + 1
	r.conversations[key] = conv.Clone()
	return nil
}

func (r *MemoryConversationRepository) AppendMessage(_ context.Context, msg *deskflow.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := convKey(msg.TenantID, msg.ConversationID)
	conv, ok := r.conversations[key]
	if !ok {
		return fmt.Errorf("conversation %q: %w", msg.ConversationID, ErrNotFound)
	}
	msgKey := key + "/" + msg.ID
	if r.messageIDs[msgKey] {
		return fmt.Errorf("message %q: %w", msg.ID, deskflow.ErrDuplicate)
	}
	r.messageIDs[msgKey] = true
	cp := *msg
	r.messages[key] = append(r.messages[key], &cp)

	applyMessage(conv, msg)
	return nil
}

// applyMessage refreshes the denormalized last-message fields. It never
// touches Status or Version, so status CAS writers are not disturbed.
func applyMessage(conv *deskflow.Conversation, msg *deskflow.Message) {
	at := msg.CreatedAt
	conv.MessageCount++
	conv.LastMessageAt = &at
	conv.UpdatedAt = time.Now().UTC()
	switch msg.Role {
	case deskflow.RoleAgent:
		conv.LastHumanTouchAt = &at
	case deskflow.RoleCustomer, "":
		conv.LastMessageText = msg.Content
		conv.LastMessageSentiment = msg.Sentiment
	}
}

func (r *MemoryConversationRepository) RecentMessages(_ context.Context, tenantID, conversationID string, limit int) ([]*deskflow.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := r.messages[convKey(tenantID, conversationID)]
	start := 0
	if limit > 0 && len(all) > limit {
		start = len(all) - limit
	}
	out := make([]*deskflow.Message, 0, len(all)-start)
	for _, m := range all[start:] {
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

func (r *MemoryConversationRepository) ListByStatus(_ context.Context, tenantID string, status deskflow.ConversationStatus) ([]*deskflow.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*deskflow.Conversation
	for _, c := range r.conversations {
		if c.TenantID == tenantID && c.Status == status {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryConversationRepository) SetLastScore(_ context.Context, tenantID, id string, score float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conversations[convKey(tenantID, id)]
	if !ok {
		return fmt.Errorf("conversation %q: %w", id, ErrNotFound)
	}
	c.LastScore = &score
	return nil
}
