package repository

import (
	"context"

	"github.com/soochol/deskflow/internal/deskflow"
)

// ConversationRepository persists conversations and their message history.
type ConversationRepository interface {
	Get(ctx context.Context, tenantID, id string) (*deskflow.Conversation, error)
	// Create inserts a conversation; ErrDuplicate if the id exists.
	Create(ctx context.Context, conv *deskflow.Conversation) error
	// CompareAndSwap writes conv if the stored Version equals
	// expectedVersion and sets conv.Version to expectedVersion+1.
	// It returns deskflow.ErrConcurrencyConflict otherwise.
	CompareAndSwap(ctx context.Context, conv *deskflow.Conversation, expectedVersion int64) error
	// AppendMessage records an inbound or outbound message and refreshes the
	// conversation's denormalized last-message fields. A repeated message id
	// returns deskflow.ErrDuplicate.
	AppendMessage(ctx context.Context, msg *deskflow.Message) error
	// RecentMessages returns up to limit most recent messages, oldest first.
	RecentMessages(ctx context.Context, tenantID, conversationID string, limit int) ([]*deskflow.Message, error)
	ListByStatus(ctx context.Context, tenantID string, status deskflow.ConversationStatus) ([]*deskflow.Conversation, error)
	// SetLastScore caches the last computed priority; it does not bump Version.
	SetLastScore(ctx context.Context, tenantID, id string, score float64) error
}
