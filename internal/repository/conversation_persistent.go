package repository

import (
	"context"

	"github.com/soochol/deskflow/internal/db"
	"github.com/soochol/deskflow/internal/deskflow"
)

// PersistentConversationRepository stores conversations in PostgreSQL.
type PersistentConversationRepository struct {
	db *db.DB
}

func NewPersistentConversationRepository(database *db.DB) *PersistentConversationRepository {
	return &PersistentConversationRepository{db: database}
}

func (r *PersistentConversationRepository) Get(ctx context.Context, tenantID, id string) (*deskflow.Conversation, error) {
	c, err := r.db.GetConversation(ctx, tenantID, id)
	return c, deskflow.WrapStore("get conversation", err)
}

func (r *PersistentConversationRepository) Create(ctx context.Context, conv *deskflow.Conversation) error {
	return deskflow.WrapStore("create conversation", r.db.CreateConversation(ctx, conv))
}

func (r *PersistentConversationRepository) CompareAndSwap(ctx context.Context, conv *deskflow.Conversation, expectedVersion int64) error {
	return deskflow.WrapStore("update conversation", r.db.CompareAndSwapConversation(ctx, conv, expectedVersion))
}

func (r *PersistentConversationRepository) AppendMessage(ctx context.Context, msg *deskflow.Message) error {
	return deskflow.WrapStore("append message", r.db.AppendMessage(ctx, msg))
}

func (r *PersistentConversationRepository) RecentMessages(ctx context.Context, tenantID, conversationID string, limit int) ([]*deskflow.Message, error) {
	msgs, err := r.db.RecentMessages(ctx, tenantID, conversationID, limit)
	return msgs, deskflow.WrapStore("list messages", err)
}

func (r *PersistentConversationRepository) ListByStatus(ctx context.Context, tenantID string, status deskflow.ConversationStatus) ([]*deskflow.Conversation, error) {
	list, err := r.db.ListConversationsByStatus(ctx, tenantID, status)
	return list, deskflow.WrapStore("list conversations", err)
}

func (r *PersistentConversationRepository) SetLastScore(ctx context.Context, tenantID, id string, score float64) error {
	return deskflow.WrapStore("set score", r.db.SetConversationScore(ctx, tenantID, id, score))
}
