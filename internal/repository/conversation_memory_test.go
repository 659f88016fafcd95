package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/soochol/deskflow/internal/deskflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryConversationRepository_CompareAndSwap(t *testing.T) {
	repo := NewMemoryConversationRepository()
	ctx := context.Background()

	conv := &deskflow.Conversation{ID: "c1", TenantID: "acme", Status: deskflow.ConversationAI}
	require.NoError(t, repo.Create(ctx, conv))
	assert.ErrorIs(t, repo.Create(ctx, conv), deskflow.ErrDuplicate)

	a, err := repo.Get(ctx, "acme", "c1")
	require.NoError(t, err)
	b, err := repo.Get(ctx, "acme", "c1")
	require.NoError(t, err)

	a.Status = deskflow.ConversationHuman
	require.NoError(t, repo.CompareAndSwap(ctx, a, a.Version))
	assert.Equal(t, int64(2), a.Version)

	b.Status = deskflow.ConversationResolved
	assert.ErrorIs(t, repo.CompareAndSwap(ctx, b, b.Version), deskflow.ErrConcurrencyConflict)

	got, err := repo.Get(ctx, "acme", "c1")
	require.NoError(t, err)
	assert.Equal(t, deskflow.ConversationHuman, got.Status)

	_, err = repo.Get(ctx, "globex", "c1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryConversationRepository_Messages(t *testing.T) {
	repo := NewMemoryConversationRepository()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, &deskflow.Conversation{ID: "c1", TenantID: "acme", Status: deskflow.ConversationAI}))

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.AppendMessage(ctx, &deskflow.Message{
			ID:             fmt.Sprintf("m%d", i),
			TenantID:       "acme",
			ConversationID: "c1",
			Role:           deskflow.RoleCustomer,
			Content:        fmt.Sprintf("message %d", i),
			Sentiment:      deskflow.Float(-0.1 * float64(i)),
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		}))
	}
	err := repo.AppendMessage(ctx, &deskflow.Message{ID: "m0", TenantID: "acme", ConversationID: "c1"})
	assert.ErrorIs(t, err, deskflow.ErrDuplicate)

	recent, err := repo.RecentMessages(ctx, "acme", "c1", 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "m2", recent[0].ID)
	assert.Equal(t, "m4", recent[2].ID)

	conv, err := repo.Get(ctx, "acme", "c1")
	require.NoError(t, err)
	assert.Equal(t, 5, conv.MessageCount)
	assert.Equal(t, "message 4", conv.LastMessageText)
	assert.Equal(t, int64(1), conv.Version, "appending messages does not bump the status version")

	require.NoError(t, repo.AppendMessage(ctx, &deskflow.Message{
		ID: "a1", TenantID: "acme", ConversationID: "c1", Role: deskflow.RoleAgent,
		Content: "on it", CreatedAt: base.Add(10 * time.Minute),
	}))
	conv, _ = repo.Get(ctx, "acme", "c1")
	require.NotNil(t, conv.LastHumanTouchAt)
	assert.Equal(t, "message 4", conv.LastMessageText, "agent replies do not replace the customer text")
}

func TestMemoryConversationRepository_ListByStatus(t *testing.T) {
	repo := NewMemoryConversationRepository()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, &deskflow.Conversation{ID: "c2", TenantID: "acme", Status: deskflow.ConversationHuman}))
	require.NoError(t, repo.Create(ctx, &deskflow.Conversation{ID: "c1", TenantID: "acme", Status: deskflow.ConversationHuman}))
	require.NoError(t, repo.Create(ctx, &deskflow.Conversation{ID: "c3", TenantID: "acme", Status: deskflow.ConversationAI}))
	require.NoError(t, repo.Create(ctx, &deskflow.Conversation{ID: "c4", TenantID: "globex", Status: deskflow.ConversationHuman}))

	list, err := repo.ListByStatus(ctx, "acme", deskflow.ConversationHuman)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c1", list[0].ID)

	require.NoError(t, repo.SetLastScore(ctx, "acme", "c1", 12.5))
	got, _ := repo.Get(ctx, "acme", "c1")
	require.NotNil(t, got.LastScore)
	assert.Equal(t, 12.5, *got.LastScore)
	assert.Equal(t, int64(1), got.Version)
}
