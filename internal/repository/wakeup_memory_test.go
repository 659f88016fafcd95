package repository

import (
	"context"
	"testing"
	"time"

	"github.com/soochol/deskflow/internal/deskflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryWakeupRepository_ClaimLease(t *testing.T) {
	repo := NewMemoryWakeupRepository()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Schedule(ctx, deskflow.Wakeup{ExecutionID: "e1", NodeID: "d1", DueAt: now.Add(-time.Second)}))
	require.NoError(t, repo.Schedule(ctx, deskflow.Wakeup{ExecutionID: "e2", NodeID: "d1", DueAt: now.Add(time.Hour)}))

	due, err := repo.ClaimDue(ctx, now, time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "e1", due[0].ExecutionID)
	assert.Equal(t, 1, due[0].Attempts)

	// Leased wakeups are skipped by concurrent pollers.
	due, err = repo.ClaimDue(ctx, now.Add(30*time.Second), time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	// An expired lease is redelivered.
	due, err = repo.ClaimDue(ctx, now.Add(2*time.Minute), time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 2, due[0].Attempts)

	require.NoError(t, repo.Complete(ctx, "e1", "d1"))
	due, err = repo.ClaimDue(ctx, now.Add(10*time.Minute), time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestMemoryWakeupRepository_Limit(t *testing.T) {
	repo := NewMemoryWakeupRepository()
	ctx := context.Background()
	now := time.Now()
	for _, id := range []string{"e3", "e1", "e2"} {
		require.NoError(t, repo.Schedule(ctx, deskflow.Wakeup{ExecutionID: id, NodeID: "d", DueAt: now.Add(-time.Minute)}))
	}
	due, err := repo.ClaimDue(ctx, now, time.Minute, 2)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "e1", due[0].ExecutionID)
}
