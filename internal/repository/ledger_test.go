package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisLedger(t *testing.T, opts ...RedisLedgerOption) (*RedisEscalationLedger, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisEscalationLedger(client, opts...), mr
}

func exerciseLedger(t *testing.T, ledger EscalationLedger) {
	t.Helper()
	ctx := context.Background()

	ok, err := ledger.Claim(ctx, "acme", "msg-1", "cfg-a")
	require.NoError(t, err)
	assert.True(t, ok, "first claim wins")

	ok, err = ledger.Claim(ctx, "acme", "msg-1", "cfg-b")
	require.NoError(t, err)
	assert.False(t, ok, "second claim for the same message loses")

	ok, err = ledger.Claim(ctx, "globex", "msg-1", "cfg-a")
	require.NoError(t, err)
	assert.True(t, ok, "tenants are independent")

	require.NoError(t, ledger.Release(ctx, "acme", "msg-1"))
	ok, err = ledger.Claim(ctx, "acme", "msg-1", "cfg-a")
	require.NoError(t, err)
	assert.True(t, ok, "released claim can be taken again")
}

func exerciseLedgerConcurrent(t *testing.T, ledger EscalationLedger) {
	t.Helper()
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := ledger.Claim(context.Background(), "acme", "msg-race", "cfg")
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestMemoryEscalationLedger(t *testing.T) {
	exerciseLedger(t, NewMemoryEscalationLedger())
	exerciseLedgerConcurrent(t, NewMemoryEscalationLedger())
}

func TestRedisEscalationLedger(t *testing.T) {
	ledger, _ := setupRedisLedger(t)
	exerciseLedger(t, ledger)

	concurrent, _ := setupRedisLedger(t)
	exerciseLedgerConcurrent(t, concurrent)
}

func TestRedisEscalationLedger_KeyAndTTL(t *testing.T) {
	ledger, mr := setupRedisLedger(t, WithLedgerPrefix("test"), WithLedgerTTL(time.Hour))

	ok, err := ledger.Claim(context.Background(), "acme", "msg-9", "cfg-x")
	require.NoError(t, err)
	require.True(t, ok)

	val, err := mr.Get("test:escalation:acme:msg-9")
	require.NoError(t, err)
	assert.Equal(t, "cfg-x", val)
	assert.Equal(t, time.Hour, mr.TTL("test:escalation:acme:msg-9"))

	mr.FastForward(2 * time.Hour)
	ok, err = ledger.Claim(context.Background(), "acme", "msg-9", "cfg-y")
	require.NoError(t, err)
	assert.True(t, ok, "expired claim is forgotten")
}

func TestRedisEscalationLedger_ServerDown(t *testing.T) {
	ledger, mr := setupRedisLedger(t)
	mr.Close()

	_, err := ledger.Claim(context.Background(), "acme", "msg-1", "cfg")
	assert.Error(t, err)
}
