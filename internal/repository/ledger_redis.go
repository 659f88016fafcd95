package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisEscalationLedger implements EscalationLedger on Redis SETNX, so
// every instance sharing the Redis deployment agrees on which message has
// already escalated.
type RedisEscalationLedger struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisLedgerOption configures a RedisEscalationLedger.
type RedisLedgerOption func(*RedisEscalationLedger)

// WithLedgerPrefix sets the key prefix.
func WithLedgerPrefix(prefix string) RedisLedgerOption {
	return func(l *RedisEscalationLedger) { l.prefix = prefix }
}

// WithLedgerTTL sets how long a claim is remembered. Zero keeps it forever.
func WithLedgerTTL(ttl time.Duration) RedisLedgerOption {
	return func(l *RedisEscalationLedger) { l.ttl = ttl }
}

func NewRedisEscalationLedger(client *redis.Client, opts ...RedisLedgerOption) *RedisEscalationLedger {
	l := &RedisEscalationLedger{
		client: client,
		prefix: "deskflow",
		ttl:    7 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *RedisEscalationLedger) key(tenantID, messageID string) string {
	return fmt.Sprintf("%s:escalation:%s:%s", l.prefix, tenantID, messageID)
}

func (l *RedisEscalationLedger) Claim(ctx context.Context, tenantID, messageID, configurationID string) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key(tenantID, messageID), configurationID, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim escalation %s/%s: %w", tenantID, messageID, err)
	}
	return ok, nil
}

func (l *RedisEscalationLedger) Release(ctx context.Context, tenantID, messageID string) error {
	if err := l.client.Del(ctx, l.key(tenantID, messageID)).Err(); err != nil {
		return fmt.Errorf("release escalation %s/%s: %w", tenantID, messageID, err)
	}
	return nil
}
