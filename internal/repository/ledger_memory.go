package repository

import (
	"context"
	"sync"
)

// MemoryEscalationLedger is a process-local EscalationLedger. It is only
// correct when a single instance serves a tenant; multi-instance
// deployments use the Redis or Postgres ledger.
type MemoryEscalationLedger struct {
	mu     sync.Mutex
	claims map[string]string
}

func NewMemoryEscalationLedger() *MemoryEscalationLedger {
	return &MemoryEscalationLedger{claims: make(map[string]string)}
}

func (l *MemoryEscalationLedger) Claim(_ context.Context, tenantID, messageID, configurationID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := tenantID + "/" + messageID
	if _, ok := l.claims[key]; ok {
		return false, nil
	}
	l.claims[key] = configurationID
	return true, nil
}

func (l *MemoryEscalationLedger) Release(_ context.Context, tenantID, messageID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.claims, tenantID+"/"+messageID)
	return nil
}
