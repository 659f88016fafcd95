package repository

import "context"

// EscalationLedger guarantees per-message dedupe of escalation side
// effects. Claim succeeds exactly once per (tenant, message).
type EscalationLedger interface {
	Claim(ctx context.Context, tenantID, messageID, configurationID string) (bool, error)
	// Release undoes a claim whose side effects could not be committed.
	Release(ctx context.Context, tenantID, messageID string) error
}
