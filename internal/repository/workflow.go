// Package repository defines storage interfaces for domain entities and
// their in-memory and PostgreSQL implementations.
package repository

import (
	"context"

	"github.com/soochol/deskflow/internal/deskflow"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = deskflow.ErrNotFound

// WorkflowRepository abstracts workflow persistence so callers don't
// need to know whether storage is in-memory or PostgreSQL. Definitions are
// only ever replaced whole.
type WorkflowRepository interface {
	Create(ctx context.Context, wf *deskflow.WorkflowDefinition) error
	Get(ctx context.Context, tenantID, id string) (*deskflow.WorkflowDefinition, error)
	List(ctx context.Context, tenantID string) ([]*deskflow.WorkflowDefinition, error)
	Replace(ctx context.Context, wf *deskflow.WorkflowDefinition) error
	Delete(ctx context.Context, tenantID, id string) error
}

var (
	_ WorkflowRepository      = (*MemoryRepository)(nil)
	_ WorkflowRepository      = (*PersistentRepository)(nil)
	_ ExecutionRepository     = (*MemoryExecutionRepository)(nil)
	_ ExecutionRepository     = (*PersistentExecutionRepository)(nil)
	_ EscalationRepository    = (*MemoryEscalationRepository)(nil)
	_ EscalationRepository    = (*PersistentEscalationRepository)(nil)
	_ TriageRuleRepository    = (*MemoryTriageRuleRepository)(nil)
	_ TriageRuleRepository    = (*PersistentTriageRuleRepository)(nil)
	_ ConversationRepository  = (*MemoryConversationRepository)(nil)
	_ ConversationRepository  = (*PersistentConversationRepository)(nil)
	_ TriggerResultRepository = (*MemoryTriggerResultRepository)(nil)
	_ TriggerResultRepository = (*PersistentTriggerResultRepository)(nil)
	_ WakeupRepository        = (*MemoryWakeupRepository)(nil)
	_ WakeupRepository        = (*PersistentWakeupRepository)(nil)
	_ EscalationLedger        = (*MemoryEscalationLedger)(nil)
	_ EscalationLedger        = (*RedisEscalationLedger)(nil)
	_ EscalationLedger        = (*PostgresEscalationLedger)(nil)
	_ ConnectionRepository    = (*MemoryConnectionRepository)(nil)
	_ ConnectionRepository    = (*PersistentConnectionRepository)(nil)
)
