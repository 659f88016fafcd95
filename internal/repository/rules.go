package repository

import (
	"context"

	"github.com/soochol/deskflow/internal/deskflow"
)

// EscalationRepository is the rule store for escalation configurations.
type EscalationRepository interface {
	Create(ctx context.Context, cfg *deskflow.EscalationConfiguration) error
	Get(ctx context.Context, tenantID, id string) (*deskflow.EscalationConfiguration, error)
	Update(ctx context.Context, cfg *deskflow.EscalationConfiguration) error
	Delete(ctx context.Context, tenantID, id string) error
	// List returns the tenant's configurations ordered by Priority ascending,
	// then CreatedAt, then ID.
	List(ctx context.Context, tenantID string, activeOnly bool) ([]*deskflow.EscalationConfiguration, error)
}

// TriageRuleRepository is the rule store for triage rules.
type TriageRuleRepository interface {
	Create(ctx context.Context, rule *deskflow.TriageRule) error
	Get(ctx context.Context, tenantID, id string) (*deskflow.TriageRule, error)
	Update(ctx context.Context, rule *deskflow.TriageRule) error
	Delete(ctx context.Context, tenantID, id string) error
	// List returns the tenant's rules ordered by CreatedAt, then ID.
	List(ctx context.Context, tenantID string, activeOnly bool) ([]*deskflow.TriageRule, error)
}
