package repository

import (
	"context"

	"github.com/soochol/deskflow/internal/db"
	"github.com/soochol/deskflow/internal/deskflow"
)

// PersistentEscalationRepository stores escalation configurations in PostgreSQL.
type PersistentEscalationRepository struct {
	db *db.DB
}

func NewPersistentEscalationRepository(database *db.DB) *PersistentEscalationRepository {
	return &PersistentEscalationRepository{db: database}
}

func (r *PersistentEscalationRepository) Create(ctx context.Context, cfg *deskflow.EscalationConfiguration) error {
	return deskflow.WrapStore("create escalation", r.db.CreateEscalation(ctx, cfg))
}

func (r *PersistentEscalationRepository) Get(ctx context.Context, tenantID, id string) (*deskflow.EscalationConfiguration, error) {
	c, err := r.db.GetEscalation(ctx, tenantID, id)
	return c, deskflow.WrapStore("get escalation", err)
}

func (r *PersistentEscalationRepository) Update(ctx context.Context, cfg *deskflow.EscalationConfiguration) error {
	return deskflow.WrapStore("update escalation", r.db.UpdateEscalation(ctx, cfg))
}

func (r *PersistentEscalationRepository) Delete(ctx context.Context, tenantID, id string) error {
	return deskflow.WrapStore("delete escalation", r.db.DeleteEscalation(ctx, tenantID, id))
}

func (r *PersistentEscalationRepository) List(ctx context.Context, tenantID string, activeOnly bool) ([]*deskflow.EscalationConfiguration, error) {
	list, err := r.db.ListEscalations(ctx, tenantID, activeOnly)
	return list, deskflow.WrapStore("list escalations", err)
}

// PersistentTriageRuleRepository stores triage rules in PostgreSQL.
type PersistentTriageRuleRepository struct {
	db *db.DB
}

func NewPersistentTriageRuleRepository(database *db.DB) *PersistentTriageRuleRepository {
	return &PersistentTriageRuleRepository{db: database}
}

func (r *PersistentTriageRuleRepository) Create(ctx context.Context, rule *deskflow.TriageRule) error {
	return deskflow.WrapStore("create triage rule", r.db.CreateTriageRule(ctx, rule))
}

func (r *PersistentTriageRuleRepository) Get(ctx context.Context, tenantID, id string) (*deskflow.TriageRule, error) {
	rule, err := r.db.GetTriageRule(ctx, tenantID, id)
	return rule, deskflow.WrapStore("get triage rule", err)
}

func (r *PersistentTriageRuleRepository) Update(ctx context.Context, rule *deskflow.TriageRule) error {
	return deskflow.WrapStore("update triage rule", r.db.UpdateTriageRule(ctx, rule))
}

func (r *PersistentTriageRuleRepository) Delete(ctx context.Context, tenantID, id string) error {
	return deskflow.WrapStore("delete triage rule", r.db.DeleteTriageRule(ctx, tenantID, id))
}

func (r *PersistentTriageRuleRepository) List(ctx context.Context, tenantID string, activeOnly bool) ([]*deskflow.TriageRule, error) {
	list, err := r.db.ListTriageRules(ctx, tenantID, activeOnly)
	return list, deskflow.WrapStore("list triage rules", err)
}
