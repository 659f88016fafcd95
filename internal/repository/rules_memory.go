package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/soochol/deskflow/internal/deskflow"
	memstore "github.com/soochol/deskflow/internal/repository/memory"
)

// MemoryEscalationRepository is an in-memory EscalationRepository.
type MemoryEscalationRepository struct {
	store *memstore.Store[*deskflow.EscalationConfiguration]
}

func NewMemoryEscalationRepository() *MemoryEscalationRepository {
	return &MemoryEscalationRepository{
		store: memstore.New(func(c *deskflow.EscalationConfiguration) string { return c.ID }),
	}
}

func (r *MemoryEscalationRepository) Create(ctx context.Context, cfg *deskflow.EscalationConfiguration) error {
	return r.store.Mutate(ctx, cfg.ID, func(_ *deskflow.EscalationConfiguration, found bool) (*deskflow.EscalationConfiguration, error) {
		if found {
			return nil, fmt.Errorf("escalation configuration %q: %w", cfg.ID, deskflow.ErrDuplicate)
		}
		return cfg, nil
	})
}

func (r *MemoryEscalationRepository) Get(ctx context.Context, tenantID, id string) (*deskflow.EscalationConfiguration, error) {
	c, err := r.store.Get(ctx, id)
	if errors.Is(err, memstore.ErrNotFound) || (err == nil && c.TenantID != tenantID) {
		return nil, fmt.Errorf("escalation configuration %q: %w", id, ErrNotFound)
	}
	return c, err
}

func (r *MemoryEscalationRepository) Update(ctx context.Context, cfg *deskflow.EscalationConfiguration) error {
	return r.store.Mutate(ctx, cfg.ID, func(cur *deskflow.EscalationConfiguration, found bool) (*deskflow.EscalationConfiguration, error) {
		if !found || cur.TenantID != cfg.TenantID {
			return nil, fmt.Errorf("escalation configuration %q: %w", cfg.ID, ErrNotFound)
		}
		return cfg, nil
	})
}

func (r *MemoryEscalationRepository) Delete(ctx context.Context, tenantID, id string) error {
	if _, err := r.Get(ctx, tenantID, id); err != nil {
		return err
	}
	return r.store.Delete(ctx, id)
}

func (r *MemoryEscalationRepository) List(ctx context.Context, tenantID string, activeOnly bool) ([]*deskflow.EscalationConfiguration, error) {
	list, err := r.store.Filter(ctx, func(c *deskflow.EscalationConfiguration) bool {
		return c.TenantID == tenantID && (!activeOnly || c.IsActive)
	})
	if err != nil {
		return nil, err
	}
	SortEscalations(list)
	return list, nil
}

// SortEscalations orders configurations by priority ascending, breaking
// ties by creation time and then id so evaluation order is deterministic.
func SortEscalations(list []*deskflow.EscalationConfiguration) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// MemoryTriageRuleRepository is an in-memory TriageRuleRepository.
type MemoryTriageRuleRepository struct {
	store *memstore.Store[*deskflow.TriageRule]
}

func NewMemoryTriageRuleRepository() *MemoryTriageRuleRepository {
	return &MemoryTriageRuleRepository{
		store: memstore.New(func(r *deskflow.TriageRule) string { return r.ID }),
	}
}

func (r *MemoryTriageRuleRepository) Create(ctx context.Context, rule *deskflow.TriageRule) error {
	return r.store.Mutate(ctx, rule.ID, func(_ *deskflow.TriageRule, found bool) (*deskflow.TriageRule, error) {
		if found {
			return nil, fmt.Errorf("triage rule %q: %w", rule.ID, deskflow.ErrDuplicate)
		}
		return rule, nil
	})
}

func (r *MemoryTriageRuleRepository) Get(ctx context.Context, tenantID, id string) (*deskflow.TriageRule, error) {
	rule, err := r.store.Get(ctx, id)
	if errors.Is(err, memstore.ErrNotFound) || (err == nil && rule.TenantID != tenantID) {
		return nil, fmt.Errorf("triage rule %q: %w", id, ErrNotFound)
	}
	return rule, err
}

func (r *MemoryTriageRuleRepository) Update(ctx context.Context, rule *deskflow.TriageRule) error {
	return r.store.Mutate(ctx, rule.ID, func(cur *deskflow.TriageRule, found bool) (*deskflow.TriageRule, error) {
		if !found || cur.TenantID != rule.TenantID {
			return nil, fmt.Errorf("triage rule %q: %w", rule.ID, ErrNotFound)
		}
		return rule, nil
	})
}

func (r *MemoryTriageRuleRepository) Delete(ctx context.Context, tenantID, id string) error {
	if _, err := r.Get(ctx, tenantID, id); err != nil {
		return err
	}
	return r.store.Delete(ctx, id)
}

func (r *MemoryTriageRuleRepository) List(ctx context.Context, tenantID string, activeOnly bool) ([]*deskflow.TriageRule, error) {
	list, err := r.store.Filter(ctx, func(rule *deskflow.TriageRule) bool {
		return rule.TenantID == tenantID && (!activeOnly || rule.IsActive)
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
	return list, nil
}
