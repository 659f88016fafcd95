package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/soochol/deskflow/internal/deskflow"
	memstore "github.com/soochol/deskflow/internal/repository/memory"
)

// MemoryRepository is a thread-safe in-memory WorkflowRepository.
type MemoryRepository struct {
	store *memstore.Store[*deskflow.WorkflowDefinition]
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryRepository {
	return &MemoryRepository{
		store: memstore.New(func(w *deskflow.WorkflowDefinition) string { return w.ID }),
	}
}

func (r *MemoryRepository) Create(ctx context.Context, wf *deskflow.WorkflowDefinition) error {
	return r.store.Mutate(ctx, wf.ID, func(_ *deskflow.WorkflowDefinition, found bool) (*deskflow.WorkflowDefinition, error) {
		if found {
			return nil, fmt.Errorf("workflow %q: %w", wf.ID, deskflow.ErrDuplicate)
		}
		return wf, nil
	})
}

func (r *MemoryRepository) Get(ctx context.Context, tenantID, id string) (*deskflow.WorkflowDefinition, error) {
	wf, err := r.store.Get(ctx, id)
	if errors.Is(err, memstore.ErrNotFound) || (err == nil && wf.TenantID != tenantID) {
		return nil, fmt.Errorf("workflow %q: %w", id, ErrNotFound)
	}
	return wf, err
}

func (r *MemoryRepository) List(ctx context.Context, tenantID string) ([]*deskflow.WorkflowDefinition, error) {
	return r.store.Filter(ctx, func(w *deskflow.WorkflowDefinition) bool { return w.TenantID == tenantID })
}

func (r *MemoryRepository) Replace(ctx context.Context, wf *deskflow.WorkflowDefinition) error {
	return r.store.Mutate(ctx, wf.ID, func(cur *deskflow.WorkflowDefinition, found bool) (*deskflow.WorkflowDefinition, error) {
		if !found || cur.TenantID != wf.TenantID {
			return nil, fmt.Errorf("workflow %q: %w", wf.ID, ErrNotFound)
		}
		return wf, nil
	})
}

func (r *MemoryRepository) Delete(ctx context.Context, tenantID, id string) error {
	if _, err := r.Get(ctx, tenantID, id); err != nil {
		return err
	}
	return r.store.Delete(ctx, id)
}
