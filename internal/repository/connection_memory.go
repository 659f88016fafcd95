package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/soochol/deskflow/internal/deskflow"
	memstore "github.com/soochol/deskflow/internal/repository/memory"
)

// MemoryConnectionRepository is a thread-safe in-memory connection store.
type MemoryConnectionRepository struct {
	store *memstore.Store[*deskflow.Connection]
}

func NewMemoryConnectionRepository() *MemoryConnectionRepository {
	return &MemoryConnectionRepository{
		store: memstore.New(func(c *deskflow.Connection) string { return c.ID }),
	}
}

func (r *MemoryConnectionRepository) Create(ctx context.Context, conn *deskflow.Connection) error {
	return r.store.Mutate(ctx, conn.ID, func(_ *deskflow.Connection, found bool) (*deskflow.Connection, error) {
		if found {
			return nil, fmt.Errorf("connection %q: %w", conn.ID, deskflow.ErrDuplicate)
		}
		return conn, nil
	})
}

func (r *MemoryConnectionRepository) Get(ctx context.Context, tenantID, id string) (*deskflow.Connection, error) {
	c, err := r.store.Get(ctx, id)
	if errors.Is(err, memstore.ErrNotFound) || (err == nil && c.TenantID != tenantID) {
		return nil, fmt.Errorf("connection %q: %w", id, ErrNotFound)
	}
	return c, err
}

func (r *MemoryConnectionRepository) List(ctx context.Context, tenantID string) ([]*deskflow.Connection, error) {
	return r.store.Filter(ctx, func(c *deskflow.Connection) bool { return c.TenantID == tenantID })
}

func (r *MemoryConnectionRepository) Update(ctx context.Context, conn *deskflow.Connection) error {
	return r.store.Mutate(ctx, conn.ID, func(cur *deskflow.Connection, found bool) (*deskflow.Connection, error) {
		if !found || cur.TenantID != conn.TenantID {
			return nil, fmt.Errorf("connection %q: %w", conn.ID, ErrNotFound)
		}
		return conn, nil
	})
}

func (r *MemoryConnectionRepository) Delete(ctx context.Context, tenantID, id string) error {
	if _, err := r.Get(ctx, tenantID, id); err != nil {
		return err
	}
	return r.store.Delete(ctx, id)
}
