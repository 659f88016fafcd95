package repository

import (
	"context"

	"github.com/soochol/deskflow/internal/db"
	"github.com/soochol/deskflow/internal/deskflow"
)

// PersistentConnectionRepository stores connections in PostgreSQL. Secrets
// arrive already encrypted by the connection service.
type PersistentConnectionRepository struct {
	db *db.DB
}

func NewPersistentConnectionRepository(database *db.DB) *PersistentConnectionRepository {
	return &PersistentConnectionRepository{db: database}
}

func (r *PersistentConnectionRepository) Create(ctx context.Context, conn *deskflow.Connection) error {
	return deskflow.WrapStore("create connection", r.db.CreateConnection(ctx, conn))
}

func (r *PersistentConnectionRepository) Get(ctx context.Context, tenantID, id string) (*deskflow.Connection, error) {
	c, err := r.db.GetConnection(ctx, tenantID, id)
	return c, deskflow.WrapStore("get connection", err)
}

func (r *PersistentConnectionRepository) List(ctx context.Context, tenantID string) ([]*deskflow.Connection, error) {
	list, err := r.db.ListConnections(ctx, tenantID)
	return list, deskflow.WrapStore("list connections", err)
}

func (r *PersistentConnectionRepository) Update(ctx context.Context, conn *deskflow.Connection) error {
	return deskflow.WrapStore("update connection", r.db.UpdateConnection(ctx, conn))
}

func (r *PersistentConnectionRepository) Delete(ctx context.Context, tenantID, id string) error {
	return deskflow.WrapStore("delete connection", r.db.DeleteConnection(ctx, tenantID, id))
}
