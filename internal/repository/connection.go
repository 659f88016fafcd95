package repository

import (
	"context"

	"github.com/soochol/deskflow/internal/deskflow"
)

// ConnectionRepository persists tenant connections.
type ConnectionRepository interface {
	Create(ctx context.Context, conn *deskflow.Connection) error
	Get(ctx context.Context, tenantID, id string) (*deskflow.Connection, error)
	List(ctx context.Context, tenantID string) ([]*deskflow.Connection, error)
	Update(ctx context.Context, conn *deskflow.Connection) error
	Delete(ctx context.Context, tenantID, id string) error
}
