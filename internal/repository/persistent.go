package repository

import (
	"context"

	"github.com/soochol/deskflow/internal/db"
	"github.com/soochol/deskflow/internal/deskflow"
)

// PersistentRepository stores workflows in PostgreSQL. Database failures
// are returned as *deskflow.StoreError; nothing is silently kept in memory
// only.
type PersistentRepository struct {
	db *db.DB
}

// NewPersistent creates a PostgreSQL-backed workflow repository.
func NewPersistent(database *db.DB) *PersistentRepository {
	return &PersistentRepository{db: database}
}

func (r *PersistentRepository) Create(ctx context.Context, wf *deskflow.WorkflowDefinition) error {
	return deskflow.WrapStore("create workflow", r.db.CreateWorkflow(ctx, wf))
}

func (r *PersistentRepository) Get(ctx context.Context, tenantID, id string) (*deskflow.WorkflowDefinition, error) {
	wf, err := r.db.GetWorkflow(ctx, tenantID, id)
	return wf, deskflow.WrapStore("get workflow", err)
}

func (r *PersistentRepository) List(ctx context.Context, tenantID string) ([]*deskflow.WorkflowDefinition, error) {
	list, err := r.db.ListWorkflows(ctx, tenantID)
	return list, deskflow.WrapStore("list workflows", err)
}

func (r *PersistentRepository) Replace(ctx context.Context, wf *deskflow.WorkflowDefinition) error {
	return deskflow.WrapStore("replace workflow", r.db.ReplaceWorkflow(ctx, wf))
}

func (r *PersistentRepository) Delete(ctx context.Context, tenantID, id string) error {
	return deskflow.WrapStore("delete workflow", r.db.DeleteWorkflow(ctx, tenantID, id))
}
