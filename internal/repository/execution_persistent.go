package repository

import (
	"context"
	"database/sql"

	"github.com/soochol/deskflow/internal/db"
	"github.com/soochol/deskflow/internal/deskflow"
)

// PersistentExecutionRepository stores executions in PostgreSQL.
type PersistentExecutionRepository struct {
	db *db.DB
}

func NewPersistentExecutionRepository(database *db.DB) *PersistentExecutionRepository {
	return &PersistentExecutionRepository{db: database}
}

func (r *PersistentExecutionRepository) CreateIfAbsent(ctx context.Context, exec *deskflow.WorkflowExecution) (*deskflow.WorkflowExecution, bool, error) {
	stored, created, err := r.db.CreateExecutionIfAbsent(ctx, exec)
	if err != nil {
		return nil, false, deskflow.WrapStore("create execution", err)
	}
	if created {
		exec.Version = stored.Version
	}
	return stored, created, nil
}

func (r *PersistentExecutionRepository) Get(ctx context.Context, id string) (*deskflow.WorkflowExecution, error) {
	e, err := r.db.GetExecution(ctx, id)
	return e, deskflow.WrapStore("get execution", err)
}

func (r *PersistentExecutionRepository) Update(ctx context.Context, exec *deskflow.WorkflowExecution) error {
	return deskflow.WrapStore("update execution", r.db.UpdateExecution(ctx, exec))
}

func (r *PersistentExecutionRepository) List(ctx context.Context, q ExecutionQuery) ([]*deskflow.WorkflowExecution, int, error) {
	f := db.ExecutionFilter{
		TenantID:   q.TenantID,
		WorkflowID: q.WorkflowID,
		Status:     string(q.Status),
		Limit:      q.Limit,
		Offset:     q.Offset,
	}
	if !q.From.IsZero() {
		f.From = sql.NullTime{Time: q.From, Valid: true}
	}
	if !q.To.IsZero() {
		f.To = sql.NullTime{Time: q.To, Valid: true}
	}
	list, total, err := r.db.ListExecutions(ctx, f)
	return list, total, deskflow.WrapStore("list executions", err)
}

func (r *PersistentExecutionRepository) ListRunning(ctx context.Context) ([]*deskflow.WorkflowExecution, error) {
	list, _, err := r.db.ListExecutions(ctx, db.ExecutionFilter{Status: string(deskflow.ExecutionRunning)})
	return list, deskflow.WrapStore("list running executions", err)
}
