package repository

import (
	"context"
	"time"

	"github.com/soochol/deskflow/internal/deskflow"
)

// ExecutionQuery filters execution listings. Zero values match everything.
type ExecutionQuery struct {
	TenantID   string
	WorkflowID string
	Status     deskflow.ExecutionStatus
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}

// Matches reports whether e satisfies q (ignoring pagination).
func (q ExecutionQuery) Matches(e *deskflow.WorkflowExecution) bool {
	if q.TenantID != "" && e.TenantID != q.TenantID {
		return false
	}
	if q.WorkflowID != "" && e.WorkflowID != q.WorkflowID {
		return false
	}
	if q.Status != "" && e.Status != q.Status {
		return false
	}
	if !q.From.IsZero() && e.StartedAt.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && !e.StartedAt.Before(q.To) {
		return false
	}
	return true
}

// ExecutionRepository persists workflow execution records.
type ExecutionRepository interface {
	// CreateIfAbsent inserts exec unless an execution for the same
	// (WorkflowID, TriggerEventID) exists, in which case the existing record
	// is returned with created=false.
	CreateIfAbsent(ctx context.Context, exec *deskflow.WorkflowExecution) (stored *deskflow.WorkflowExecution, created bool, err error)
	Get(ctx context.Context, id string) (*deskflow.WorkflowExecution, error)
	// Update writes exec if the stored Version equals exec.Version, then
	// increments exec.Version. Terminal records are never overwritten.
	Update(ctx context.Context, exec *deskflow.WorkflowExecution) error
	List(ctx context.Context, q ExecutionQuery) ([]*deskflow.WorkflowExecution, int, error)
	// ListRunning returns every RUNNING execution across tenants.
	ListRunning(ctx context.Context) ([]*deskflow.WorkflowExecution, error)
}
