package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/soochol/deskflow/internal/deskflow"
)

const executionColumns = `id, tenant_id, workflow_id, workflow_version, trigger_event_id, conversation_id,
	status, started_at, completed_at, node_results, error, trigger, pending, waiting_on, resume_at,
	cancel_requested, version`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*deskflow.WorkflowExecution, error) {
	e := &deskflow.WorkflowExecution{}
	var status string
	var nodeResultsJSON, triggerJSON, pendingJSON []byte

	if err := row.Scan(&e.ID, &e.TenantID, &e.WorkflowID, &e.WorkflowVersion, &e.TriggerEventID, &e.ConversationID,
		&status, &e.StartedAt, &e.CompletedAt, &nodeResultsJSON, &e.Error, &triggerJSON, &pendingJSON,
		&e.WaitingOn, &e.ResumeAt, &e.CancelRequested, &e.Version,
	); err != nil {
		return nil, err
	}

	e.Status = deskflow.ExecutionStatus(status)
	if err := unmarshalJSON(nodeResultsJSON, &e.NodeResults); err != nil {
		return nil, fmt.Errorf("unmarshal node results: %w", err)
	}
	if err := unmarshalJSON(triggerJSON, &e.Trigger); err != nil {
		return nil, fmt.Errorf("unmarshal trigger: %w", err)
	}
	if err := unmarshalJSON(pendingJSON, &e.Pending); err != nil {
		return nil, fmt.Errorf("unmarshal pending: %w", err)
	}
	return e, nil
}

type executionParams struct {
	nodeResults, trigger, pending any
}

func executionJSON(e *deskflow.WorkflowExecution) (executionParams, error) {
	var p executionParams
	var err error
	if p.nodeResults, err = jsonParam(e.NodeResults); err != nil {
		return p, fmt.Errorf("marshal node results: %w", err)
	}
	if p.trigger, err = jsonParam(e.Trigger); err != nil {
		return p, fmt.Errorf("marshal trigger: %w", err)
	}
	if p.pending, err = jsonParam(e.Pending); err != nil {
		return p, fmt.Errorf("marshal pending: %w", err)
	}
	return p, nil
}

// CreateExecutionIfAbsent inserts e unless an execution for the same
// (workflow, trigger event) already exists, in which case that one is
// returned with created=false.
func (d *DB) CreateExecutionIfAbsent(ctx context.Context, e *deskflow.WorkflowExecution) (stored *deskflow.WorkflowExecution, created bool, err error) {
	ctx, span := startSpan(ctx, "CreateExecutionIfAbsent", "INSERT")
	defer func() { endSpan(span, err) }()

	p, err := executionJSON(e)
	if err != nil {
		return nil, false, err
	}

	res, err := d.Pool.ExecContext(ctx,
		`INSERT INTO executions (`+executionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, 1)
		 ON CONFLICT (workflow_id, trigger_event_id) DO NOTHING`,
		e.ID, e.TenantID, e.WorkflowID, e.WorkflowVersion, e.TriggerEventID, e.ConversationID,
		string(e.Status), e.StartedAt, e.CompletedAt, p.nodeResults, e.Error, p.trigger, p.pending,
		e.WaitingOn, e.ResumeAt, e.CancelRequested,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert execution: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		cp := e.Clone()
		cp.Version = 1
		return cp, true, nil
	}

	stored, err = scanExecution(d.Pool.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE workflow_id = $1 AND trigger_event_id = $2`,
		e.WorkflowID, e.TriggerEventID,
	))
	if err != nil {
		return nil, false, fmt.Errorf("get existing execution: %w", err)
	}
	return stored, false, nil
}

// GetExecution retrieves an execution by id.
func (d *DB) GetExecution(ctx context.Context, id string) (e *deskflow.WorkflowExecution, err error) {
	ctx, span := startSpan(ctx, "GetExecution", "SELECT")
	defer func() { endSpan(span, err) }()

	e, err = scanExecution(d.Pool.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("execution %q: %w", id, deskflow.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return e, nil
}

// UpdateExecution writes e when the stored version matches e.Version and the
// stored row is not terminal, then bumps e.Version.
func (d *DB) UpdateExecution(ctx context.Context, e *deskflow.WorkflowExecution) (err error) {
	ctx, span := startSpan(ctx, "UpdateExecution", "UPDATE")
	defer func() { endSpan(span, err) }()

	p, err := executionJSON(e)
	if err != nil {
		return err
	}

	res, err := d.Pool.ExecContext(ctx,
		`UPDATE executions SET status = $1, completed_at = $2, node_results = $3, error = $4,
		     pending = $5, waiting_on = $6, resume_at = $7, cancel_requested = $8, version = version + 1
		 WHERE id = $9 AND version = $10 AND status NOT IN ('COMPLETED', 'FAILED', 'CANCELLED')`,
		string(e.Status), e.CompletedAt, p.nodeResults, e.Error,
		p.pending, e.WaitingOn, e.ResumeAt, e.CancelRequested, e.ID, e.Version,
	)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists bool
		if err := d.Pool.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM executions WHERE id = $1)`, e.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check execution: %w", err)
		}
		if !exists {
			return fmt.Errorf("execution %q: %w", e.ID, deskflow.ErrNotFound)
		}
		return fmt.Errorf("execution %q: %w", e.ID, deskflow.ErrConcurrencyConflict)
	}
	e.Version++
	return nil
}

// ExecutionFilter narrows ListExecutions. Zero values match everything.
type ExecutionFilter struct {
	TenantID   string
	WorkflowID string
	Status     string
	From, To   sql.NullTime
	Limit      int
	Offset     int
}

// ListExecutions returns matching executions newest first plus the total
// count before pagination.
func (d *DB) ListExecutions(ctx context.Context, f ExecutionFilter) (out []*deskflow.WorkflowExecution, total int, err error) {
	ctx, span := startSpan(ctx, "ListExecutions", "SELECT")
	defer func() { endSpan(span, err) }()

	var where []string
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.TenantID != "" {
		add("tenant_id = $%d", f.TenantID)
	}
	if f.WorkflowID != "" {
		add("workflow_id = $%d", f.WorkflowID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.From.Valid {
		add("started_at >= $%d", f.From.Time)
	}
	if f.To.Valid {
		add("started_at < $%d", f.To.Time)
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	if err := d.Pool.QueryRowContext(ctx, `SELECT COUNT(*) FROM executions`+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count executions: %w", err)
	}

	query := `SELECT ` + executionColumns + ` FROM executions` + cond + ` ORDER BY started_at DESC, id DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := d.Pool.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan execution: %w", err)
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}
