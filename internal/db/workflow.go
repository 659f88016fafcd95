package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/soochol/deskflow/internal/deskflow"
)

const workflowColumns = `id, tenant_id, name, version, active, definition, created_at, updated_at`

// CreateWorkflow stores a new workflow. The full definition is kept as JSONB;
// the indexed columns mirror it.
func (d *DB) CreateWorkflow(ctx context.Context, wf *deskflow.WorkflowDefinition) (err error) {
	ctx, span := startSpan(ctx, "CreateWorkflow", "INSERT")
	defer func() { endSpan(span, err) }()

	defJSON, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}

	res, err := d.Pool.ExecContext(ctx,
		`INSERT INTO workflows (`+workflowColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO NOTHING`,
		wf.ID, wf.TenantID, wf.Name, wf.Version, wf.Active, defJSON, wf.CreatedAt, wf.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("workflow %q: %w", wf.ID, deskflow.ErrDuplicate)
	}
	return nil
}

// GetWorkflow retrieves a workflow by tenant and id.
func (d *DB) GetWorkflow(ctx context.Context, tenantID, id string) (wf *deskflow.WorkflowDefinition, err error) {
	ctx, span := startSpan(ctx, "GetWorkflow", "SELECT")
	defer func() { endSpan(span, err) }()

	var defJSON []byte
	err = d.Pool.QueryRowContext(ctx,
		`SELECT definition FROM workflows WHERE tenant_id = $1 AND id = $2`, tenantID, id,
	).Scan(&defJSON)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("workflow %q: %w", id, deskflow.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}

	wf = &deskflow.WorkflowDefinition{}
	if err := json.Unmarshal(defJSON, wf); err != nil {
		return nil, fmt.Errorf("unmarshal definition: %w", err)
	}
	return wf, nil
}

// ListWorkflows returns all workflows of a tenant ordered by name.
func (d *DB) ListWorkflows(ctx context.Context, tenantID string) (out []*deskflow.WorkflowDefinition, err error) {
	ctx, span := startSpan(ctx, "ListWorkflows", "SELECT")
	defer func() { endSpan(span, err) }()

	rows, err := d.Pool.QueryContext(ctx,
		`SELECT definition FROM workflows WHERE tenant_id = $1 ORDER BY name, id`, tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var defJSON []byte
		if err := rows.Scan(&defJSON); err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		wf := &deskflow.WorkflowDefinition{}
		if err := json.Unmarshal(defJSON, wf); err != nil {
			return nil, fmt.Errorf("unmarshal definition: %w", err)
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

// ReplaceWorkflow overwrites an existing workflow.
func (d *DB) ReplaceWorkflow(ctx context.Context, wf *deskflow.WorkflowDefinition) (err error) {
	ctx, span := startSpan(ctx, "ReplaceWorkflow", "UPDATE")
	defer func() { endSpan(span, err) }()

	defJSON, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}

	res, err := d.Pool.ExecContext(ctx,
		`UPDATE workflows SET name = $1, version = $2, active = $3, definition = $4, updated_at = $5
		 WHERE tenant_id = $6 AND id = $7`,
		wf.Name, wf.Version, wf.Active, defJSON, wf.UpdatedAt, wf.TenantID, wf.ID,
	)
	if err != nil {
		return fmt.Errorf("update workflow: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("workflow %q: %w", wf.ID, deskflow.ErrNotFound)
	}
	return nil
}

// DeleteWorkflow removes a workflow. Its executions are kept for analytics.
func (d *DB) DeleteWorkflow(ctx context.Context, tenantID, id string) (err error) {
	ctx, span := startSpan(ctx, "DeleteWorkflow", "DELETE")
	defer func() { endSpan(span, err) }()

	res, err := d.Pool.ExecContext(ctx, `DELETE FROM workflows WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("workflow %q: %w", id, deskflow.ErrNotFound)
	}
	return nil
}
