package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/soochol/deskflow/internal/deskflow"
)

const escalationColumns = `id, tenant_id, name, is_active, condition, priority, action, created_at, updated_at`

func scanEscalation(row rowScanner) (*deskflow.EscalationConfiguration, error) {
	c := &deskflow.EscalationConfiguration{}
	var condJSON, actionJSON []byte
	if err := row.Scan(&c.ID, &c.TenantID, &c.Name, &c.IsActive, &condJSON, &c.Priority, &actionJSON, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(condJSON, &c.Condition); err != nil {
		return nil, fmt.Errorf("unmarshal condition: %w", err)
	}
	if err := unmarshalJSON(actionJSON, &c.Action); err != nil {
		return nil, fmt.Errorf("unmarshal action: %w", err)
	}
	return c, nil
}

// CreateEscalation stores a new escalation configuration.
func (d *DB) CreateEscalation(ctx context.Context, c *deskflow.EscalationConfiguration) (err error) {
	ctx, span := startSpan(ctx, "CreateEscalation", "INSERT")
	defer func() { endSpan(span, err) }()

	condJSON, err := jsonParam(c.Condition)
	if err != nil {
		return fmt.Errorf("marshal condition: %w", err)
	}
	actionJSON, err := jsonParam(c.Action)
	if err != nil {
		return fmt.Errorf("marshal action: %w", err)
	}

	res, err := d.Pool.ExecContext(ctx,
		`INSERT INTO escalation_configurations (`+escalationColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) ON CONFLICT (id) DO NOTHING`,
		c.ID, c.TenantID, c.Name, c.IsActive, condJSON, c.Priority, actionJSON, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert escalation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("escalation configuration %q: %w", c.ID, deskflow.ErrDuplicate)
	}
	return nil
}

// GetEscalation retrieves an escalation configuration.
func (d *DB) GetEscalation(ctx context.Context, tenantID, id string) (c *deskflow.EscalationConfiguration, err error) {
	ctx, span := startSpan(ctx, "GetEscalation", "SELECT")
	defer func() { endSpan(span, err) }()

	c, err = scanEscalation(d.Pool.QueryRowContext(ctx,
		`SELECT `+escalationColumns+` FROM escalation_configurations WHERE tenant_id = $1 AND id = $2`, tenantID, id,
	))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("escalation configuration %q: %w", id, deskflow.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get escalation: %w", err)
	}
	return c, nil
}

// UpdateEscalation overwrites an escalation configuration.
func (d *DB) UpdateEscalation(ctx context.Context, c *deskflow.EscalationConfiguration) (err error) {
	ctx, span := startSpan(ctx, "UpdateEscalation", "UPDATE")
	defer func() { endSpan(span, err) }()

	condJSON, err := jsonParam(c.Condition)
	if err != nil {
		return fmt.Errorf("marshal condition: %w", err)
	}
	actionJSON, err := jsonParam(c.Action)
	if err != nil {
		return fmt.Errorf("marshal action: %w", err)
	}

	res, err := d.Pool.ExecContext(ctx,
		`UPDATE escalation_configurations SET name = $1, is_active = $2, condition = $3, priority = $4, action = $5, updated_at = $6
		 WHERE tenant_id = $7 AND id = $8`,
		c.Name, c.IsActive, condJSON, c.Priority, actionJSON, c.UpdatedAt, c.TenantID, c.ID,
	)
	if err != nil {
		return fmt.Errorf("update escalation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("escalation configuration %q: %w", c.ID, deskflow.ErrNotFound)
	}
	return nil
}

// DeleteEscalation removes an escalation configuration.
func (d *DB) DeleteEscalation(ctx context.Context, tenantID, id string) (err error) {
	ctx, span := startSpan(ctx, "DeleteEscalation", "DELETE")
	defer func() { endSpan(span, err) }()

	res, err := d.Pool.ExecContext(ctx, `DELETE FROM escalation_configurations WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return fmt.Errorf("delete escalation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("escalation configuration %q: %w", id, deskflow.ErrNotFound)
	}
	return nil
}

// ListEscalations returns a tenant's configurations in evaluation order.
func (d *DB) ListEscalations(ctx context.Context, tenantID string, activeOnly bool) (out []*deskflow.EscalationConfiguration, err error) {
	ctx, span := startSpan(ctx, "ListEscalations", "SELECT")
	defer func() { endSpan(span, err) }()

	rows, err := d.Pool.QueryContext(ctx,
		`SELECT `+escalationColumns+` FROM escalation_configurations
		 WHERE tenant_id = $1 AND (is_active OR NOT $2)
		 ORDER BY priority, created_at, id`, tenantID, activeOnly,
	)
	if err != nil {
		return nil, fmt.Errorf("list escalations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanEscalation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan escalation: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const triageColumns = `id, tenant_id, name, is_active, condition, priority_score_delta, assignment_hint, created_at, updated_at`

func scanTriageRule(row rowScanner) (*deskflow.TriageRule, error) {
	r := &deskflow.TriageRule{}
	var condJSON []byte
	if err := row.Scan(&r.ID, &r.TenantID, &r.Name, &r.IsActive, &condJSON, &r.PriorityScoreDelta, &r.AssignmentHint, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(condJSON, &r.Condition); err != nil {
		return nil, fmt.Errorf("unmarshal condition: %w", err)
	}
	return r, nil
}

// CreateTriageRule stores a new triage rule.
func (d *DB) CreateTriageRule(ctx context.Context, r *deskflow.TriageRule) (err error) {
	ctx, span := startSpan(ctx, "CreateTriageRule", "INSERT")
	defer func() { endSpan(span, err) }()

	condJSON, err := jsonParam(r.Condition)
	if err != nil {
		return fmt.Errorf("marshal condition: %w", err)
	}

	res, err := d.Pool.ExecContext(ctx,
		`INSERT INTO triage_rules (`+triageColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) ON CONFLICT (id) DO NOTHING`,
		r.ID, r.TenantID, r.Name, r.IsActive, condJSON, r.PriorityScoreDelta, r.AssignmentHint, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert triage rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("triage rule %q: %w", r.ID, deskflow.ErrDuplicate)
	}
	return nil
}

// GetTriageRule retrieves a triage rule.
func (d *DB) GetTriageRule(ctx context.Context, tenantID, id string) (r *deskflow.TriageRule, err error) {
	ctx, span := startSpan(ctx, "GetTriageRule", "SELECT")
	defer func() { endSpan(span, err) }()

	r, err = scanTriageRule(d.Pool.QueryRowContext(ctx,
		`SELECT `+triageColumns+` FROM triage_rules WHERE tenant_id = $1 AND id = $2`, tenantID, id,
	))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("triage rule %q: %w", id, deskflow.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get triage rule: %w", err)
	}
	return r, nil
}

// UpdateTriageRule overwrites a triage rule.
func (d *DB) UpdateTriageRule(ctx context.Context, r *deskflow.TriageRule) (err error) {
	ctx, span := startSpan(ctx, "UpdateTriageRule", "UPDATE")
	defer func() { endSpan(span, err) }()

	condJSON, err := jsonParam(r.Condition)
	if err != nil {
		return fmt.Errorf("marshal condition: %w", err)
	}

	res, err := d.Pool.ExecContext(ctx,
		`UPDATE triage_rules SET name = $1, is_active = $2, condition = $3, priority_score_delta = $4, assignment_hint = $5, updated_at = $6
		 WHERE tenant_id = $7 AND id = $8`,
		r.Name, r.IsActive, condJSON, r.PriorityScoreDelta, r.AssignmentHint, r.UpdatedAt, r.TenantID, r.ID,
	)
	if err != nil {
		return fmt.Errorf("update triage rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("triage rule %q: %w", r.ID, deskflow.ErrNotFound)
	}
	return nil
}

// DeleteTriageRule removes a triage rule.
func (d *DB) DeleteTriageRule(ctx context.Context, tenantID, id string) (err error) {
	ctx, span := startSpan(ctx, "DeleteTriageRule", "DELETE")
	defer func() { endSpan(span, err) }()

	res, err := d.Pool.ExecContext(ctx, `DELETE FROM triage_rules WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return fmt.Errorf("delete triage rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("triage rule %q: %w", id, deskflow.ErrNotFound)
	}
	return nil
}

// ListTriageRules returns a tenant's triage rules ordered by creation.
func (d *DB) ListTriageRules(ctx context.Context, tenantID string, activeOnly bool) (out []*deskflow.TriageRule, err error) {
	ctx, span := startSpan(ctx, "ListTriageRules", "SELECT")
	defer func() { endSpan(span, err) }()

	rows, err := d.Pool.QueryContext(ctx,
		`SELECT `+triageColumns+` FROM triage_rules
		 WHERE tenant_id = $1 AND (is_active OR NOT $2)
		 ORDER BY created_at, id`, tenantID, activeOnly,
	)
	if err != nil {
		return nil, fmt.Errorf("list triage rules: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanTriageRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan triage rule: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
