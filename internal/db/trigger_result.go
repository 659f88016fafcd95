package db

import (
	"context"
	"fmt"
	"time"

	"github.com/soochol/deskflow/internal/deskflow"
)

// AppendTriggerResults inserts escalation outcomes in one transaction.
func (d *DB) AppendTriggerResults(ctx context.Context, results []deskflow.TriggerResult) (err error) {
	ctx, span := startSpan(ctx, "AppendTriggerResults", "INSERT")
	defer func() { endSpan(span, err) }()

	if len(results) == 0 {
		return nil
	}

	tx, err := d.Pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO trigger_results (id, tenant_id, configuration_id, name, priority, conversation_id, message_id,
		     matched, success, reason, conflict, notified, error, evaluated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 ON CONFLICT (id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range results {
		if _, err := stmt.ExecContext(ctx,
			r.ID, r.TenantID, r.ConfigurationID, r.Name, r.Priority, r.ConversationID, r.MessageID,
			r.Matched, r.Success, string(r.Reason), r.Conflict, r.Notified, r.Error, r.EvaluatedAt,
		); err != nil {
			return fmt.Errorf("insert trigger result: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListTriggerResults returns a tenant's results evaluated in [from, to).
// Zero bounds are open.
func (d *DB) ListTriggerResults(ctx context.Context, tenantID string, from, to time.Time) (out []deskflow.TriggerResult, err error) {
	ctx, span := startSpan(ctx, "ListTriggerResults", "SELECT")
	defer func() { endSpan(span, err) }()

	if to.IsZero() {
		to = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	rows, err := d.Pool.QueryContext(ctx,
		`SELECT id, tenant_id, configuration_id, name, priority, conversation_id, message_id,
		     matched, success, reason, conflict, notified, error, evaluated_at
		 FROM trigger_results WHERE tenant_id = $1 AND evaluated_at >= $2 AND evaluated_at < $3
		 ORDER BY evaluated_at, id`,
		tenantID, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("list trigger results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r deskflow.TriggerResult
		var reason string
		if err := rows.Scan(&r.ID, &r.TenantID, &r.ConfigurationID, &r.Name, &r.Priority, &r.ConversationID, &r.MessageID,
			&r.Matched, &r.Success, &reason, &r.Conflict, &r.Notified, &r.Error, &r.EvaluatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan trigger result: %w", err)
		}
		r.Reason = deskflow.TriggerReason(reason)
		out = append(out, r)
	}
	return out, rows.Err()
}
