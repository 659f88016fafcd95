package db

import (
	"context"
	"fmt"
	"time"

	"github.com/soochol/deskflow/internal/deskflow"
)

// ScheduleWakeup upserts a wakeup and clears any lease on it.
func (d *DB) ScheduleWakeup(ctx context.Context, w deskflow.Wakeup) (err error) {
	ctx, span := startSpan(ctx, "ScheduleWakeup", "INSERT")
	defer func() { endSpan(span, err) }()

	_, err = d.Pool.ExecContext(ctx,
		`INSERT INTO wakeups (execution_id, node_id, due_at, attempts, leased_until)
		 VALUES ($1, $2, $3, $4, 'epoch')
		 ON CONFLICT (execution_id, node_id) DO UPDATE SET due_at = EXCLUDED.due_at, leased_until = 'epoch'`,
		w.ExecutionID, w.NodeID, w.DueAt, w.Attempts,
	)
	if err != nil {
		return fmt.Errorf("schedule wakeup: %w", err)
	}
	return nil
}

// ClaimDueWakeups leases up to limit due wakeups. SKIP LOCKED keeps
// concurrent pollers from claiming the same rows.
func (d *DB) ClaimDueWakeups(ctx context.Context, now time.Time, lease time.Duration, limit int) (out []deskflow.Wakeup, err error) {
	ctx, span := startSpan(ctx, "ClaimDueWakeups", "UPDATE")
	defer func() { endSpan(span, err) }()

	rows, err := d.Pool.QueryContext(ctx,
		`UPDATE wakeups SET leased_until = $2, attempts = attempts + 1
		 WHERE (execution_id, node_id) IN (
		     SELECT execution_id, node_id FROM wakeups
		     WHERE due_at <= $1 AND leased_until <= $1
		     ORDER BY due_at, execution_id, node_id
		     LIMIT $3
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING execution_id, node_id, due_at, attempts`,
		now, now.Add(lease), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim wakeups: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var w deskflow.Wakeup
		if err := rows.Scan(&w.ExecutionID, &w.NodeID, &w.DueAt, &w.Attempts); err != nil {
			return nil, fmt.Errorf("scan wakeup: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// CompleteWakeup deletes a delivered wakeup.
func (d *DB) CompleteWakeup(ctx context.Context, executionID, nodeID string) (err error) {
	ctx, span := startSpan(ctx, "CompleteWakeup", "DELETE")
	defer func() { endSpan(span, err) }()

	if _, err = d.Pool.ExecContext(ctx,
		`DELETE FROM wakeups WHERE execution_id = $1 AND node_id = $2`, executionID, nodeID,
	); err != nil {
		return fmt.Errorf("complete wakeup: %w", err)
	}
	return nil
}
