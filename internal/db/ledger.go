package db

import (
	"context"
	"fmt"
)

// ClaimEscalation records that messageID escalated. It returns false when
// the message was already claimed.
func (d *DB) ClaimEscalation(ctx context.Context, tenantID, messageID, configurationID string) (claimed bool, err error) {
	ctx, span := startSpan(ctx, "ClaimEscalation", "INSERT")
	defer func() { endSpan(span, err) }()

	res, err := d.Pool.ExecContext(ctx,
		`INSERT INTO escalation_ledger (tenant_id, message_id, configuration_id)
		 VALUES ($1, $2, $3) ON CONFLICT (tenant_id, message_id) DO NOTHING`,
		tenantID, messageID, configurationID,
	)
	if err != nil {
		return false, fmt.Errorf("claim escalation: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// ReleaseEscalation removes a claim.
func (d *DB) ReleaseEscalation(ctx context.Context, tenantID, messageID string) (err error) {
	ctx, span := startSpan(ctx, "ReleaseEscalation", "DELETE")
	defer func() { endSpan(span, err) }()

	if _, err = d.Pool.ExecContext(ctx,
		`DELETE FROM escalation_ledger WHERE tenant_id = $1 AND message_id = $2`, tenantID, messageID,
	); err != nil {
		return fmt.Errorf("release escalation: %w", err)
	}
	return nil
}
