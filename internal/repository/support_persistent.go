package repository

import (
	"context"
	"time"

	"github.com/soochol/deskflow/internal/db"
	"github.com/soochol/deskflow/internal/deskflow"
)

// PersistentTriggerResultRepository stores escalation outcomes in PostgreSQL.
type PersistentTriggerResultRepository struct {
	db *db.DB
}

func NewPersistentTriggerResultRepository(database *db.DB) *PersistentTriggerResultRepository {
	return &PersistentTriggerResultRepository{db: database}
}

func (r *PersistentTriggerResultRepository) Append(ctx context.Context, results []deskflow.TriggerResult) error {
	return deskflow.WrapStore("append trigger results", r.db.AppendTriggerResults(ctx, results))
}

func (r *PersistentTriggerResultRepository) List(ctx context.Context, tenantID string, from, to time.Time) ([]deskflow.TriggerResult, error) {
	res, err := r.db.ListTriggerResults(ctx, tenantID, from, to)
	return res, deskflow.WrapStore("list trigger results", err)
}

// PersistentWakeupRepository stores delay wakeups in PostgreSQL.
type PersistentWakeupRepository struct {
	db *db.DB
}

func NewPersistentWakeupRepository(database *db.DB) *PersistentWakeupRepository {
	return &PersistentWakeupRepository{db: database}
}

func (r *PersistentWakeupRepository) Schedule(ctx context.Context, w deskflow.Wakeup) error {
	return deskflow.WrapStore("schedule wakeup", r.db.ScheduleWakeup(ctx, w))
}

func (r *PersistentWakeupRepository) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]deskflow.Wakeup, error) {
	due, err := r.db.ClaimDueWakeups(ctx, now, lease, limit)
	return due, deskflow.WrapStore("claim wakeups", err)
}

func (r *PersistentWakeupRepository) Complete(ctx context.Context, executionID, nodeID string) error {
	return deskflow.WrapStore("complete wakeup", r.db.CompleteWakeup(ctx, executionID, nodeID))
}

// PostgresEscalationLedger is an EscalationLedger on a primary-key insert.
type PostgresEscalationLedger struct {
	db *db.DB
}

func NewPostgresEscalationLedger(database *db.DB) *PostgresEscalationLedger {
	return &PostgresEscalationLedger{db: database}
}

func (l *PostgresEscalationLedger) Claim(ctx context.Context, tenantID, messageID, configurationID string) (bool, error) {
	ok, err := l.db.ClaimEscalation(ctx, tenantID, messageID, configurationID)
	return ok, deskflow.WrapStore("claim escalation", err)
}

func (l *PostgresEscalationLedger) Release(ctx context.Context, tenantID, messageID string) error {
	return deskflow.WrapStore("release escalation", l.db.ReleaseEscalation(ctx, tenantID, messageID))
}
