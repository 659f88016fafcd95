package repository

import (
	"context"
	"time"

	"github.com/soochol/deskflow/internal/deskflow"
)

// TriggerResultRepository is an append-only log of escalation outcomes,
// read by analytics.
type TriggerResultRepository interface {
	Append(ctx context.Context, results []deskflow.TriggerResult) error
	List(ctx context.Context, tenantID string, from, to time.Time) ([]deskflow.TriggerResult, error)
}
