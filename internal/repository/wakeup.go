package repository

import (
	"context"
	"time"

	"github.com/soochol/deskflow/internal/deskflow"
)

// WakeupRepository is the persisted wake-up table behind delay nodes.
type WakeupRepository interface {
	// Schedule upserts the wakeup keyed by (ExecutionID, NodeID).
	Schedule(ctx context.Context, w deskflow.Wakeup) error
	// ClaimDue returns up to limit wakeups due at now and leases them until
	// now+lease so concurrent pollers skip them. A wakeup whose lease
	// expires without Complete is delivered again.
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]deskflow.Wakeup, error)
	Complete(ctx context.Context, executionID, nodeID string) error
}
