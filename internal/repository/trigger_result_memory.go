package repository

import (
	"context"
	"sync"
	"time"

	"github.com/soochol/deskflow/internal/deskflow"
)

// MemoryTriggerResultRepository is an in-memory append-only result log.
type MemoryTriggerResultRepository struct {
	mu      sync.RWMutex
	results []deskflow.TriggerResult
}

func NewMemoryTriggerResultRepository() *MemoryTriggerResultRepository {
	return &MemoryTriggerResultRepository{}
}

func (r *MemoryTriggerResultRepository) Append(_ context.Context, results []deskflow.TriggerResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, results...)
	return nil
}

// List returns results for tenantID evaluated in [from, to). Zero bounds are
// open.
func (r *MemoryTriggerResultRepository) List(_ context.Context, tenantID string, from, to time.Time) ([]deskflow.TriggerResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []deskflow.TriggerResult
	for _, res := range r.results {
		if res.TenantID != tenantID {
			continue
		}
		if !from.IsZero() && res.EvaluatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !res.EvaluatedAt.Before(to) {
			continue
		}
		out = append(out, res)
	}
	return out, nil
}
