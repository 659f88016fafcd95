package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/soochol/deskflow/internal/deskflow"
)

type leasedWakeup struct {
	deskflow.Wakeup
	leasedUntil time.Time
}

// MemoryWakeupRepository is an in-memory WakeupRepository.
type MemoryWakeupRepository struct {
	mu      sync.Mutex
	wakeups map[string]*leasedWakeup
}

func NewMemoryWakeupRepository() *MemoryWakeupRepository {
	return &MemoryWakeupRepository{wakeups: make(map[string]*leasedWakeup)}
}

func (r *MemoryWakeupRepository) Schedule(_ context.Context, w deskflow.Wakeup) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wakeups[w.Key()] = &leasedWakeup{Wakeup: w}
	return nil
}

func (r *MemoryWakeupRepository) ClaimDue(_ context.Context, now time.Time, lease time.Duration, limit int) ([]deskflow.Wakeup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []*leasedWakeup
	for _, w := range r.wakeups {
		if !w.DueAt.After(now) && !w.leasedUntil.After(now) {
			due = append(due, w)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].DueAt.Equal(due[j].DueAt) {
			return due[i].Key() < due[j].Key()
		}
		return due[i].DueAt.Before(due[j].DueAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	out := make([]deskflow.Wakeup, 0, len(due))
	for _, w := range due {
		w.leasedUntil = now.Add(lease)
		w.Attempts++
		out = append(out, w.Wakeup)
	}
	return out, nil
}

func (r *MemoryWakeupRepository) Complete(_ context.Context, executionID, nodeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.wakeups, deskflow.Wakeup{ExecutionID: executionID, NodeID: nodeID}.Key())
	return nil
}
