package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/soochol/deskflow/internal/deskflow"
)

// MemoryExecutionRepository stores executions in memory. The
// (workflow, trigger event) index enforces at most one execution per event.
type MemoryExecutionRepository struct {
	mu      sync.RWMutex
	records map[string]*deskflow.WorkflowExecution
	byEvent map[string]string
}

func NewMemoryExecutionRepository() *MemoryExecutionRepository {
	return &MemoryExecutionRepository{
		records: make(map[string]*deskflow.WorkflowExecution),
		byEvent: make(map[string]string),
	}
}

func eventKey(workflowID, triggerEventID string) string {
	return workflowID + "\x00" + triggerEventID
}

func (r *MemoryExecutionRepository) CreateIfAbsent(_ context.Context, exec *deskflow.WorkflowExecution) (*deskflow.WorkflowExecution, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := eventKey(exec.WorkflowID, exec.TriggerEventID)
	if id, ok := r.byEvent[key]; ok {
		return r.records[id].Clone(), false, nil
	}
	exec.Version = 1
	r.records[exec.ID] = exec.Clone()
	r.byEvent[key] = exec.ID
	return exec.Clone(), true, nil
}

func (r *MemoryExecutionRepository) Get(_ context.Context, id string) (*deskflow.WorkflowExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, fmt.Errorf("execution %q: %w", id, ErrNotFound)
	}
	return rec.Clone(), nil
}

func (r *MemoryExecutionRepository) Update(_ context.Context, exec *deskflow.WorkflowExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.records[exec.ID]
	if !ok {
		return fmt.Errorf("execution %q: %w", exec.ID, ErrNotFound)
	}
	if cur.Version != exec.Version || cur.Status.Terminal() {
		return fmt.Errorf("execution %q: %w", exec.ID, deskflow.ErrConcurrencyConflict)
	}
	exec.Version++
	r.records[exec.ID] = exec.Clone()
	return nil
}

func (r *MemoryExecutionRepository) List(_ context.Context, q ExecutionQuery) ([]*deskflow.WorkflowExecution, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var filtered []*deskflow.WorkflowExecution
	for _, rec := range r.records {
		if q.Matches(rec) {
			filtered = append(filtered, rec.Clone())
		}
	}

	// Newest first.
	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].StartedAt.Equal(filtered[j].StartedAt) {
			return filtered[i].ID > filtered[j].ID
		}
		return filtered[i].StartedAt.After(filtered[j].StartedAt)
	})

	return paginate(filtered, q.Limit, q.Offset), len(filtered), nil
}

func (r *MemoryExecutionRepository) ListRunning(ctx context.Context) ([]*deskflow.WorkflowExecution, error) {
	list, _, err := r.List(ctx, ExecutionQuery{Status: deskflow.ExecutionRunning})
	return list, err
}

// paginate applies offset/limit; limit <= 0 means no limit.
func paginate[T any](items []T, limit, offset int) []T {
	total := len(items)
	if offset >= total {
		return nil
	}
	if offset < 0 {
		offset = 0
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return items[offset:end]
}
