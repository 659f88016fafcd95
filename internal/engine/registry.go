package engine

import (
	"sync"
	"sync/atomic"
)

// Handle is the in-process side of a running execution.
type Handle struct {
	ExecutionID string
	WorkflowID  string

	cancelled atomic.Bool
}

// Cancel asks the walker to stop before the next node.
func (h *Handle) Cancel() { h.cancelled.Store(true) }

// Cancelled reports whether Cancel was called.
func (h *Handle) Cancelled() bool { return h.cancelled.Load() }

// Registry tracks executions currently being walked by this process.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]*Handle
}

func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]*Handle)}
}

// Register adds a handle for the execution and returns it.
func (r *Registry) Register(executionID, workflowID string) *Handle {
	h := &Handle{ExecutionID: executionID, WorkflowID: workflowID}
	r.mu.Lock()
	r.handles[executionID] = h
	r.mu.Unlock()
	return h
}

// Get retrieves a handle by execution ID.
func (r *Registry) Get(executionID string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[executionID]
	return h, ok
}

// Unregister removes a handle once the walker returns.
func (r *Registry) Unregister(executionID string) {
	r.mu.Lock()
	delete(r.handles, executionID)
	r.mu.Unlock()
}

// Active returns the number of executions being walked.
func (r *Registry) Active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}
