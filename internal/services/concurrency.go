package services

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/soochol/deskflow/internal/deskflow"
	"github.com/soochol/deskflow/internal/deskflow/ports"
)

var _ ports.ConcurrencyControl = (*ConcurrencyLimiter)(nil)

// ConcurrencyLimiter bounds how many workflow executions walk at once,
// globally and per workflow. It uses channel-based counting semaphores.
// Slots are held while a run walks, not while it is suspended on a delay.
type ConcurrencyLimiter struct {
	global      chan struct{}
	perWorkflow map[string]chan struct{}
	mu          sync.Mutex
	limits      deskflow.ConcurrencyLimits
	activeCount atomic.Int64
}

// NewConcurrencyLimiter creates a limiter with the given limits. Zero
// limits fall back to the defaults.
func NewConcurrencyLimiter(limits deskflow.ConcurrencyLimits) *ConcurrencyLimiter {
	def := deskflow.DefaultConcurrencyLimits()
	if limits.GlobalMax <= 0 {
		limits.GlobalMax = def.GlobalMax
	}
	if limits.PerWorkflow <= 0 {
		limits.PerWorkflow = def.PerWorkflow
	}
	return &ConcurrencyLimiter{
		global:      make(chan struct{}, limits.GlobalMax),
		perWorkflow: make(map[string]chan struct{}),
		limits:      limits,
	}
}

// Acquire blocks until both a global and a per-workflow slot are free, or
// returns ctx.Err() when ctx ends first.
func (c *ConcurrencyLimiter) Acquire(ctx context.Context, workflowID string) error {
	select {
	case c.global <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	wfCh := c.workflowChan(workflowID)
	select {
	case wfCh <- struct{}{}:
		c.activeCount.Add(1)
		return nil
	case <-ctx.Done():
		<-c.global
		return ctx.Err()
	}
}

// Release returns both slots taken by Acquire.
func (c *ConcurrencyLimiter) Release(workflowID string) {
	c.mu.Lock()
	if ch, ok := c.perWorkflow[workflowID]; ok {
		select {
		case <-ch:
			c.activeCount.Add(-1)
		default:
		}
	}
	c.mu.Unlock()

	select {
	case <-c.global:
	default:
	}
}

// ConcurrencyStats reports current usage.
type ConcurrencyStats struct {
	ActiveRuns  int `json:"active_runs"`
	GlobalMax   int `json:"global_max"`
	PerWorkflow int `json:"per_workflow"`
}

// Stats returns the current concurrency statistics.
func (c *ConcurrencyLimiter) Stats() ConcurrencyStats {
	return ConcurrencyStats{
		ActiveRuns:  int(c.activeCount.Load()),
		GlobalMax:   c.limits.GlobalMax,
		PerWorkflow: c.limits.PerWorkflow,
	}
}

func (c *ConcurrencyLimiter) workflowChan(workflowID string) chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.perWorkflow[workflowID]
	if !ok {
		ch = make(chan struct{}, c.limits.PerWorkflow)
		c.perWorkflow[workflowID] = ch
	}
	return ch
}
