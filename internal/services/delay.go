package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/soochol/deskflow/internal/deskflow"
	"github.com/soochol/deskflow/internal/repository"
)

// Resumer continues an execution suspended on a delay node.
type Resumer interface {
	Resume(ctx context.Context, executionID, nodeID string) (*deskflow.WorkflowExecution, error)
}

// Delay poller defaults.
const (
	DefaultPollInterval = time.Second
	DefaultWakeupLease  = time.Minute
	DefaultPollBatch    = 100
)

// DelayScheduler delivers due wakeups. Every interval it claims a batch of
// due wakeups with a lease and resumes their executions; a wakeup is
// completed only after Resume returns, so a crash mid-resume redelivers it
// once the lease expires.
type DelayScheduler struct {
	wakeups repository.WakeupRepository
	engine  Resumer

	interval time.Duration
	lease    time.Duration
	batch    int
	now      func() time.Time

	cron    *cron.Cron
	mu      sync.Mutex
	running bool
}

// DelayOption configures a DelayScheduler.
type DelayOption func(*DelayScheduler)

func WithPollInterval(d time.Duration) DelayOption {
	return func(s *DelayScheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithWakeupLease(d time.Duration) DelayOption {
	return func(s *DelayScheduler) {
		if d > 0 {
			s.lease = d
		}
	}
}

func WithDelayClock(now func() time.Time) DelayOption {
	return func(s *DelayScheduler) { s.now = now }
}

func NewDelayScheduler(wakeups repository.WakeupRepository, engine Resumer, opts ...DelayOption) *DelayScheduler {
	s := &DelayScheduler{
		wakeups:  wakeups,
		engine:   engine,
		interval: DefaultPollInterval,
		lease:    DefaultWakeupLease,
		batch:    DefaultPollBatch,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Schedule persists a wakeup for executionID at dueAt. Scheduling the same
// (execution, node) again moves the due time.
func (s *DelayScheduler) Schedule(ctx context.Context, executionID, nodeID string, dueAt time.Time) error {
	err := s.wakeups.Schedule(ctx, deskflow.Wakeup{ExecutionID: executionID, NodeID: nodeID, DueAt: dueAt})
	return deskflow.WrapStore("schedule wakeup", err)
}

// Start registers the poll job and starts the cron runner. Overlapping
// polls are skipped rather than queued.
func (s *DelayScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(spec, func() {
		if _, err := s.Poll(ctx); err != nil {
			slog.Warn("delay scheduler: poll failed", "err", err)
		}
	}); err != nil {
		return fmt.Errorf("register poll job: %w", err)
	}
	s.cron.Start()
	s.running = true
	slog.Info("delay scheduler: started", "interval", s.interval)
	return nil
}

// Stop stops the cron runner and waits for a running poll to finish.
func (s *DelayScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	slog.Info("delay scheduler: stopped")
}

// Poll claims and delivers due wakeups once. It returns how many were
// delivered.
func (s *DelayScheduler) Poll(ctx context.Context) (int, error) {
	due, err := s.wakeups.ClaimDue(ctx, s.now(), s.lease, s.batch)
	if err != nil {
		return 0, deskflow.WrapStore("claim wakeups", err)
	}
	delivered := 0
	for _, w := range due {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}
		exec, err := s.engine.Resume(ctx, w.ExecutionID, w.NodeID)
		if err != nil && !errors.Is(err, deskflow.ErrNotFound) {
			slog.Warn("delay scheduler: resume failed, will retry after lease",
				"execution", w.ExecutionID, "node", w.NodeID, "attempts", w.Attempts, "err", err)
			continue
		}
		if cerr := s.wakeups.Complete(ctx, w.ExecutionID, w.NodeID); cerr != nil {
			slog.Warn("delay scheduler: complete wakeup failed", "execution", w.ExecutionID, "err", cerr)
		}
		delivered++
		if exec != nil {
			slog.Debug("delay scheduler: resumed", "execution", w.ExecutionID, "node", w.NodeID, "status", exec.Status)
		}
	}
	return delivered, nil
}
