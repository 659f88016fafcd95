package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/soochol/deskflow/internal/deskflow"
	"github.com/soochol/deskflow/internal/repository"
)

// Abandoner fails executions that no process is walking.
type Abandoner interface {
	Abandon(ctx context.Context, executionID, reason string) (*deskflow.WorkflowExecution, error)
}

// RecoveryReport counts what RecoverOrphans did.
type RecoveryReport struct {
	Rescheduled int
	Failed      int
}

// RecoverOrphans runs once at startup, before the delay scheduler starts.
// Executions suspended on a delay node get their wakeup re-armed; every
// other RUNNING execution was interrupted mid-walk and is marked FAILED.
func RecoverOrphans(ctx context.Context, executions repository.ExecutionRepository, engine Abandoner, scheduler *DelayScheduler) (RecoveryReport, error) {
	var report RecoveryReport
	running, err := executions.ListRunning(ctx)
	if err != nil {
		return report, deskflow.WrapStore("list running executions", err)
	}
	for _, exec := range running {
		if exec.Suspended() && scheduler != nil {
			due := time.Now()
			if exec.ResumeAt != nil {
				due = *exec.ResumeAt
			}
			if err := scheduler.Schedule(ctx, exec.ID, exec.WaitingOn, due); err != nil {
				return report, err
			}
			report.Rescheduled++
			continue
		}
		if _, err := engine.Abandon(ctx, exec.ID, "interrupted"); err != nil {
			slog.Warn("recovery: abandon execution failed", "execution", exec.ID, "err", err)
			continue
		}
		report.Failed++
	}
	if report.Rescheduled+report.Failed > 0 {
		slog.Info("recovery: orphaned executions handled", "rescheduled", report.Rescheduled, "failed", report.Failed)
	}
	return report, nil
}
