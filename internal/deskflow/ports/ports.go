// Package ports declares the collaborator contracts the automation
// services depend on. Services should depend on these interfaces rather
// than on concrete executors, notifiers or limiters.
package ports

import (
	"context"

	"github.com/soochol/deskflow/internal/deskflow"
)

// ActionInvoker runs one action node. A returned error marks the node
// FAILED; the engine decides how the run proceeds.
type ActionInvoker interface {
	Invoke(ctx context.Context, req *deskflow.ActionRequest) (map[string]any, error)
}

// Notifier delivers a payload to a target. Failures are reported to the
// caller, which logs them and carries on.
type Notifier interface {
	Notify(ctx context.Context, target deskflow.NotificationTarget, payload deskflow.NotificationPayload) error
}

// ConcurrencyControl limits concurrent workflow executions.
type ConcurrencyControl interface {
	Acquire(ctx context.Context, workflowID string) error
	Release(workflowID string)
}

// ConversationTransitioner applies status changes with optimistic
// concurrency.
type ConversationTransitioner interface {
	Transition(ctx context.Context, tenantID, conversationID string, mutate func(*deskflow.Conversation) error) (*deskflow.Conversation, error)
}
