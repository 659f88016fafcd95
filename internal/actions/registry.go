// Package actions implements the side effects workflow action nodes run:
// replying to the customer, escalating, updating the conversation,
// notifying staff and calling external integrations.
package actions

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/soochol/deskflow/internal/deskflow"
	"github.com/soochol/deskflow/internal/deskflow/ports"
	"github.com/soochol/deskflow/internal/repository"
)

var _ ports.ActionInvoker = (*Registry)(nil)

// Executor runs one kind of action.
type Executor interface {
	Kind() deskflow.ActionKind
	Execute(ctx context.Context, req *deskflow.ActionRequest) (map[string]any, error)
}

// Registry dispatches action requests to the executor for their kind.
type Registry struct {
	mu        sync.RWMutex
	executors map[deskflow.ActionKind]Executor
}

func NewRegistry(executors ...Executor) *Registry {
	r := &Registry{executors: make(map[deskflow.ActionKind]Executor)}
	for _, e := range executors {
		r.Register(e)
	}
	return r
}

// Register adds or replaces the executor for its kind.
func (r *Registry) Register(e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[e.Kind()] = e
}

// Get returns the executor for kind.
func (r *Registry) Get(kind deskflow.ActionKind) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[kind]
	return e, ok
}

// Invoke implements ports.ActionInvoker.
func (r *Registry) Invoke(ctx context.Context, req *deskflow.ActionRequest) (map[string]any, error) {
	e, ok := r.Get(req.Config.Action)
	if !ok {
		return nil, fmt.Errorf("no executor registered for action %q", req.Config.Action)
	}
	return e.Execute(ctx, req)
}

// conversationID returns the conversation the request acts on: an explicit
// "conversation_id" param, else the triggering conversation.
func conversationID(req *deskflow.ActionRequest) (string, error) {
	if id := req.Param("conversation_id"); id != "" {
		return id, nil
	}
	if req.Trigger.ConversationID != "" {
		return req.Trigger.ConversationID, nil
	}
	return "", fmt.Errorf("action %s: no conversation in trigger", req.NodeID)
}

// expand substitutes {{placeholders}} in s with trigger values.
func expand(s string, req *deskflow.ActionRequest) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	pairs := []string{
		"{{conversation_id}}", req.Trigger.ConversationID,
		"{{message_id}}", req.Trigger.MessageID,
		"{{content}}", req.Trigger.Content,
		"{{workflow_id}}", req.WorkflowID,
		"{{execution_id}}", req.ExecutionID,
	}
	if c := req.Conversation; c != nil {
		pairs = append(pairs, "{{status}}", string(c.Status), "{{assigned_to}}", c.AssignedTo)
	}
	return strings.NewReplacer(pairs...).Replace(s)
}

// decodeParams decodes the action params into out, rejecting unknown keys.
func decodeParams(req *deskflow.ActionRequest, out any) error {
	if err := deskflow.DecodeNodeConfig(req.Config.Params, out); err != nil {
		return fmt.Errorf("%s params: %w", req.Config.Action, err)
	}
	return nil
}

// Deps are the collaborators of the built-in executors.
type Deps struct {
	Conversations repository.ConversationRepository
	Transitions   ports.ConversationTransitioner
	Notifier      ports.Notifier
	Connections   ConnectionResolver
	HTTPClient    *http.Client
	Retry         deskflow.RetryPolicy
	Now           func() time.Time
}

// NewDefaultRegistry registers every built-in executor.
func NewDefaultRegistry(d Deps) *Registry {
	return NewRegistry(
		&SendMessageExecutor{Conversations: d.Conversations, Now: d.Now},
		&EscalateExecutor{Transitions: d.Transitions, Notifier: d.Notifier, Now: d.Now},
		&UpdateConversationExecutor{Transitions: d.Transitions, Now: d.Now},
		&NotifyExecutor{Notifier: d.Notifier},
		&IntegrationExecutor{Connections: d.Connections, Client: d.HTTPClient, Retry: d.Retry},
	)
}
