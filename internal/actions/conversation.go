package actions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/soochol/deskflow/internal/conversation"
	"github.com/soochol/deskflow/internal/deskflow"
	"github.com/soochol/deskflow/internal/deskflow/ports"
	"github.com/soochol/deskflow/internal/repository"
)

// SendMessageExecutor appends an outbound message to the conversation.
// The message id is derived from the execution and node, so a repeated
// invocation of the same node never posts twice.
type SendMessageExecutor struct {
	Conversations repository.ConversationRepository
	Now           func() time.Time
}

type sendMessageParams struct {
	ConversationID string               `json:"conversation_id,omitempty"`
	Text           string               `json:"text"`
	Role           deskflow.MessageRole `json:"role,omitempty"`
}

func (e *SendMessageExecutor) Kind() deskflow.ActionKind { return deskflow.ActionSendMessage }

func (e *SendMessageExecutor) Execute(ctx context.Context, req *deskflow.ActionRequest) (map[string]any, error) {
	var p sendMessageParams
	if err := decodeParams(req, &p); err != nil {
		return nil, err
	}
	if p.Text == "" {
		return nil, fmt.Errorf("send_message: text is required")
	}
	role := p.Role
	if role == "" {
		role = deskflow.RoleBot
	}
	if role == deskflow.RoleCustomer {
		return nil, fmt.Errorf("send_message: cannot send as customer")
	}
	convID, err := conversationID(req)
	if err != nil {
		return nil, err
	}

	msg := &deskflow.Message{
		ID:             "msg-" + req.ExecutionID + "-" + req.NodeID,
		TenantID:       req.TenantID,
		ConversationID: convID,
		Role:           role,
		Content:        expand(p.Text, req),
		Metadata:       map[string]any{"workflow_id": req.WorkflowID, "execution_id": req.ExecutionID},
		CreatedAt:      now(e.Now),
	}
	err = e.Conversations.AppendMessage(ctx, msg)
	if err != nil && !errors.Is(err, deskflow.ErrDuplicate) {
		return nil, deskflow.WrapStore("append message", err)
	}
	return map[string]any{"message_id": msg.ID, "content": msg.Content}, nil
}

// EscalateExecutor moves the conversation to human handling and optionally
// notifies a channel. A failed notification does not fail the node.
type EscalateExecutor struct {
	Transitions ports.ConversationTransitioner
	Notifier    ports.Notifier
	Now         func() time.Time
}

type escalateParams struct {
	ConversationID string                       `json:"conversation_id,omitempty"`
	TargetStatus   deskflow.ConversationStatus  `json:"target_status,omitempty"`
	AssignTo       string                       `json:"assign_to,omitempty"`
	Reason         string                       `json:"reason,omitempty"`
	Notify         *deskflow.NotificationTarget `json:"notify,omitempty"`
}

func (e *EscalateExecutor) Kind() deskflow.ActionKind { return deskflow.ActionEscalate }

func (e *EscalateExecutor) Execute(ctx context.Context, req *deskflow.ActionRequest) (map[string]any, error) {
	var p escalateParams
	if err := decodeParams(req, &p); err != nil {
		return nil, err
	}
	if p.TargetStatus != "" && !p.TargetStatus.Valid() {
		return nil, fmt.Errorf("escalate: unknown target status %q", p.TargetStatus)
	}
	if p.ConversationID == "" {
		id, err := conversationID(req)
		if err != nil {
			return nil, err
		}
		p.ConversationID = id
	}

	conv, err := e.Transitions.Transition(ctx, req.TenantID, p.ConversationID,
		conversation.Escalate(p.TargetStatus, p.AssignTo, now(e.Now)))
	changed := true
	if errors.Is(err, conversation.ErrUnchanged) {
		changed, err = false, nil
	}
	if err != nil {
		return nil, err
	}
	out := map[string]any{"status": string(conv.Status), "assigned_to": conv.AssignedTo, "changed": changed}

	if changed && p.Notify != nil && e.Notifier != nil {
		text := p.Reason
		if text == "" {
			text = fmt.Sprintf("Conversation %s escalated by workflow %s", conv.ID, req.WorkflowID)
		}
		err := e.Notifier.Notify(ctx, *p.Notify, deskflow.NotificationPayload{
			TenantID:       req.TenantID,
			ConversationID: conv.ID,
			Subject:        "Conversation escalated",
			Text:           expand(text, req),
			Fields:         map[string]any{"status": string(conv.Status), "workflow": req.WorkflowID},
		})
		out["notified"] = err == nil
		if err != nil {
			out["notify_error"] = err.Error()
		}
	}
	return out, nil
}

// UpdateConversationExecutor applies a field update (status, assignee,
// tags, metadata) to the conversation.
type UpdateConversationExecutor struct {
	Transitions ports.ConversationTransitioner
	Now         func() time.Time
}

type updateParams struct {
	ConversationID string `json:"conversation_id,omitempty"`
	conversation.Update
}

func (e *UpdateConversationExecutor) Kind() deskflow.ActionKind {
	return deskflow.ActionUpdateConversation
}

func (e *UpdateConversationExecutor) Execute(ctx context.Context, req *deskflow.ActionRequest) (map[string]any, error) {
	var p updateParams
	if err := decodeParams(req, &p); err != nil {
		return nil, err
	}
	if p.ConversationID == "" {
		id, err := conversationID(req)
		if err != nil {
			return nil, err
		}
		p.ConversationID = id
	}
	conv, err := e.Transitions.Transition(ctx, req.TenantID, p.ConversationID, p.Update.Apply(now(e.Now)))
	if errors.Is(err, conversation.ErrUnchanged) {
		err = nil
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"status":      string(conv.Status),
		"assigned_to": conv.AssignedTo,
		"tags":        conv.Tags,
	}, nil
}

func now(clock func() time.Time) time.Time {
	if clock == nil {
		return time.Now().UTC()
	}
	return clock()
}
