package actions

import (
	"context"
	"fmt"

	"github.com/soochol/deskflow/internal/deskflow"
	"github.com/soochol/deskflow/internal/deskflow/ports"
)

// NotifyExecutor delivers a staff notification. Unlike escalation, a
// failed delivery fails the node; use continue_on_error or an onError edge
// to tolerate it.
type NotifyExecutor struct {
	Notifier ports.Notifier
}

type notifyParams struct {
	Channel      deskflow.ConnectionType `json:"channel"`
	ConnectionID string                  `json:"connection_id,omitempty"`
	Address      string                  `json:"address,omitempty"`
	Subject      string                  `json:"subject,omitempty"`
	Text         string                  `json:"text"`
}

func (e *NotifyExecutor) Kind() deskflow.ActionKind { return deskflow.ActionNotify }

func (e *NotifyExecutor) Execute(ctx context.Context, req *deskflow.ActionRequest) (map[string]any, error) {
	var p notifyParams
	if err := decodeParams(req, &p); err != nil {
		return nil, err
	}
	if p.Channel == "" {
		return nil, fmt.Errorf("notify: channel is required")
	}
	if p.Text == "" {
		return nil, fmt.Errorf("notify: text is required")
	}
	if e.Notifier == nil {
		return nil, fmt.Errorf("notify: no notifier configured")
	}
	target := deskflow.NotificationTarget{Channel: p.Channel, ConnectionID: p.ConnectionID, Address: p.Address}
	payload := deskflow.NotificationPayload{
		TenantID:       req.TenantID,
		ConversationID: req.Trigger.ConversationID,
		Subject:        expand(p.Subject, req),
		Text:           expand(p.Text, req),
		Fields:         map[string]any{"workflow": req.WorkflowID, "execution": req.ExecutionID},
	}
	if err := e.Notifier.Notify(ctx, target, payload); err != nil {
		return nil, err
	}
	return map[string]any{"delivered": true, "channel": string(p.Channel)}, nil
}
