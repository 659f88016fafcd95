package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/soochol/deskflow/internal/deskflow"
)

// Slack allows at most ten fields per section block.
const slackFieldsPerSection = 10

// SlackSender posts Block Kit messages to a Slack incoming webhook. The
// subject becomes a header, payload fields become section fields and the
// conversation id goes into a context line. Text carries the flattened
// fallback shown in notifications.
type SlackSender struct {
	Client *http.Client
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Fields   []slackText `json:"fields,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

type slackMessage struct {
	Channel string       `json:"channel,omitempty"`
	Text    string       `json:"text"`
	Blocks  []slackBlock `json:"blocks"`
}

func (s *SlackSender) Type() deskflow.ConnectionType { return deskflow.ConnTypeSlack }

func (s *SlackSender) Send(ctx context.Context, conn *deskflow.Connection, address string, payload deskflow.NotificationPayload) error {
	webhookURL := conn.ExtraString("webhook_url")
	if webhookURL == "" {
		webhookURL = conn.Host
	}
	if webhookURL == "" {
		return fmt.Errorf("slack connection %q missing webhook_url in extras", conn.ID)
	}

	channel := address
	if channel == "" {
		channel = conn.ExtraString("channel")
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	msg := slackPayload(payload)
	msg.Channel = channel
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack encode: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("slack send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("slack API returned %d", resp.StatusCode)
	}
	return nil
}

func slackPayload(p deskflow.NotificationPayload) slackMessage {
	fallback := render(p)
	if p.Subject != "" {
		fallback = p.Subject + "\n" + fallback
	}
	msg := slackMessage{Text: fallback}

	if p.Subject != "" {
		msg.Blocks = append(msg.Blocks, slackBlock{Type: "header", Text: &slackText{Type: "plain_text", Text: p.Subject}})
	}
	if p.Text != "" {
		msg.Blocks = append(msg.Blocks, slackBlock{Type: "section", Text: &slackText{Type: "mrkdwn", Text: p.Text}})
	}

	keys := sortedKeys(p.Fields)
	for len(keys) > 0 {
		n := min(len(keys), slackFieldsPerSection)
		block := slackBlock{Type: "section"}
		for _, k := range keys[:n] {
			block.Fields = append(block.Fields, slackText{Type: "mrkdwn", Text: fmt.Sprintf("*%s*\n%v", k, p.Fields[k])})
		}
		msg.Blocks = append(msg.Blocks, block)
		keys = keys[n:]
	}

	if p.ConversationID != "" {
		msg.Blocks = append(msg.Blocks, slackBlock{
			Type:     "context",
			Elements: []slackText{{Type: "mrkdwn", Text: "Conversation `" + p.ConversationID + "`"}},
		})
	}
	return msg
}
