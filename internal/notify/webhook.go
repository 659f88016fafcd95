package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/soochol/deskflow/internal/deskflow"
)

// WebhookSender POSTs the payload as JSON to an arbitrary URL. The URL is
// the target address, else the connection Host. A connection Token is sent
// as a bearer credential.
type WebhookSender struct {
	Client *http.Client
}

func (s *WebhookSender) Type() deskflow.ConnectionType { return deskflow.ConnTypeHTTP }

func (s *WebhookSender) Send(ctx context.Context, conn *deskflow.Connection, address string, payload deskflow.NotificationPayload) error {
	url := address
	if url == "" {
		url = conn.Host
	}
	if url == "" {
		return fmt.Errorf("webhook connection %q has no URL", conn.ID)
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if conn.Token != "" {
		req.Header.Set("Authorization", "Bearer "+conn.Token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}
