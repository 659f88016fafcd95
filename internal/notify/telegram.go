package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/soochol/deskflow/internal/deskflow"
)

const telegramAPI = "https://api.telegram.org"

// TelegramSender sends messages via the Telegram Bot API.
type TelegramSender struct {
	Client *http.Client
	// BaseURL overrides the Bot API endpoint.
	BaseURL string
}

func (s *TelegramSender) Type() deskflow.ConnectionType { return deskflow.ConnTypeTelegram }

func (s *TelegramSender) Send(ctx context.Context, conn *deskflow.Connection, address string, payload deskflow.NotificationPayload) error {
	chatID := address
	if chatID == "" {
		chatID = conn.ExtraString("chat_id")
	}
	if chatID == "" {
		return fmt.Errorf("telegram connection %q missing chat_id in extras", conn.ID)
	}
	if conn.Token == "" {
		return fmt.Errorf("telegram connection %q missing bot token", conn.ID)
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	base := strings.TrimRight(s.BaseURL, "/")
	if base == "" {
		base = telegramAPI
	}

	text := render(payload)
	if payload.Subject != "" {
		text = payload.Subject + "\n\n" + text
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", base, conn.Token)
	body, _ := json.Marshal(map[string]string{
		"chat_id": chatID,
		"text":    text,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("telegram API returned %d", resp.StatusCode)
	}
	return nil
}
