package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soochol/deskflow/internal/deskflow"
)

type fakeResolver map[string]*deskflow.Connection

func (f fakeResolver) Resolve(_ context.Context, tenantID, id string) (*deskflow.Connection, error) {
	c, ok := f[id]
	if !ok || c.TenantID != tenantID {
		return nil, deskflow.ErrNotFound
	}
	return c, nil
}

func TestDispatcher_InlineWebhook(t *testing.T) {
	var got deskflow.NotificationPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	var results []string
	d := NewDispatcher(DefaultSenders(), nil, WithHooks(Hooks{
		OnNotify: func(channel, result string) { results = append(results, channel+":"+result) },
	}))
	err := d.Notify(context.Background(),
		deskflow.NotificationTarget{Channel: deskflow.ConnTypeHTTP, Address: srv.URL},
		deskflow.NotificationPayload{TenantID: "acme", ConversationID: "c1", Text: "escalated"},
	)
	require.NoError(t, err)
	assert.Equal(t, "c1", got.ConversationID)
	assert.Equal(t, []string{"http:delivered"}, results)
}

func TestDispatcher_SlackViaConnection(t *testing.T) {
	var got slackMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	conns := fakeResolver{"conn-slack": {
		ID: "conn-slack", TenantID: "acme", Type: deskflow.ConnTypeSlack,
		Extras: map[string]any{"webhook_url": srv.URL, "channel": "#support"},
	}}
	d := NewDispatcher(DefaultSenders(), conns)
	err := d.Notify(context.Background(),
		deskflow.NotificationTarget{Channel: deskflow.ConnTypeSlack, ConnectionID: "conn-slack"},
		deskflow.NotificationPayload{TenantID: "acme", Text: "needs a human", Fields: map[string]any{"conversation": "c1"}},
	)
	require.NoError(t, err)
	assert.Equal(t, "#support", got.Channel)
	assert.Equal(t, "needs a human\nconversation: c1", got.Text)
	require.Len(t, got.Blocks, 2)
	assert.Equal(t, "*conversation*\nc1", got.Blocks[1].Fields[0].Text)
}

func TestDispatcher_ConnectionErrors(t *testing.T) {
	conns := fakeResolver{"conn-tg": {ID: "conn-tg", TenantID: "acme", Type: deskflow.ConnTypeTelegram}}
	d := NewDispatcher(DefaultSenders(), conns)
	ctx := context.Background()

	err := d.Notify(ctx, deskflow.NotificationTarget{Channel: deskflow.ConnTypeSlack, ConnectionID: "conn-tg"},
		deskflow.NotificationPayload{TenantID: "acme", Text: "x"})
	assert.ErrorContains(t, err, "is telegram, not slack")

	err = d.Notify(ctx, deskflow.NotificationTarget{Channel: deskflow.ConnTypeTelegram, ConnectionID: "conn-tg"},
		deskflow.NotificationPayload{TenantID: "globex", Text: "x"})
	assert.ErrorIs(t, err, deskflow.ErrNotFound)

	err = d.Notify(ctx, deskflow.NotificationTarget{Channel: "pager"}, deskflow.NotificationPayload{TenantID: "acme"})
	assert.ErrorContains(t, err, "no sender registered")
}

func TestDispatcher_BreakerOpensAfterFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	var rejected int
	d := NewDispatcher(DefaultSenders(), nil,
		WithBreakerSettings(BreakerSettings{ConsecutiveFailures: 2, OpenTimeout: time.Minute, HalfOpenRequests: 1}),
		WithHooks(Hooks{OnNotify: func(_, result string) {
			if result == ResultRejected {
				rejected++
			}
		}}),
	)
	target := deskflow.NotificationTarget{Channel: deskflow.ConnTypeHTTP, Address: srv.URL}
	payload := deskflow.NotificationPayload{TenantID: "acme", Text: "x"}

	for i := 0; i < 2; i++ {
		err := d.Notify(context.Background(), target, payload)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "502")
	}
	err := d.Notify(context.Background(), target, payload)
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState), "got %v", err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 1, rejected)
	assert.Equal(t, "open", d.BreakerState("acme", deskflow.ConnTypeHTTP, "inline"))

	// Breakers are isolated per tenant.
	err = d.Notify(context.Background(), target, deskflow.NotificationPayload{TenantID: "globex", Text: "x"})
	assert.False(t, errors.Is(err, gobreaker.ErrOpenState))
	assert.Equal(t, int32(3), calls.Load())
}

func TestSMTPSender_Send(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg string
	sender := &SMTPSender{SendMail: func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, string(msg)
		return nil
	}}
	conn := &deskflow.Connection{ID: "conn-mail", Host: "mail.example.com", Login: "bot@example.com",
		Extras: map[string]any{"to": "oncall@example.com"}}

	err := sender.Send(context.Background(), conn, "", deskflow.NotificationPayload{Subject: "Escalation", Text: "c1 escalated"})
	require.NoError(t, err)
	assert.Equal(t, "mail.example.com:587", gotAddr)
	assert.Equal(t, "bot@example.com", gotFrom)
	assert.Equal(t, []string{"oncall@example.com"}, gotTo)
	assert.True(t, strings.Contains(gotMsg, "Subject: Escalation\r\n"))
	assert.True(t, strings.HasSuffix(gotMsg, "c1 escalated"))
}

func TestSMTPSender_MissingRecipient(t *testing.T) {
	sender := &SMTPSender{}
	conn := &deskflow.Connection{ID: "conn-mail", Login: "bot@example.com"}
	assert.Error(t, sender.Send(context.Background(), conn, "", deskflow.NotificationPayload{Text: "x"}))
}

func TestWebhookSender_BearerToken(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	sender := &WebhookSender{Client: srv.Client()}
	conn := &deskflow.Connection{ID: "conn-hook", Host: srv.URL, Token: "s3cret"}
	require.NoError(t, sender.Send(context.Background(), conn, "", deskflow.NotificationPayload{Text: "x"}))
	assert.Equal(t, "Bearer s3cret", auth)
}
