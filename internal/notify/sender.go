// Package notify delivers escalation and workflow notifications to external
// channels (Slack, Telegram, SMTP, generic webhooks).
package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/soochol/deskflow/internal/deskflow"
)

// Sender delivers messages to an external service.
type Sender interface {
	// Type returns the connection type this sender handles.
	Type() deskflow.ConnectionType
	// Send delivers payload using the resolved connection credentials.
	// address overrides the connection's default recipient when non-empty.
	Send(ctx context.Context, conn *deskflow.Connection, address string, payload deskflow.NotificationPayload) error
}

// SenderRegistry maps connection types to their senders.
type SenderRegistry struct {
	mu      sync.RWMutex
	senders map[deskflow.ConnectionType]Sender
}

func NewSenderRegistry() *SenderRegistry {
	return &SenderRegistry{senders: make(map[deskflow.ConnectionType]Sender)}
}

// DefaultSenders returns a registry with every built-in sender.
func DefaultSenders() *SenderRegistry {
	r := NewSenderRegistry()
	r.Register(&SlackSender{})
	r.Register(&TelegramSender{})
	r.Register(&SMTPSender{})
	r.Register(&WebhookSender{})
	return r
}

// Register adds a sender for a connection type.
func (r *SenderRegistry) Register(s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[s.Type()] = s
}

// Get returns the sender for the given connection type.
func (r *SenderRegistry) Get(connType deskflow.ConnectionType) (Sender, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.senders[connType]
	if !ok {
		return nil, fmt.Errorf("no sender registered for connection type %q", connType)
	}
	return s, nil
}

// render flattens a payload into plain text: the text, then sorted fields.
func render(p deskflow.NotificationPayload) string {
	if len(p.Fields) == 0 {
		return p.Text
	}
	var b strings.Builder
	b.WriteString(p.Text)
	for _, k := range sortedKeys(p.Fields) {
		fmt.Fprintf(&b, "\n%s: %v", k, p.Fields[k])
	}
	return b.String()
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
