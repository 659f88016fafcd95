package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/soochol/deskflow/internal/deskflow"
	"github.com/soochol/deskflow/internal/deskflow/ports"
)

var _ ports.Notifier = (*Dispatcher)(nil)

// ConnectionResolver returns a tenant connection with secrets decrypted.
type ConnectionResolver interface {
	Resolve(ctx context.Context, tenantID, id string) (*deskflow.Connection, error)
}

// BreakerSettings tunes the per-channel circuit breakers.
type BreakerSettings struct {
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long a tripped breaker rejects before probing.
	OpenTimeout time.Duration
	// HalfOpenRequests is the number of probes allowed while half-open.
	HalfOpenRequests uint32
}

// DefaultBreakerSettings returns the settings used when none are given.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
		HalfOpenRequests:    1,
	}
}

// Dispatcher implements ports.Notifier. It resolves the target connection,
// picks the sender for the channel and runs it behind a circuit breaker
// keyed by tenant, channel and connection, so one dead endpoint cannot slow
// every escalation down.
type Dispatcher struct {
	senders  *SenderRegistry
	conns    ConnectionResolver
	settings BreakerSettings
	hooks    Hooks

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithHooks(h Hooks) Option { return func(d *Dispatcher) { d.hooks = h } }

func WithBreakerSettings(s BreakerSettings) Option {
	return func(d *Dispatcher) { d.settings = s }
}

// NewDispatcher creates a Dispatcher. conns may be nil, in which case only
// targets without a ConnectionID (inline webhook URLs) can be delivered.
func NewDispatcher(senders *SenderRegistry, conns ConnectionResolver, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		senders:  senders,
		conns:    conns,
		settings: DefaultBreakerSettings(),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Notify delivers payload to target. Errors are returned for the caller to
// log; an open breaker fails fast with gobreaker.ErrOpenState.
func (d *Dispatcher) Notify(ctx context.Context, target deskflow.NotificationTarget, payload deskflow.NotificationPayload) error {
	channel := string(target.Channel)
	sender, err := d.senders.Get(target.Channel)
	if err != nil {
		d.report(channel, ResultFailed)
		return err
	}
	conn, err := d.connection(ctx, target, payload.TenantID)
	if err != nil {
		d.report(channel, ResultFailed)
		return err
	}

	cb := d.breaker(payload.TenantID + "/" + channel + "/" + conn.ID)
	_, err = cb.Execute(func() (any, error) {
		return nil, sender.Send(ctx, conn, target.Address, payload)
	})
	switch {
	case err == nil:
		d.report(channel, ResultDelivered)
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		d.report(channel, ResultRejected)
		slog.Warn("notify: channel unavailable", "channel", channel, "connection", conn.ID, "err", err)
	default:
		d.report(channel, ResultFailed)
		slog.Warn("notify: delivery failed", "channel", channel, "connection", conn.ID, "err", err)
	}
	return fmt.Errorf("notify %s: %w", channel, err)
}

// BreakerState returns the state name of a breaker, or "closed" if it has
// never been used.
func (d *Dispatcher) BreakerState(tenantID string, channel deskflow.ConnectionType, connectionID string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	cb, ok := d.breakers[tenantID+"/"+string(channel)+"/"+connectionID]
	if !ok {
		return gobreaker.StateClosed.String()
	}
	return cb.State().String()
}

func (d *Dispatcher) connection(ctx context.Context, target deskflow.NotificationTarget, tenantID string) (*deskflow.Connection, error) {
	if target.ConnectionID == "" {
		return &deskflow.Connection{ID: "inline", TenantID: tenantID, Type: target.Channel}, nil
	}
	if d.conns == nil {
		return nil, fmt.Errorf("connection %q: no connection resolver configured", target.ConnectionID)
	}
	conn, err := d.conns.Resolve(ctx, tenantID, target.ConnectionID)
	if err != nil {
		return nil, fmt.Errorf("resolve connection %q: %w", target.ConnectionID, err)
	}
	if conn.Type != target.Channel {
		return nil, fmt.Errorf("connection %q is %s, not %s", conn.ID, conn.Type, target.Channel)
	}
	return conn, nil
}

func (d *Dispatcher) breaker(name string) *gobreaker.CircuitBreaker {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cb, ok := d.breakers[name]; ok {
		return cb
	}
	threshold := d.settings.ConsecutiveFailures
	if threshold == 0 {
		threshold = 1
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: d.settings.HalfOpenRequests,
		Timeout:     d.settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Info("notify: breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			if d.hooks.OnBreakerState != nil {
				d.hooks.OnBreakerState(name, to.String())
			}
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	d.breakers[name] = cb
	return cb
}

func (d *Dispatcher) report(channel, result string) {
	if d.hooks.OnNotify != nil {
		d.hooks.OnNotify(channel, result)
	}
}
