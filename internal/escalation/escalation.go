// Package escalation decides, per inbound message, whether a conversation
// moves to human handling. Configurations are evaluated in priority order;
// the first match wins the transition and every later match is reported
// as shadowed.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/soochol/deskflow/internal/condition"
	"github.com/soochol/deskflow/internal/conversation"
	"github.com/soochol/deskflow/internal/deskflow"
	"github.com/soochol/deskflow/internal/deskflow/ports"
	"github.com/soochol/deskflow/internal/repository"
)

var tracer = otel.Tracer("github.com/soochol/deskflow/internal/escalation")

// DefaultHistoryLimit is the lookback used when building the context.
const DefaultHistoryLimit = 20

// Outcome is the result of processing one message.
type Outcome struct {
	Results   []deskflow.TriggerResult
	Escalated bool
	// Conflict is set when the winning transition lost two races; the
	// caller may re-evaluate.
	Conflict     bool
	Conversation *deskflow.Conversation
}

// Service evaluates escalation configurations.
type Service struct {
	configs       repository.EscalationRepository
	conversations repository.ConversationRepository
	ledger        repository.EscalationLedger
	results       repository.TriggerResultRepository
	transitions   ports.ConversationTransitioner
	notifier      ports.Notifier

	hooks        Hooks
	historyLimit int
	now          func() time.Time
}

// Option configures a Service.
type Option func(*Service)

func WithHooks(h Hooks) Option { return func(s *Service) { s.hooks = h } }

func WithHistoryLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithTransitioner replaces the default compare-and-swap transitioner.
func WithTransitioner(t ports.ConversationTransitioner) Option {
	return func(s *Service) { s.transitions = t }
}

// New creates a Service. notifier may be nil when no channel is wired.
func New(
	configs repository.EscalationRepository,
	conversations repository.ConversationRepository,
	ledger repository.EscalationLedger,
	results repository.TriggerResultRepository,
	notifier ports.Notifier,
	opts ...Option,
) *Service {
	s := &Service{
		configs:       configs,
		conversations: conversations,
		ledger:        ledger,
		results:       results,
		notifier:      notifier,
		transitions:   conversation.NewTransitioner(conversations),
		historyLimit:  DefaultHistoryLimit,
		now:           time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ProcessMessage loads the conversation and its recent history, then
// evaluates the message.
func (s *Service) ProcessMessage(ctx context.Context, ev deskflow.MessageEvent) (*Outcome, error) {
	conv, err := s.conversations.Get(ctx, ev.TenantID, ev.ConversationID)
	if err != nil {
		return nil, deskflow.WrapStore("get conversation", err)
	}
	history, err := s.conversations.RecentMessages(ctx, ev.TenantID, ev.ConversationID, s.historyLimit)
	if err != nil {
		return nil, deskflow.WrapStore("recent messages", err)
	}
	return s.Evaluate(ctx, ev, condition.FromTrigger(ev.Trigger(), conv, history, s.now()))
}

// Evaluate runs the escalation pass against a prepared context snapshot.
// Re-evaluating the same message id never transitions or notifies twice.
func (s *Service) Evaluate(ctx context.Context, ev deskflow.MessageEvent, snap *condition.Context) (*Outcome, error) {
	ctx, span := tracer.Start(ctx, "escalation.Evaluate", trace.WithAttributes(
		attribute.String("tenant.id", ev.TenantID),
		attribute.String("conversation.id", ev.ConversationID),
		attribute.String("message.id", ev.MessageID),
	))
	defer span.End()

	out, err := s.evaluate(ctx, ev, snap)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if len(out.Results) > 0 {
		if err := s.results.Append(ctx, out.Results); err != nil {
			err = deskflow.WrapStore("append trigger results", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}
	for _, r := range out.Results {
		if s.hooks.OnResult != nil {
			s.hooks.OnResult(string(r.Reason))
		}
	}
	span.SetAttributes(attribute.Bool("escalated", out.Escalated))
	return out, nil
}

func (s *Service) evaluate(ctx context.Context, ev deskflow.MessageEvent, snap *condition.Context) (*Outcome, error) {
	configs, err := s.configs.List(ctx, ev.TenantID, true)
	if err != nil {
		return nil, deskflow.WrapStore("list escalation configurations", err)
	}

	// Load-once snapshot for this event: rules compiled here, never cached.
	rules := make([]condition.Rule, len(configs))
	for i, cfg := range configs {
		rules[i] = condition.Rule{ID: cfg.ID, Condition: cfg.Condition}
	}
	rs := condition.CompileRuleSet(rules)

	out := &Outcome{Conversation: snap.Conversation}
	winner := -1
	var winnerCfg *deskflow.EscalationConfiguration
	for i, entry := range rs.Entries {
		cfg := configs[i]
		res := s.result(ev, cfg)
		if entry.Err != nil {
			slog.Warn("skipping escalation configuration", "configuration", cfg.ID, "err", entry.Err)
			res.Reason = deskflow.ReasonRuleError
			res.Error = entry.Err.Error()
			out.Results = append(out.Results, res)
			continue
		}
		if !entry.Predicate.Evaluate(snap) {
			continue
		}
		res.Matched = true
		if winner >= 0 {
			res.Reason = deskflow.ReasonShadowed
		} else {
			winner = len(out.Results)
			winnerCfg = cfg
		}
		out.Results = append(out.Results, res)
	}

	if winner < 0 {
		out.Results = append(out.Results, deskflow.TriggerResult{
			ID:             deskflow.GenerateID("tr"),
			TenantID:       ev.TenantID,
			ConversationID: ev.ConversationID,
			MessageID:      ev.MessageID,
			Reason:         deskflow.ReasonNoMatch,
			EvaluatedAt:    s.now(),
		})
		return out, nil
	}

	if err := s.apply(ctx, ev, winnerCfg, &out.Results[winner], out); err != nil {
		return nil, err
	}
	return out, nil
}

// apply claims the message in the ledger, transitions the conversation
// and notifies. Nothing is sent when the conversation is already in the
// target state. The notification happens after the store write, outside
// any lock, and its failure never fails the evaluation.
func (s *Service) apply(ctx context.Context, ev deskflow.MessageEvent, cfg *deskflow.EscalationConfiguration, res *deskflow.TriggerResult, out *Outcome) error {
	claimed, err := s.ledger.Claim(ctx, ev.TenantID, ev.MessageID, cfg.ID)
	if err != nil {
		return deskflow.WrapStore("claim escalation", err)
	}
	if !claimed {
		slog.Info("message already escalated", "message", ev.MessageID, "configuration", cfg.ID)
		res.Reason = deskflow.ReasonDuplicate
		return nil
	}

	conv, err := s.transitions.Transition(ctx, ev.TenantID, ev.ConversationID,
		conversation.Escalate(cfg.Action.TargetStatus, cfg.Action.AssignTo, s.now()))
	if errors.Is(err, conversation.ErrUnchanged) {
		// Keep the claim: the message was handled.
		slog.Debug("conversation already escalated", "conversation", ev.ConversationID, "configuration", cfg.ID)
		res.Reason = deskflow.ReasonAlreadyEscalated
		out.Conversation = conv
		return nil
	}
	if err != nil {
		if rerr := s.ledger.Release(ctx, ev.TenantID, ev.MessageID); rerr != nil {
			slog.Error("failed to release escalation claim", "message", ev.MessageID, "err", rerr)
		}
		if errors.Is(err, deskflow.ErrConcurrencyConflict) {
			slog.Warn("escalation transition conflicted", "conversation", ev.ConversationID, "configuration", cfg.ID)
			res.Reason = deskflow.ReasonConflict
			res.Conflict = true
			res.Error = err.Error()
			out.Conflict = true
			out.Conversation = conv
			return nil
		}
		return err
	}

	res.Success = true
	res.Reason = deskflow.ReasonApplied
	out.Escalated = true
	out.Conversation = conv

	if cfg.Action.Notify != nil && s.notifier != nil {
		err := s.notifier.Notify(ctx, *cfg.Action.Notify, s.payload(ev, cfg, conv))
		if err != nil {
			slog.Warn("escalation notification failed", "configuration", cfg.ID, "channel", cfg.Action.Notify.Channel, "err", err)
		}
		res.Notified = err == nil
		if s.hooks.OnNotify != nil {
			s.hooks.OnNotify(err == nil)
		}
	}
	return nil
}

func (s *Service) result(ev deskflow.MessageEvent, cfg *deskflow.EscalationConfiguration) deskflow.TriggerResult {
	return deskflow.TriggerResult{
		ID:              deskflow.GenerateID("tr"),
		TenantID:        ev.TenantID,
		ConfigurationID: cfg.ID,
		Name:            cfg.Name,
		Priority:        cfg.Priority,
		ConversationID:  ev.ConversationID,
		MessageID:       ev.MessageID,
		EvaluatedAt:     s.now(),
	}
}

func (s *Service) payload(ev deskflow.MessageEvent, cfg *deskflow.EscalationConfiguration, conv *deskflow.Conversation) deskflow.NotificationPayload {
	fields := map[string]any{
		"configuration": cfg.Name,
		"priority":      cfg.Priority,
		"status":        string(conv.Status),
	}
	if conv.AssignedTo != "" {
		fields["assigned_to"] = conv.AssignedTo
	}
	if ev.SentimentScore != nil {
		fields["sentiment"] = *ev.SentimentScore
	}
	return deskflow.NotificationPayload{
		TenantID:       ev.TenantID,
		ConversationID: ev.ConversationID,
		Subject:        fmt.Sprintf("Conversation %s escalated", ev.ConversationID),
		Text:           fmt.Sprintf("Escalated by %q: %s", cfg.Name, ev.Content),
		Fields:         fields,
	}
}
