// Package triage scores human-handling conversations and orders the
// agent queue. The queue is recomputed on every read from the current
// conversations and rules; nothing is maintained between reads.
package triage

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/soochol/deskflow/internal/condition"
	"github.com/soochol/deskflow/internal/deskflow"
	"github.com/soochol/deskflow/internal/repository"
)

var tracer = otel.Tracer("github.com/soochol/deskflow/internal/triage")

// Input is the optional fresh message evaluated with the conversation.
// Absent fields fall back to the conversation's last inbound message.
type Input struct {
	MessageContent *string
	SentimentScore *float64
	Metadata       map[string]any
}

// Evaluation is the result of EvaluateConversation.
type Evaluation struct {
	ConversationID    string                  `json:"conversation_id"`
	Score             float64                 `json:"score"`
	Priority          deskflow.PriorityBand   `json:"priority"`
	SuggestedAssignee string                  `json:"suggested_assignee,omitempty"`
	Results           []deskflow.TriageResult `json:"results"`
}

// Engine evaluates triage rules.
type Engine struct {
	rules         repository.TriageRuleRepository
	conversations repository.ConversationRepository
	weights       Weights
	cacheScores   bool
	hooks         Hooks
	now           func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

func WithWeights(w Weights) Option { return func(e *Engine) { e.weights = w } }

// WithScoreCache writes each computed score back to the conversation's
// LastScore for analytics. It is the only side effect of a queue read.
func WithScoreCache(enabled bool) Option { return func(e *Engine) { e.cacheScores = enabled } }

func WithHooks(h Hooks) Option { return func(e *Engine) { e.hooks = h } }

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func New(rules repository.TriageRuleRepository, conversations repository.ConversationRepository, opts ...Option) *Engine {
	e := &Engine{
		rules:         rules,
		conversations: conversations,
		weights:       DefaultWeights(),
		now:           time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Weights returns the scoring policy in use.
func (e *Engine) Weights() Weights { return e.weights }

// EvaluateConversation scores one conversation against every active rule.
func (e *Engine) EvaluateConversation(ctx context.Context, tenantID, conversationID string, in Input) (*Evaluation, error) {
	ctx, span := tracer.Start(ctx, "triage.EvaluateConversation", trace.WithAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("conversation.id", conversationID),
	))
	defer span.End()

	conv, err := e.conversations.Get(ctx, tenantID, conversationID)
	if err != nil {
		err = deskflow.WrapStore("get conversation", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	snap := snapshot(conv, e.now())
	if in.MessageContent != nil {
		snap.HasMessage = true
		snap.MessageText = *in.MessageContent
	}
	if in.SentimentScore != nil {
		snap.Sentiment = in.SentimentScore
	}
	if in.Metadata != nil {
		snap.MessageMetadata = in.Metadata
	}
	return e.Evaluate(ctx, tenantID, snap)
}

// Evaluate scores a prepared context. Rules are loaded once per call.
func (e *Engine) Evaluate(ctx context.Context, tenantID string, snap *condition.Context) (*Evaluation, error) {
	defs, err := e.rules.List(ctx, tenantID, true)
	if err != nil {
		return nil, deskflow.WrapStore("list triage rules", err)
	}
	rules := compile(defs)
	for _, r := range rules {
		if r.entry.Err != nil {
			slog.Warn("skipping triage rule", "rule", r.def.ID, "err", r.entry.Err)
		}
	}
	b := e.weights.Score(snap, rules)
	if e.hooks.OnEvaluated != nil {
		e.hooks.OnEvaluated(string(b.Priority))
	}
	ev := &Evaluation{
		Score:             b.Score,
		Priority:          b.Priority,
		SuggestedAssignee: b.SuggestedAssignee,
		Results:           b.Results,
	}
	if snap.Conversation != nil {
		ev.ConversationID = snap.Conversation.ID
	}
	return ev, nil
}

// GetPriorityQueue scores every human-handling conversation of the tenant
// and returns the filtered page ordered by score descending, then earlier
// EnqueuedAt, then conversation id. total counts entries after filtering.
func (e *Engine) GetPriorityQueue(ctx context.Context, filter deskflow.QueueFilter) (entries []deskflow.PriorityQueueEntry, total int, err error) {
	ctx, span := tracer.Start(ctx, "triage.GetPriorityQueue", trace.WithAttributes(
		attribute.String("tenant.id", filter.TenantID),
	))
	defer span.End()

	convs, err := e.conversations.ListByStatus(ctx, filter.TenantID, deskflow.ConversationHuman)
	if err != nil {
		err = deskflow.WrapStore("list conversations", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, 0, err
	}
	defs, err := e.rules.List(ctx, filter.TenantID, true)
	if err != nil {
		return nil, 0, deskflow.WrapStore("list triage rules", err)
	}
	rules := compile(defs)

	now := e.now()
	all := make([]deskflow.PriorityQueueEntry, 0, len(convs))
	for _, conv := range convs {
		b := e.weights.Score(snapshot(conv, now), rules)
		entry := deskflow.PriorityQueueEntry{
			ConversationID:    conv.ID,
			Score:             b.Score,
			Priority:          b.Priority,
			AssignedTo:        conv.AssignedTo,
			SuggestedAssignee: b.SuggestedAssignee,
			EnqueuedAt:        conv.WaitingSince(),
		}
		if conv.EnqueuedAt != nil {
			entry.EnqueuedAt = *conv.EnqueuedAt
		}
		all = append(all, entry)
	}
	Sort(all)

	filtered := all[:0:0]
	for _, entry := range all {
		if filter.Priority != "" && entry.Priority != filter.Priority {
			continue
		}
		if filter.AssignedTo != "" && entry.AssignedTo != filter.AssignedTo {
			continue
		}
		filtered = append(filtered, entry)
	}

	if e.cacheScores {
		e.writeBack(ctx, filter.TenantID, all)
	}
	span.SetAttributes(attribute.Int("queue.size", len(all)))
	return page(filtered, filter.Limit, filter.Offset), len(filtered), nil
}

// Sort orders entries by score descending, then EnqueuedAt ascending,
// then conversation id.
func Sort(entries []deskflow.PriorityQueueEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
			return a.EnqueuedAt.Before(b.EnqueuedAt)
		}
		return a.ConversationID < b.ConversationID
	})
}

func (e *Engine) writeBack(ctx context.Context, tenantID string, entries []deskflow.PriorityQueueEntry) {
	for _, entry := range entries {
		if err := e.conversations.SetLastScore(ctx, tenantID, entry.ConversationID, entry.Score); err != nil {
			slog.Warn("failed to cache triage score", "conversation", entry.ConversationID, "err", err)
		}
	}
}

// snapshot builds a context from the conversation's denormalized last
// inbound message, without loading history.
func snapshot(conv *deskflow.Conversation, now time.Time) *condition.Context {
	return &condition.Context{
		HasMessage:   conv.LastMessageAt != nil || conv.LastMessageText != "",
		MessageText:  conv.LastMessageText,
		Sentiment:    conv.LastMessageSentiment,
		Conversation: conv,
		Now:          now,
	}
}

func page(entries []deskflow.PriorityQueueEntry, limit, offset int) []deskflow.PriorityQueueEntry {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(entries) {
		return []deskflow.PriorityQueueEntry{}
	}
	end := len(entries)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return entries[offset:end]
}
