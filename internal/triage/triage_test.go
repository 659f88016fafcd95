package triage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soochol/deskflow/internal/condition"
	"github.com/soochol/deskflow/internal/deskflow"
	"github.com/soochol/deskflow/internal/repository"
)

var now = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

type queueFixture struct {
	engine *Engine
	rules  *repository.MemoryTriageRuleRepository
	convs  *repository.MemoryConversationRepository
}

func newQueueFixture(t *testing.T, opts ...Option) *queueFixture {
	t.Helper()
	f := &queueFixture{
		rules: repository.NewMemoryTriageRuleRepository(),
		convs: repository.NewMemoryConversationRepository(),
	}
	opts = append([]Option{WithClock(func() time.Time { return now })}, opts...)
	f.engine = New(f.rules, f.convs, opts...)
	return f
}

func (f *queueFixture) conv(t *testing.T, id string, enqueued time.Time, sentiment *float64, mutate ...func(*deskflow.Conversation)) {
	t.Helper()
	c := &deskflow.Conversation{
		ID: id, TenantID: "t1", Status: deskflow.ConversationHuman,
		EnqueuedAt: &enqueued, LastMessageSentiment: sentiment, CreatedAt: enqueued,
	}
	for _, m := range mutate {
		m(c)
	}
	require.NoError(t, f.convs.Create(context.Background(), c))
}

func (f *queueFixture) rule(t *testing.T, id string, delta int, hint string, cond deskflow.Condition) {
	t.Helper()
	require.NoError(t, f.rules.Create(context.Background(), &deskflow.TriageRule{
		ID: id, TenantID: "t1", Name: id, IsActive: true, Condition: cond,
		PriorityScoreDelta: delta, AssignmentHint: hint, CreatedAt: now.Add(time.Duration(len(id)) * time.Second),
	}))
}

func ids(entries []deskflow.PriorityQueueEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ConversationID
	}
	return out
}

func TestWeights_Band(t *testing.T) {
	w := DefaultWeights()
	tests := []struct {
		score float64
		want  deskflow.PriorityBand
	}{
		{20, deskflow.PriorityUrgent},
		{15, deskflow.PriorityUrgent},
		{14.99, deskflow.PriorityHigh},
		{10, deskflow.PriorityHigh},
		{5, deskflow.PriorityNormal},
		{4.9, deskflow.PriorityLow},
		{-3, deskflow.PriorityLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, w.Band(tt.score), "score %v", tt.score)
	}
}

func TestScore_Components(t *testing.T) {
	w := DefaultWeights()
	enqueued := now.Add(-20 * time.Minute)
	ctx := &condition.Context{
		HasMessage:   true,
		MessageText:  "where is my refund",
		Sentiment:    deskflow.Float(-0.8),
		Conversation: &deskflow.Conversation{ID: "c1", Status: deskflow.ConversationHuman, EnqueuedAt: &enqueued},
		Now:          now,
	}
	rules := compile([]*deskflow.TriageRule{
		{ID: "refund", PriorityScoreDelta: 3, AssignmentHint: "billing", Condition: deskflow.Leaf(deskflow.FieldMessageText, deskflow.OpContains, "refund")},
		{ID: "vip", PriorityScoreDelta: 4, AssignmentHint: "vip-desk", Condition: deskflow.Leaf(deskflow.FieldMessageText, deskflow.OpContains, "where")},
		{ID: "miss", PriorityScoreDelta: 50, Condition: deskflow.Leaf(deskflow.FieldMessageText, deskflow.OpContains, "cancel")},
	})

	b := w.Score(ctx, rules)
	// 5 base + 5*0.8 sentiment + 0.05*20 wait + 3 + 4 rules.
	assert.InDelta(t, 17.0, b.Score, 0.001)
	assert.Equal(t, deskflow.PriorityUrgent, b.Priority)
	assert.Equal(t, "billing", b.SuggestedAssignee)
	require.Len(t, b.Results, 3)
	assert.True(t, b.Results[0].Matched)
	assert.True(t, b.Results[1].Matched)
	assert.False(t, b.Results[2].Matched)
	assert.Equal(t, 0, b.Results[2].Delta)
}

func TestScore_PositiveSentimentDoesNotLowerUrgency(t *testing.T) {
	w := DefaultWeights()
	happy := w.Score(&condition.Context{Sentiment: deskflow.Float(0.9), Now: now}, nil)
	neutral := w.Score(&condition.Context{Now: now}, nil)
	assert.Equal(t, neutral.Score, happy.Score)
	assert.Equal(t, 5.0, neutral.Score)
}

func TestScore_WaitTimeGrowsContinuously(t *testing.T) {
	w := DefaultWeights()
	enqueued := now.Add(-time.Hour)
	conv := &deskflow.Conversation{EnqueuedAt: &enqueued}
	early := w.Score(&condition.Context{Conversation: conv, Now: now}, nil)
	later := w.Score(&condition.Context{Conversation: conv, Now: now.Add(time.Hour)}, nil)
	assert.Greater(t, later.Score, early.Score)
	assert.InDelta(t, 8.0, early.Score, 0.001)
}

func TestPriorityQueue_OrdersByScoreThenEnqueuedAt(t *testing.T) {
	f := newQueueFixture(t)
	// Enqueued first but lower score.
	f.conv(t, "low", now.Add(-time.Minute), nil)
	f.conv(t, "high", now, deskflow.Float(-0.6))

	entries, total, err := f.engine.GetPriorityQueue(context.Background(), deskflow.QueueFilter{TenantID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, []string{"high", "low"}, ids(entries))
	assert.InDelta(t, 8.0, entries[0].Score, 0.001)
	assert.InDelta(t, 5.05, entries[1].Score, 0.001)
	assert.Equal(t, deskflow.PriorityNormal, entries[1].Priority)
}

func TestPriorityQueue_EqualScoresEarlierEnqueuedFirst(t *testing.T) {
	f := newQueueFixture(t)
	f.conv(t, "b-later", now.Add(-time.Minute), nil, func(c *deskflow.Conversation) {
		touched := now
		c.LastHumanTouchAt = &touched
	})
	f.conv(t, "a-earlier", now.Add(-2*time.Minute), nil, func(c *deskflow.Conversation) {
		touched := now
		c.LastHumanTouchAt = &touched
	})

	entries, _, err := f.engine.GetPriorityQueue(context.Background(), deskflow.QueueFilter{TenantID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, entries[0].Score, entries[1].Score)
	assert.Equal(t, []string{"a-earlier", "b-later"}, ids(entries))
}

func TestSort_Deterministic(t *testing.T) {
	entries := []deskflow.PriorityQueueEntry{
		{ConversationID: "a", Score: 5, EnqueuedAt: now},
		{ConversationID: "b", Score: 8, EnqueuedAt: now.Add(time.Hour)},
		{ConversationID: "d", Score: 5, EnqueuedAt: now.Add(-time.Hour)},
		{ConversationID: "c", Score: 5, EnqueuedAt: now},
	}
	Sort(entries)
	assert.Equal(t, []string{"b", "d", "a", "c"}, ids(entries))
}

func TestPriorityQueue_FiltersAndPaginates(t *testing.T) {
	f := newQueueFixture(t)
	f.rule(t, "vip", 10, "vip-desk", deskflow.Leaf(deskflow.MetadataField("plan"), deskflow.OpEq, "enterprise"))
	f.conv(t, "c1", now, nil, func(c *deskflow.Conversation) { c.Metadata = map[string]any{"plan": "enterprise"} })
	f.conv(t, "c2", now, nil, func(c *deskflow.Conversation) { c.AssignedTo = "ann" })
	f.conv(t, "c3", now, nil, func(c *deskflow.Conversation) { c.AssignedTo = "ann" })
	f.conv(t, "c4", now, nil)
	require.NoError(t, f.convs.Create(context.Background(), &deskflow.Conversation{
		ID: "bot", TenantID: "t1", Status: deskflow.ConversationAI, CreatedAt: now,
	}))

	ctx := context.Background()
	all, total, err := f.engine.GetPriorityQueue(ctx, deskflow.QueueFilter{TenantID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Equal(t, "c1", all[0].ConversationID)
	assert.Equal(t, deskflow.PriorityUrgent, all[0].Priority)
	assert.Equal(t, "vip-desk", all[0].SuggestedAssignee)

	urgent, total, err := f.engine.GetPriorityQueue(ctx, deskflow.QueueFilter{TenantID: "t1", Priority: deskflow.PriorityUrgent})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, []string{"c1"}, ids(urgent))

	anns, total, err := f.engine.GetPriorityQueue(ctx, deskflow.QueueFilter{TenantID: "t1", AssignedTo: "ann", Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, []string{"c3"}, ids(anns))

	none, _, err := f.engine.GetPriorityQueue(ctx, deskflow.QueueFilter{TenantID: "t1", Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPriorityQueue_ScoreCache(t *testing.T) {
	f := newQueueFixture(t, WithScoreCache(true))
	f.conv(t, "c1", now, deskflow.Float(-1))

	_, _, err := f.engine.GetPriorityQueue(context.Background(), deskflow.QueueFilter{TenantID: "t1"})
	require.NoError(t, err)

	conv, err := f.convs.Get(context.Background(), "t1", "c1")
	require.NoError(t, err)
	require.NotNil(t, conv.LastScore)
	assert.InDelta(t, 10.0, *conv.LastScore, 0.001)
}

func TestPriorityQueue_ReadsAreSideEffectFree(t *testing.T) {
	f := newQueueFixture(t)
	f.conv(t, "c1", now, deskflow.Float(-1))

	_, _, err := f.engine.GetPriorityQueue(context.Background(), deskflow.QueueFilter{TenantID: "t1"})
	require.NoError(t, err)

	conv, err := f.convs.Get(context.Background(), "t1", "c1")
	require.NoError(t, err)
	assert.Nil(t, conv.LastScore)
	assert.Equal(t, int64(1), conv.Version)
}

func TestEvaluateConversation(t *testing.T) {
	f := newQueueFixture(t)
	f.rule(t, "broken", 100, "", deskflow.Leaf(deskflow.FieldMessageText, deskflow.OpMatchesRegex, "[z-a]"))
	f.rule(t, "legal", 6, "legal-team", deskflow.Leaf(deskflow.FieldMessageText, deskflow.OpMatchesRegex, `\blawyer\b`))
	f.conv(t, "c1", now, nil)

	text := "My lawyer will call you"
	ev, err := f.engine.EvaluateConversation(context.Background(), "t1", "c1", Input{
		MessageContent: &text,
		SentimentScore: deskflow.Float(-0.4),
	})
	require.NoError(t, err)

	assert.Equal(t, "c1", ev.ConversationID)
	// 5 base + 2 sentiment + 6 rule.
	assert.InDelta(t, 13.0, ev.Score, 0.001)
	assert.Equal(t, deskflow.PriorityHigh, ev.Priority)
	assert.Equal(t, "legal-team", ev.SuggestedAssignee)

	byID := map[string]deskflow.TriageResult{}
	for _, r := range ev.Results {
		byID[r.RuleID] = r
	}
	assert.NotEmpty(t, byID["broken"].Error)
	assert.False(t, byID["broken"].Matched)
	assert.True(t, byID["legal"].Matched)
	assert.Equal(t, 6, byID["legal"].Delta)
}
