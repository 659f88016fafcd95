package escalation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soochol/deskflow/internal/deskflow"
	"github.com/soochol/deskflow/internal/repository"
)

type fakeNotifier struct {
	mu   sync.Mutex
	sent []deskflow.NotificationPayload
	err  error
}

func (n *fakeNotifier) Notify(_ context.Context, _ deskflow.NotificationTarget, p deskflow.NotificationPayload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, p)
	return n.err
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type conflictingTransitioner struct{}

func (conflictingTransitioner) Transition(context.Context, string, string, func(*deskflow.Conversation) error) (*deskflow.Conversation, error) {
	return nil, deskflow.ErrConcurrencyConflict
}

type harness struct {
	svc      *Service
	configs  *repository.MemoryEscalationRepository
	convs    *repository.MemoryConversationRepository
	results  *repository.MemoryTriggerResultRepository
	notifier *fakeNotifier
}

func newHarness(t *testing.T, ledger repository.EscalationLedger, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		configs:  repository.NewMemoryEscalationRepository(),
		convs:    repository.NewMemoryConversationRepository(),
		results:  repository.NewMemoryTriggerResultRepository(),
		notifier: &fakeNotifier{},
	}
	if ledger == nil {
		ledger = repository.NewMemoryEscalationLedger()
	}
	require.NoError(t, h.convs.Create(context.Background(), &deskflow.Conversation{
		ID: "c1", TenantID: "t1", Status: deskflow.ConversationAI, CreatedAt: time.Now(),
	}))
	h.svc = New(h.configs, h.convs, ledger, h.results, h.notifier, opts...)
	return h
}

func (h *harness) addConfig(t *testing.T, id string, priority int, cond deskflow.Condition) {
	t.Helper()
	require.NoError(t, h.configs.Create(context.Background(), &deskflow.EscalationConfiguration{
		ID: id, TenantID: "t1", Name: id, IsActive: true, Priority: priority, Condition: cond,
		Action:    deskflow.EscalationAction{AssignTo: "team-" + id, Notify: &deskflow.NotificationTarget{Channel: deskflow.ConnTypeSlack}},
		CreatedAt: time.Now(),
	}))
}

func msg(id, content string, sentiment float64) deskflow.MessageEvent {
	return deskflow.MessageEvent{
		TenantID: "t1", ConversationID: "c1", MessageID: id,
		Content: content, SentimentScore: deskflow.Float(sentiment), ReceivedAt: time.Now(),
	}
}

func byConfig(results []deskflow.TriggerResult) map[string]deskflow.TriggerResult {
	out := map[string]deskflow.TriggerResult{}
	for _, r := range results {
		out[r.ConfigurationID] = r
	}
	return out
}

func TestProcessMessage_FirstMatchWins(t *testing.T) {
	h := newHarness(t, nil)
	h.addConfig(t, "second", 2, deskflow.Leaf(deskflow.FieldMessageText, deskflow.OpContains, "refund"))
	h.addConfig(t, "first", 1, deskflow.Leaf(deskflow.FieldSentiment, deskflow.OpLt, -0.5))

	out, err := h.svc.ProcessMessage(context.Background(), msg("m1", "I want a REFUND now", -0.9))
	require.NoError(t, err)

	require.Len(t, out.Results, 2)
	assert.Equal(t, "first", out.Results[0].ConfigurationID)
	assert.True(t, out.Results[0].Success)
	assert.Equal(t, deskflow.ReasonApplied, out.Results[0].Reason)
	assert.True(t, out.Results[0].Notified)
	assert.Equal(t, "second", out.Results[1].ConfigurationID)
	assert.True(t, out.Results[1].Matched)
	assert.False(t, out.Results[1].Success)
	assert.Equal(t, deskflow.ReasonShadowed, out.Results[1].Reason)

	assert.True(t, out.Escalated)
	conv, err := h.convs.Get(context.Background(), "t1", "c1")
	require.NoError(t, err)
	assert.Equal(t, deskflow.ConversationHuman, conv.Status)
	assert.Equal(t, "team-first", conv.AssignedTo)
	assert.NotNil(t, conv.EnqueuedAt)
	assert.Equal(t, 1, h.notifier.count())
}

func TestProcessMessage_IdempotentPerMessage(t *testing.T) {
	h := newHarness(t, nil)
	h.addConfig(t, "angry", 1, deskflow.Leaf(deskflow.FieldSentiment, deskflow.OpLt, -0.5))
	ctx := context.Background()

	first, err := h.svc.ProcessMessage(ctx, msg("m1", "this is awful", -0.9))
	require.NoError(t, err)
	second, err := h.svc.ProcessMessage(ctx, msg("m1", "this is awful", -0.9))
	require.NoError(t, err)

	assert.True(t, first.Escalated)
	assert.False(t, second.Escalated)
	assert.Equal(t, deskflow.ReasonDuplicate, second.Results[0].Reason)
	assert.Equal(t, 1, h.notifier.count())

	conv, err := h.convs.Get(ctx, "t1", "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), conv.Version, "exactly one status transition")
}

func TestProcessMessage_AlreadyEscalatedDoesNotNotifyAgain(t *testing.T) {
	h := newHarness(t, nil)
	h.addConfig(t, "angry", 1, deskflow.Leaf(deskflow.FieldSentiment, deskflow.OpLt, -0.5))
	ctx := context.Background()

	first, err := h.svc.ProcessMessage(ctx, msg("m1", "this is awful", -0.9))
	require.NoError(t, err)
	second, err := h.svc.ProcessMessage(ctx, msg("m2", "still awful", -0.9))
	require.NoError(t, err)

	assert.True(t, first.Escalated)
	assert.False(t, second.Escalated)
	require.Len(t, second.Results, 1)
	assert.True(t, second.Results[0].Matched)
	assert.False(t, second.Results[0].Success)
	assert.False(t, second.Results[0].Notified)
	assert.Equal(t, deskflow.ReasonAlreadyEscalated, second.Results[0].Reason)
	assert.Equal(t, deskflow.ConversationHuman, second.Conversation.Status)
	assert.Equal(t, 1, h.notifier.count())

	conv, err := h.convs.Get(ctx, "t1", "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), conv.Version)
}

func TestProcessMessage_IdempotentWithRedisLedger(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	h := newHarness(t, repository.NewRedisEscalationLedger(client))
	h.addConfig(t, "angry", 1, deskflow.Leaf(deskflow.FieldSentiment, deskflow.OpLt, -0.5))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.svc.ProcessMessage(context.Background(), msg("m1", "awful", -0.9))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, h.notifier.count())
	assert.True(t, mr.Exists("deskflow:escalation:t1:m1"))
}

func TestProcessMessage_NoMatch(t *testing.T) {
	h := newHarness(t, nil)
	h.addConfig(t, "angry", 1, deskflow.Leaf(deskflow.FieldSentiment, deskflow.OpLt, -0.5))

	out, err := h.svc.ProcessMessage(context.Background(), msg("m1", "thanks!", 0.8))
	require.NoError(t, err)

	require.Len(t, out.Results, 1)
	assert.Equal(t, deskflow.ReasonNoMatch, out.Results[0].Reason)
	assert.False(t, out.Results[0].Success)
	assert.False(t, out.Escalated)
	assert.Equal(t, 0, h.notifier.count())
}

func TestProcessMessage_RuleErrorSkipsOnlyThatRule(t *testing.T) {
	h := newHarness(t, nil)
	h.addConfig(t, "broken", 1, deskflow.Leaf(deskflow.FieldMessageText, deskflow.OpMatchesRegex, "(unclosed"))
	h.addConfig(t, "refund", 2, deskflow.Leaf(deskflow.FieldMessageText, deskflow.OpContains, "refund"))

	out, err := h.svc.ProcessMessage(context.Background(), msg("m1", "refund please", 0))
	require.NoError(t, err)

	got := byConfig(out.Results)
	assert.Equal(t, deskflow.ReasonRuleError, got["broken"].Reason)
	assert.NotEmpty(t, got["broken"].Error)
	assert.Equal(t, deskflow.ReasonApplied, got["refund"].Reason)
	assert.True(t, out.Escalated)
}

func TestProcessMessage_NotifierFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, nil)
	h.notifier.err = errors.New("slack down")
	h.addConfig(t, "angry", 1, deskflow.Leaf(deskflow.FieldSentiment, deskflow.OpLt, -0.5))

	out, err := h.svc.ProcessMessage(context.Background(), msg("m1", "awful", -0.9))
	require.NoError(t, err)
	assert.True(t, out.Escalated)
	assert.True(t, out.Results[0].Success)
	assert.False(t, out.Results[0].Notified)
}

func TestProcessMessage_ConflictReleasesClaim(t *testing.T) {
	ledger := repository.NewMemoryEscalationLedger()
	h := newHarness(t, ledger, WithTransitioner(conflictingTransitioner{}))
	h.addConfig(t, "angry", 1, deskflow.Leaf(deskflow.FieldSentiment, deskflow.OpLt, -0.5))

	out, err := h.svc.ProcessMessage(context.Background(), msg("m1", "awful", -0.9))
	require.NoError(t, err)
	assert.True(t, out.Conflict)
	assert.False(t, out.Escalated)
	assert.Equal(t, deskflow.ReasonConflict, out.Results[0].Reason)
	assert.True(t, out.Results[0].Conflict)
	assert.Equal(t, 0, h.notifier.count())

	claimed, err := ledger.Claim(context.Background(), "t1", "m1", "angry")
	require.NoError(t, err)
	assert.True(t, claimed, "claim must be released so the message can be re-evaluated")
}

func TestProcessMessage_PersistsResults(t *testing.T) {
	reasons := map[string]int{}
	h := newHarness(t, nil, WithHooks(Hooks{OnResult: func(r string) { reasons[r]++ }}))
	h.addConfig(t, "a", 1, deskflow.Leaf(deskflow.FieldSentiment, deskflow.OpLt, -0.5))
	h.addConfig(t, "b", 2, deskflow.Leaf(deskflow.FieldSentiment, deskflow.OpLt, 0))

	_, err := h.svc.ProcessMessage(context.Background(), msg("m1", "bad", -0.9))
	require.NoError(t, err)

	stored, err := h.results.List(context.Background(), "t1", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, stored, 2)
	assert.Equal(t, map[string]int{"applied": 1, "shadowed": 1}, reasons)
}

func TestProcessMessage_UnknownConversation(t *testing.T) {
	h := newHarness(t, nil)
	ev := msg("m1", "hi", 0)
	ev.ConversationID = "missing"
	_, err := h.svc.ProcessMessage(context.Background(), ev)
	assert.True(t, errors.Is(err, deskflow.ErrNotFound))
}
