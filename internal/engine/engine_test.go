package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soochol/deskflow/internal/deskflow"
	"github.com/soochol/deskflow/internal/repository"
)

type invokeFunc func(ctx context.Context, req *deskflow.ActionRequest) (map[string]any, error)

// fakeActions records invocations and dispatches per node id.
type fakeActions struct {
	mu     sync.Mutex
	calls  []string
	byNode map[string]invokeFunc
}

func (f *fakeActions) Invoke(ctx context.Context, req *deskflow.ActionRequest) (map[string]any, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.NodeID)
	fn := f.byNode[req.NodeID]
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return map[string]any{"ok": true}, nil
}

func (f *fakeActions) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fixture struct {
	engine     *Engine
	actions    *fakeActions
	executions *repository.MemoryExecutionRepository
	workflows  *repository.MemoryRepository
	wakeups    *repository.MemoryWakeupRepository
	bus        *EventBus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		actions:    &fakeActions{byNode: map[string]invokeFunc{}},
		executions: repository.NewMemoryExecutionRepository(),
		workflows:  repository.NewMemory(),
		wakeups:    repository.NewMemoryWakeupRepository(),
		bus:        NewEventBus(),
	}
	f.engine = New(f.executions, f.workflows, f.wakeups, f.actions, WithEventBus(f.bus))
	return f
}

func (f *fixture) store(t *testing.T, wf *deskflow.WorkflowDefinition) *deskflow.WorkflowDefinition {
	t.Helper()
	require.NoError(t, f.workflows.Create(context.Background(), wf))
	return wf
}

func triggerNode(id string) deskflow.NodeDefinition {
	return deskflow.NodeDefinition{ID: id, Type: deskflow.NodeTypeTrigger}
}

func actionNode(id string, extra map[string]any) deskflow.NodeDefinition {
	cfg := map[string]any{"action": "escalate"}
	for k, v := range extra {
		cfg[k] = v
	}
	return deskflow.NodeDefinition{ID: id, Type: deskflow.NodeTypeAction, Config: cfg}
}

func delayNode(id, d string) deskflow.NodeDefinition {
	return deskflow.NodeDefinition{ID: id, Type: deskflow.NodeTypeDelay, Config: map[string]any{"duration": d}}
}

// sentimentWorkflow is trigger T, condition C (sentiment < -0.5), action A
// on the true branch.
func sentimentWorkflow() *deskflow.WorkflowDefinition {
	return &deskflow.WorkflowDefinition{
		ID: "wf-sentiment", TenantID: "t1", Version: 1, Active: true,
		Nodes: []deskflow.NodeDefinition{
			triggerNode("T"),
			{ID: "C", Type: deskflow.NodeTypeCondition, Config: map[string]any{
				"condition": map[string]any{"field": "message.sentiment", "operator": "lt", "value": -0.5},
			}},
			actionNode("A", nil),
		},
		Edges: []deskflow.EdgeDefinition{
			{From: "T", To: "C"},
			{From: "C", To: "A", Label: "true"},
		},
	}
}

func chain(id string, nodes ...deskflow.NodeDefinition) *deskflow.WorkflowDefinition {
	wf := &deskflow.WorkflowDefinition{ID: id, TenantID: "t1", Version: 1, Active: true, Nodes: nodes}
	for i := 1; i < len(nodes); i++ {
		wf.Edges = append(wf.Edges, deskflow.EdgeDefinition{From: nodes[i-1].ID, To: nodes[i].ID})
	}
	return wf
}

func message(eventID string, sentiment float64) deskflow.TriggerContext {
	return deskflow.MessageEvent{
		TenantID:       "t1",
		ConversationID: "conv-1",
		MessageID:      eventID,
		Content:        "hello",
		SentimentScore: deskflow.Float(sentiment),
		ReceivedAt:     time.Now(),
	}.Trigger()
}

func visited(exec *deskflow.WorkflowExecution) map[string]deskflow.NodeStatus {
	out := map[string]deskflow.NodeStatus{}
	for _, r := range exec.NodeResults {
		out[r.NodeID] = r.Status
	}
	return out
}

func nodeResult(t *testing.T, exec *deskflow.WorkflowExecution, id string) deskflow.NodeResult {
	t.Helper()
	for _, r := range exec.NodeResults {
		if r.NodeID == id {
			return r
		}
	}
	t.Fatalf("node %s not visited", id)
	return deskflow.NodeResult{}
}

func TestExecute_NegativeSentimentEscalates(t *testing.T) {
	f := newFixture(t)
	exec, err := f.engine.Execute(context.Background(), sentimentWorkflow(), message("m1", -0.8))
	require.NoError(t, err)

	assert.Equal(t, deskflow.ExecutionCompleted, exec.Status)
	require.Len(t, exec.NodeResults, 3)
	for i, id := range []string{"T", "C", "A"} {
		assert.Equal(t, id, exec.NodeResults[i].NodeID)
		assert.Equal(t, deskflow.NodeSuccess, exec.NodeResults[i].Status)
	}
	assert.NotNil(t, exec.CompletedAt)
	assert.Empty(t, exec.Pending)

	stored, err := f.executions.Get(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, deskflow.ExecutionCompleted, stored.Status)
	assert.Len(t, stored.NodeResults, 3)
}

func TestExecute_FalseBranchWithoutDefault(t *testing.T) {
	f := newFixture(t)
	exec, err := f.engine.Execute(context.Background(), sentimentWorkflow(), message("m1", 0.2))
	require.NoError(t, err)

	assert.Equal(t, deskflow.ExecutionCompleted, exec.Status)
	assert.Equal(t, map[string]deskflow.NodeStatus{"T": deskflow.NodeSuccess, "C": deskflow.NodeSuccess}, visited(exec))
	assert.Empty(t, f.actions.Calls())
	assert.Equal(t, "false", nodeResult(t, exec, "C").Output["branch"])
}

func TestExecute_UnlabeledDefaultEdge(t *testing.T) {
	f := newFixture(t)
	wf := &deskflow.WorkflowDefinition{
		ID: "wf-branches", TenantID: "t1", Version: 1, Active: true,
		Nodes: []deskflow.NodeDefinition{
			triggerNode("T"),
			{ID: "C", Type: deskflow.NodeTypeCondition, Config: map[string]any{
				"branches": []any{
					map[string]any{"label": "refund", "condition": map[string]any{"field": "message.text", "operator": "contains", "value": "refund"}},
					map[string]any{"label": "angry", "expression": "has_sentiment && sentiment < -0.5"},
				},
			}},
			actionNode("refund", nil),
			actionNode("angry", nil),
			actionNode("fallback", nil),
		},
		Edges: []deskflow.EdgeDefinition{
			{From: "T", To: "C"},
			{From: "C", To: "refund", Label: "refund"},
			{From: "C", To: "angry", Label: "angry"},
			{From: "C", To: "fallback"},
		},
	}

	exec, err := f.engine.Execute(context.Background(), wf, message("m1", 0.1))
	require.NoError(t, err)
	assert.Equal(t, deskflow.ExecutionCompleted, exec.Status)
	assert.Equal(t, []string{"fallback"}, f.actions.Calls())

	exec, err = f.engine.Execute(context.Background(), wf, message("m2", -0.9))
	require.NoError(t, err)
	assert.Equal(t, deskflow.ExecutionCompleted, exec.Status)
	assert.Equal(t, []string{"fallback", "angry"}, f.actions.Calls())
}

func TestExecute_ActionTimeout(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	// Ignores its context: the engine must still give up at the deadline.
	f.actions.byNode["A"] = func(ctx context.Context, _ *deskflow.ActionRequest) (map[string]any, error) {
		<-release
		return nil, nil
	}
	wf := chain("wf-timeout", triggerNode("T"), actionNode("A", map[string]any{"timeout": "20ms"}), actionNode("B", nil))

	exec, err := f.engine.Execute(context.Background(), wf, message("m1", 0))
	require.NoError(t, err)

	assert.Equal(t, deskflow.ExecutionFailed, exec.Status)
	a := nodeResult(t, exec, "A")
	assert.Equal(t, deskflow.NodeFailure, a.Status)
	assert.Equal(t, "Timeout", a.Error)
	assert.False(t, a.Ignorable)
	assert.NotContains(t, visited(exec), "B")
	assert.Equal(t, "A", exec.Summary().FailedNodeID)
	assert.Equal(t, "Timeout", exec.Summary().FailureReason)
}

func TestExecute_ActionTimeoutRespectingContext(t *testing.T) {
	f := newFixture(t)
	f.actions.byNode["A"] = func(ctx context.Context, _ *deskflow.ActionRequest) (map[string]any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	wf := chain("wf-timeout", triggerNode("T"), actionNode("A", map[string]any{"timeout": "10ms"}))

	exec, err := f.engine.Execute(context.Background(), wf, message("m1", 0))
	require.NoError(t, err)
	assert.Equal(t, deskflow.ExecutionFailed, exec.Status)
	assert.Equal(t, "Timeout", nodeResult(t, exec, "A").Error)
}

func TestExecute_OnErrorEdge(t *testing.T) {
	f := newFixture(t)
	f.actions.byNode["A"] = func(context.Context, *deskflow.ActionRequest) (map[string]any, error) {
		return nil, errors.New("crm unavailable")
	}
	wf := &deskflow.WorkflowDefinition{
		ID: "wf-onerror", TenantID: "t1", Version: 1, Active: true,
		Nodes: []deskflow.NodeDefinition{triggerNode("T"), actionNode("A", nil), actionNode("ok", nil), actionNode("recover", nil)},
		Edges: []deskflow.EdgeDefinition{
			{From: "T", To: "A"},
			{From: "A", To: "ok"},
			{From: "A", To: "recover", Label: deskflow.LabelOnError},
		},
	}

	exec, err := f.engine.Execute(context.Background(), wf, message("m1", 0))
	require.NoError(t, err)

	assert.Equal(t, deskflow.ExecutionCompleted, exec.Status)
	a := nodeResult(t, exec, "A")
	assert.Equal(t, deskflow.NodeFailure, a.Status)
	assert.True(t, a.Ignorable)
	assert.Equal(t, "crm unavailable", a.Error)
	assert.Equal(t, deskflow.NodeSuccess, nodeResult(t, exec, "recover").Status)
	assert.NotContains(t, visited(exec), "ok")
}

func TestExecute_ContinueOnError(t *testing.T) {
	f := newFixture(t)
	f.actions.byNode["A"] = func(context.Context, *deskflow.ActionRequest) (map[string]any, error) {
		return nil, errors.New("boom")
	}
	wf := chain("wf-continue", triggerNode("T"), actionNode("A", map[string]any{"continue_on_error": true}), actionNode("B", nil))

	exec, err := f.engine.Execute(context.Background(), wf, message("m1", 0))
	require.NoError(t, err)

	assert.Equal(t, deskflow.ExecutionCompleted, exec.Status)
	assert.True(t, nodeResult(t, exec, "A").Ignorable)
	assert.Equal(t, deskflow.NodeSuccess, nodeResult(t, exec, "B").Status)
}

func TestExecute_UnhandledFailureStopsRun(t *testing.T) {
	f := newFixture(t)
	f.actions.byNode["A"] = func(context.Context, *deskflow.ActionRequest) (map[string]any, error) {
		return nil, errors.New("boom")
	}
	wf := chain("wf-fail", triggerNode("T"), actionNode("A", nil), actionNode("B", nil))

	exec, err := f.engine.Execute(context.Background(), wf, message("m1", 0))
	require.NoError(t, err)

	assert.Equal(t, deskflow.ExecutionFailed, exec.Status)
	assert.Contains(t, exec.Error, "node A failed")
	assert.Equal(t, []string{"A"}, f.actions.Calls())
}

func TestExecute_DuplicateTriggerEvent(t *testing.T) {
	f := newFixture(t)
	duplicates := 0
	f.engine.hooks.OnDuplicateTrigger = func() { duplicates++ }
	wf := sentimentWorkflow()

	first, err := f.engine.Execute(context.Background(), wf, message("m1", -0.8))
	require.NoError(t, err)
	second, err := f.engine.Execute(context.Background(), wf, message("m1", -0.8))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, []string{"A"}, f.actions.Calls())
	assert.Equal(t, 1, duplicates)

	_, total, err := f.executions.List(context.Background(), repository.ExecutionQuery{WorkflowID: wf.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestExecute_ConcurrentDuplicatesRunOnce(t *testing.T) {
	f := newFixture(t)
	wf := sentimentWorkflow()

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			exec, err := f.engine.Execute(context.Background(), wf, message("m1", -0.8))
			if err == nil {
				ids[i] = exec.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Len(t, f.actions.Calls(), 1)
}

func TestExecute_RejectsInvalidGraph(t *testing.T) {
	f := newFixture(t)
	wf := chain("wf-bad", triggerNode("T"), actionNode("A", nil))
	wf.Edges = append(wf.Edges, deskflow.EdgeDefinition{From: "A", To: "T"})

	_, err := f.engine.Execute(context.Background(), wf, message("m1", 0))
	var verr *deskflow.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Empty(t, f.actions.Calls())
}

func TestDelay_SuspendAndResume(t *testing.T) {
	f := newFixture(t)
	wf := f.store(t, chain("wf-delay", triggerNode("T"), delayNode("D", "5m"), actionNode("A", nil)))
	ctx := context.Background()

	exec, err := f.engine.Execute(ctx, wf, message("m1", 0))
	require.NoError(t, err)
	assert.Equal(t, deskflow.ExecutionRunning, exec.Status)
	assert.True(t, exec.Suspended())
	assert.Equal(t, "D", exec.WaitingOn)
	assert.Equal(t, []string{"D"}, exec.Pending)
	assert.Empty(t, f.actions.Calls())
	assert.Equal(t, 0, f.engine.Registry().Active())

	due, err := f.wakeups.ClaimDue(ctx, time.Now().Add(10*time.Minute), time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, exec.ID, due[0].ExecutionID)
	assert.Equal(t, "D", due[0].NodeID)

	resumed, err := f.engine.Resume(ctx, exec.ID, "D")
	require.NoError(t, err)
	assert.Equal(t, deskflow.ExecutionCompleted, resumed.Status)
	assert.Equal(t, []string{"T", "D", "A"}, []string{resumed.NodeResults[0].NodeID, resumed.NodeResults[1].NodeID, resumed.NodeResults[2].NodeID})

	// Redelivery is harmless.
	again, err := f.engine.Resume(ctx, exec.ID, "D")
	require.NoError(t, err)
	assert.Equal(t, deskflow.ExecutionCompleted, again.Status)
	assert.Equal(t, []string{"A"}, f.actions.Calls())
}

func TestDelay_StaleWakeupIgnored(t *testing.T) {
	f := newFixture(t)
	wf := f.store(t, chain("wf-delay", triggerNode("T"), delayNode("D", "1m"), actionNode("A", nil)))
	exec, err := f.engine.Execute(context.Background(), wf, message("m1", 0))
	require.NoError(t, err)

	got, err := f.engine.Resume(context.Background(), exec.ID, "A")
	require.NoError(t, err)
	assert.Equal(t, deskflow.ExecutionRunning, got.Status)
	assert.Equal(t, "D", got.WaitingOn)
	assert.Empty(t, f.actions.Calls())
}

func TestDelay_WorkflowChangedWhileSuspended(t *testing.T) {
	f := newFixture(t)
	wf := f.store(t, chain("wf-delay", triggerNode("T"), delayNode("D", "1m"), actionNode("A", nil)))
	exec, err := f.engine.Execute(context.Background(), wf, message("m1", 0))
	require.NoError(t, err)

	changed := *wf
	changed.Version = 2
	require.NoError(t, f.workflows.Replace(context.Background(), &changed))

	got, err := f.engine.Resume(context.Background(), exec.ID, "D")
	require.NoError(t, err)
	assert.Equal(t, deskflow.ExecutionFailed, got.Status)
	assert.Contains(t, got.Error, "workflow changed")
	assert.Empty(t, f.actions.Calls())
}

func TestCancel_SuspendedExecution(t *testing.T) {
	f := newFixture(t)
	wf := f.store(t, chain("wf-delay", triggerNode("T"), delayNode("D", "1m"), actionNode("A", nil)))
	ctx := context.Background()
	exec, err := f.engine.Execute(ctx, wf, message("m1", 0))
	require.NoError(t, err)

	cancelled, err := f.engine.Cancel(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, deskflow.ExecutionCancelled, cancelled.Status)

	due, err := f.wakeups.ClaimDue(ctx, time.Now().Add(time.Hour), time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	got, err := f.engine.Resume(ctx, exec.ID, "D")
	require.NoError(t, err)
	assert.Equal(t, deskflow.ExecutionCancelled, got.Status)
	assert.Empty(t, f.actions.Calls())
}

func TestCancel_BetweenNodes(t *testing.T) {
	f := newFixture(t)
	f.actions.byNode["A"] = func(ctx context.Context, req *deskflow.ActionRequest) (map[string]any, error) {
		_, err := f.engine.Cancel(ctx, req.ExecutionID)
		return nil, err
	}
	wf := chain("wf-cancel", triggerNode("T"), actionNode("A", nil), actionNode("B", nil))

	exec, err := f.engine.Execute(context.Background(), wf, message("m1", 0))
	require.NoError(t, err)

	assert.Equal(t, deskflow.ExecutionCancelled, exec.Status)
	assert.Equal(t, deskflow.NodeSuccess, nodeResult(t, exec, "A").Status)
	assert.NotContains(t, visited(exec), "B")

	stored, err := f.executions.Get(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, deskflow.ExecutionCancelled, stored.Status)
}

func TestCancel_TerminalIsNoop(t *testing.T) {
	f := newFixture(t)
	exec, err := f.engine.Execute(context.Background(), sentimentWorkflow(), message("m1", -0.8))
	require.NoError(t, err)

	got, err := f.engine.Cancel(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, deskflow.ExecutionCompleted, got.Status)
}

func TestCancelWorkflow(t *testing.T) {
	f := newFixture(t)
	wf := f.store(t, chain("wf-delay", triggerNode("T"), delayNode("D", "1m"), actionNode("A", nil)))
	for _, id := range []string{"m1", "m2", "m3"} {
		_, err := f.engine.Execute(context.Background(), wf, message(id, 0))
		require.NoError(t, err)
	}

	n, err := f.engine.CancelWorkflow(context.Background(), "t1", wf.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	list, _, err := f.executions.List(context.Background(), repository.ExecutionQuery{Status: deskflow.ExecutionCancelled})
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestExecute_PublishesLifecycleEvents(t *testing.T) {
	f := newFixture(t)
	var types []EventType
	f.bus.Subscribe(func(e Event) { types = append(types, e.Type) })

	_, err := f.engine.Execute(context.Background(), sentimentWorkflow(), message("m1", -0.8))
	require.NoError(t, err)

	assert.Equal(t, []EventType{
		EventExecutionStarted,
		EventNodeCompleted,
		EventNodeCompleted,
		EventNodeCompleted,
		EventExecutionFinished,
	}, types)
}

func TestExecute_HooksObserveOutcome(t *testing.T) {
	f := newFixture(t)
	var statuses []string
	nodes := 0
	f.engine.hooks = Hooks{
		OnExecutionFinished: func(status string, _ float64) { statuses = append(statuses, status) },
		OnNodeFinished:      func(string, string, float64) { nodes++ },
	}

	_, err := f.engine.Execute(context.Background(), sentimentWorkflow(), message("m1", -0.8))
	require.NoError(t, err)
	assert.Equal(t, []string{"COMPLETED"}, statuses)
	assert.Equal(t, 3, nodes)
}

func TestAbandon_FailsOrphanedExecution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orphan := &deskflow.WorkflowExecution{
		ID: "exec-orphan", TenantID: "t1", WorkflowID: "wf-x", TriggerEventID: "m1",
		Status: deskflow.ExecutionRunning, StartedAt: time.Now().Add(-time.Minute), Pending: []string{"A"},
	}
	_, created, err := f.executions.CreateIfAbsent(ctx, orphan)
	require.NoError(t, err)
	require.True(t, created)

	got, err := f.engine.Abandon(ctx, "exec-orphan", "interrupted")
	require.NoError(t, err)
	assert.Equal(t, deskflow.ExecutionFailed, got.Status)
	assert.Equal(t, "interrupted", got.Error)
	assert.Empty(t, got.Pending)

	again, err := f.engine.Abandon(ctx, "exec-orphan", "interrupted")
	require.NoError(t, err)
	assert.Equal(t, deskflow.ExecutionFailed, again.Status)
}

func TestAbandon_RefusesLocalExecution(t *testing.T) {
	f := newFixture(t)
	f.engine.Registry().Register("exec-live", "wf-x")
	defer f.engine.Registry().Unregister("exec-live")

	_, err := f.engine.Abandon(context.Background(), "exec-live", "interrupted")
	assert.ErrorContains(t, err, "running in this process")
}
