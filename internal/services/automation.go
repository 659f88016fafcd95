package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/soochol/deskflow/internal/condition"
	"github.com/soochol/deskflow/internal/dag"
	"github.com/soochol/deskflow/internal/deskflow"
	"github.com/soochol/deskflow/internal/deskflow/ports"
	"github.com/soochol/deskflow/internal/engine"
	"github.com/soochol/deskflow/internal/escalation"
	"github.com/soochol/deskflow/internal/repository"
	"github.com/soochol/deskflow/internal/triage"
)

// AutomationService is the single entry point for inbound messages. It
// records the message, then runs escalation and every matching workflow
// in parallel against one snapshot, and finally rescores the conversation.
type AutomationService struct {
	conversations repository.ConversationRepository
	workflows     repository.WorkflowRepository
	engine        *engine.Engine
	escalation    *escalation.Service
	triage        *triage.Engine
	limiter       ports.ConcurrencyControl
	now           func() time.Time
}

// AutomationOption configures an AutomationService.
type AutomationOption func(*AutomationService)

// WithLimiter bounds concurrent workflow walks.
func WithLimiter(l ports.ConcurrencyControl) AutomationOption {
	return func(s *AutomationService) { s.limiter = l }
}

func WithAutomationClock(now func() time.Time) AutomationOption {
	return func(s *AutomationService) { s.now = now }
}

func NewAutomationService(
	conversations repository.ConversationRepository,
	workflows repository.WorkflowRepository,
	eng *engine.Engine,
	esc *escalation.Service,
	tri *triage.Engine,
	opts ...AutomationOption,
) *AutomationService {
	s := &AutomationService{
		conversations: conversations,
		workflows:     workflows,
		engine:        eng,
		escalation:    esc,
		triage:        tri,
		now:           time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// EvaluateMessage handles one inbound message. Redelivering the same
// message id is safe: the message is stored once, escalation dedupes per
// message and each workflow runs at most once per trigger event.
func (s *AutomationService) EvaluateMessage(ctx context.Context, ev deskflow.MessageEvent) (*deskflow.Evaluation, error) {
	if err := validateEvent(ev); err != nil {
		return nil, err
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = s.now()
	}
	if ev.Kind == "" {
		ev.Kind = deskflow.EventMessageReceived
	}

	created, err := s.ensureConversation(ctx, ev)
	if err != nil {
		return nil, err
	}
	if err := s.record(ctx, ev); err != nil {
		return nil, err
	}

	tc := ev.Trigger()
	snap, err := s.engine.Snapshot(ctx, tc)
	if err != nil {
		return nil, err
	}
	graphs, err := s.activeGraphs(ctx, ev.TenantID)
	if err != nil {
		return nil, err
	}

	out := &deskflow.Evaluation{
		TriggerResults:     []deskflow.TriggerResult{},
		TriageResults:      []deskflow.TriageResult{},
		WorkflowExecutions: []deskflow.ExecutionSummary{},
	}

	var (
		outcome  *escalation.Outcome
		runs     []deskflow.ExecutionSummary
		kindRuns = s.launches(graphs, tc, snap)
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		o, err := s.escalation.Evaluate(gctx, ev, snap)
		if err != nil {
			return fmt.Errorf("escalation: %w", err)
		}
		outcome = o
		return nil
	})
	if created {
		createdTC := tc
		createdTC.EventID = "created:" + ev.ConversationID
		createdTC.Kind = deskflow.EventConversationCreated
		kindRuns = append(kindRuns, s.launches(graphs, createdTC, snap)...)
	}
	g.Go(func() error {
		r, err := s.runAll(gctx, kindRuns)
		runs = r
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out.Escalated = outcome.Escalated
	out.Conflict = outcome.Conflict
	out.TriggerResults = append(out.TriggerResults, outcome.Results...)

	if outcome.Escalated {
		statusTC := tc
		statusTC.EventID = ev.MessageID + ":status"
		statusTC.Kind = deskflow.EventStatusChanged
		statusSnap, err := s.engine.Snapshot(ctx, statusTC)
		if err != nil {
			return nil, err
		}
		more, err := s.runAll(ctx, s.launches(graphs, statusTC, statusSnap))
		if err != nil {
			return nil, err
		}
		runs = append(runs, more...)
	}
	sortSummaries(runs)
	out.WorkflowExecutions = append(out.WorkflowExecutions, runs...)

	// Rescore after every transition this message caused.
	fresh, err := s.engine.Snapshot(ctx, tc)
	if err != nil {
		return nil, err
	}
	tri, err := s.triage.Evaluate(ctx, ev.TenantID, fresh)
	if err != nil {
		return nil, fmt.Errorf("triage: %w", err)
	}
	out.TriageResults = append(out.TriageResults, tri.Results...)
	out.Score = tri.Score
	return out, nil
}

// Emit runs the workflows bound to an arbitrary event, e.g. a status
// change made by an agent outside any message.
func (s *AutomationService) Emit(ctx context.Context, tc deskflow.TriggerContext) ([]deskflow.ExecutionSummary, error) {
	if tc.TenantID == "" {
		return nil, deskflow.Validation([]deskflow.Problem{{Path: "tenant_id", Message: "is required"}})
	}
	if !tc.Kind.Valid() {
		return nil, deskflow.Validation([]deskflow.Problem{{Path: "kind", Message: fmt.Sprintf("unknown event kind %q", tc.Kind)}})
	}
	if tc.OccurredAt.IsZero() {
		tc.OccurredAt = s.now()
	}
	snap, err := s.engine.Snapshot(ctx, tc)
	if err != nil {
		return nil, err
	}
	graphs, err := s.activeGraphs(ctx, tc.TenantID)
	if err != nil {
		return nil, err
	}
	runs, err := s.runAll(ctx, s.launches(graphs, tc, snap))
	if err != nil {
		return nil, err
	}
	sortSummaries(runs)
	return runs, nil
}

// launch is one workflow to run for one event.
type launch struct {
	graph *dag.DAG
	tc    deskflow.TriggerContext
	snap  *condition.Context
}

func (s *AutomationService) launches(graphs []*dag.DAG, tc deskflow.TriggerContext, snap *condition.Context) []launch {
	var out []launch
	for _, d := range graphs {
		if d.RootNode().Accepts(tc.Kind, snap) {
			out = append(out, launch{graph: d, tc: tc, snap: snap})
		}
	}
	return out
}

func (s *AutomationService) runAll(ctx context.Context, ls []launch) ([]deskflow.ExecutionSummary, error) {
	var mu sync.Mutex
	var runs []deskflow.ExecutionSummary
	g, gctx := errgroup.WithContext(ctx)
	for _, l := range ls {
		g.Go(func() error {
			sum, err := s.run(gctx, l)
			if err != nil {
				return err
			}
			mu.Lock()
			runs = append(runs, sum)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return runs, nil
}

// run walks one workflow under the concurrency limiter. Only store
// failures are returned; a failed run is reported in its summary.
func (s *AutomationService) run(ctx context.Context, l launch) (deskflow.ExecutionSummary, error) {
	wfID := l.graph.Definition().ID
	if s.limiter != nil {
		if err := s.limiter.Acquire(ctx, wfID); err != nil {
			return deskflow.ExecutionSummary{}, fmt.Errorf("workflow %s: %w", wfID, err)
		}
		defer s.limiter.Release(wfID)
	}
	exec, err := s.engine.ExecuteGraph(ctx, l.graph, l.tc, l.snap)
	if err != nil {
		if deskflow.IsStoreError(err) || exec == nil {
			return deskflow.ExecutionSummary{}, fmt.Errorf("workflow %s: %w", wfID, err)
		}
		slog.Warn("workflow run ended with error", "workflow", wfID, "execution", exec.ID, "err", err)
	}
	return exec.Summary(), nil
}

// activeGraphs builds every active workflow of the tenant. Definitions are
// validated on write, so a failure here means the stored row is corrupt;
// it is logged and skipped.
func (s *AutomationService) activeGraphs(ctx context.Context, tenantID string) ([]*dag.DAG, error) {
	wfs, err := s.workflows.List(ctx, tenantID)
	if err != nil {
		return nil, deskflow.WrapStore("list workflows", err)
	}
	var graphs []*dag.DAG
	for _, wf := range wfs {
		if !wf.Active {
			continue
		}
		d, err := dag.Build(wf)
		if err != nil {
			slog.Warn("skipping invalid workflow", "workflow", wf.ID, "err", err)
			continue
		}
		graphs = append(graphs, d)
	}
	return graphs, nil
}

// ensureConversation creates the conversation on its first message. It
// reports whether it did.
func (s *AutomationService) ensureConversation(ctx context.Context, ev deskflow.MessageEvent) (bool, error) {
	_, err := s.conversations.Get(ctx, ev.TenantID, ev.ConversationID)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, deskflow.ErrNotFound) {
		return false, deskflow.WrapStore("get conversation", err)
	}
	conv := &deskflow.Conversation{
		ID:        ev.ConversationID,
		TenantID:  ev.TenantID,
		Status:    deskflow.ConversationAI,
		CreatedAt: ev.ReceivedAt,
		UpdatedAt: ev.ReceivedAt,
	}
	err = s.conversations.Create(ctx, conv)
	if errors.Is(err, deskflow.ErrDuplicate) {
		return false, nil
	}
	if err != nil {
		return false, deskflow.WrapStore("create conversation", err)
	}
	return true, nil
}

// record appends the message to history. A repeated message id is a
// redelivery and is not an error.
func (s *AutomationService) record(ctx context.Context, ev deskflow.MessageEvent) error {
	role := ev.Role
	if role == "" {
		role = deskflow.RoleCustomer
	}
	err := s.conversations.AppendMessage(ctx, &deskflow.Message{
		ID:             ev.MessageID,
		TenantID:       ev.TenantID,
		ConversationID: ev.ConversationID,
		Role:           role,
		Content:        ev.Content,
		Sentiment:      ev.SentimentScore,
		Metadata:       ev.Metadata,
		CreatedAt:      ev.ReceivedAt,
	})
	if errors.Is(err, deskflow.ErrDuplicate) {
		slog.Info("message redelivered", "conversation", ev.ConversationID, "message", ev.MessageID)
		return nil
	}
	return deskflow.WrapStore("append message", err)
}

func validateEvent(ev deskflow.MessageEvent) error {
	var problems []deskflow.Problem
	if ev.TenantID == "" {
		problems = append(problems, deskflow.Problem{Path: "tenant_id", Message: "is required"})
	}
	if ev.ConversationID == "" {
		problems = append(problems, deskflow.Problem{Path: "conversation_id", Message: "is required"})
	}
	if ev.MessageID == "" {
		problems = append(problems, deskflow.Problem{Path: "message_id", Message: "is required"})
	}
	if ev.Kind != "" && ev.Kind != deskflow.EventMessageReceived {
		problems = append(problems, deskflow.Problem{Path: "kind", Message: "messages must be message.received events"})
	}
	if s := ev.SentimentScore; s != nil && (*s < -1 || *s > 1) {
		problems = append(problems, deskflow.Problem{Path: "sentiment_score", Message: "must be within [-1, 1]"})
	}
	return deskflow.Validation(problems)
}

func sortSummaries(runs []deskflow.ExecutionSummary) {
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].WorkflowID < runs[j].WorkflowID })
}
