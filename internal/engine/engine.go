// Package engine walks workflow graphs for trigger events and keeps the
// persisted execution record in step with the walk.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/soochol/deskflow/internal/condition"
	"github.com/soochol/deskflow/internal/dag"
	"github.com/soochol/deskflow/internal/deskflow"
	"github.com/soochol/deskflow/internal/deskflow/ports"
	"github.com/soochol/deskflow/internal/repository"
)

var tracer = otel.Tracer("github.com/soochol/deskflow/internal/engine")

// DefaultActionTimeout bounds an action invocation whose node sets none.
const DefaultActionTimeout = 30 * time.Second

const defaultHistoryLimit = 20

// errStopped means another writer already finished the execution.
var errStopped = errors.New("execution finished elsewhere")

// Engine executes workflow definitions. It holds no per-execution state
// between calls; everything needed to continue a run lives in the
// execution record.
type Engine struct {
	executions    repository.ExecutionRepository
	workflows     repository.WorkflowRepository
	wakeups       repository.WakeupRepository
	conversations repository.ConversationRepository
	actions       ports.ActionInvoker

	registry      *Registry
	bus           *EventBus
	hooks         Hooks
	actionTimeout time.Duration
	historyLimit  int
	now           func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithEventBus publishes lifecycle events on b.
func WithEventBus(b *EventBus) Option { return func(e *Engine) { e.bus = b } }

// WithRegistry shares a registry, e.g. with orphan recovery.
func WithRegistry(r *Registry) Option { return func(e *Engine) { e.registry = r } }

// WithHooks installs metric hooks.
func WithHooks(h Hooks) Option { return func(e *Engine) { e.hooks = h } }

// WithActionTimeout sets the default action timeout.
func WithActionTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.actionTimeout = d
		}
	}
}

// WithConversations lets the engine load conversation state and the last
// historyLimit messages for condition evaluation.
func WithConversations(r repository.ConversationRepository, historyLimit int) Option {
	return func(e *Engine) {
		e.conversations = r
		if historyLimit > 0 {
			e.historyLimit = historyLimit
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// New creates an Engine.
func New(
	executions repository.ExecutionRepository,
	workflows repository.WorkflowRepository,
	wakeups repository.WakeupRepository,
	actions ports.ActionInvoker,
	opts ...Option,
) *Engine {
	e := &Engine{
		executions:    executions,
		workflows:     workflows,
		wakeups:       wakeups,
		actions:       actions,
		registry:      NewRegistry(),
		actionTimeout: DefaultActionTimeout,
		historyLimit:  defaultHistoryLimit,
		now:           time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Registry returns the in-process execution registry.
func (e *Engine) Registry() *Registry { return e.registry }

// Execute validates wf and runs it for the trigger event.
func (e *Engine) Execute(ctx context.Context, wf *deskflow.WorkflowDefinition, tc deskflow.TriggerContext) (*deskflow.WorkflowExecution, error) {
	d, err := dag.Build(wf)
	if err != nil {
		return nil, err
	}
	snap, err := e.Snapshot(ctx, tc)
	if err != nil {
		return nil, err
	}
	return e.ExecuteGraph(ctx, d, tc, snap)
}

// Snapshot loads the condition context for tc: the conversation and its
// recent history when a conversation store is configured.
func (e *Engine) Snapshot(ctx context.Context, tc deskflow.TriggerContext) (*condition.Context, error) {
	if e.conversations == nil || tc.ConversationID == "" {
		return condition.FromTrigger(tc, nil, nil, e.now()), nil
	}
	conv, err := e.conversations.Get(ctx, tc.TenantID, tc.ConversationID)
	if errors.Is(err, deskflow.ErrNotFound) {
		return condition.FromTrigger(tc, nil, nil, e.now()), nil
	}
	if err != nil {
		return nil, deskflow.WrapStore("get conversation", err)
	}
	history, err := e.conversations.RecentMessages(ctx, tc.TenantID, tc.ConversationID, e.historyLimit)
	if err != nil {
		return nil, deskflow.WrapStore("recent messages", err)
	}
	return condition.FromTrigger(tc, conv, history, e.now()), nil
}

// ExecuteGraph runs a prebuilt graph with a preloaded condition context.
// Creating the RUNNING record is the uniqueness point: a second call for
// the same (workflow, trigger event) returns the existing execution and
// runs nothing.
func (e *Engine) ExecuteGraph(ctx context.Context, d *dag.DAG, tc deskflow.TriggerContext, snap *condition.Context) (*deskflow.WorkflowExecution, error) {
	wf := d.Definition()
	if tc.EventID == "" {
		tc.EventID = uuid.NewString()
	}
	if tc.TenantID == "" {
		tc.TenantID = wf.TenantID
	}

	ctx, span := tracer.Start(ctx, "engine.Execute", trace.WithAttributes(
		attribute.String("workflow.id", wf.ID),
		attribute.String("trigger.event_id", tc.EventID),
	))
	defer span.End()

	exec := &deskflow.WorkflowExecution{
		ID:              deskflow.GenerateID("exec"),
		TenantID:        wf.TenantID,
		WorkflowID:      wf.ID,
		WorkflowVersion: wf.Version,
		TriggerEventID:  tc.EventID,
		ConversationID:  tc.ConversationID,
		Status:          deskflow.ExecutionRunning,
		StartedAt:       e.now(),
		Trigger:         tc,
		Pending:         []string{d.Root()},
	}
	stored, created, err := e.executions.CreateIfAbsent(ctx, exec)
	if err != nil {
		recordError(span, err)
		return nil, deskflow.WrapStore("create execution", err)
	}
	span.SetAttributes(attribute.String("execution.id", stored.ID))
	if !created {
		slog.Info("execution already exists for trigger event",
			"workflow", wf.ID, "event", tc.EventID, "execution", stored.ID, "status", stored.Status)
		if e.hooks.OnDuplicateTrigger != nil {
			e.hooks.OnDuplicateTrigger()
		}
		return stored, nil
	}

	e.publish(stored, "", EventExecutionStarted, map[string]any{"event_id": tc.EventID})
	if snap == nil {
		snap = condition.FromTrigger(tc, nil, nil, e.now())
	}
	if err := e.walk(ctx, d, stored, snap); err != nil {
		recordError(span, err)
		return stored, err
	}
	return stored, nil
}

// Resume continues an execution suspended on the delay node nodeID. Stale
// or repeated wakeups are ignored, so delivery may be at-least-once.
func (e *Engine) Resume(ctx context.Context, executionID, nodeID string) (*deskflow.WorkflowExecution, error) {
	ctx, span := tracer.Start(ctx, "engine.Resume", trace.WithAttributes(
		attribute.String("execution.id", executionID),
		attribute.String("node.id", nodeID),
	))
	defer span.End()

	exec, err := e.executions.Get(ctx, executionID)
	if err != nil {
		recordError(span, err)
		return nil, deskflow.WrapStore("get execution", err)
	}
	if exec.Status != deskflow.ExecutionRunning || exec.WaitingOn != nodeID {
		slog.Debug("ignoring stale wakeup", "execution", executionID, "node", nodeID, "status", exec.Status, "waiting_on", exec.WaitingOn)
		return exec, nil
	}
	if exec.CancelRequested {
		return exec, e.finish(ctx, exec, deskflow.ExecutionCancelled, "cancelled")
	}

	wf, err := e.workflows.Get(ctx, exec.TenantID, exec.WorkflowID)
	if errors.Is(err, deskflow.ErrNotFound) {
		return exec, e.finish(ctx, exec, deskflow.ExecutionFailed, "workflow deleted while suspended")
	}
	if err != nil {
		recordError(span, err)
		return exec, deskflow.WrapStore("get workflow", err)
	}
	if wf.Version != exec.WorkflowVersion {
		return exec, e.finish(ctx, exec, deskflow.ExecutionFailed,
			fmt.Sprintf("workflow changed while suspended (version %d, now %d)", exec.WorkflowVersion, wf.Version))
	}
	if !wf.Active {
		return exec, e.finish(ctx, exec, deskflow.ExecutionCancelled, "workflow deactivated")
	}
	d, err := dag.Build(wf)
	if err != nil {
		return exec, e.finish(ctx, exec, deskflow.ExecutionFailed, err.Error())
	}
	node := d.Node(nodeID)
	if node == nil || node.Delay == nil {
		return exec, e.finish(ctx, exec, deskflow.ExecutionFailed, fmt.Sprintf("node %s is not a delay node", nodeID))
	}

	snap, err := e.Snapshot(ctx, exec.Trigger)
	if err != nil {
		recordError(span, err)
		return exec, err
	}

	now := e.now()
	started := now
	if exec.ResumeAt != nil {
		started = exec.ResumeAt.Add(-node.Delay.Duration.Std())
	}
	exec.NodeResults = append(exec.NodeResults, deskflow.NodeResult{
		NodeID:      nodeID,
		Type:        deskflow.NodeTypeDelay,
		Status:      deskflow.NodeSuccess,
		Output:      map[string]any{"delayed": node.Delay.Duration.Std().String()},
		StartedAt:   started,
		CompletedAt: now,
	})
	active, visited := cursor(exec)
	for _, id := range targets(d.OutEdges(nodeID), "") {
		active[id] = true
	}
	exec.WaitingOn = ""
	exec.ResumeAt = nil
	exec.Pending = pendingList(d, active, visited)

	// The compare-and-swap elects a single resumer.
	if err := e.executions.Update(ctx, exec); err != nil {
		if errors.Is(err, deskflow.ErrConcurrencyConflict) {
			cur, gerr := e.executions.Get(ctx, executionID)
			if gerr != nil {
				return nil, deskflow.WrapStore("get execution", gerr)
			}
			return cur, nil
		}
		recordError(span, err)
		return exec, deskflow.WrapStore("update execution", err)
	}
	if e.hooks.OnNodeFinished != nil {
		e.hooks.OnNodeFinished(string(deskflow.NodeTypeDelay), string(deskflow.NodeSuccess), now.Sub(started).Seconds())
	}
	e.publish(exec, nodeID, EventExecutionResumed, nil)

	if err := e.walk(ctx, d, exec, snap); err != nil {
		recordError(span, err)
		return exec, err
	}
	return exec, nil
}

// Cancel requests cancellation. A suspended execution is cancelled
// immediately; a running one stops before its next node. Side effects of
// nodes already visited are not rolled back.
func (e *Engine) Cancel(ctx context.Context, executionID string) (*deskflow.WorkflowExecution, error) {
	exec, err := e.executions.Get(ctx, executionID)
	if err != nil {
		return nil, deskflow.WrapStore("get execution", err)
	}
	if exec.Status.Terminal() {
		return exec, nil
	}

	h, local := e.registry.Get(executionID)
	if local {
		h.Cancel()
	}

	for attempt := 0; attempt < 3; attempt++ {
		if exec.Suspended() {
			waiting := exec.WaitingOn
			err = e.finish(ctx, exec, deskflow.ExecutionCancelled, "cancelled")
			if err == nil {
				if cerr := e.wakeups.Complete(ctx, exec.ID, waiting); cerr != nil {
					slog.Warn("failed to drop wakeup of cancelled execution", "execution", exec.ID, "err", cerr)
				}
				return exec, nil
			}
		} else {
			exec.CancelRequested = true
			err = e.executions.Update(ctx, exec)
			if err == nil {
				return exec, nil
			}
		}
		if !errors.Is(err, deskflow.ErrConcurrencyConflict) {
			return exec, deskflow.WrapStore("cancel execution", err)
		}
		if exec, err = e.executions.Get(ctx, executionID); err != nil {
			return nil, deskflow.WrapStore("get execution", err)
		}
		if exec.Status.Terminal() || exec.CancelRequested {
			return exec, nil
		}
	}
	if local {
		return exec, nil
	}
	return exec, fmt.Errorf("cancel execution %s: %w", executionID, deskflow.ErrConcurrencyConflict)
}

// CancelWorkflow cancels every running execution of a workflow, e.g. when
// it is deactivated. It returns how many executions were asked to stop.
func (e *Engine) CancelWorkflow(ctx context.Context, tenantID, workflowID string) (int, error) {
	running, _, err := e.executions.List(ctx, repository.ExecutionQuery{
		TenantID:   tenantID,
		WorkflowID: workflowID,
		Status:     deskflow.ExecutionRunning,
	})
	if err != nil {
		return 0, deskflow.WrapStore("list executions", err)
	}
	n := 0
	for _, exec := range running {
		if _, err := e.Cancel(ctx, exec.ID); err != nil {
			slog.Warn("cancel execution failed", "execution", exec.ID, "err", err)
			continue
		}
		n++
	}
	return n, nil
}

// Abandon fails a RUNNING execution that no process is walking any more,
// e.g. one interrupted by a restart. Executions walked by this process and
// terminal ones are left alone.
func (e *Engine) Abandon(ctx context.Context, executionID, reason string) (*deskflow.WorkflowExecution, error) {
	if _, local := e.registry.Get(executionID); local {
		return nil, fmt.Errorf("execution %s is running in this process", executionID)
	}
	exec, err := e.executions.Get(ctx, executionID)
	if err != nil {
		return nil, deskflow.WrapStore("get execution", err)
	}
	if exec.Status.Terminal() {
		return exec, nil
	}
	status := deskflow.ExecutionFailed
	if exec.CancelRequested {
		status = deskflow.ExecutionCancelled
	}
	return exec, e.finish(ctx, exec, status, reason)
}

// walk visits activated nodes in topological order until the graph is
// exhausted, a node fails the run, the run is cancelled or a delay node
// suspends it.
func (e *Engine) walk(ctx context.Context, d *dag.DAG, exec *deskflow.WorkflowExecution, snap *condition.Context) error {
	h := e.registry.Register(exec.ID, exec.WorkflowID)
	defer e.registry.Unregister(exec.ID)

	active, visited := cursor(exec)
	for _, id := range d.TopologicalOrder() {
		if !active[id] || visited[id] {
			continue
		}
		if h.Cancelled() || exec.CancelRequested {
			return e.finish(ctx, exec, deskflow.ExecutionCancelled, "cancelled")
		}
		if err := ctx.Err(); err != nil {
			return e.finish(ctx, exec, deskflow.ExecutionFailed, "interrupted: "+err.Error())
		}

		node := d.Node(id)
		if node.Delay != nil {
			return e.suspend(ctx, d, exec, node, active, visited)
		}

		res, next, fatal := e.visit(ctx, d, exec, node, snap)
		visited[id] = true
		for _, n := range next {
			active[n] = true
		}
		exec.NodeResults = append(exec.NodeResults, res)
		exec.Pending = pendingList(d, active, visited)
		e.nodeFinished(exec, res)

		if fatal != "" {
			return e.finish(ctx, exec, deskflow.ExecutionFailed, fatal)
		}
		if err := e.save(ctx, exec); err != nil {
			if errors.Is(err, errStopped) {
				return nil
			}
			return err
		}
	}

	status := deskflow.ExecutionCompleted
	for _, r := range exec.NodeResults {
		if r.Status == deskflow.NodeFailure && !r.Ignorable {
			status = deskflow.ExecutionFailed
		}
	}
	return e.finish(ctx, exec, status, "")
}

// visit runs one trigger, condition or action node and returns its
// result, the nodes it activates and, when the run must fail, a reason.
func (e *Engine) visit(ctx context.Context, d *dag.DAG, exec *deskflow.WorkflowExecution, node *dag.Node, snap *condition.Context) (deskflow.NodeResult, []string, string) {
	res := deskflow.NodeResult{
		NodeID:    node.ID,
		Type:      node.Type,
		Status:    deskflow.NodeSuccess,
		StartedAt: e.now(),
	}
	edges := d.OutEdges(node.ID)
	var next []string
	var fatal string

	switch {
	case node.Trigger != nil:
		res.Output = map[string]any{"event": string(exec.Trigger.Kind)}
		next = targets(edges, "")

	case node.Condition != nil:
		label := node.Condition.Select(snap)
		res.Output = map[string]any{"branch": label}
		next = targets(edges, label)
		if len(next) == 0 {
			next = targets(edges, "")
		}

	case node.Action != nil:
		out, err := e.invoke(ctx, exec, node, snap)
		res.Output = out
		if err == nil {
			next = targets(edges, "")
			break
		}
		res.Status = deskflow.NodeFailure
		res.Error = errorText(err)
		slog.Warn("action failed", "execution", exec.ID, "node", node.ID, "action", node.Action.Action, "err", err)
		if onErr := targets(edges, deskflow.LabelOnError); len(onErr) > 0 {
			res.Ignorable = true
			next = onErr
		} else if node.Action.ContinueOnError {
			res.Ignorable = true
			next = targets(edges, "")
		} else {
			fatal = fmt.Sprintf("node %s failed: %s", node.ID, res.Error)
		}
	}

	res.CompletedAt = e.now()
	return res, next, fatal
}

// invoke calls the action executor under the node's timeout. An executor
// that ignores its context still cannot hold the walker past the deadline.
func (e *Engine) invoke(ctx context.Context, exec *deskflow.WorkflowExecution, node *dag.Node, snap *condition.Context) (map[string]any, error) {
	timeout := node.Action.Timeout.Std()
	if timeout <= 0 {
		timeout = e.actionTimeout
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ctx, span := tracer.Start(actx, "engine.Action", trace.WithAttributes(
		attribute.String("node.id", node.ID),
		attribute.String("action", string(node.Action.Action)),
	))
	defer span.End()

	req := &deskflow.ActionRequest{
		TenantID:     exec.TenantID,
		ExecutionID:  exec.ID,
		WorkflowID:   exec.WorkflowID,
		NodeID:       node.ID,
		Config:       *node.Action,
		Trigger:      exec.Trigger,
		Conversation: snap.Conversation,
	}

	type result struct {
		out map[string]any
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := e.actions.Invoke(ctx, req)
		done <- result{out: out, err: err}
	}()

	var out map[string]any
	var err error
	select {
	case r := <-done:
		out, err = r.out, r.err
	case <-actx.Done():
		err = actx.Err()
	}
	if err == nil {
		return out, nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(actx.Err(), context.DeadlineExceeded) {
		err = deskflow.ErrActionTimeout
	}
	recordError(span, err)
	return out, &deskflow.ActionError{NodeID: node.ID, Action: node.Action.Action, Err: err}
}

// suspend parks the run on a delay node and schedules its wakeup. The
// record is written before the wakeup so a delivered wakeup always finds
// the run suspended.
func (e *Engine) suspend(ctx context.Context, d *dag.DAG, exec *deskflow.WorkflowExecution, node *dag.Node, active, visited map[string]bool) error {
	due := e.now().Add(node.Delay.Duration.Std())
	exec.WaitingOn = node.ID
	exec.ResumeAt = &due
	exec.Pending = pendingList(d, active, visited)
	if err := e.save(ctx, exec); err != nil {
		if errors.Is(err, errStopped) {
			return nil
		}
		return err
	}
	if exec.CancelRequested {
		return e.finish(ctx, exec, deskflow.ExecutionCancelled, "cancelled")
	}
	if err := e.wakeups.Schedule(ctx, deskflow.Wakeup{ExecutionID: exec.ID, NodeID: node.ID, DueAt: due}); err != nil {
		return deskflow.WrapStore("schedule wakeup", err)
	}
	if e.hooks.OnSuspended != nil {
		e.hooks.OnSuspended()
	}
	slog.Info("execution suspended", "execution", exec.ID, "node", node.ID, "resume_at", due)
	e.publish(exec, node.ID, EventExecutionSuspended, map[string]any{"resume_at": due})
	return nil
}

// finish writes the terminal state. Writes use a context detached from
// the caller so an aborted request still leaves a terminal record.
func (e *Engine) finish(ctx context.Context, exec *deskflow.WorkflowExecution, status deskflow.ExecutionStatus, reason string) error {
	ctx = context.WithoutCancel(ctx)
	now := e.now()
	exec.Status = status
	exec.CompletedAt = &now
	exec.Error = reason
	exec.Pending = nil
	exec.WaitingOn = ""
	exec.ResumeAt = nil

	if err := e.save(ctx, exec); err != nil {
		if errors.Is(err, errStopped) {
			return nil
		}
		return err
	}
	if e.hooks.OnExecutionFinished != nil {
		e.hooks.OnExecutionFinished(string(status), now.Sub(exec.StartedAt).Seconds())
	}
	slog.Info("execution finished", "execution", exec.ID, "workflow", exec.WorkflowID, "status", status, "reason", reason)
	e.publish(exec, "", EventExecutionFinished, map[string]any{"status": string(status), "error": reason})
	return nil
}

// save persists exec. When another writer got there first it adopts a
// terminal record (errStopped) or a pending cancellation request.
func (e *Engine) save(ctx context.Context, exec *deskflow.WorkflowExecution) error {
	err := e.executions.Update(ctx, exec)
	if err == nil || !errors.Is(err, deskflow.ErrConcurrencyConflict) {
		return deskflow.WrapStore("update execution", err)
	}
	cur, gerr := e.executions.Get(ctx, exec.ID)
	if gerr != nil {
		return deskflow.WrapStore("get execution", gerr)
	}
	if cur.Status.Terminal() {
		*exec = *cur
		return errStopped
	}
	if !cur.CancelRequested {
		return fmt.Errorf("execution %s: %w", exec.ID, deskflow.ErrConcurrencyConflict)
	}
	exec.Version = cur.Version
	exec.CancelRequested = true
	return deskflow.WrapStore("update execution", e.executions.Update(ctx, exec))
}

func (e *Engine) nodeFinished(exec *deskflow.WorkflowExecution, res deskflow.NodeResult) {
	if e.hooks.OnNodeFinished != nil {
		e.hooks.OnNodeFinished(string(res.Type), string(res.Status), res.CompletedAt.Sub(res.StartedAt).Seconds())
	}
	typ := EventNodeCompleted
	if res.Status == deskflow.NodeFailure {
		typ = EventNodeFailed
	}
	e.publish(exec, res.NodeID, typ, res)
}

func (e *Engine) publish(exec *deskflow.WorkflowExecution, nodeID string, typ EventType, payload any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(Event{
		ID:          deskflow.GenerateID("ev"),
		TenantID:    exec.TenantID,
		WorkflowID:  exec.WorkflowID,
		ExecutionID: exec.ID,
		NodeID:      nodeID,
		Type:        typ,
		Payload:     payload,
		Timestamp:   e.now(),
	})
}

// cursor rebuilds the activated and visited sets from the record.
func cursor(exec *deskflow.WorkflowExecution) (active, visited map[string]bool) {
	active = make(map[string]bool, len(exec.Pending))
	for _, id := range exec.Pending {
		active[id] = true
	}
	visited = make(map[string]bool, len(exec.NodeResults))
	for _, r := range exec.NodeResults {
		visited[r.NodeID] = true
	}
	return active, visited
}

// pendingList returns activated, unvisited nodes in topological order.
func pendingList(d *dag.DAG, active, visited map[string]bool) []string {
	var out []string
	for _, id := range d.TopologicalOrder() {
		if active[id] && !visited[id] {
			out = append(out, id)
		}
	}
	return out
}

// targets returns the destinations of edges carrying label.
func targets(edges []deskflow.EdgeDefinition, label string) []string {
	var out []string
	for _, e := range edges {
		if e.Label == label {
			out = append(out, e.To)
		}
	}
	return out
}

// errorText is the node-level error: the cause without the node prefix,
// so a timeout reads "Timeout".
func errorText(err error) string {
	var ae *deskflow.ActionError
	if errors.As(err, &ae) && ae.Err != nil {
		return ae.Err.Error()
	}
	return err.Error()
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
