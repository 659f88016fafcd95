package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soochol/deskflow/internal/deskflow"
	"github.com/soochol/deskflow/internal/repository"
)

type fakeCanceller struct {
	calls []string
}

func (c *fakeCanceller) CancelWorkflow(_ context.Context, _, workflowID string) (int, error) {
	c.calls = append(c.calls, workflowID)
	return 1, nil
}

func newRuleService() (*RuleService, *fakeCanceller) {
	c := &fakeCanceller{}
	return NewRuleService(
		repository.NewMemoryEscalationRepository(),
		repository.NewMemoryTriageRuleRepository(),
		repository.NewMemory(),
		c,
	), c
}

func problemPaths(t *testing.T, err error) map[string]bool {
	t.Helper()
	var verr *deskflow.ValidationError
	require.True(t, errors.As(err, &verr), "want validation error, got %v", err)
	paths := map[string]bool{}
	for _, p := range verr.Problems {
		paths[p.Path] = true
	}
	return paths
}

func TestCreateEscalation_Validation(t *testing.T) {
	svc, _ := newRuleService()
	_, err := svc.CreateEscalation(context.Background(), &deskflow.EscalationConfiguration{
		TenantID:  "t1",
		Priority:  -1,
		Condition: deskflow.Leaf("message.bogus", deskflow.OpEq, "x"),
		Action: deskflow.EscalationAction{
			TargetStatus: "limbo",
			Notify:       &deskflow.NotificationTarget{Channel: "pager"},
		},
	})
	paths := problemPaths(t, err)
	assert.True(t, paths["name"])
	assert.True(t, paths["priority"])
	assert.True(t, paths["action.target_status"])
	assert.True(t, paths["action.notify.channel"])
	assert.True(t, paths["condition"])
}

func TestEscalationCRUD(t *testing.T) {
	svc, _ := newRuleService()
	ctx := context.Background()

	cfg, err := svc.CreateEscalation(ctx, &deskflow.EscalationConfiguration{
		TenantID: "t1", Name: "refunds", IsActive: true,
		Condition: deskflow.Leaf(deskflow.FieldMessageText, deskflow.OpContains, "refund"),
		Action:    deskflow.EscalationAction{AssignTo: "billing"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.ID)
	assert.False(t, cfg.CreatedAt.IsZero())

	upd := *cfg
	upd.Priority = 3
	got, err := svc.UpdateEscalation(ctx, &upd)
	require.NoError(t, err)
	assert.Equal(t, cfg.CreatedAt, got.CreatedAt)

	list, err := svc.ListEscalations(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 3, list[0].Priority)

	require.NoError(t, svc.DeleteEscalation(ctx, "t1", cfg.ID))
	_, err = svc.GetEscalation(ctx, "t1", cfg.ID)
	assert.ErrorIs(t, err, deskflow.ErrNotFound)
}

func TestTriageRuleCRUD(t *testing.T) {
	svc, _ := newRuleService()
	ctx := context.Background()

	_, err := svc.CreateTriageRule(ctx, &deskflow.TriageRule{TenantID: "t1"})
	assert.True(t, problemPaths(t, err)["name"])

	rule, err := svc.CreateTriageRule(ctx, &deskflow.TriageRule{
		TenantID: "t1", Name: "vip", IsActive: true, PriorityScoreDelta: 4,
		Condition: deskflow.Leaf(deskflow.MetadataField("tier"), deskflow.OpEq, "vip"),
	})
	require.NoError(t, err)

	_, err = svc.UpdateTriageRule(ctx, &deskflow.TriageRule{ID: "missing", TenantID: "t1", Name: "x"})
	assert.ErrorIs(t, err, deskflow.ErrNotFound)

	rules, err := svc.ListTriageRules(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, rule.ID, rules[0].ID)
}

const ticketWorkflowYAML = `
id: wf-yaml
name: Ticket follow-up
active: true
nodes:
  - id: T
    type: trigger
    config:
      event: message.received
  - id: A
    type: action
    config:
      action: notify
      params:
        channel: slack
        text: new message
edges:
  - from: T
    to: A
`

func TestWorkflowLifecycle(t *testing.T) {
	svc, canceller := newRuleService()
	ctx := context.Background()

	wf, err := svc.ImportWorkflowYAML(ctx, "t1", []byte(ticketWorkflowYAML))
	require.NoError(t, err)
	assert.Equal(t, "t1", wf.TenantID)
	assert.Equal(t, 1, wf.Version)
	require.Len(t, wf.Nodes, 2)

	next := *wf
	next.Active = false
	got, err := svc.ReplaceWorkflow(ctx, &next)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)
	assert.Equal(t, []string{"wf-yaml"}, canceller.calls)

	require.NoError(t, svc.DeleteWorkflow(ctx, "t1", "wf-yaml"))
	assert.Equal(t, []string{"wf-yaml", "wf-yaml"}, canceller.calls)
	_, err = svc.GetWorkflow(ctx, "t1", "wf-yaml")
	assert.ErrorIs(t, err, deskflow.ErrNotFound)
}

func TestCreateWorkflow_RejectsInvalidGraph(t *testing.T) {
	svc, _ := newRuleService()
	_, err := svc.CreateWorkflow(context.Background(), &deskflow.WorkflowDefinition{
		ID: "wf-bad", TenantID: "t1", Active: true,
		Nodes: []deskflow.NodeDefinition{
			{ID: "A", Type: deskflow.NodeTypeAction, Config: map[string]any{"action": "notify"}},
		},
	})
	var verr *deskflow.ValidationError
	assert.True(t, errors.As(err, &verr))

	_, err = svc.ImportWorkflowYAML(context.Background(), "t1", []byte("nodes: [oops"))
	assert.True(t, errors.As(err, &verr))
}
