package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/soochol/deskflow/internal/condition"
	"github.com/soochol/deskflow/internal/dag"
	"github.com/soochol/deskflow/internal/deskflow"
	"github.com/soochol/deskflow/internal/repository"
)

// WorkflowCanceller stops the running executions of a workflow.
type WorkflowCanceller interface {
	CancelWorkflow(ctx context.Context, tenantID, workflowID string) (int, error)
}

// RuleService is the validated write path for escalation configurations,
// triage rules and workflow definitions. Nothing reaches the rule store
// without passing validation, so readers can trust what they load.
type RuleService struct {
	escalations repository.EscalationRepository
	triageRules repository.TriageRuleRepository
	workflows   repository.WorkflowRepository
	canceller   WorkflowCanceller
	now         func() time.Time
}

func NewRuleService(
	escalations repository.EscalationRepository,
	triageRules repository.TriageRuleRepository,
	workflows repository.WorkflowRepository,
	canceller WorkflowCanceller,
) *RuleService {
	return &RuleService{
		escalations: escalations,
		triageRules: triageRules,
		workflows:   workflows,
		canceller:   canceller,
		now:         time.Now,
	}
}

// --- escalation configurations ---

func (s *RuleService) CreateEscalation(ctx context.Context, cfg *deskflow.EscalationConfiguration) (*deskflow.EscalationConfiguration, error) {
	if cfg.ID == "" {
		cfg.ID = deskflow.GenerateID("esc")
	}
	if err := validateEscalation(cfg); err != nil {
		return nil, err
	}
	now := s.now()
	cfg.CreatedAt, cfg.UpdatedAt = now, now
	if err := s.escalations.Create(ctx, cfg); err != nil {
		return nil, deskflow.WrapStore("create escalation configuration", err)
	}
	return cfg, nil
}

func (s *RuleService) GetEscalation(ctx context.Context, tenantID, id string) (*deskflow.EscalationConfiguration, error) {
	cfg, err := s.escalations.Get(ctx, tenantID, id)
	if err != nil {
		return nil, deskflow.WrapStore("get escalation configuration", err)
	}
	return cfg, nil
}

func (s *RuleService) ListEscalations(ctx context.Context, tenantID string) ([]*deskflow.EscalationConfiguration, error) {
	cfgs, err := s.escalations.List(ctx, tenantID, false)
	if err != nil {
		return nil, deskflow.WrapStore("list escalation configurations", err)
	}
	return cfgs, nil
}

func (s *RuleService) UpdateEscalation(ctx context.Context, cfg *deskflow.EscalationConfiguration) (*deskflow.EscalationConfiguration, error) {
	existing, err := s.escalations.Get(ctx, cfg.TenantID, cfg.ID)
	if err != nil {
		return nil, deskflow.WrapStore("get escalation configuration", err)
	}
	if err := validateEscalation(cfg); err != nil {
		return nil, err
	}
	cfg.CreatedAt = existing.CreatedAt
	cfg.UpdatedAt = s.now()
	if err := s.escalations.Update(ctx, cfg); err != nil {
		return nil, deskflow.WrapStore("update escalation configuration", err)
	}
	return cfg, nil
}

func (s *RuleService) DeleteEscalation(ctx context.Context, tenantID, id string) error {
	return deskflow.WrapStore("delete escalation configuration", s.escalations.Delete(ctx, tenantID, id))
}

// --- triage rules ---

func (s *RuleService) CreateTriageRule(ctx context.Context, rule *deskflow.TriageRule) (*deskflow.TriageRule, error) {
	if rule.ID == "" {
		rule.ID = deskflow.GenerateID("tri")
	}
	if err := validateTriageRule(rule); err != nil {
		return nil, err
	}
	now := s.now()
	rule.CreatedAt, rule.UpdatedAt = now, now
	if err := s.triageRules.Create(ctx, rule); err != nil {
		return nil, deskflow.WrapStore("create triage rule", err)
	}
	return rule, nil
}

func (s *RuleService) GetTriageRule(ctx context.Context, tenantID, id string) (*deskflow.TriageRule, error) {
	rule, err := s.triageRules.Get(ctx, tenantID, id)
	if err != nil {
		return nil, deskflow.WrapStore("get triage rule", err)
	}
	return rule, nil
}

func (s *RuleService) ListTriageRules(ctx context.Context, tenantID string) ([]*deskflow.TriageRule, error) {
	rules, err := s.triageRules.List(ctx, tenantID, false)
	if err != nil {
		return nil, deskflow.WrapStore("list triage rules", err)
	}
	return rules, nil
}

func (s *RuleService) UpdateTriageRule(ctx context.Context, rule *deskflow.TriageRule) (*deskflow.TriageRule, error) {
	existing, err := s.triageRules.Get(ctx, rule.TenantID, rule.ID)
	if err != nil {
		return nil, deskflow.WrapStore("get triage rule", err)
	}
	if err := validateTriageRule(rule); err != nil {
		return nil, err
	}
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = s.now()
	if err := s.triageRules.Update(ctx, rule); err != nil {
		return nil, deskflow.WrapStore("update triage rule", err)
	}
	return rule, nil
}

func (s *RuleService) DeleteTriageRule(ctx context.Context, tenantID, id string) error {
	return deskflow.WrapStore("delete triage rule", s.triageRules.Delete(ctx, tenantID, id))
}

// --- workflows ---

// CreateWorkflow validates and stores a new definition at version 1.
func (s *RuleService) CreateWorkflow(ctx context.Context, wf *deskflow.WorkflowDefinition) (*deskflow.WorkflowDefinition, error) {
	if wf.ID == "" {
		wf.ID = deskflow.GenerateID("wf")
	}
	wf.Version = 1
	if _, err := dag.Build(wf); err != nil {
		return nil, err
	}
	now := s.now()
	wf.CreatedAt, wf.UpdatedAt = now, now
	if err := s.workflows.Create(ctx, wf); err != nil {
		return nil, deskflow.WrapStore("create workflow", err)
	}
	return wf, nil
}

func (s *RuleService) GetWorkflow(ctx context.Context, tenantID, id string) (*deskflow.WorkflowDefinition, error) {
	wf, err := s.workflows.Get(ctx, tenantID, id)
	if err != nil {
		return nil, deskflow.WrapStore("get workflow", err)
	}
	return wf, nil
}

func (s *RuleService) ListWorkflows(ctx context.Context, tenantID string) ([]*deskflow.WorkflowDefinition, error) {
	wfs, err := s.workflows.List(ctx, tenantID)
	if err != nil {
		return nil, deskflow.WrapStore("list workflows", err)
	}
	return wfs, nil
}

// ReplaceWorkflow swaps in a new definition and bumps the version.
// Suspended executions of the old version fail when they wake up.
// Deactivating a workflow cancels its running executions.
func (s *RuleService) ReplaceWorkflow(ctx context.Context, wf *deskflow.WorkflowDefinition) (*deskflow.WorkflowDefinition, error) {
	existing, err := s.workflows.Get(ctx, wf.TenantID, wf.ID)
	if err != nil {
		return nil, deskflow.WrapStore("get workflow", err)
	}
	wf.Version = existing.Version + 1
	if _, err := dag.Build(wf); err != nil {
		return nil, err
	}
	wf.CreatedAt = existing.CreatedAt
	wf.UpdatedAt = s.now()
	if err := s.workflows.Replace(ctx, wf); err != nil {
		return nil, deskflow.WrapStore("replace workflow", err)
	}
	if existing.Active && !wf.Active {
		s.cancelRunning(ctx, wf.TenantID, wf.ID)
	}
	return wf, nil
}

// DeleteWorkflow removes the definition and cancels its running executions.
func (s *RuleService) DeleteWorkflow(ctx context.Context, tenantID, id string) error {
	if err := s.workflows.Delete(ctx, tenantID, id); err != nil {
		return deskflow.WrapStore("delete workflow", err)
	}
	s.cancelRunning(ctx, tenantID, id)
	return nil
}

// ImportWorkflowYAML parses a YAML definition, same shape as JSON, and
// creates it for tenantID.
func (s *RuleService) ImportWorkflowYAML(ctx context.Context, tenantID string, data []byte) (*deskflow.WorkflowDefinition, error) {
	var wf deskflow.WorkflowDefinition
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, deskflow.Validation([]deskflow.Problem{{Message: fmt.Sprintf("invalid yaml: %v", err)}})
	}
	wf.TenantID = tenantID
	return s.CreateWorkflow(ctx, &wf)
}

func (s *RuleService) cancelRunning(ctx context.Context, tenantID, workflowID string) {
	if s.canceller == nil {
		return
	}
	n, err := s.canceller.CancelWorkflow(ctx, tenantID, workflowID)
	if err != nil {
		slog.Warn("cancel running executions failed", "workflow", workflowID, "err", err)
		return
	}
	if n > 0 {
		slog.Info("cancelled running executions", "workflow", workflowID, "count", n)
	}
}

func validateEscalation(cfg *deskflow.EscalationConfiguration) error {
	var problems []deskflow.Problem
	add := func(path, msg string) {
		problems = append(problems, deskflow.Problem{RuleID: cfg.ID, Path: path, Message: msg})
	}
	if cfg.TenantID == "" {
		add("tenant_id", "is required")
	}
	if strings.TrimSpace(cfg.Name) == "" {
		add("name", "is required")
	}
	if cfg.Priority < 0 {
		add("priority", "must not be negative")
	}
	if ts := cfg.Action.TargetStatus; ts != "" && !ts.Valid() {
		add("action.target_status", fmt.Sprintf("unknown status %q", cfg.Action.TargetStatus))
	}
	if n := cfg.Action.Notify; n != nil {
		problems = append(problems, validateTarget(cfg.ID, "action.notify", n)...)
	}
	for _, p := range condition.Validate(cfg.Condition, "condition") {
		p.RuleID = cfg.ID
		problems = append(problems, p)
	}
	return deskflow.Validation(problems)
}

func validateTriageRule(rule *deskflow.TriageRule) error {
	var problems []deskflow.Problem
	add := func(path, msg string) {
		problems = append(problems, deskflow.Problem{RuleID: rule.ID, Path: path, Message: msg})
	}
	if rule.TenantID == "" {
		add("tenant_id", "is required")
	}
	if strings.TrimSpace(rule.Name) == "" {
		add("name", "is required")
	}
	for _, p := range condition.Validate(rule.Condition, "condition") {
		p.RuleID = rule.ID
		problems = append(problems, p)
	}
	return deskflow.Validation(problems)
}

func validateTarget(ruleID, path string, t *deskflow.NotificationTarget) []deskflow.Problem {
	switch t.Channel {
	case deskflow.ConnTypeSlack, deskflow.ConnTypeTelegram, deskflow.ConnTypeSMTP, deskflow.ConnTypeHTTP:
	default:
		return []deskflow.Problem{{RuleID: ruleID, Path: path + ".channel", Message: fmt.Sprintf("unsupported channel %q", t.Channel)}}
	}
	if t.ConnectionID == "" && t.Address == "" {
		return []deskflow.Problem{{RuleID: ruleID, Path: path, Message: "needs a connection_id or an address"}}
	}
	return nil
}
