// Package analytics aggregates execution and escalation records over a
// date range, as totals and as hourly or daily buckets. It only reads.
package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/soochol/deskflow/internal/deskflow"
	"github.com/soochol/deskflow/internal/repository"
)

// Recommendation thresholds. These are policy constants.
const (
	LowSuccessRate      = 0.80
	CriticalSuccessRate = 0.70
	SlowAverageDuration = 30 * time.Second
)

// MaxBuckets bounds the number of buckets in one report.
const MaxBuckets = 1000

// Bucket is the width of one rollup bucket. Buckets are aligned to UTC.
type Bucket string

const (
	BucketHour Bucket = "hour"
	BucketDay  Bucket = "day"
)

func (b Bucket) width() (time.Duration, bool) {
	switch b {
	case BucketHour:
		return time.Hour, true
	case BucketDay, "":
		return 24 * time.Hour, true
	}
	return 0, false
}

// Query selects the records to aggregate. From is inclusive, To exclusive;
// zero bounds are open. Bucket defaults to BucketDay.
type Query struct {
	TenantID   string    `json:"tenant_id"`
	From       time.Time `json:"from"`
	To         time.Time `json:"to"`
	WorkflowID string    `json:"workflow_id,omitempty"`
	Bucket     Bucket    `json:"bucket,omitempty"`
}

// BucketStats counts what happened in [Start, Start+width). Executions are
// keyed by StartedAt, escalations by EvaluatedAt.
type BucketStats struct {
	Start       time.Time `json:"start"`
	Executions  int       `json:"executions"`
	Completed   int       `json:"completed"`
	Failed      int       `json:"failed"`
	Cancelled   int       `json:"cancelled"`
	Escalations int       `json:"escalations"`
}

// WorkflowStats aggregates one workflow's executions.
type WorkflowStats struct {
	WorkflowID string `json:"workflow_id"`
	Name       string `json:"name,omitempty"`
	Active     bool   `json:"active"`
	Executions int    `json:"executions"`
	Completed  int    `json:"completed"`
	Failed     int    `json:"failed"`
	Cancelled  int    `json:"cancelled"`
	Running    int    `json:"running"`
	// SuccessRate is Completed / (Completed + Failed); cancellations are
	// neither.
	SuccessRate float64 `json:"success_rate"`
	// AverageDurationSeconds covers completed executions only.
	AverageDurationSeconds float64  `json:"average_duration_seconds"`
	Recommendations        []string `json:"recommendations,omitempty"`
}

// ConfigurationStats aggregates one escalation configuration's results.
type ConfigurationStats struct {
	ConfigurationID string `json:"configuration_id"`
	Name            string `json:"name,omitempty"`
	Matched         int    `json:"matched"`
	Applied         int    `json:"applied"`
	Shadowed        int    `json:"shadowed"`
	Duplicates      int    `json:"duplicates"`
	Conflicts       int    `json:"conflicts"`
	RuleErrors      int    `json:"rule_errors"`
	// AlreadyEscalated counts matches on conversations already in the
	// target state.
	AlreadyEscalated int `json:"already_escalated"`
}

// EscalationStats aggregates trigger results.
type EscalationStats struct {
	MessagesEvaluated int                  `json:"messages_evaluated"`
	Escalations       int                  `json:"escalations"`
	NoMatch           int                  `json:"no_match"`
	Conflicts         int                  `json:"conflicts"`
	EscalationRate    float64              `json:"escalation_rate"`
	Configurations    []ConfigurationStats `json:"configurations"`
}

// Report is the aggregated view for a date range.
type Report struct {
	From               time.Time       `json:"from"`
	To                 time.Time       `json:"to"`
	TotalExecutions    int             `json:"total_executions"`
	OverallSuccessRate float64         `json:"overall_success_rate"`
	Workflows          []WorkflowStats `json:"workflows"`
	Escalation         EscalationStats `json:"escalation"`
	Bucket             Bucket          `json:"bucket"`
	Buckets            []BucketStats   `json:"buckets"`
}

// Aggregator computes reports.
type Aggregator struct {
	workflows  repository.WorkflowRepository
	executions repository.ExecutionRepository
	results    repository.TriggerResultRepository
}

func New(workflows repository.WorkflowRepository, executions repository.ExecutionRepository, results repository.TriggerResultRepository) *Aggregator {
	return &Aggregator{workflows: workflows, executions: executions, results: results}
}

// Compute builds the report for q.
func (a *Aggregator) Compute(ctx context.Context, q Query) (*Report, error) {
	width, ok := q.Bucket.width()
	if !ok {
		return nil, deskflow.Validation([]deskflow.Problem{{Path: "bucket", Message: `must be "hour" or "day"`}})
	}
	if q.Bucket == "" {
		q.Bucket = BucketDay
	}
	if !q.From.IsZero() && !q.To.IsZero() {
		if !q.From.Before(q.To) {
			return nil, deskflow.Validation([]deskflow.Problem{{Path: "to", Message: "must be after from"}})
		}
		if span := q.To.Sub(q.From.UTC().Truncate(width)); span > MaxBuckets*width {
			return nil, deskflow.Validation([]deskflow.Problem{{Path: "bucket",
				Message: fmt.Sprintf("range needs more than %d %s buckets", MaxBuckets, q.Bucket)}})
		}
	}

	defs, err := a.workflows.List(ctx, q.TenantID)
	if err != nil {
		return nil, deskflow.WrapStore("list workflows", err)
	}
	execs, _, err := a.executions.List(ctx, repository.ExecutionQuery{
		TenantID:   q.TenantID,
		WorkflowID: q.WorkflowID,
		From:       q.From,
		To:         q.To,
	})
	if err != nil {
		return nil, deskflow.WrapStore("list executions", err)
	}
	results, err := a.results.List(ctx, q.TenantID, q.From, q.To)
	if err != nil {
		return nil, deskflow.WrapStore("list trigger results", err)
	}

	rep := &Report{From: q.From, To: q.To, TotalExecutions: len(execs)}
	rep.Workflows = workflowStats(defs, execs, q.WorkflowID)
	var completed, decided int
	for _, ws := range rep.Workflows {
		completed += ws.Completed
		decided += ws.Completed + ws.Failed
	}
	rep.OverallSuccessRate = ratio(completed, decided)
	rep.Escalation = escalationStats(results)
	rep.Bucket = q.Bucket
	rep.Buckets = bucketStats(q, width, execs, results)
	return rep, nil
}

// bucketStats rolls records into fixed-width buckets. Every bucket between
// the range bounds is present, empty or not; an open bound is replaced by
// the earliest or latest record.
func bucketStats(q Query, width time.Duration, execs []*deskflow.WorkflowExecution, results []deskflow.TriggerResult) []BucketStats {
	var first, last time.Time
	seen := func(t time.Time) {
		if first.IsZero() || t.Before(first) {
			first = t
		}
		if last.IsZero() || t.After(last) {
			last = t
		}
	}
	for _, e := range execs {
		seen(e.StartedAt)
	}
	for _, r := range results {
		if r.Reason == deskflow.ReasonApplied {
			seen(r.EvaluatedAt)
		}
	}
	if !q.From.IsZero() {
		first = q.From
	}
	if !q.To.IsZero() {
		// To is exclusive.
		last = q.To.Add(-time.Nanosecond)
	}
	if first.IsZero() || last.IsZero() || last.Before(first) {
		return []BucketStats{}
	}

	start := first.UTC().Truncate(width)
	n := int(last.UTC().Truncate(width).Sub(start)/width) + 1
	if n > MaxBuckets {
		// Open-ended ranges keep the most recent buckets.
		start = start.Add(time.Duration(n-MaxBuckets) * width)
		n = MaxBuckets
	}
	out := make([]BucketStats, n)
	for i := range out {
		out[i].Start = start.Add(time.Duration(i) * width)
	}
	index := func(t time.Time) (int, bool) {
		d := t.UTC().Truncate(width).Sub(start)
		if d < 0 {
			return 0, false
		}
		i := int(d / width)
		return i, i < n
	}

	for _, e := range execs {
		i, ok := index(e.StartedAt)
		if !ok {
			continue
		}
		out[i].Executions++
		switch e.Status {
		case deskflow.ExecutionCompleted:
			out[i].Completed++
		case deskflow.ExecutionFailed:
			out[i].Failed++
		case deskflow.ExecutionCancelled:
			out[i].Cancelled++
		}
	}
	for _, r := range results {
		if r.Reason != deskflow.ReasonApplied {
			continue
		}
		if i, ok := index(r.EvaluatedAt); ok {
			out[i].Escalations++
		}
	}
	return out
}

type accumulator struct {
	stats    WorkflowStats
	duration time.Duration
}

func workflowStats(defs []*deskflow.WorkflowDefinition, execs []*deskflow.WorkflowExecution, only string) []WorkflowStats {
	byID := map[string]*accumulator{}
	for _, d := range defs {
		if only != "" && d.ID != only {
			continue
		}
		byID[d.ID] = &accumulator{stats: WorkflowStats{WorkflowID: d.ID, Name: d.Name, Active: d.Active}}
	}
	for _, e := range execs {
		acc, ok := byID[e.WorkflowID]
		if !ok {
			// Executions of a since-deleted workflow still count.
			acc = &accumulator{stats: WorkflowStats{WorkflowID: e.WorkflowID}}
			byID[e.WorkflowID] = acc
		}
		acc.stats.Executions++
		switch e.Status {
		case deskflow.ExecutionCompleted:
			acc.stats.Completed++
			if d, ok := e.Duration(); ok {
				acc.duration += d
			}
		case deskflow.ExecutionFailed:
			acc.stats.Failed++
		case deskflow.ExecutionCancelled:
			acc.stats.Cancelled++
		default:
			acc.stats.Running++
		}
	}

	out := make([]WorkflowStats, 0, len(byID))
	for _, acc := range byID {
		ws := acc.stats
		ws.SuccessRate = ratio(ws.Completed, ws.Completed+ws.Failed)
		if ws.Completed > 0 {
			ws.AverageDurationSeconds = (acc.duration / time.Duration(ws.Completed)).Seconds()
		}
		ws.Recommendations = Recommend(ws)
		out = append(out, ws)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Executions != out[j].Executions {
			return out[i].Executions > out[j].Executions
		}
		return out[i].WorkflowID < out[j].WorkflowID
	})
	return out
}

// Recommend derives the fixed-threshold recommendations for ws.
func Recommend(ws WorkflowStats) []string {
	label := ws.Name
	if label == "" {
		label = ws.WorkflowID
	}
	if ws.Executions == 0 {
		return []string{fmt.Sprintf("Workflow %q did not run in this period; check its trigger or deactivate it.", label)}
	}

	var recs []string
	if ws.Completed+ws.Failed > 0 {
		pct := ws.SuccessRate * 100
		switch {
		case ws.SuccessRate < CriticalSuccessRate:
			recs = append(recs, fmt.Sprintf("Workflow %q succeeds in only %.0f%% of runs; consider deactivating it until its failing actions are fixed.", label, pct))
		case ws.SuccessRate < LowSuccessRate:
			recs = append(recs, fmt.Sprintf("Workflow %q succeeds in %.0f%% of runs; review its failing actions and add onError handling.", label, pct))
		}
	}
	if ws.AverageDurationSeconds > SlowAverageDuration.Seconds() {
		recs = append(recs, fmt.Sprintf("Workflow %q averages %.1fs per run; check for slow integrations or long delays.", label, ws.AverageDurationSeconds))
	}
	return recs
}

func escalationStats(results []deskflow.TriggerResult) EscalationStats {
	var st EscalationStats
	messages := map[string]bool{}
	escalated := map[string]bool{}
	configs := map[string]*ConfigurationStats{}

	for _, r := range results {
		key := r.ConversationID + "/" + r.MessageID
		messages[key] = true
		switch r.Reason {
		case deskflow.ReasonNoMatch:
			st.NoMatch++
			continue
		case deskflow.ReasonApplied:
			escalated[key] = true
		case deskflow.ReasonConflict:
			st.Conflicts++
		}
		if r.ConfigurationID == "" {
			continue
		}
		cs, ok := configs[r.ConfigurationID]
		if !ok {
			cs = &ConfigurationStats{ConfigurationID: r.ConfigurationID, Name: r.Name}
			configs[r.ConfigurationID] = cs
		}
		if r.Matched {
			cs.Matched++
		}
		switch r.Reason {
		case deskflow.ReasonApplied:
			cs.Applied++
		case deskflow.ReasonShadowed:
			cs.Shadowed++
		case deskflow.ReasonDuplicate:
			cs.Duplicates++
		case deskflow.ReasonConflict:
			cs.Conflicts++
		case deskflow.ReasonRuleError:
			cs.RuleErrors++
		case deskflow.ReasonAlreadyEscalated:
			cs.AlreadyEscalated++
		}
	}

	st.MessagesEvaluated = len(messages)
	st.Escalations = len(escalated)
	st.EscalationRate = ratio(st.Escalations, st.MessagesEvaluated)
	st.Configurations = make([]ConfigurationStats, 0, len(configs))
	for _, cs := range configs {
		st.Configurations = append(st.Configurations, *cs)
	}
	sort.Slice(st.Configurations, func(i, j int) bool {
		return st.Configurations[i].ConfigurationID < st.Configurations[j].ConfigurationID
	})
	return st
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}
