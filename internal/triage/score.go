package triage

import (
	"math"

	"github.com/soochol/deskflow/internal/condition"
	"github.com/soochol/deskflow/internal/deskflow"
)

// Weights are the scoring policy. Score = Base + Sentiment*max(0, -s) +
// WaitPerMinute*waitMinutes + sum(matching rule deltas).
type Weights struct {
	Base          float64 `yaml:"base_score"`
	Sentiment     float64 `yaml:"sentiment_weight"`
	WaitPerMinute float64 `yaml:"wait_weight_per_minute"`
	Urgent        float64 `yaml:"urgent_threshold"`
	High          float64 `yaml:"high_threshold"`
	Normal        float64 `yaml:"normal_threshold"`
}

// DefaultWeights returns the default scoring policy.
func DefaultWeights() Weights {
	return Weights{
		Base:          5,
		Sentiment:     5,
		WaitPerMinute: 0.05,
		Urgent:        15,
		High:          10,
		Normal:        5,
	}
}

// Band maps a score to its priority band.
func (w Weights) Band(score float64) deskflow.PriorityBand {
	switch {
	case score >= w.Urgent:
		return deskflow.PriorityUrgent
	case score >= w.High:
		return deskflow.PriorityHigh
	case score >= w.Normal:
		return deskflow.PriorityNormal
	default:
		return deskflow.PriorityLow
	}
}

// rule pairs a compiled triage rule with its definition.
type rule struct {
	def   *deskflow.TriageRule
	entry condition.Entry
}

// compile builds the per-evaluation rule snapshot.
func compile(defs []*deskflow.TriageRule) []rule {
	rules := make([]condition.Rule, len(defs))
	for i, d := range defs {
		rules[i] = condition.Rule{ID: d.ID, Condition: d.Condition}
	}
	rs := condition.CompileRuleSet(rules)
	out := make([]rule, len(defs))
	for i, e := range rs.Entries {
		out[i] = rule{def: defs[i], entry: e}
	}
	return out
}

// Breakdown is a computed score with its parts.
type Breakdown struct {
	Score             float64
	Priority          deskflow.PriorityBand
	Results           []deskflow.TriageResult
	SuggestedAssignee string
}

// Score evaluates every rule (all of them, not first-match) and sums the
// score. It is pure: no I/O, no mutation of ctx.
func (w Weights) Score(ctx *condition.Context, rules []rule) Breakdown {
	score := w.Base
	if ctx.Sentiment != nil {
		score += w.Sentiment * math.Max(0, -*ctx.Sentiment)
	}
	if v, ok := ctx.Lookup(deskflow.FieldWaitMinutes); ok {
		if minutes, ok := v.(float64); ok && minutes > 0 {
			score += w.WaitPerMinute * minutes
		}
	}

	var b Breakdown
	for _, r := range rules {
		res := deskflow.TriageResult{RuleID: r.def.ID, Name: r.def.Name}
		if r.entry.Err != nil {
			res.Error = r.entry.Err.Error()
			b.Results = append(b.Results, res)
			continue
		}
		if r.entry.Predicate.Evaluate(ctx) {
			res.Matched = true
			res.Delta = r.def.PriorityScoreDelta
			res.AssignmentHint = r.def.AssignmentHint
			score += float64(r.def.PriorityScoreDelta)
			if b.SuggestedAssignee == "" {
				b.SuggestedAssignee = r.def.AssignmentHint
			}
		}
		b.Results = append(b.Results, res)
	}
	b.Score = math.Round(score*100) / 100
	b.Priority = w.Band(b.Score)
	return b
}
