package condition

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/soochol/deskflow/internal/deskflow"
)

// Predicate is a validated condition tree with its regular expressions
// compiled.
type Predicate struct {
	root *compiled
}

type compiled struct {
	leaf     deskflow.Condition
	children []*compiled
	re       *regexp.Regexp
	// needle is the lower-cased string value for case-insensitive matching.
	needle string
}

// Compile validates c and compiles it. Invalid trees return a
// *deskflow.ValidationError.
func Compile(c deskflow.Condition) (*Predicate, error) {
	return compileWith(c, map[string]*regexp.Regexp{})
}

func compileWith(c deskflow.Condition, regexes map[string]*regexp.Regexp) (*Predicate, error) {
	if err := deskflow.Validation(Validate(c, "condition")); err != nil {
		return nil, err
	}
	root, err := build(c, regexes)
	if err != nil {
		return nil, err
	}
	return &Predicate{root: root}, nil
}

func build(c deskflow.Condition, regexes map[string]*regexp.Regexp) (*compiled, error) {
	n := &compiled{leaf: c}
	if c.IsGroup() {
		for _, child := range c.Children {
			cn, err := build(child, regexes)
			if err != nil {
				return nil, err
			}
			n.children = append(n.children, cn)
		}
		return n, nil
	}

	if s, ok := c.Value.(string); ok {
		n.needle = strings.ToLower(s)
	}
	if c.Operator == deskflow.OpMatchesRegex {
		pattern := c.Value.(string)
		re, ok := regexes[pattern]
		if !ok {
			var err error
			if re, err = regexp.Compile(pattern); err != nil {
				return nil, fmt.Errorf("compile pattern %q: %w", pattern, err)
			}
			regexes[pattern] = re
		}
		n.re = re
	}
	return n, nil
}

// Rule is a condition owned by a rule (escalation configuration or triage
// rule).
type Rule struct {
	ID        string
	Condition deskflow.Condition
}

// Entry is one compiled rule. Exactly one of Predicate and Err is set.
type Entry struct {
	ID        string
	Predicate *Predicate
	Err       *deskflow.RuleError
}

// RuleSet is a snapshot of compiled rules for one evaluation. Patterns are
// compiled once for the whole set.
type RuleSet struct {
	Entries []Entry
}

// CompileRuleSet compiles rules in order. A rule that fails to compile is
// kept as an Entry carrying a RuleError so callers can report and skip it.
func CompileRuleSet(rules []Rule) *RuleSet {
	regexes := map[string]*regexp.Regexp{}
	rs := &RuleSet{Entries: make([]Entry, 0, len(rules))}
	for _, r := range rules {
		p, err := compileWith(r.Condition, regexes)
		if err != nil {
			rs.Entries = append(rs.Entries, Entry{ID: r.ID, Err: &deskflow.RuleError{RuleID: r.ID, Err: err}})
			continue
		}
		rs.Entries = append(rs.Entries, Entry{ID: r.ID, Predicate: p})
	}
	return rs
}

// Evaluate compiles and evaluates c in one step. Invalid trees evaluate to
// false.
func Evaluate(c deskflow.Condition, ctx *Context) bool {
	p, err := Compile(c)
	if err != nil {
		return false
	}
	return p.Evaluate(ctx)
}
