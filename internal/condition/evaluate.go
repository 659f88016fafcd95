package condition

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/soochol/deskflow/internal/deskflow"
)

// Evaluate reports whether the predicate holds for ctx. Groups
// short-circuit: AND stops at the first false child, OR at the first true.
func (p *Predicate) Evaluate(ctx *Context) bool {
	if p == nil || p.root == nil {
		return false
	}
	return p.root.eval(ctx)
}

func (n *compiled) eval(ctx *Context) bool {
	switch n.leaf.Combinator {
	case deskflow.And:
		for _, c := range n.children {
			if !c.eval(ctx) {
				return false
			}
		}
		return true
	case deskflow.Or:
		for _, c := range n.children {
			if c.eval(ctx) {
				return true
			}
		}
		return false
	case deskflow.Not:
		return !n.children[0].eval(ctx)
	}

	actual, ok := ctx.Lookup(n.leaf.Field)
	if !ok || actual == nil {
		return false
	}
	return n.compare(actual)
}

func (n *compiled) compare(actual any) bool {
	c := n.leaf
	switch c.Operator {
	case deskflow.OpEq:
		return n.equal(actual)
	case deskflow.OpNeq:
		return !n.equal(actual)
	case deskflow.OpGt, deskflow.OpLt:
		a, ok := toFloat(actual)
		if !ok {
			return false
		}
		b, ok := toFloat(c.Value)
		if !ok {
			return false
		}
		if c.Operator == deskflow.OpGt {
			return a > b
		}
		return a < b
	case deskflow.OpContains:
		switch v := actual.(type) {
		case string:
			if c.CaseSensitive {
				s, _ := c.Value.(string)
				return strings.Contains(v, s)
			}
			return strings.Contains(strings.ToLower(v), n.needle)
		case []string:
			for _, item := range v {
				if n.equal(item) {
					return true
				}
			}
		case []any:
			for _, item := range v {
				if item != nil && n.equal(item) {
					return true
				}
			}
		}
		return false
	case deskflow.OpMatchesRegex:
		s, ok := actual.(string)
		return ok && n.re != nil && n.re.MatchString(s)
	}
	return false
}

// equal compares numerically when both sides are numbers, as booleans when
// the expected value is a bool, and as text otherwise.
func (n *compiled) equal(actual any) bool {
	c := n.leaf
	if b, ok := c.Value.(bool); ok {
		ab, ok := actual.(bool)
		return ok && ab == b
	}
	if isNumber(actual) {
		a, _ := toFloat(actual)
		b, ok := toFloat(c.Value)
		return ok && a == b
	}
	s, ok := actual.(string)
	if !ok {
		return false
	}
	want, ok := c.Value.(string)
	if !ok {
		if f, isNum := toFloat(c.Value); isNum {
			a, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			return err == nil && a == f
		}
		return false
	}
	if c.CaseSensitive {
		return s == want
	}
	return strings.ToLower(s) == n.needle
}

func isNumber(v any) bool {
	switch v.(type) {
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, json.Number:
		return true
	}
	return false
}

// toFloat converts numeric values and numeric strings.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}
