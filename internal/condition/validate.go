package condition

import (
	"fmt"
	"regexp"

	"github.com/soochol/deskflow/internal/deskflow"
)

// Validate checks a condition tree and returns every problem found. path
// prefixes problem locations (e.g. "condition").
func Validate(c deskflow.Condition, path string) []deskflow.Problem {
	var problems []deskflow.Problem
	validate(c, path, &problems)
	return problems
}

func validate(c deskflow.Condition, path string, problems *[]deskflow.Problem) {
	add := func(format string, args ...any) {
		*problems = append(*problems, deskflow.Problem{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if c.IsGroup() {
		if !c.Combinator.Valid() {
			add("unknown combinator %q", c.Combinator)
			return
		}
		if c.Field != "" || c.Operator != "" {
			add("group must not carry field or operator")
		}
		switch {
		case c.Combinator == deskflow.Not && len(c.Children) != 1:
			add("NOT takes exactly one child, got %d", len(c.Children))
		case len(c.Children) == 0:
			add("%s group has no children", c.Combinator)
		}
		for i, child := range c.Children {
			validate(child, fmt.Sprintf("%s.children[%d]", path, i), problems)
		}
		return
	}

	if len(c.Children) > 0 {
		add("leaf must not have children (missing combinator?)")
	}
	kind := c.Field.Kind()
	if kind == deskflow.KindUnknown {
		add("unknown field %q", c.Field)
	}
	if !c.Operator.Valid() {
		add("unknown operator %q", c.Operator)
		return
	}
	if c.Value == nil {
		add("%s requires a value", c.Operator)
		return
	}

	switch c.Operator {
	case deskflow.OpGt, deskflow.OpLt:
		if _, ok := toFloat(c.Value); !ok {
			add("%s requires a numeric value", c.Operator)
		}
		if kind == deskflow.KindText {
			add("%s is not defined for text field %q", c.Operator, c.Field)
		}
	case deskflow.OpContains:
		if _, ok := c.Value.(string); !ok {
			add("contains requires a string value")
		}
	case deskflow.OpMatchesRegex:
		pattern, ok := c.Value.(string)
		if !ok {
			add("matchesRegex requires a string pattern")
			return
		}
		if _, err := regexp.Compile(pattern); err != nil {
			add("invalid pattern: %v", err)
		}
	}
}
