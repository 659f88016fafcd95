package dag

import (
	"fmt"

	"github.com/soochol/deskflow/internal/condition"
	"github.com/soochol/deskflow/internal/deskflow"
)

// Node is a validated node with its config decoded into the typed payload
// for its type. Exactly one of the payload fields is set.
type Node struct {
	ID   string
	Type deskflow.NodeType
	Def  *deskflow.NodeDefinition

	Trigger   *deskflow.TriggerConfig
	Condition *ConditionNode
	Action    *deskflow.ActionConfig
	Delay     *deskflow.DelayConfig

	// triggerFilter is the compiled Trigger.Condition, if any.
	triggerFilter *condition.Predicate
}

// Accepts reports whether this trigger node starts a run for an event of
// kind evaluated against ctx.
func (n *Node) Accepts(kind deskflow.EventKind, ctx *condition.Context) bool {
	if n.Trigger == nil || n.Trigger.Event != kind {
		return false
	}
	return n.triggerFilter == nil || n.triggerFilter.Evaluate(ctx)
}

// Branch is one compiled arm of a condition node.
type Branch struct {
	Label      string
	predicate  *condition.Predicate
	expression *condition.Expression
}

func (b Branch) matches(ctx *condition.Context) bool {
	if b.predicate != nil {
		return b.predicate.Evaluate(ctx)
	}
	if b.expression != nil {
		return b.expression.Evaluate(ctx)
	}
	return false
}

// ConditionNode selects the outgoing edge label of a condition node.
type ConditionNode struct {
	// single is set for the condition/expression form, which yields
	// LabelTrue or LabelFalse.
	single   bool
	Branches []Branch
}

// Labels returns the labels this node can select.
func (c *ConditionNode) Labels() []string {
	if c.single {
		return []string{deskflow.LabelTrue, deskflow.LabelFalse}
	}
	labels := make([]string, len(c.Branches))
	for i, b := range c.Branches {
		labels[i] = b.Label
	}
	return labels
}

// Select evaluates the node and returns the chosen label. An empty label
// means no branch matched and only unlabeled default edges apply.
func (c *ConditionNode) Select(ctx *condition.Context) string {
	if c.single {
		if c.Branches[0].matches(ctx) {
			return deskflow.LabelTrue
		}
		return deskflow.LabelFalse
	}
	for _, b := range c.Branches {
		if b.matches(ctx) {
			return b.Label
		}
	}
	return ""
}

// decodeNode decodes and validates nd's config, appending problems.
func decodeNode(nd *deskflow.NodeDefinition, problems *[]deskflow.Problem) *Node {
	n := &Node{ID: nd.ID, Type: nd.Type, Def: nd}
	add := func(format string, args ...any) {
		*problems = append(*problems, deskflow.Problem{NodeID: nd.ID, Message: fmt.Sprintf(format, args...)})
	}
	addAll := func(ps []deskflow.Problem) {
		for _, p := range ps {
			p.NodeID = nd.ID
			*problems = append(*problems, p)
		}
	}

	switch nd.Type {
	case deskflow.NodeTypeTrigger:
		var cfg deskflow.TriggerConfig
		if err := deskflow.DecodeNodeConfig(nd.Config, &cfg); err != nil {
			add("trigger config: %v", err)
			return n
		}
		if cfg.Event == "" {
			cfg.Event = deskflow.EventMessageReceived
		}
		if !cfg.Event.Valid() {
			add("unknown trigger event %q", cfg.Event)
		}
		if cfg.Condition != nil {
			if ps := condition.Validate(*cfg.Condition, "condition"); len(ps) > 0 {
				addAll(ps)
			} else if p, err := condition.Compile(*cfg.Condition); err == nil {
				n.triggerFilter = p
			}
		}
		n.Trigger = &cfg

	case deskflow.NodeTypeCondition:
		var cfg deskflow.ConditionConfig
		if err := deskflow.DecodeNodeConfig(nd.Config, &cfg); err != nil {
			add("condition config: %v", err)
			return n
		}
		n.Condition = decodeCondition(cfg, add, addAll)

	case deskflow.NodeTypeAction:
		var cfg deskflow.ActionConfig
		if err := deskflow.DecodeNodeConfig(nd.Config, &cfg); err != nil {
			add("action config: %v", err)
			return n
		}
		if !cfg.Action.Valid() {
			add("unknown action %q", cfg.Action)
		}
		if cfg.Timeout < 0 {
			add("timeout must not be negative")
		}
		n.Action = &cfg

	case deskflow.NodeTypeDelay:
		var cfg deskflow.DelayConfig
		if err := deskflow.DecodeNodeConfig(nd.Config, &cfg); err != nil {
			add("delay config: %v", err)
			return n
		}
		if cfg.Duration <= 0 {
			add("delay duration must be positive")
		}
		n.Delay = &cfg

	default:
		add("unknown node type %q", nd.Type)
	}
	return n
}

func decodeCondition(cfg deskflow.ConditionConfig, add func(string, ...any), addAll func([]deskflow.Problem)) *ConditionNode {
	forms := 0
	if cfg.Condition != nil {
		forms++
	}
	if cfg.Expression != "" {
		forms++
	}
	if len(cfg.Branches) > 0 {
		forms++
	}
	if forms != 1 {
		add("condition node needs exactly one of condition, expression or branches")
		return &ConditionNode{}
	}

	if len(cfg.Branches) == 0 {
		b, ok := compileBranch(deskflow.Branch{Label: deskflow.LabelTrue, Condition: cfg.Condition, Expression: cfg.Expression}, "condition", add, addAll)
		if !ok {
			return &ConditionNode{}
		}
		return &ConditionNode{single: true, Branches: []Branch{b}}
	}

	cn := &ConditionNode{}
	seen := map[string]bool{}
	for i, br := range cfg.Branches {
		path := fmt.Sprintf("branches[%d]", i)
		switch {
		case br.Label == "":
			add("%s: label is required", path)
			continue
		case br.Label == deskflow.LabelOnError:
			add("%s: label %q is reserved", path, br.Label)
			continue
		case seen[br.Label]:
			add("%s: duplicate label %q", path, br.Label)
			continue
		}
		seen[br.Label] = true
		if (br.Condition == nil) == (br.Expression == "") {
			add("%s: needs exactly one of condition or expression", path)
			continue
		}
		if b, ok := compileBranch(br, path+".condition", add, addAll); ok {
			cn.Branches = append(cn.Branches, b)
		}
	}
	return cn
}

func compileBranch(br deskflow.Branch, path string, add func(string, ...any), addAll func([]deskflow.Problem)) (Branch, bool) {
	b := Branch{Label: br.Label}
	if br.Condition != nil {
		if ps := condition.Validate(*br.Condition, path); len(ps) > 0 {
			addAll(ps)
			return b, false
		}
		p, err := condition.Compile(*br.Condition)
		if err != nil {
			add("%s: %v", path, err)
			return b, false
		}
		b.predicate = p
		return b, true
	}
	e, err := condition.CompileExpression(br.Expression)
	if err != nil {
		add("%v", err)
		return b, false
	}
	b.expression = e
	return b, true
}
