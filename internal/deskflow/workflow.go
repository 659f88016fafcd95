package deskflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// NodeType is the closed set of workflow node kinds.
type NodeType string

const (
	NodeTypeTrigger   NodeType = "trigger"
	NodeTypeCondition NodeType = "condition"
	NodeTypeAction    NodeType = "action"
	NodeTypeDelay     NodeType = "delay"
)

// Valid reports whether t is one of the known node types.
func (t NodeType) Valid() bool {
	switch t {
	case NodeTypeTrigger, NodeTypeCondition, NodeTypeAction, NodeTypeDelay:
		return true
	}
	return false
}

// Reserved edge labels.
const (
	// LabelOnError marks the edge followed when an action node fails.
	LabelOnError = "onError"
	LabelTrue    = "true"
	LabelFalse   = "false"
)

// WorkflowDefinition is a tenant-owned automation graph. It is replaced as a
// whole on every edit; the engine never patches individual nodes.
type WorkflowDefinition struct {
	ID          string           `json:"id" yaml:"id"`
	TenantID    string           `json:"tenant_id" yaml:"tenant_id"`
	Name        string           `json:"name" yaml:"name"`
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
	Version     int              `json:"version" yaml:"version"`
	Active      bool             `json:"active" yaml:"active"`
	Nodes       []NodeDefinition `json:"nodes" yaml:"nodes"`
	Edges       []EdgeDefinition `json:"edges" yaml:"edges"`
	CreatedAt   time.Time        `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time        `json:"updated_at" yaml:"-"`
}

// NodeDefinition is the wire form of a node. Config is decoded into the
// typed payload for Type during validation (see DecodeNodeConfig).
type NodeDefinition struct {
	ID     string         `json:"id" yaml:"id"`
	Type   NodeType       `json:"type" yaml:"type"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// EdgeDefinition connects two nodes. Label selects a branch out of a
// condition node, or LabelOnError for failure routing out of an action.
type EdgeDefinition struct {
	From  string `json:"from" yaml:"from"`
	To    string `json:"to" yaml:"to"`
	Label string `json:"label,omitempty" yaml:"label,omitempty"`
}

// Key identifies the edge in validation problems.
func (e EdgeDefinition) Key() string {
	if e.Label == "" {
		return e.From + "->" + e.To
	}
	return e.From + "->" + e.To + "[" + e.Label + "]"
}

// EventKind classifies the events a trigger node binds to.
type EventKind string

const (
	EventMessageReceived     EventKind = "message.received"
	EventConversationCreated EventKind = "conversation.created"
	EventStatusChanged       EventKind = "conversation.status_changed"
)

// Valid reports whether k is a known event kind.
func (k EventKind) Valid() bool {
	switch k {
	case EventMessageReceived, EventConversationCreated, EventStatusChanged:
		return true
	}
	return false
}

// TriggerConfig binds a workflow to an event kind.
type TriggerConfig struct {
	Event EventKind `json:"event"`
	// Condition optionally narrows which events of that kind start a run.
	Condition *Condition `json:"condition,omitempty"`
}

// Branch is one labeled arm of a multi-way condition node.
type Branch struct {
	Label      string     `json:"label"`
	Condition  *Condition `json:"condition,omitempty"`
	Expression string     `json:"expression,omitempty"`
}

// ConditionConfig holds exactly one of Condition, Expression or Branches.
// The single forms select the "true" or "false" edge label.
type ConditionConfig struct {
	Condition  *Condition `json:"condition,omitempty"`
	Expression string     `json:"expression,omitempty"`
	Branches   []Branch   `json:"branches,omitempty"`
}

// ActionKind is the closed set of side-effecting actions.
type ActionKind string

const (
	ActionSendMessage        ActionKind = "send_message"
	ActionEscalate           ActionKind = "escalate"
	ActionUpdateConversation ActionKind = "update_conversation"
	ActionNotify             ActionKind = "notify"
	ActionCallIntegration    ActionKind = "call_integration"
)

// Valid reports whether k is a known action kind.
func (k ActionKind) Valid() bool {
	switch k {
	case ActionSendMessage, ActionEscalate, ActionUpdateConversation, ActionNotify, ActionCallIntegration:
		return true
	}
	return false
}

// ActionConfig describes one action node.
type ActionConfig struct {
	Action ActionKind `json:"action"`
	// Timeout bounds a single invocation; zero means the engine default.
	Timeout Duration `json:"timeout,omitempty"`
	// ContinueOnError marks a failure of this node as ignorable.
	ContinueOnError bool           `json:"continue_on_error,omitempty"`
	Params          map[string]any `json:"params,omitempty"`
}

// DelayConfig suspends the run for Duration.
type DelayConfig struct {
	Duration Duration `json:"duration"`
}

// Duration is a time.Duration that marshals as a Go duration string ("5m").
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case float64:
		*d = Duration(time.Duration(val) * time.Second)
		return nil
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", val, err)
		}
		*d = Duration(parsed)
		return nil
	case nil:
		*d = 0
		return nil
	default:
		return fmt.Errorf("invalid duration %v", v)
	}
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// DecodeNodeConfig decodes the untyped config map of a node into out
// (a pointer to one of the typed config structs). Unknown keys are rejected.
func DecodeNodeConfig(cfg map[string]any, out any) error {
	if cfg == nil {
		cfg = map[string]any{}
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}
