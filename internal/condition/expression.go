package condition

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/soochol/deskflow/internal/deskflow"
)

// Env is the variable set visible to expressions, e.g.
//
//	sentiment < -0.5 && has_sentiment
//	text contains "refund" || metadata["plan"] == "enterprise"
type Env struct {
	Text          string         `expr:"text"`
	Length        int            `expr:"length"`
	Sentiment     float64        `expr:"sentiment"`
	HasSentiment  bool           `expr:"has_sentiment"`
	Status        string         `expr:"status"`
	AssignedTo    string         `expr:"assigned_to"`
	MessageCount  int            `expr:"message_count"`
	WaitMinutes   float64        `expr:"wait_minutes"`
	History       string         `expr:"history"`
	NegativeCount int            `expr:"negative_count"`
	Metadata      map[string]any `expr:"metadata"`
}

// Expression is a compiled boolean expression.
type Expression struct {
	source  string
	program *vm.Program
}

// CompileExpression type-checks src against Env and requires a boolean
// result, so bad expressions are rejected when a workflow is saved.
func CompileExpression(src string) (*Expression, error) {
	program, err := expr.Compile(src, expr.Env(Env{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile expression %q: %w", src, err)
	}
	return &Expression{source: src, program: program}, nil
}

// String returns the source text.
func (e *Expression) String() string { return e.source }

// Evaluate runs the expression. Runtime errors (e.g. a nil metadata entry
// in arithmetic) evaluate to false.
func (e *Expression) Evaluate(ctx *Context) bool {
	out, err := expr.Run(e.program, envFor(ctx))
	if err != nil {
		return false
	}
	b, _ := out.(bool)
	return b
}

func envFor(ctx *Context) Env {
	env := Env{Metadata: map[string]any{}}
	if ctx == nil {
		return env
	}
	env.Text = ctx.MessageText
	if v, ok := ctx.Lookup(deskflow.FieldMessageLength); ok {
		env.Length = int(v.(float64))
	}
	if ctx.Sentiment != nil {
		env.Sentiment = *ctx.Sentiment
		env.HasSentiment = true
	}
	if c := ctx.Conversation; c != nil {
		env.Status = string(c.Status)
		env.AssignedTo = c.AssignedTo
		env.MessageCount = c.MessageCount
		for k, v := range c.Metadata {
			env.Metadata[k] = v
		}
	}
	if v, ok := ctx.Lookup(deskflow.FieldWaitMinutes); ok {
		env.WaitMinutes = v.(float64)
	}
	env.History = ctx.historyText()
	env.NegativeCount = ctx.negativeCount()
	// Message metadata wins over conversation metadata.
	for k, v := range ctx.MessageMetadata {
		env.Metadata[k] = v
	}
	return env
}
