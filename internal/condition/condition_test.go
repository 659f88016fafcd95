package condition

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soochol/deskflow/internal/deskflow"
)

func msgCtx(text string, sentiment *float64) *Context {
	return &Context{HasMessage: true, MessageText: text, Sentiment: sentiment}
}

func TestEvaluate_Leaves(t *testing.T) {
	ctx := msgCtx("I want a REFUND now", deskflow.Float(-0.8))
	ctx.MessageMetadata = map[string]any{"plan": "enterprise", "seats": 40.0, "vip": true}

	tests := []struct {
		name string
		cond deskflow.Condition
		want bool
	}{
		{"sentiment lt", deskflow.Leaf(deskflow.FieldSentiment, deskflow.OpLt, -0.5), true},
		{"sentiment gt", deskflow.Leaf(deskflow.FieldSentiment, deskflow.OpGt, -0.5), false},
		{"contains case-insensitive", deskflow.Leaf(deskflow.FieldMessageText, deskflow.OpContains, "refund"), true},
		{"contains case-sensitive", deskflow.Condition{Field: deskflow.FieldMessageText, Operator: deskflow.OpContains, Value: "refund", CaseSensitive: true}, false},
		{"eq case-insensitive", deskflow.Leaf(deskflow.MetadataField("plan"), deskflow.OpEq, "ENTERPRISE"), true},
		{"eq case-sensitive", deskflow.Condition{Field: deskflow.MetadataField("plan"), Operator: deskflow.OpEq, Value: "ENTERPRISE", CaseSensitive: true}, false},
		{"neq", deskflow.Leaf(deskflow.MetadataField("plan"), deskflow.OpNeq, "free"), true},
		{"numeric metadata", deskflow.Leaf(deskflow.MetadataField("seats"), deskflow.OpGt, 10), true},
		{"numeric eq", deskflow.Leaf(deskflow.MetadataField("seats"), deskflow.OpEq, 40), true},
		{"bool eq", deskflow.Leaf(deskflow.MetadataField("vip"), deskflow.OpEq, true), true},
		{"regex", deskflow.Leaf(deskflow.FieldMessageText, deskflow.OpMatchesRegex, `\bREFUND\b`), true},
		{"regex no match", deskflow.Leaf(deskflow.FieldMessageText, deskflow.OpMatchesRegex, `^cancel`), false},
		{"length", deskflow.Leaf(deskflow.FieldMessageLength, deskflow.OpGt, 5), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Compile(tt.cond)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Evaluate(ctx))
		})
	}
}

func TestEvaluate_MissingFieldsAreFalse(t *testing.T) {
	empty := &Context{}
	conds := []deskflow.Condition{
		deskflow.Leaf(deskflow.FieldSentiment, deskflow.OpLt, 0),
		deskflow.Leaf(deskflow.FieldSentiment, deskflow.OpGt, 0),
		deskflow.Leaf(deskflow.FieldSentiment, deskflow.OpEq, 0),
		deskflow.Leaf(deskflow.FieldSentiment, deskflow.OpNeq, 0),
		deskflow.Leaf(deskflow.FieldMessageText, deskflow.OpContains, "x"),
		deskflow.Leaf(deskflow.FieldConversationStatus, deskflow.OpEq, "ai_handling"),
		deskflow.Leaf(deskflow.FieldConversationAssignee, deskflow.OpNeq, "bob"),
		deskflow.Leaf(deskflow.FieldWaitMinutes, deskflow.OpGt, 1),
		deskflow.Leaf(deskflow.MetadataField("plan"), deskflow.OpMatchesRegex, ".*"),
	}
	for _, c := range conds {
		assert.False(t, Evaluate(c, empty), "%s %s on empty context", c.Field, c.Operator)
		assert.False(t, Evaluate(c, nil), "%s %s on nil context", c.Field, c.Operator)
	}
	// NOT of an absent comparison is true: the comparison itself is false.
	assert.True(t, Evaluate(deskflow.Negate(conds[0]), empty))
}

func TestEvaluate_GroupsShortCircuit(t *testing.T) {
	ctx := msgCtx("hello", deskflow.Float(0.2))
	yes := deskflow.Leaf(deskflow.FieldMessageText, deskflow.OpEq, "hello")
	no := deskflow.Leaf(deskflow.FieldMessageText, deskflow.OpEq, "bye")

	assert.True(t, Evaluate(deskflow.AllOf(yes, yes), ctx))
	assert.False(t, Evaluate(deskflow.AllOf(yes, no), ctx))
	assert.True(t, Evaluate(deskflow.AnyOf(no, yes), ctx))
	assert.False(t, Evaluate(deskflow.AnyOf(no, no), ctx))
	assert.True(t, Evaluate(deskflow.Negate(no), ctx))
	assert.True(t, Evaluate(deskflow.AnyOf(deskflow.AllOf(no, yes), deskflow.Negate(no)), ctx))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		cond deskflow.Condition
	}{
		{"not with two children", deskflow.Condition{Combinator: deskflow.Not, Children: []deskflow.Condition{
			deskflow.Leaf(deskflow.FieldMessageText, deskflow.OpEq, "a"),
			deskflow.Leaf(deskflow.FieldMessageText, deskflow.OpEq, "b"),
		}}},
		{"empty and", deskflow.AllOf()},
		{"unknown combinator", deskflow.Condition{Combinator: "XOR", Children: []deskflow.Condition{deskflow.Leaf(deskflow.FieldMessageText, deskflow.OpEq, "a")}}},
		{"unknown field", deskflow.Leaf("message.mood", deskflow.OpEq, "sad")},
		{"unknown operator", deskflow.Leaf(deskflow.FieldMessageText, "startsWith", "a")},
		{"missing value", deskflow.Leaf(deskflow.FieldMessageText, deskflow.OpEq, nil)},
		{"gt on text", deskflow.Leaf(deskflow.FieldMessageText, deskflow.OpGt, 3)},
		{"gt with text value", deskflow.Leaf(deskflow.FieldSentiment, deskflow.OpGt, "low")},
		{"bad regex", deskflow.Leaf(deskflow.FieldMessageText, deskflow.OpMatchesRegex, "(")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.cond)
			var verr *deskflow.ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.NotEmpty(t, verr.Problems)
		})
	}
}

func TestCompileRuleSet_SkipsBadRules(t *testing.T) {
	rs := CompileRuleSet([]Rule{
		{ID: "good", Condition: deskflow.Leaf(deskflow.FieldMessageText, deskflow.OpMatchesRegex, "refund|chargeback")},
		{ID: "bad", Condition: deskflow.Leaf(deskflow.FieldMessageText, deskflow.OpMatchesRegex, "[unclosed")},
		{ID: "same-pattern", Condition: deskflow.Leaf(deskflow.FieldHistoryText, deskflow.OpMatchesRegex, "refund|chargeback")},
	})
	require.Len(t, rs.Entries, 3)

	assert.Nil(t, rs.Entries[0].Err)
	require.NotNil(t, rs.Entries[1].Err)
	assert.Equal(t, "bad", rs.Entries[1].Err.RuleID)
	assert.Nil(t, rs.Entries[1].Predicate)

	// One compiled pattern per rule set.
	assert.Same(t, rs.Entries[0].Predicate.root.re, rs.Entries[2].Predicate.root.re)

	ctx := msgCtx("please refund me", nil)
	assert.True(t, rs.Entries[0].Predicate.Evaluate(ctx))
}

func TestLookup_ConversationFields(t *testing.T) {
	enq := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	conv := &deskflow.Conversation{
		ID: "c1", Status: deskflow.ConversationHuman, AssignedTo: "alice",
		MessageCount: 7, EnqueuedAt: &enq, Metadata: map[string]any{"region": "eu"},
	}
	ctx := &Context{
		Conversation: conv,
		Now:          enq.Add(45 * time.Minute),
		History: []*deskflow.Message{
			{Content: "this is broken", Sentiment: deskflow.Float(-0.6)},
			{Content: "still broken", Sentiment: deskflow.Float(-0.9)},
			{Content: "ok", Sentiment: deskflow.Float(0.1)},
		},
	}

	v, ok := ctx.Lookup(deskflow.FieldWaitMinutes)
	require.True(t, ok)
	assert.InDelta(t, 45.0, v, 0.001)

	v, ok = ctx.Lookup(deskflow.FieldNegativeHistoryCount)
	require.True(t, ok)
	assert.Equal(t, 2.0, v)

	v, ok = ctx.Lookup(deskflow.FieldHistoryText)
	require.True(t, ok)
	assert.Contains(t, v, "still broken")

	v, ok = ctx.Lookup(deskflow.MetadataField("region"))
	require.True(t, ok)
	assert.Equal(t, "eu", v)

	_, ok = ctx.Lookup(deskflow.FieldMessageText)
	assert.False(t, ok, "no message on this context")
}

func TestExpression(t *testing.T) {
	e, err := CompileExpression(`has_sentiment && sentiment < -0.5 && text contains "refund"`)
	require.NoError(t, err)

	assert.True(t, e.Evaluate(msgCtx("need a refund", deskflow.Float(-0.7))))
	assert.False(t, e.Evaluate(msgCtx("need a refund", nil)))
	assert.False(t, e.Evaluate(msgCtx("need a refund", deskflow.Float(0.3))))

	meta, err := CompileExpression(`metadata["plan"] == "enterprise"`)
	require.NoError(t, err)
	ctx := msgCtx("hi", nil)
	ctx.MessageMetadata = map[string]any{"plan": "enterprise"}
	assert.True(t, meta.Evaluate(ctx))
	assert.False(t, meta.Evaluate(nil))

	_, err = CompileExpression(`sentiment + 1`)
	assert.Error(t, err, "non-boolean expressions are rejected")
	_, err = CompileExpression(`mood == "sad"`)
	assert.Error(t, err, "unknown variables are rejected")
}
