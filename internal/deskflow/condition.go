package deskflow

import "strings"

// Operator is a leaf comparison.
type Operator string

const (
	OpEq           Operator = "eq"
	OpNeq          Operator = "neq"
	OpGt           Operator = "gt"
	OpLt           Operator = "lt"
	OpContains     Operator = "contains"
	OpMatchesRegex Operator = "matchesRegex"
)

// Valid reports whether o is a known operator.
func (o Operator) Valid() bool {
	switch o {
	case OpEq, OpNeq, OpGt, OpLt, OpContains, OpMatchesRegex:
		return true
	}
	return false
}

// Combinator joins the children of a group.
type Combinator string

const (
	And Combinator = "AND"
	Or  Combinator = "OR"
	Not Combinator = "NOT"
)

// Valid reports whether c is a known combinator.
func (c Combinator) Valid() bool {
	switch c {
	case And, Or, Not:
		return true
	}
	return false
}

// Condition is a node of a condition tree. It is a leaf when Combinator is
// empty (Field, Operator, Value) and a group otherwise (Combinator, Children).
// NOT groups carry exactly one child.
type Condition struct {
	Field         Field    `json:"field,omitempty" yaml:"field,omitempty"`
	Operator      Operator `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value         any      `json:"value,omitempty" yaml:"value,omitempty"`
	CaseSensitive bool     `json:"case_sensitive,omitempty" yaml:"case_sensitive,omitempty"`

	Combinator Combinator  `json:"combinator,omitempty" yaml:"combinator,omitempty"`
	Children   []Condition `json:"children,omitempty" yaml:"children,omitempty"`
}

// IsGroup reports whether c is a group node.
func (c Condition) IsGroup() bool { return c.Combinator != "" }

// Leaf builds a leaf condition.
func Leaf(field Field, op Operator, value any) Condition {
	return Condition{Field: field, Operator: op, Value: value}
}

// AllOf builds an AND group.
func AllOf(children ...Condition) Condition {
	return Condition{Combinator: And, Children: children}
}

// AnyOf builds an OR group.
func AnyOf(children ...Condition) Condition {
	return Condition{Combinator: Or, Children: children}
}

// Negate builds a NOT group.
func Negate(child Condition) Condition {
	return Condition{Combinator: Not, Children: []Condition{child}}
}

// Field names an addressable value of the evaluation context. Besides the
// fixed fields below, "metadata.<key>" addresses a message metadata entry.
type Field string

const (
	FieldMessageText          Field = "message.text"
	FieldMessageLength        Field = "message.length"
	FieldSentiment            Field = "message.sentiment"
	FieldConversationStatus   Field = "conversation.status"
	FieldConversationAssignee Field = "conversation.assigned_to"
	FieldMessageCount         Field = "conversation.message_count"
	FieldWaitMinutes          Field = "conversation.wait_minutes"
	FieldHistoryText          Field = "history.text"
	FieldNegativeHistoryCount Field = "history.negative_count"

	metadataPrefix = "metadata."
)

// FieldKind is the value type a field resolves to.
type FieldKind int

const (
	KindUnknown FieldKind = iota
	KindText
	KindNumber
	KindAny
)

var fieldKinds = map[Field]FieldKind{
	FieldMessageText:          KindText,
	FieldMessageLength:        KindNumber,
	FieldSentiment:            KindNumber,
	FieldConversationStatus:   KindText,
	FieldConversationAssignee: KindText,
	FieldMessageCount:         KindNumber,
	FieldWaitMinutes:          KindNumber,
	FieldHistoryText:          KindText,
	FieldNegativeHistoryCount: KindNumber,
}

// Kind returns the value type of f, KindUnknown for unaddressable fields.
func (f Field) Kind() FieldKind {
	if k, ok := fieldKinds[f]; ok {
		return k
	}
	if key, ok := f.MetadataKey(); ok && key != "" {
		return KindAny
	}
	return KindUnknown
}

// MetadataKey returns the metadata key when f addresses metadata.
func (f Field) MetadataKey() (string, bool) {
	if !strings.HasPrefix(string(f), metadataPrefix) {
		return "", false
	}
	return strings.TrimPrefix(string(f), metadataPrefix), true
}

// MetadataField addresses a metadata entry.
func MetadataField(key string) Field { return Field(metadataPrefix + key) }
