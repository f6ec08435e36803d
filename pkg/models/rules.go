package models

import (
	"encoding/json"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Combinator joins the criteria of a move rule.
type Combinator string

const (
	CombineAnd Combinator = "AND"
	CombineOr  Combinator = "OR"
)

// Operator is a comparison applied by a move-rule criterion.
type Operator string

const (
	OpGreater      Operator = ">"
	OpLess         Operator = "<"
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
	OpEqual        Operator = "="
	OpContains     Operator = "contains"
	OpNotContains  Operator = "not_contains"
)

// ActionType is what a move rule does once its conditions hold.
type ActionType string

const (
	ActionMoveToColumn ActionType = "move_to_column"
	ActionMoveForward  ActionType = "move_forward"
	ActionMoveBackward ActionType = "move_backward"
	ActionCompleteCard ActionType = "complete_card"
)

// Move-rule criterion fields. Custom fields use CustomFieldPrefix followed by
// the field name.
const (
	FieldFunnelScore         = "funnel_score"
	FieldServiceQualityScore = "service_quality_score"
	FieldConversationStatus  = "conversation_status"
	FieldValue               = "value"
	CustomFieldPrefix        = "custom_field."
)

// RuleValue is a literal operand that may be authored either as a number or
// as a string.
type RuleValue struct {
	Number *float64
	Text   string
}

// NumberValue returns a numeric RuleValue.
func NumberValue(f float64) RuleValue {
	return RuleValue{Number: &f}
}

// TextValue returns a string RuleValue.
func TextValue(s string) RuleValue {
	return RuleValue{Text: s}
}

// IsZero reports whether no operand was authored.
func (v RuleValue) IsZero() bool {
	return v.Number == nil && v.Text == ""
}

// Float returns the operand as a number. Text operands that parse as a
// number are accepted.
func (v RuleValue) Float() (float64, bool) {
	if v.Number != nil {
		return *v.Number, true
	}
	f, err := strconv.ParseFloat(v.Text, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// String renders the operand as authored.
func (v RuleValue) String() string {
	if v.Number != nil {
		return strconv.FormatFloat(*v.Number, 'f', -1, 64)
	}
	return v.Text
}

func (v RuleValue) MarshalJSON() ([]byte, error) {
	if v.Number != nil {
		return json.Marshal(*v.Number)
	}
	return json.Marshal(v.Text)
}

func (v *RuleValue) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decoding rule value: %w", err)
	}
	switch x := raw.(type) {
	case nil:
		*v = RuleValue{}
	case float64:
		*v = NumberValue(x)
	case string:
		*v = TextValue(x)
	case bool:
		*v = TextValue(strconv.FormatBool(x))
	default:
		return fmt.Errorf("rule value must be a number or a string, got %s", string(data))
	}
	return nil
}

func (v RuleValue) MarshalYAML() (any, error) {
	if v.Number != nil {
		return *v.Number, nil
	}
	return v.Text, nil
}

func (v *RuleValue) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("rule value at line %d must be a scalar", node.Line)
	}
	switch node.Tag {
	case "!!int", "!!float":
		f, err := strconv.ParseFloat(node.Value, 64)
		if err != nil {
			return fmt.Errorf("rule value at line %d: %w", node.Line, err)
		}
		*v = NumberValue(f)
	case "!!null":
		*v = RuleValue{}
	default:
		*v = TextValue(node.Value)
	}
	return nil
}

// Criterion compares one analysis field against a literal.
type Criterion struct {
	Field    string    `json:"field" yaml:"field"`
	Operator Operator  `json:"operator" yaml:"operator"`
	Value    RuleValue `json:"value" yaml:"value"`
}

// Conditions is the boolean condition block of a move rule.
type Conditions struct {
	Operator Combinator  `json:"operator" yaml:"operator"`
	Criteria []Criterion `json:"criteria" yaml:"criteria"`
}

// RuleAction is what fires when a move rule's conditions hold. Target holds a
// column id for move_to_column and a step count for move_forward and
// move_backward.
type RuleAction struct {
	Type             ActionType     `json:"type" yaml:"type"`
	Target           RuleValue      `json:"target,omitempty" yaml:"target,omitempty"`
	Notify           bool           `json:"notify,omitempty" yaml:"notify,omitempty"`
	CompletionType   CompletionType `json:"completion_type,omitempty" yaml:"completion_type,omitempty"`
	CompletionReason string         `json:"completion_reason,omitempty" yaml:"completion_reason,omitempty"`
}

// MoveRule is a user-authored rule evaluated against every analysis of a
// pipeline's cards. Lower Priority values are evaluated first.
type MoveRule struct {
	ID         string     `json:"id" yaml:"id"`
	Name       string     `json:"name" yaml:"name"`
	Enabled    bool       `json:"enabled" yaml:"enabled"`
	Priority   int        `json:"priority" yaml:"priority"`
	Conditions Conditions `json:"conditions" yaml:"conditions"`
	Action     RuleAction `json:"action" yaml:"action"`
}

// MoveRuleSet is the stored document holding a pipeline's move rules.
type MoveRuleSet struct {
	Rules []MoveRule `json:"rules" yaml:"rules"`
}
