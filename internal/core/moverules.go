package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/valter-silva-au/ai-kanban/pkg/models"
	"go.uber.org/zap"
)

// FinalizedColumnNames are the column names complete_card moves a card to,
// compared case-insensitively.
var FinalizedColumnNames = []string{"finalizados", "finalized"}

// RuleValidationError lists every problem found in a move-rule set.
type RuleValidationError struct {
	Problems []string
}

func (e *RuleValidationError) Error() string {
	return fmt.Sprintf("move rule validation failed:\n  - %s", strings.Join(e.Problems, "\n  - "))
}

type fieldKind int

const (
	fieldFunnelScore fieldKind = iota + 1
	fieldServiceQualityScore
	fieldConversationStatus
	fieldValue
	fieldCustom
)

type fieldRef struct {
	kind fieldKind
	name string
}

func parseField(s string) (fieldRef, error) {
	switch s {
	case models.FieldFunnelScore:
		return fieldRef{kind: fieldFunnelScore}, nil
	case models.FieldServiceQualityScore:
		return fieldRef{kind: fieldServiceQualityScore}, nil
	case models.FieldConversationStatus:
		return fieldRef{kind: fieldConversationStatus}, nil
	case models.FieldValue:
		return fieldRef{kind: fieldValue}, nil
	}
	if name, ok := strings.CutPrefix(s, models.CustomFieldPrefix); ok && strings.TrimSpace(name) != "" {
		return fieldRef{kind: fieldCustom, name: name}, nil
	}
	return fieldRef{}, fmt.Errorf("unknown field %q", s)
}

func isNumericOperator(op models.Operator) bool {
	switch op {
	case models.OpGreater, models.OpLess, models.OpGreaterEqual, models.OpLessEqual:
		return true
	}
	return false
}

func isKnownOperator(op models.Operator) bool {
	switch op {
	case models.OpEqual, models.OpContains, models.OpNotContains:
		return true
	}
	return isNumericOperator(op)
}

type compiledCriterion struct {
	field fieldRef
	op    models.Operator
	value models.RuleValue
}

type compiledAction struct {
	typ        models.ActionType
	columnID   string
	steps      int
	notify     bool
	completion models.CompletionType
	reason     string
}

type compiledRule struct {
	id         string
	name       string
	priority   int
	combinator models.Combinator
	criteria   []compiledCriterion
	action     compiledAction
}

// compileMoveRule checks a rule and converts it to its evaluated form. The
// returned problems are prefixed with the rule's identity.
func compileMoveRule(r models.MoveRule) (compiledRule, []string) {
	label := r.ID
	if r.Name != "" {
		label = fmt.Sprintf("%s (%s)", r.ID, r.Name)
	}
	var problems []string
	addf := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf("rule %s: ", label)+fmt.Sprintf(format, args...))
	}

	cr := compiledRule{id: r.ID, name: r.Name, priority: r.Priority}

	switch models.Combinator(strings.ToUpper(string(r.Conditions.Operator))) {
	case models.CombineAnd, "":
		cr.combinator = models.CombineAnd
	case models.CombineOr:
		cr.combinator = models.CombineOr
	default:
		addf("unknown condition operator %q, must be AND or OR", r.Conditions.Operator)
	}

	if len(r.Conditions.Criteria) == 0 {
		addf("at least one criterion is required")
	}
	for i, c := range r.Conditions.Criteria {
		ref, err := parseField(c.Field)
		if err != nil {
			addf("criterion %d: %v", i+1, err)
			continue
		}
		if !isKnownOperator(c.Operator) {
			addf("criterion %d: unknown operator %q", i+1, c.Operator)
			continue
		}
		if isNumericOperator(c.Operator) {
			if _, ok := c.Value.Float(); !ok {
				addf("criterion %d: operator %s needs a numeric value, got %q", i+1, c.Operator, c.Value.String())
				continue
			}
		}
		cr.criteria = append(cr.criteria, compiledCriterion{field: ref, op: c.Operator, value: c.Value})
	}

	act := compiledAction{typ: r.Action.Type, notify: r.Action.Notify}
	switch r.Action.Type {
	case models.ActionMoveToColumn:
		act.columnID = strings.TrimSpace(r.Action.Target.String())
		if act.columnID == "" {
			addf("move_to_column needs a target column id")
		}
	case models.ActionMoveForward, models.ActionMoveBackward:
		f, ok := r.Action.Target.Float()
		if !ok || math.IsInf(f, 0) || f < 0 || f != math.Trunc(f) {
			addf("%s needs a finite non-negative whole step count, got %q", r.Action.Type, r.Action.Target.String())
			break
		}
		// Any count past the board's width clamps the same way.
		act.steps = maxMoveSteps
		if f < maxMoveSteps {
			act.steps = int(f)
		}
	case models.ActionCompleteCard:
		act.completion = r.Action.CompletionType
		switch act.completion {
		case "":
			act.completion = models.CompletionCompleted
		case models.CompletionWon, models.CompletionLost, models.CompletionCompleted:
		default:
			addf("unknown completion type %q", r.Action.CompletionType)
		}
		act.reason = r.Action.CompletionReason
	default:
		addf("unknown action type %q", r.Action.Type)
	}
	cr.action = act

	return cr, problems
}

// ValidateMoveRules checks every rule and reports all problems at once.
func ValidateMoveRules(rules []models.MoveRule) error {
	var problems []string
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if r.ID == "" {
			problems = append(problems, fmt.Sprintf("rule %q: id must not be empty", r.Name))
		} else if seen[r.ID] {
			problems = append(problems, fmt.Sprintf("rule %s: duplicate id", r.ID))
		}
		seen[r.ID] = true
		_, p := compileMoveRule(r)
		problems = append(problems, p...)
	}
	if len(problems) > 0 {
		return &RuleValidationError{Problems: problems}
	}
	return nil
}

// ParseMoveRuleSet decodes a stored rule-set document and validates it.
// Unknown JSON keys are rejected so typos surface when a rule is saved.
func ParseMoveRuleSet(data []byte) (*models.MoveRuleSet, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var set models.MoveRuleSet
	if err := dec.Decode(&set); err != nil {
		return nil, fmt.Errorf("decoding move rule set: %w", err)
	}
	if err := ValidateMoveRules(set.Rules); err != nil {
		return nil, err
	}
	return &set, nil
}

// operand is a resolved left-hand value. present is false for fields the
// analysis does not carry.
type operand struct {
	present bool
	num     float64
	isNum   bool
	text    string
}

func numberOperand(f float64) operand {
	return operand{present: true, num: f, isNum: true, text: strconv.FormatFloat(f, 'f', -1, 64)}
}

func textOperand(s string) operand {
	op := operand{present: true, text: s}
	if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
		op.num, op.isNum = f, true
	}
	return op
}

func anyOperand(v any) operand {
	switch x := v.(type) {
	case nil:
		return operand{}
	case float64:
		return numberOperand(x)
	case float32:
		return numberOperand(float64(x))
	case int:
		return numberOperand(float64(x))
	case int64:
		return numberOperand(float64(x))
	case json.Number:
		return textOperand(x.String())
	case string:
		return textOperand(x)
	case bool:
		return operand{present: true, text: strconv.FormatBool(x)}
	default:
		return operand{present: true, text: fmt.Sprint(x)}
	}
}

func resolveField(ref fieldRef, a *models.AnalysisResult) operand {
	if a == nil {
		return operand{}
	}
	switch ref.kind {
	case fieldFunnelScore:
		if a.FunnelAnalysis == nil {
			return operand{}
		}
		return numberOperand(a.FunnelAnalysis.Score)
	case fieldServiceQualityScore:
		if a.ServiceQuality == nil {
			return operand{}
		}
		return numberOperand(a.ServiceQuality.Score)
	case fieldConversationStatus:
		if a.ConversationStatus == "" {
			return operand{}
		}
		return textOperand(a.ConversationStatus)
	case fieldValue:
		if a.Value == nil {
			return operand{}
		}
		return numberOperand(*a.Value)
	case fieldCustom:
		v, ok := a.CustomFields[ref.name]
		if !ok {
			return operand{}
		}
		return anyOperand(v)
	}
	return operand{}
}

// holds evaluates one criterion. Missing values and type mismatches are
// false, never errors.
func (c compiledCriterion) holds(a *models.AnalysisResult) bool {
	left := resolveField(c.field, a)
	if !left.present {
		return false
	}
	right, rightIsNum := c.value.Float()

	switch c.op {
	case models.OpGreater, models.OpLess, models.OpGreaterEqual, models.OpLessEqual:
		if !left.isNum || !rightIsNum {
			return false
		}
		switch c.op {
		case models.OpGreater:
			return left.num > right
		case models.OpLess:
			return left.num < right
		case models.OpGreaterEqual:
			return left.num >= right
		default:
			return left.num <= right
		}
	case models.OpEqual:
		if left.isNum && rightIsNum {
			return left.num == right
		}
		return strings.EqualFold(strings.TrimSpace(left.text), strings.TrimSpace(c.value.String()))
	case models.OpContains:
		return strings.Contains(strings.ToLower(left.text), strings.ToLower(c.value.String()))
	case models.OpNotContains:
		return !strings.Contains(strings.ToLower(left.text), strings.ToLower(c.value.String()))
	}
	return false
}

func (r compiledRule) satisfied(a *models.AnalysisResult) bool {
	if len(r.criteria) == 0 {
		return false
	}
	if r.combinator == models.CombineOr {
		for _, c := range r.criteria {
			if c.holds(a) {
				return true
			}
		}
		return false
	}
	for _, c := range r.criteria {
		if !c.holds(a) {
			return false
		}
	}
	return true
}

// Completion describes the completion stamp produced by complete_card.
type Completion struct {
	Type   models.CompletionType `json:"type"`
	Reason string                `json:"reason,omitempty"`
}

// MoveRuleMatch is the outcome of the first move rule whose conditions held.
// ColumnID is empty when the action could not be resolved to a column.
type MoveRuleMatch struct {
	RuleID     string
	RuleName   string
	Action     models.ActionType
	ColumnID   string
	Notify     bool
	Completion *Completion
}

// maxMoveSteps bounds relative moves so pos+delta cannot overflow.
const maxMoveSteps = math.MaxInt32

// ClampColumnIndex moves pos by delta and clamps the result to [0, n-1].
func ClampColumnIndex(pos, delta, n int) int {
	if n <= 0 {
		return 0
	}
	if delta >= n {
		return n - 1
	}
	if delta <= -n {
		return 0
	}
	idx := pos + delta
	if idx < 0 {
		return 0
	}
	if idx > n-1 {
		return n - 1
	}
	return idx
}

// EvaluateMoveRules runs the board's enabled move rules in ascending priority
// and returns the first one whose conditions hold. Invalid rules are skipped.
// At most one rule fires per call.
func EvaluateMoveRules(board *models.Board, analysis *models.AnalysisResult, currentColumnID string, logger *zap.Logger) (MoveRuleMatch, bool) {
	if board == nil || analysis == nil {
		return MoveRuleMatch{}, false
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	enabled := make([]models.MoveRule, 0, len(board.MoveRules))
	for _, r := range board.MoveRules {
		if r.Enabled {
			enabled = append(enabled, r)
		}
	}
	sort.SliceStable(enabled, func(i, j int) bool { return enabled[i].Priority < enabled[j].Priority })

	for _, r := range enabled {
		rule, problems := compileMoveRule(r)
		if len(problems) > 0 {
			logger.Warn("skipping invalid move rule",
				zap.String("rule_id", r.ID),
				zap.Strings("problems", problems))
			continue
		}
		if !rule.satisfied(analysis) {
			continue
		}
		return resolveMoveAction(board, rule, analysis, currentColumnID, logger), true
	}
	return MoveRuleMatch{}, false
}

func resolveMoveAction(board *models.Board, rule compiledRule, analysis *models.AnalysisResult, currentColumnID string, logger *zap.Logger) MoveRuleMatch {
	m := MoveRuleMatch{
		RuleID:   rule.id,
		RuleName: rule.name,
		Action:   rule.action.typ,
		Notify:   rule.action.notify,
	}

	switch rule.action.typ {
	case models.ActionMoveToColumn:
		if board.ColumnByID(rule.action.columnID) == nil {
			logger.Warn("move rule targets unknown column",
				zap.String("rule_id", rule.id),
				zap.String("column_id", rule.action.columnID))
			return m
		}
		m.ColumnID = rule.action.columnID
	case models.ActionMoveForward, models.ActionMoveBackward:
		pos := board.IndexOf(currentColumnID)
		if pos < 0 {
			logger.Warn("card is not in a column of its board, ignoring relative move",
				zap.String("rule_id", rule.id),
				zap.String("column_id", currentColumnID))
			return m
		}
		delta := rule.action.steps
		if rule.action.typ == models.ActionMoveBackward {
			delta = -delta
		}
		m.ColumnID = board.Columns[ClampColumnIndex(pos, delta, len(board.Columns))].ID
	case models.ActionCompleteCard:
		reason := rule.action.reason
		if reason == "" {
			switch rule.action.completion {
			case models.CompletionWon:
				reason = analysis.WinConfirmation
			case models.CompletionLost:
				reason = analysis.LossReason
			}
		}
		m.Completion = &Completion{Type: rule.action.completion, Reason: reason}
		if col := board.ColumnByNameFold(FinalizedColumnNames...); col != nil {
			m.ColumnID = col.ID
		} else {
			logger.Warn("no finalized column on board, completing card in place",
				zap.String("rule_id", rule.id),
				zap.String("pipeline_id", board.PipelineID))
		}
	}
	return m
}
