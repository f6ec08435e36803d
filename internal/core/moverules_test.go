package core

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/valter-silva-au/ai-kanban/pkg/models"
)

func scoreRule(id string, priority int, op models.Operator, value float64, action models.RuleAction) models.MoveRule {
	return models.MoveRule{
		ID: id, Name: id, Enabled: true, Priority: priority,
		Conditions: models.Conditions{
			Operator: models.CombineAnd,
			Criteria: []models.Criterion{{Field: models.FieldFunnelScore, Operator: op, Value: models.NumberValue(value)}},
		},
		Action: action,
	}
}

func TestEvaluateMoveRules_ForwardOneStep(t *testing.T) {
	board := salesBoard()
	board.MoveRules = []models.MoveRule{
		scoreRule("hot", 0, models.OpGreater, 70, models.RuleAction{Type: models.ActionMoveForward, Target: models.NumberValue(1)}),
	}

	m, ok := EvaluateMoveRules(board, baseAnalysis("venda", 85), "col-new", nil)
	if !ok {
		t.Fatal("expected rule to fire")
	}
	if m.ColumnID != "col-progress" {
		t.Errorf("ColumnID = %q, want col-progress", m.ColumnID)
	}
}

func TestEvaluateMoveRules_ClampsAtBoardEdges(t *testing.T) {
	board := salesBoard()
	board.MoveRules = []models.MoveRule{
		scoreRule("far", 0, models.OpGreater, 0, models.RuleAction{Type: models.ActionMoveForward, Target: models.NumberValue(99)}),
	}
	m, _ := EvaluateMoveRules(board, baseAnalysis("venda", 50), "col-done", nil)
	if m.ColumnID != "col-done" {
		t.Errorf("forward 99 from last column = %q, want col-done", m.ColumnID)
	}

	board.MoveRules[0].Action = models.RuleAction{Type: models.ActionMoveBackward, Target: models.NumberValue(5)}
	m, _ = EvaluateMoveRules(board, baseAnalysis("venda", 50), "col-progress", nil)
	if m.ColumnID != "col-new" {
		t.Errorf("backward 5 = %q, want col-new", m.ColumnID)
	}
}

func TestEvaluateMoveRules_FirstByPriorityWins(t *testing.T) {
	board := salesBoard()
	board.MoveRules = []models.MoveRule{
		scoreRule("second", 2, models.OpGreater, 10, models.RuleAction{Type: models.ActionMoveToColumn, Target: models.TextValue("col-done")}),
		scoreRule("first", 1, models.OpGreater, 10, models.RuleAction{Type: models.ActionMoveToColumn, Target: models.TextValue("col-progress")}),
	}
	m, ok := EvaluateMoveRules(board, baseAnalysis("venda", 50), "col-new", nil)
	if !ok || m.RuleID != "first" || m.ColumnID != "col-progress" {
		t.Errorf("got %+v, want rule first", m)
	}
}

func TestEvaluateMoveRules_DisabledAndInvalidSkipped(t *testing.T) {
	board := salesBoard()
	disabled := scoreRule("disabled", 0, models.OpGreater, 0, models.RuleAction{Type: models.ActionMoveToColumn, Target: models.TextValue("col-done")})
	disabled.Enabled = false
	invalid := scoreRule("invalid", 1, "~=", 0, models.RuleAction{Type: models.ActionMoveToColumn, Target: models.TextValue("col-done")})
	valid := scoreRule("valid", 2, models.OpGreater, 0, models.RuleAction{Type: models.ActionMoveToColumn, Target: models.TextValue("col-progress")})
	board.MoveRules = []models.MoveRule{disabled, invalid, valid}

	m, ok := EvaluateMoveRules(board, baseAnalysis("venda", 50), "col-new", nil)
	if !ok || m.RuleID != "valid" {
		t.Errorf("got %+v, want valid", m)
	}
}

func TestEvaluateMoveRules_UnknownTargetColumnStopsWithoutMove(t *testing.T) {
	board := salesBoard()
	board.MoveRules = []models.MoveRule{
		scoreRule("ghost", 0, models.OpGreater, 0, models.RuleAction{Type: models.ActionMoveToColumn, Target: models.TextValue("col-missing")}),
		scoreRule("later", 1, models.OpGreater, 0, models.RuleAction{Type: models.ActionMoveToColumn, Target: models.TextValue("col-done")}),
	}
	m, ok := EvaluateMoveRules(board, baseAnalysis("venda", 50), "col-new", nil)
	if !ok || m.RuleID != "ghost" {
		t.Fatalf("got %+v/%v, want ghost to fire", m, ok)
	}
	if m.ColumnID != "" {
		t.Errorf("ColumnID = %q, want empty", m.ColumnID)
	}
}

func TestEvaluateMoveRules_CompleteCard(t *testing.T) {
	board := salesBoard()
	rule := models.MoveRule{
		ID: "close", Name: "close won deals", Enabled: true,
		Conditions: models.Conditions{Criteria: []models.Criterion{
			{Field: models.FieldConversationStatus, Operator: models.OpEqual, Value: models.TextValue("WON")},
		}},
		Action: models.RuleAction{Type: models.ActionCompleteCard, CompletionType: models.CompletionWon, Notify: true},
	}
	board.MoveRules = []models.MoveRule{rule}
	a := baseAnalysis("venda", 50)
	a.ConversationStatus = "won"
	a.WinConfirmation = "contract signed"

	m, ok := EvaluateMoveRules(board, a, "col-progress", nil)
	if !ok {
		t.Fatal("expected complete_card to fire")
	}
	if m.ColumnID != "col-done" {
		t.Errorf("ColumnID = %q, want col-done", m.ColumnID)
	}
	if m.Completion == nil || m.Completion.Type != models.CompletionWon || m.Completion.Reason != "contract signed" {
		t.Errorf("Completion = %+v", m.Completion)
	}
	if !m.Notify {
		t.Error("Notify = false, want true")
	}

	board.Columns = board.Columns[:2]
	m, _ = EvaluateMoveRules(board, a, "col-progress", nil)
	if m.ColumnID != "" || m.Completion == nil {
		t.Errorf("without finalized column got %+v, want completion in place", m)
	}
}

func TestCriterionHolds(t *testing.T) {
	a := baseAnalysis("venda", 72)
	a.ConversationStatus = "Waiting for Payment"
	a.Value = ptr(1500.0)
	a.CustomFields = map[string]any{"plan": "Enterprise", "seats": 12.0, "seats_text": "12"}

	tests := []struct {
		field string
		op    models.Operator
		value models.RuleValue
		want  bool
	}{
		{models.FieldFunnelScore, models.OpGreater, models.NumberValue(70), true},
		{models.FieldFunnelScore, models.OpGreaterEqual, models.NumberValue(72), true},
		{models.FieldFunnelScore, models.OpLess, models.NumberValue(72), false},
		{models.FieldFunnelScore, models.OpLessEqual, models.TextValue("72"), true},
		{models.FieldFunnelScore, models.OpEqual, models.NumberValue(72), true},
		{models.FieldServiceQualityScore, models.OpEqual, models.TextValue("70"), true},
		{models.FieldValue, models.OpGreater, models.NumberValue(1000), true},
		{models.FieldConversationStatus, models.OpContains, models.TextValue("payment"), true},
		{models.FieldConversationStatus, models.OpNotContains, models.TextValue("PAYMENT"), false},
		{models.FieldConversationStatus, models.OpEqual, models.TextValue("waiting for payment"), true},
		{models.FieldConversationStatus, models.OpGreater, models.NumberValue(1), false},
		{"custom_field.plan", models.OpEqual, models.TextValue("enterprise"), true},
		{"custom_field.seats", models.OpGreaterEqual, models.NumberValue(10), true},
		{"custom_field.seats_text", models.OpEqual, models.NumberValue(12), true},
		{"custom_field.missing", models.OpEqual, models.TextValue(""), false},
		{"custom_field.missing", models.OpNotContains, models.TextValue("x"), false},
	}
	for _, tt := range tests {
		t.Run(string(tt.op)+" "+tt.field, func(t *testing.T) {
			ref, err := parseField(tt.field)
			if err != nil {
				t.Fatalf("parseField(%q): %v", tt.field, err)
			}
			c := compiledCriterion{field: ref, op: tt.op, value: tt.value}
			if got := c.holds(a); got != tt.want {
				t.Errorf("holds = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCriteriaCombinators(t *testing.T) {
	a := baseAnalysis("venda", 50)
	rule := models.MoveRule{
		ID: "r", Enabled: true,
		Conditions: models.Conditions{
			Operator: models.CombineOr,
			Criteria: []models.Criterion{
				{Field: models.FieldFunnelScore, Operator: models.OpGreater, Value: models.NumberValue(90)},
				{Field: models.FieldServiceQualityScore, Operator: models.OpGreater, Value: models.NumberValue(60)},
			},
		},
		Action: models.RuleAction{Type: models.ActionMoveForward, Target: models.NumberValue(1)},
	}
	cr, problems := compileMoveRule(rule)
	if len(problems) > 0 {
		t.Fatalf("unexpected problems: %v", problems)
	}
	if !cr.satisfied(a) {
		t.Error("OR: expected satisfied")
	}

	rule.Conditions.Operator = "and"
	cr, _ = compileMoveRule(rule)
	if cr.satisfied(a) {
		t.Error("AND: expected unsatisfied")
	}
}

func TestParseMoveRuleSet(t *testing.T) {
	doc := `{"rules":[{"id":"r1","name":"hot leads","enabled":true,"priority":1,
		"conditions":{"operator":"AND","criteria":[{"field":"funnel_score","operator":">","value":70}]},
		"action":{"type":"move_forward","target":1}}]}`

	set, err := ParseMoveRuleSet([]byte(doc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(set.Rules) != 1 || set.Rules[0].Name != "hot leads" {
		t.Fatalf("rules = %+v", set.Rules)
	}
	if f, ok := set.Rules[0].Conditions.Criteria[0].Value.Float(); !ok || f != 70 {
		t.Errorf("criterion value = %v/%v, want 70", f, ok)
	}
}

func TestParseMoveRuleSet_RejectsUnknownKeys(t *testing.T) {
	_, err := ParseMoveRuleSet([]byte(`{"rules":[],"extra":true}`))
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestValidateMoveRules_CollectsProblems(t *testing.T) {
	rules := []models.MoveRule{
		{
			ID: "a",
			Conditions: models.Conditions{Operator: "XOR", Criteria: []models.Criterion{
				{Field: "mood", Operator: models.OpEqual, Value: models.TextValue("x")},
				{Field: models.FieldFunnelScore, Operator: models.OpGreater, Value: models.TextValue("high")},
				{Field: models.FieldFunnelScore, Operator: "~", Value: models.NumberValue(1)},
			}},
			Action: models.RuleAction{Type: models.ActionMoveToColumn},
		},
		{ID: "a", Action: models.RuleAction{Type: models.ActionMoveForward, Target: models.NumberValue(-1)}},
		{Name: "anonymous", Action: models.RuleAction{Type: "explode"}},
		{ID: "c", Conditions: models.Conditions{Criteria: []models.Criterion{{Field: models.FieldValue, Operator: models.OpEqual}}},
			Action: models.RuleAction{Type: models.ActionCompleteCard, CompletionType: "abandoned"}},
	}

	err := ValidateMoveRules(rules)
	var verr *RuleValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want *RuleValidationError", err)
	}
	msg := err.Error()
	for _, want := range []string{
		"unknown condition operator",
		`unknown field "mood"`,
		"needs a numeric value",
		`unknown operator "~"`,
		"move_to_column needs a target",
		"duplicate id",
		"non-negative whole step count",
		"at least one criterion",
		"id must not be empty",
		`unknown action type "explode"`,
		`unknown completion type "abandoned"`,
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("validation error missing %q:\n%s", want, msg)
		}
	}
}

func TestClampColumnIndex(t *testing.T) {
	tests := []struct{ pos, delta, n, want int }{
		{0, 1, 3, 1},
		{2, 99, 3, 2},
		{1, -5, 3, 0},
		{0, 0, 0, 0},
	}
	for _, tt := range tests {
		if got := ClampColumnIndex(tt.pos, tt.delta, tt.n); got != tt.want {
			t.Errorf("ClampColumnIndex(%d,%d,%d) = %d, want %d", tt.pos, tt.delta, tt.n, got, tt.want)
		}
	}
}

func TestValidateMoveRules_RejectsInfiniteSteps(t *testing.T) {
	for _, target := range []models.RuleValue{
		models.TextValue("Inf"),
		models.TextValue("-Inf"),
		models.TextValue("NaN"),
		models.NumberValue(math.Inf(1)),
	} {
		rules := []models.MoveRule{
			scoreRule("r", 0, models.OpGreater, 0, models.RuleAction{Type: models.ActionMoveForward, Target: target}),
		}
		err := ValidateMoveRules(rules)
		if err == nil || !strings.Contains(err.Error(), "finite") {
			t.Errorf("target %q: err = %v, want finite step count error", target.String(), err)
		}
	}
}

func TestEvaluateMoveRules_HugeStepsClampToEdges(t *testing.T) {
	tests := []struct {
		action models.ActionType
		start  string
		want   string
	}{
		{models.ActionMoveForward, "col-new", "col-done"},
		{models.ActionMoveBackward, "col-done", "col-new"},
	}
	for _, tt := range tests {
		for _, steps := range []float64{1e19, math.MaxFloat64} {
			board := salesBoard()
			board.MoveRules = []models.MoveRule{
				scoreRule("far", 0, models.OpGreater, 0, models.RuleAction{Type: tt.action, Target: models.NumberValue(steps)}),
			}
			if err := ValidateMoveRules(board.MoveRules); err != nil {
				t.Fatalf("validate %v: %v", steps, err)
			}
			m, ok := EvaluateMoveRules(board, baseAnalysis("venda", 50), tt.start, nil)
			if !ok || m.ColumnID != tt.want {
				t.Errorf("%s %v from %s: got %q (fired %v), want %s", tt.action, steps, tt.start, m.ColumnID, ok, tt.want)
			}
		}
	}
}

func TestClampColumnIndex_ExtremeDeltas(t *testing.T) {
	tests := []struct {
		pos, delta, n, want int
	}{
		{0, math.MaxInt, 3, 2},
		{2, math.MinInt, 3, 0},
		{1, -math.MaxInt, 3, 0},
		{1, 1, 3, 2},
		{0, 5, 0, 0},
	}
	for _, tt := range tests {
		if got := ClampColumnIndex(tt.pos, tt.delta, tt.n); got != tt.want {
			t.Errorf("ClampColumnIndex(%d, %d, %d) = %d, want %d", tt.pos, tt.delta, tt.n, got, tt.want)
		}
	}
}
