package core

import (
	"fmt"
	"math"
	"testing"

	"github.com/valter-silva-au/ai-kanban/pkg/models"
	"pgregory.net/rapid"
)

var (
	propFields = []string{
		models.FieldFunnelScore, models.FieldServiceQualityScore, models.FieldConversationStatus,
		models.FieldValue, "custom_field.plan", "custom_field.absent", "bogus",
	}
	propOperators = []models.Operator{
		models.OpGreater, models.OpLess, models.OpGreaterEqual, models.OpLessEqual,
		models.OpEqual, models.OpContains, models.OpNotContains, "??",
	}
	propActions = []models.ActionType{
		models.ActionMoveToColumn, models.ActionMoveForward, models.ActionMoveBackward,
		models.ActionCompleteCard, "teleport",
	}
)

func genRuleValue(t *rapid.T, label string) models.RuleValue {
	if rapid.Bool().Draw(t, label+"IsNum") {
		return models.NumberValue(rapid.Float64Range(-50, 150).Draw(t, label+"Num"))
	}
	return models.TextValue(rapid.SampledFrom([]string{"", "won", "lost", "pro", "42", "col-done", "col-x"}).Draw(t, label+"Text"))
}

// genMoveRule generates an arbitrary, possibly invalid, move rule.
func genMoveRule(t *rapid.T, i int) models.MoveRule {
	n := rapid.IntRange(0, 3).Draw(t, "criteria")
	criteria := make([]models.Criterion, n)
	for j := range criteria {
		criteria[j] = models.Criterion{
			Field:    rapid.SampledFrom(propFields).Draw(t, "field"),
			Operator: rapid.SampledFrom(propOperators).Draw(t, "op"),
			Value:    genRuleValue(t, "value"),
		}
	}
	return models.MoveRule{
		ID:       fmt.Sprintf("r%d", i),
		Name:     fmt.Sprintf("rule %d", i),
		Enabled:  rapid.Bool().Draw(t, "enabled"),
		Priority: rapid.IntRange(-3, 3).Draw(t, "priority"),
		Conditions: models.Conditions{
			Operator: rapid.SampledFrom([]models.Combinator{models.CombineAnd, models.CombineOr, "", "NAND"}).Draw(t, "combinator"),
			Criteria: criteria,
		},
		Action: models.RuleAction{
			Type:   rapid.SampledFrom(propActions).Draw(t, "action"),
			Target: genRuleValue(t, "target"),
		},
	}
}

func genAnalysis(t *rapid.T) *models.AnalysisResult {
	a := baseAnalysis("venda", rapid.Float64Range(0, 100).Draw(t, "score"))
	a.ServiceQuality.Score = rapid.Float64Range(0, 100).Draw(t, "service")
	a.ConversationStatus = rapid.SampledFrom([]string{"", "won", "lost", "open"}).Draw(t, "status")
	if rapid.Bool().Draw(t, "hasValue") {
		a.Value = ptr(rapid.Float64Range(0, 10000).Draw(t, "val"))
	}
	if rapid.Bool().Draw(t, "hasCustom") {
		a.CustomFields = map[string]any{"plan": rapid.SampledFrom([]any{"pro", 3.0, true, nil}).Draw(t, "plan")}
	}
	return a
}

// Property: evaluation never panics and fires at most one rule, always the
// first satisfied valid enabled rule in priority order.
func TestProperty_MoveRulesFireAtMostOnce(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		board := salesBoard()
		n := rapid.IntRange(0, 6).Draw(t, "rules")
		for i := 0; i < n; i++ {
			board.MoveRules = append(board.MoveRules, genMoveRule(t, i))
		}
		a := genAnalysis(t)
		current := rapid.SampledFrom([]string{"col-new", "col-progress", "col-done", "elsewhere"}).Draw(t, "column")

		m, ok := EvaluateMoveRules(board, a, current, nil)

		var expected string
		best := 0
		for _, r := range board.MoveRules {
			cr, problems := compileMoveRule(r)
			if !r.Enabled || len(problems) > 0 || !cr.satisfied(a) {
				continue
			}
			if expected == "" || r.Priority < best {
				expected, best = r.ID, r.Priority
			}
		}
		if ok != (expected != "") {
			t.Fatalf("fired=%v, expected rule %q", ok, expected)
		}
		if ok && m.RuleID != expected {
			t.Fatalf("fired %q, want %q", m.RuleID, expected)
		}
		if m.ColumnID != "" && board.ColumnByID(m.ColumnID) == nil {
			t.Fatalf("target %q is not a board column", m.ColumnID)
		}
	})
}

// Property: relative moves always land on a board column.
func TestProperty_RelativeMovesClamp(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		board := salesBoard()
		steps := rapid.OneOf(
			rapid.Map(rapid.IntRange(0, 500), func(n int) float64 { return float64(n) }),
			rapid.SampledFrom([]float64{math.MaxInt32, math.MaxInt64, 1e19, 1e300, math.MaxFloat64}),
		).Draw(t, "steps")
		action := rapid.SampledFrom([]models.ActionType{models.ActionMoveForward, models.ActionMoveBackward}).Draw(t, "action")
		board.MoveRules = []models.MoveRule{
			scoreRule("r", 0, models.OpGreaterEqual, 0, models.RuleAction{Type: action, Target: models.NumberValue(steps)}),
		}
		if err := ValidateMoveRules(board.MoveRules); err != nil {
			t.Fatalf("whole step count %v rejected: %v", steps, err)
		}
		start := rapid.IntRange(0, len(board.Columns)-1).Draw(t, "start")

		m, ok := EvaluateMoveRules(board, baseAnalysis("venda", 10), board.Columns[start].ID, nil)
		if !ok {
			t.Fatal("rule did not fire")
		}
		idx := board.IndexOf(m.ColumnID)
		if idx < 0 {
			t.Fatalf("target %q outside board", m.ColumnID)
		}
		want := float64(start) + steps
		if action == models.ActionMoveBackward {
			want = float64(start) - steps
		}
		want = math.Max(0, math.Min(want, float64(len(board.Columns)-1)))
		if float64(idx) != want {
			t.Fatalf("index %d, want %d", idx, want)
		}
	})
}
