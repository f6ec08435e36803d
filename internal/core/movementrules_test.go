package core

import (
	"testing"
	"time"

	"github.com/valter-silva-au/ai-kanban/pkg/models"
)

func movementRule(id, funnel string, stage *string, column string, priority int, created time.Time) models.MovementRule {
	return models.MovementRule{
		ID: id, PipelineID: "p1", FunnelType: funnel, WhenLifecycleStage: stage,
		MoveToColumnName: column, IsActive: true, Priority: priority, CreatedAt: created,
	}
}

func TestEvaluateMovementRules_GanhoMovesToFinalizados(t *testing.T) {
	board := salesBoard()
	board.MovementRules = []models.MovementRule{
		movementRule("r1", "venda", ptr("Ganho"), "Finalizados", 0, fixedNow),
	}

	m, ok := EvaluateMovementRules(board, "venda", "Ganho", nil)
	if !ok {
		t.Fatal("expected rule to fire")
	}
	if m.ColumnID != "col-done" || m.RuleID != "r1" {
		t.Errorf("match = %+v, want r1 -> col-done", m)
	}
}

func TestEvaluateMovementRules_StageMatchIsCaseSensitive(t *testing.T) {
	board := salesBoard()
	board.MovementRules = []models.MovementRule{
		movementRule("r1", "venda", ptr("Ganho"), "Finalizados", 0, fixedNow),
	}
	if _, ok := EvaluateMovementRules(board, "venda", "ganho", nil); ok {
		t.Error("rule fired for differently cased stage")
	}
}

func TestEvaluateMovementRules_Ordering(t *testing.T) {
	board := salesBoard()
	board.MovementRules = []models.MovementRule{
		movementRule("late", "venda", nil, "Em andamento", 0, fixedNow.Add(time.Minute)),
		movementRule("early", "venda", nil, "Finalizados", 0, fixedNow),
	}
	m, _ := EvaluateMovementRules(board, "venda", "Qualificado", nil)
	if m.RuleID != "early" {
		t.Errorf("equal priorities: fired %q, want creation order (early)", m.RuleID)
	}

	board.MovementRules[0].Priority = -1
	m, _ = EvaluateMovementRules(board, "venda", "Qualificado", nil)
	if m.RuleID != "late" {
		t.Errorf("explicit priority: fired %q, want late", m.RuleID)
	}
}

func TestEvaluateMovementRules_SkipsMissingColumn(t *testing.T) {
	board := salesBoard()
	board.MovementRules = []models.MovementRule{
		movementRule("ghost", "venda", nil, "Arquivados", 0, fixedNow),
		movementRule("real", "venda", nil, "Em andamento", 1, fixedNow),
	}
	m, ok := EvaluateMovementRules(board, "venda", "Qualificado", nil)
	if !ok || m.RuleID != "real" || m.ColumnID != "col-progress" {
		t.Errorf("got %+v/%v, want fallthrough to real", m, ok)
	}
}

func TestEvaluateMovementRules_FiltersInactiveAndOtherFunnels(t *testing.T) {
	board := salesBoard()
	inactive := movementRule("off", "venda", nil, "Finalizados", 0, fixedNow)
	inactive.IsActive = false
	board.MovementRules = []models.MovementRule{
		inactive,
		movementRule("support", "suporte", nil, "Finalizados", 0, fixedNow),
	}
	if m, ok := EvaluateMovementRules(board, "venda", "Qualificado", nil); ok {
		t.Errorf("unexpected match %+v", m)
	}
	if _, ok := EvaluateMovementRules(board, "", "Qualificado", nil); ok {
		t.Error("empty funnel type should never match")
	}
	if _, ok := EvaluateMovementRules(nil, "venda", "Qualificado", nil); ok {
		t.Error("nil board should never match")
	}
}
