package core

import (
	"strings"

	"github.com/valter-silva-au/ai-kanban/pkg/models"
	"go.uber.org/zap"
)

// MoveSource records which decision layer chose a column.
type MoveSource string

const (
	SourceMovementRule MoveSource = "movement_rule"
	SourceMoveRule     MoveSource = "move_rule"
	SourceHeuristic    MoveSource = "heuristic"
	SourceNone         MoveSource = "none"
)

// LostColumnNames are the column names the heuristic sends lost cards to,
// compared case-insensitively.
var LostColumnNames = []string{"perdido", "perdidos", "lost"}

// HeuristicThresholds configures the built-in fallback.
type HeuristicThresholds struct {
	Enabled   bool
	HighScore float64
	LowScore  float64
}

// DefaultHeuristicThresholds returns the thresholds used when none are
// configured.
func DefaultHeuristicThresholds() HeuristicThresholds {
	return HeuristicThresholds{Enabled: true, HighScore: 80, LowScore: 30}
}

// MoveDecision is the arbitrated movement for one analysis.
type MoveDecision struct {
	Source     MoveSource  `json:"source"`
	ColumnID   string      `json:"column_id,omitempty"`
	RuleID     string      `json:"rule_id,omitempty"`
	RuleName   string      `json:"rule_name,omitempty"`
	Notify     bool        `json:"notify,omitempty"`
	Completion *Completion `json:"completion,omitempty"`
	// Reason labels heuristic decisions: win, loss, high_score or low_score.
	Reason string `json:"reason,omitempty"`
}

// ShouldMove reports whether the decision targets a column other than the
// card's current one.
func (d MoveDecision) ShouldMove(currentColumnID string) bool {
	return d.ColumnID != "" && d.ColumnID != currentColumnID
}

// ArbitrationInput bundles everything Arbitrate looks at.
type ArbitrationInput struct {
	Board           *models.Board
	Analysis        *models.AnalysisResult
	FunnelType      string
	Stage           string
	CurrentColumnID string
	Heuristics      HeuristicThresholds
}

// Arbitrate picks the target column: a declarative movement rule for the
// current stage wins, then the first satisfied move rule, then the score
// heuristic.
func Arbitrate(in ArbitrationInput, logger *zap.Logger) MoveDecision {
	if logger == nil {
		logger = zap.NewNop()
	}

	if m, ok := EvaluateMovementRules(in.Board, in.FunnelType, in.Stage, logger); ok {
		return MoveDecision{Source: SourceMovementRule, ColumnID: m.ColumnID, RuleID: m.RuleID}
	}

	if m, ok := EvaluateMoveRules(in.Board, in.Analysis, in.CurrentColumnID, logger); ok {
		return MoveDecision{
			Source:     SourceMoveRule,
			ColumnID:   m.ColumnID,
			RuleID:     m.RuleID,
			RuleName:   m.RuleName,
			Notify:     m.Notify,
			Completion: m.Completion,
		}
	}

	if in.Heuristics.Enabled {
		if d, ok := heuristicMove(in); ok {
			return d
		}
	}
	return MoveDecision{Source: SourceNone}
}

func heuristicMove(in ArbitrationInput) (MoveDecision, bool) {
	board, a := in.Board, in.Analysis
	if board == nil || a == nil || len(board.Columns) == 0 {
		return MoveDecision{}, false
	}
	status := strings.ToLower(strings.TrimSpace(a.ConversationStatus))

	switch {
	case strings.TrimSpace(a.WinConfirmation) != "" || status == string(models.ResolutionWon):
		col := board.ColumnByNameFold(FinalizedColumnNames...)
		if col == nil {
			col = &board.Columns[len(board.Columns)-1]
		}
		return MoveDecision{Source: SourceHeuristic, ColumnID: col.ID, Reason: "win"}, true
	case strings.TrimSpace(a.LossReason) != "" || status == string(models.ResolutionLost):
		col := board.ColumnByNameFold(LostColumnNames...)
		if col == nil {
			return MoveDecision{}, false
		}
		return MoveDecision{Source: SourceHeuristic, ColumnID: col.ID, Reason: "loss"}, true
	}

	if a.FunnelAnalysis == nil {
		return MoveDecision{}, false
	}
	pos := board.IndexOf(in.CurrentColumnID)
	if pos < 0 {
		return MoveDecision{}, false
	}
	score := a.FunnelAnalysis.Score
	switch {
	case score > in.Heuristics.HighScore:
		idx := ClampColumnIndex(pos, 1, len(board.Columns))
		return MoveDecision{Source: SourceHeuristic, ColumnID: board.Columns[idx].ID, Reason: "high_score"}, true
	case score < in.Heuristics.LowScore:
		idx := ClampColumnIndex(pos, -1, len(board.Columns))
		return MoveDecision{Source: SourceHeuristic, ColumnID: board.Columns[idx].ID, Reason: "low_score"}, true
	}
	return MoveDecision{}, false
}
