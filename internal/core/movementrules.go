package core

import (
	"sort"

	"github.com/valter-silva-au/ai-kanban/pkg/models"
	"go.uber.org/zap"
)

// MovementMatch is the column chosen by a declarative movement rule.
type MovementMatch struct {
	RuleID   string
	ColumnID string
}

// orderMovementRules returns the active rules for funnelType sorted by
// priority, then by creation time. With equal priorities this is creation
// order.
func orderMovementRules(rules []models.MovementRule, funnelType string) []models.MovementRule {
	var active []models.MovementRule
	for _, r := range rules {
		if r.IsActive && r.FunnelType == funnelType {
			active = append(active, r)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		if active[i].Priority != active[j].Priority {
			return active[i].Priority < active[j].Priority
		}
		return active[i].CreatedAt.Before(active[j].CreatedAt)
	})
	return active
}

// EvaluateMovementRules returns the first active rule for funnelType whose
// stage matches stage and whose column exists on the board. Stage names are
// compared exactly (case-sensitive); a nil rule stage matches any stage.
// Rules pointing at a missing column are skipped.
func EvaluateMovementRules(board *models.Board, funnelType, stage string, logger *zap.Logger) (MovementMatch, bool) {
	if board == nil || funnelType == "" {
		return MovementMatch{}, false
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	for _, rule := range orderMovementRules(board.MovementRules, funnelType) {
		if rule.WhenLifecycleStage != nil && *rule.WhenLifecycleStage != stage {
			continue
		}
		col := board.ColumnByName(rule.MoveToColumnName)
		if col == nil {
			logger.Warn("movement rule targets unknown column",
				zap.String("rule_id", rule.ID),
				zap.String("funnel_type", funnelType),
				zap.String("column_name", rule.MoveToColumnName))
			continue
		}
		return MovementMatch{RuleID: rule.ID, ColumnID: col.ID}, true
	}
	return MovementMatch{}, false
}
