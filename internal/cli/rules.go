package cli

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/ai-kanban/internal/core"
	"github.com/valter-silva-au/ai-kanban/internal/storage"
	"github.com/valter-silva-au/ai-kanban/pkg/models"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Validate and store move rules",
}

var rulesValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Check move rules without saving them",
	Long: `Validate a move-rule set.

A .json file is read as a rule-set document ({"rules": [...]}); any other
file is read as a board file and the move rules of every pipeline are
checked, including that move_to_column targets exist on the board. Every
problem is reported at once.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		w := cmd.OutOrStdout()
		if strings.EqualFold(filepath.Ext(args[0]), ".json") {
			data, err := readInput(args[0])
			if err != nil {
				return err
			}
			set, err := core.ParseMoveRuleSet(data)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%d move rule(s) valid\n", len(set.Rules))
			return nil
		}

		bf, err := storage.LoadBoardFile(args[0], time.Now().UTC())
		if err != nil {
			return err
		}
		var problems []string
		total := 0
		for i := range bf.Pipelines {
			b := &bf.Pipelines[i]
			total += len(b.MoveRules)
			if err := core.ValidateMoveRules(b.MoveRules); err != nil {
				problems = append(problems, fmt.Sprintf("pipeline %s: %s", b.PipelineID, err))
			}
			problems = append(problems, missingTargets(b)...)
		}
		if len(problems) > 0 {
			return fmt.Errorf("move rules invalid:\n  - %s", strings.Join(problems, "\n  - "))
		}
		fmt.Fprintf(w, "%d move rule(s) across %d pipeline(s) valid\n", total, len(bf.Pipelines))
		return nil
	},
}

var rulesSetCmd = &cobra.Command{
	Use:   "set <pipeline-id> <file>",
	Short: "Replace a pipeline's move rules from a JSON rule-set document",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if Store == nil {
			return fmt.Errorf("card store not initialized")
		}
		data, err := readInput(args[1])
		if err != nil {
			return err
		}
		set, err := core.ParseMoveRuleSet(data)
		if err != nil {
			return err
		}
		board, err := Store.LoadBoard(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("loading pipeline %s: %w", args[0], err)
		}
		if missing := missingTargets(&models.Board{Columns: board.Columns, MoveRules: set.Rules}); len(missing) > 0 {
			return fmt.Errorf("move rules invalid:\n  - %s", strings.Join(missing, "\n  - "))
		}
		if err := Store.SaveMoveRuleSet(cmd.Context(), args[0], set); err != nil {
			return fmt.Errorf("saving move rules of %s: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Saved %d move rule(s) for pipeline %s\n", len(set.Rules), args[0])
		return nil
	},
}

// missingTargets reports move_to_column actions whose column is not on b.
func missingTargets(b *models.Board) []string {
	var problems []string
	for _, r := range b.MoveRules {
		target := r.Action.Target.String()
		if r.Action.Type != models.ActionMoveToColumn || target == "" {
			continue
		}
		if b.ColumnByID(target) == nil {
			problems = append(problems, fmt.Sprintf("rule %s: target column %q is not on the board", r.ID, target))
		}
	}
	return problems
}

func init() {
	rulesCmd.AddCommand(rulesValidateCmd)
	rulesCmd.AddCommand(rulesSetCmd)
	rootCmd.AddCommand(rulesCmd)
}
