package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var stageCmd = &cobra.Command{
	Use:   "stage <card-id> <stage>",
	Short: "Set a card's lifecycle stage manually",
	Long: `Advance a card to a stage of its funnel by hand.

The stage name is matched case-insensitively against the funnel's stages.
Progress is set to the stage's baseline and terminal stages stamp their
resolution status. Movement rules for the new stage are applied; the
monetary lock is never touched.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if Engine == nil {
			return fmt.Errorf("engine not initialized")
		}
		card, err := Engine.ForceStage(cmd.Context(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("setting stage of %s: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Card %s is now in stage %s (%d%%), column %s\n",
			card.ID, card.LifecycleStage, card.LifecycleProgressPercent, card.ColumnID)
		return nil
	},
}

var moveCmd = &cobra.Command{
	Use:   "move <card-id> <column-id>",
	Short: "Move a card to another column of its pipeline",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if Engine == nil {
			return fmt.Errorf("engine not initialized")
		}
		card, err := Engine.MoveCard(cmd.Context(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("moving %s: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Moved card %s to column %s\n", card.ID, card.ColumnID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(stageCmd)
	rootCmd.AddCommand(moveCmd)
}
