package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/ai-kanban/pkg/models"
)

var statusPipeline string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Display cards grouped by column",
	Long: `Display the cards of each pipeline column by column, with their funnel,
lifecycle stage, progress and when they were last analyzed.

Use --pipeline to show a single pipeline.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Store == nil {
			return fmt.Errorf("card store not initialized")
		}
		ctx := cmd.Context()

		pipelines := []string{statusPipeline}
		if statusPipeline == "" {
			var err error
			if pipelines, err = Store.ListPipelines(ctx); err != nil {
				return fmt.Errorf("listing pipelines: %w", err)
			}
		}
		if len(pipelines) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No pipelines found. Import one with 'akb board import'.")
			return nil
		}

		now := time.Now().UTC()
		for i, p := range pipelines {
			board, err := Store.LoadBoard(ctx, p)
			if err != nil {
				return fmt.Errorf("loading pipeline %s: %w", p, err)
			}
			cards, err := Store.ListCards(ctx, p)
			if err != nil {
				return fmt.Errorf("listing cards of %s: %w", p, err)
			}
			analyzed, err := Store.LastAnalyzedAt(ctx, p)
			if err != nil {
				return fmt.Errorf("reading analysis times of %s: %w", p, err)
			}
			if i > 0 {
				fmt.Fprintln(cmd.OutOrStdout())
			}
			printPipeline(cmd.OutOrStdout(), board, cards, analyzed, now)
		}
		return nil
	},
}

// printPipeline prints a table of cards under each column heading, in board
// order. Cards whose column is not on the board are listed last.
func printPipeline(w io.Writer, board *models.Board, cards []*models.Card, analyzed map[string]time.Time, now time.Time) {
	fmt.Fprintf(w, "### %s (%d cards)\n", board.PipelineID, len(cards))

	grouped := make(map[string][]*models.Card)
	for _, c := range cards {
		grouped[c.ColumnID] = append(grouped[c.ColumnID], c)
	}

	for _, col := range board.Columns {
		printColumn(w, col.Name, grouped[col.ID], analyzed, now)
		delete(grouped, col.ID)
	}
	for colID, group := range grouped {
		printColumn(w, "unknown column "+colID, group, analyzed, now)
	}
}

func printColumn(w io.Writer, name string, cards []*models.Card, analyzed map[string]time.Time, now time.Time) {
	fmt.Fprintf(w, "== %s (%d) ==\n", strings.ToUpper(name), len(cards))
	if len(cards) == 0 {
		return
	}
	fmt.Fprintf(w, "  %-14s %-10s %-18s %-5s %-10s %s\n", "ID", "FUNNEL", "STAGE", "PROG", "ANALYZED", "TITLE")
	for _, c := range cards {
		stage := valueOr(c.LifecycleStage, "-")
		if c.IsMonetaryLocked {
			stage += " $"
		}
		last := "never"
		if t, ok := analyzed[c.ID]; ok {
			last = formatAge(now.Sub(t))
		}
		fmt.Fprintf(w, "  %-14s %-10s %-18s %-5s %-10s %s\n",
			c.ID, valueOr(c.FunnelType, "-"), stage, fmt.Sprintf("%d%%", c.LifecycleProgressPercent), last, c.Title)
	}
}

// formatAge renders a duration as a coarse age such as "3d ago".
func formatAge(d time.Duration) string {
	switch {
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func init() {
	statusCmd.Flags().StringVar(&statusPipeline, "pipeline", "", "Only show this pipeline")
	_ = statusCmd.RegisterFlagCompletionFunc("pipeline", completePipelineIDs)
	rootCmd.AddCommand(statusCmd)
}
