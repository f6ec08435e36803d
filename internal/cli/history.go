package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/valter-silva-au/ai-kanban/pkg/models"
)

var (
	historyTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("230")).
				Background(lipgloss.Color("62")).
				Padding(0, 1)

	historyTimeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	historyStageStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69"))
	historyWonStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	historyLostStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	historyLockStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	historyMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history <card-id>",
	Short: "Show the analysis timeline of a card",
	Long: `Print every recorded analysis of a card, oldest first, with the funnel,
stage, progress and resolution each analysis produced.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if Store == nil {
			return fmt.Errorf("card store not initialized")
		}
		entries, err := Store.ListHistory(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("listing history of %s: %w", args[0], err)
		}
		if len(entries) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "No analyses recorded for %s.\n", args[0])
			return nil
		}
		if historyLimit > 0 && len(entries) > historyLimit {
			entries = entries[len(entries)-historyLimit:]
		}
		renderHistory(cmd.OutOrStdout(), args[0], entries)
		return nil
	},
}

func renderHistory(w io.Writer, cardID string, entries []models.HistoryEntry) {
	fmt.Fprintln(w, historyTitleStyle.Render(fmt.Sprintf("History of %s (%d)", cardID, len(entries))))
	fmt.Fprintln(w)
	for i, e := range entries {
		stage := e.LifecycleStage
		if stage == "" {
			stage = "no stage"
		}
		line := fmt.Sprintf("%s  %s  %s %s",
			historyTimeStyle.Render(e.AnalyzedAt.Format("2006-01-02 15:04")),
			valueOr(e.FunnelType, "-"),
			historyStageStyle.Render(stage),
			fmt.Sprintf("%d%%", e.LifecycleProgressPercent),
		)
		if e.ResolutionStatus != nil {
			line += " " + resolutionStyle(*e.ResolutionStatus).Render(string(*e.ResolutionStatus))
		}
		if e.IsMonetaryLocked {
			line += " " + historyLockStyle.Render("[locked]")
		}
		fmt.Fprintln(w, line)

		var details []string
		if e.DetectedStage != "" && !strings.EqualFold(e.DetectedStage, e.LifecycleStage) {
			details = append(details, fmt.Sprintf("detected %q", e.DetectedStage))
		}
		details = append(details, fmt.Sprintf("score %.0f", e.FunnelScore), string(e.TriggerSource))
		if e.ModelUsed != "" {
			details = append(details, e.ModelUsed)
		}
		fmt.Fprintln(w, "  "+historyMutedStyle.Render(strings.Join(details, " | ")))
		if e.Summary != "" {
			fmt.Fprintln(w, "  "+e.Summary)
		}
		if i < len(entries)-1 {
			fmt.Fprintln(w)
		}
	}
}

func resolutionStyle(r models.ResolutionStatus) lipgloss.Style {
	switch r {
	case models.ResolutionWon, models.ResolutionResolved:
		return historyWonStyle
	case models.ResolutionLost, models.ResolutionUnresolved:
		return historyLostStyle
	default:
		return historyMutedStyle
	}
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 0, "Show only the most recent N analyses")
	rootCmd.AddCommand(historyCmd)
}
