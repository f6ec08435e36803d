package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/ai-kanban/internal/mcp"
)

var (
	metricsJSON  bool
	metricsSince string
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Display engine metrics",
	Long: `Display aggregated metrics derived from the event log.

Metrics include analyses, stage changes, unmatched stage detections, moves by
decision source, completions, monetary locks and fired rules.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if MetricsCalc == nil {
			return fmt.Errorf("metrics calculator not initialized (observability may be disabled)")
		}

		sinceTime, err := parseSinceDuration(metricsSince)
		if err != nil {
			return fmt.Errorf("parsing --since: %w", err)
		}

		metrics, err := MetricsCalc.Calculate(sinceTime)
		if err != nil {
			return fmt.Errorf("calculating metrics: %w", err)
		}

		w := cmd.OutOrStdout()
		if metricsJSON {
			data, err := json.MarshalIndent(metrics, "", "  ")
			if err != nil {
				return fmt.Errorf("formatting metrics as JSON: %w", err)
			}
			fmt.Fprintln(w, string(data))
			return nil
		}

		fmt.Fprintf(w, "Metrics (since %s)\n\n", sinceTime.Format("2006-01-02"))
		fmt.Fprintf(w, "  %-24s %d\n", "Events recorded:", metrics.EventCount)
		fmt.Fprintf(w, "  %-24s %d\n", "Cards analyzed:", metrics.CardsAnalyzed)
		fmt.Fprintf(w, "  %-24s %d\n", "Stage changes:", metrics.StageChanges)
		fmt.Fprintf(w, "  %-24s %d\n", "Manual stage changes:", metrics.ManualStageChanges)
		fmt.Fprintf(w, "  %-24s %d\n", "Unmatched stages:", metrics.StagesUnmatched)
		fmt.Fprintf(w, "  %-24s %d\n", "Cards moved:", metrics.CardsMoved)
		fmt.Fprintf(w, "  %-24s %d\n", "Cards completed:", metrics.CardsCompleted)
		fmt.Fprintf(w, "  %-24s %d\n", "Monetary locks:", metrics.MonetaryLocks)
		fmt.Fprintf(w, "  %-24s %d\n", "Rules fired:", metrics.RulesFired)
		if metrics.HistoryWriteFailures > 0 {
			fmt.Fprintf(w, "  %-24s %d\n", "History write failures:", metrics.HistoryWriteFailures)
		}

		printBreakdown(w, "Analyses by funnel:", metrics.AnalysesByFunnel)
		printBreakdown(w, "Stages reached:", metrics.StagesReached)
		printBreakdown(w, "Moves by source:", metrics.MovesBySource)
		printBreakdown(w, "Completions by type:", metrics.CompletionsByType)

		if metrics.OldestEvent != nil {
			fmt.Fprintf(w, "\n  %-24s %s\n", "Oldest event:", metrics.OldestEvent.Format(time.RFC3339))
		}
		if metrics.NewestEvent != nil {
			fmt.Fprintf(w, "  %-24s %s\n", "Newest event:", metrics.NewestEvent.Format(time.RFC3339))
		}
		return nil
	},
}

func printBreakdown(w io.Writer, title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(w, "\n  %s\n", title)
	for _, k := range keys {
		fmt.Fprintf(w, "    %-20s %d\n", k+":", counts[k])
	}
}

// parseSinceDuration parses a human-friendly duration string like "7d", "30d",
// or "24h" and returns the corresponding time in the past.
func parseSinceDuration(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		s = "7d"
	}
	return mcp.ParseSince(s, time.Now().UTC())
}

func init() {
	metricsCmd.Flags().BoolVar(&metricsJSON, "json", false, "Output metrics as JSON")
	metricsCmd.Flags().StringVar(&metricsSince, "since", "7d", "Time window for metrics (e.g. 7d, 30d, 24h)")
	rootCmd.AddCommand(metricsCmd)
}
