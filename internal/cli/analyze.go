package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/ai-kanban/internal/core"
	"github.com/valter-silva-au/ai-kanban/internal/llm"
	"github.com/valter-silva-au/ai-kanban/pkg/models"
)

var (
	analyzeTranscript string
	analyzeFile       string
	analyzeTrigger    string
	analyzeModel      string
	analyzeJSON       bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <card-id>",
	Short: "Analyze a card's conversation and apply the result",
	Long: `Run the lifecycle engine for one card.

With --analysis the given analysis document (the classifier's JSON payload)
is applied as-is. Otherwise the conversation from --transcript, or the one
stored on the card, is sent to the configured classifier first.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if Engine == nil {
			return fmt.Errorf("engine not initialized")
		}
		if analyzeTranscript != "" && analyzeFile != "" {
			return fmt.Errorf("--transcript and --analysis are mutually exclusive")
		}
		trigger := models.TriggerSource(analyzeTrigger)
		if !trigger.Valid() {
			return fmt.Errorf("invalid --trigger %q (use manual, message, close or cron)", analyzeTrigger)
		}

		var (
			out *core.Outcome
			err error
		)
		if analyzeFile != "" {
			data, rerr := readInput(analyzeFile)
			if rerr != nil {
				return rerr
			}
			analysis, derr := llm.DecodeAnalysis(string(data))
			if derr != nil {
				return fmt.Errorf("reading analysis %s: %w", analyzeFile, derr)
			}
			out, err = Engine.Apply(cmd.Context(), core.ApplyRequest{
				CardID:    args[0],
				Analysis:  analysis,
				Trigger:   trigger,
				ModelUsed: analyzeModel,
			})
		} else {
			var transcript string
			if analyzeTranscript != "" {
				data, rerr := readInput(analyzeTranscript)
				if rerr != nil {
					return rerr
				}
				transcript = string(data)
			}
			out, err = Engine.Analyze(cmd.Context(), core.AnalyzeRequest{
				CardID:     args[0],
				Transcript: transcript,
				Trigger:    trigger,
			})
		}
		if err != nil {
			return fmt.Errorf("analyzing card %s: %w", args[0], err)
		}

		if analyzeJSON {
			data, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return fmt.Errorf("formatting outcome as JSON: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}
		printOutcome(cmd.OutOrStdout(), out)
		return nil
	},
}

// readInput reads a file, or stdin when path is "-".
func readInput(path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

func printOutcome(w io.Writer, out *core.Outcome) {
	fmt.Fprintf(w, "Card %s analyzed\n", out.CardID)
	fmt.Fprintf(w, "  %-14s %s\n", "Funnel:", valueOr(out.FunnelType, "-"))
	if out.Resolution.Applied {
		fmt.Fprintf(w, "  %-14s %s (%d%%)\n", "Stage:", out.Resolution.Stage, out.Resolution.ProgressPercent)
		if out.Resolution.ResolutionStatus != nil {
			fmt.Fprintf(w, "  %-14s %s\n", "Resolution:", *out.Resolution.ResolutionStatus)
		}
	} else {
		fmt.Fprintf(w, "  %-14s unchanged (%s)\n", "Stage:", out.Resolution.Reason)
	}
	switch {
	case out.Moved:
		fmt.Fprintf(w, "  %-14s %s -> %s (%s)\n", "Moved:", out.FromColumnID, out.ToColumnID, out.Decision.Source)
	default:
		fmt.Fprintf(w, "  %-14s no (%s)\n", "Moved:", out.Decision.Source)
	}
	if out.Decision.RuleName != "" {
		fmt.Fprintf(w, "  %-14s %s\n", "Rule:", out.Decision.RuleName)
	}
	if out.LockEngaged {
		fmt.Fprintf(w, "  %-14s engaged, value preserved\n", "Monetary lock:")
	}
	if out.Completed && out.Decision.Completion != nil {
		fmt.Fprintf(w, "  %-14s %s\n", "Completed:", out.Decision.Completion.Type)
	}
	if out.HistoryRecorded {
		fmt.Fprintf(w, "  %-14s %s\n", "History:", out.HistoryID)
	} else {
		fmt.Fprintf(w, "  %-14s not recorded\n", "History:")
	}
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeTranscript, "transcript", "", "Conversation transcript file (- for stdin)")
	analyzeCmd.Flags().StringVar(&analyzeFile, "analysis", "", "Analysis JSON file to apply without calling the classifier (- for stdin)")
	analyzeCmd.Flags().StringVar(&analyzeTrigger, "trigger", string(models.TriggerManual), "Trigger source: manual, message, close or cron")
	analyzeCmd.Flags().StringVar(&analyzeModel, "model", "", "Model name recorded with an --analysis document")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "Output the outcome as JSON")
	_ = analyzeCmd.RegisterFlagCompletionFunc("trigger", completeTriggers)
	rootCmd.AddCommand(analyzeCmd)
}
