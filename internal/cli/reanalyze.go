package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/ai-kanban/pkg/models"
)

var (
	reanalyzePipeline string
	reanalyzeAll      bool
	reanalyzeTrigger  string
)

var reanalyzeCmd = &cobra.Command{
	Use:   "reanalyze [card-id...]",
	Short: "Re-run the engine over many cards",
	Long: `Re-analyze cards with their stored transcripts.

Pass card ids explicitly, select a pipeline with --pipeline, or every card
with --all. Cards are processed concurrently (reanalyze.concurrency) and a
failure on one card does not stop the others. Only one bulk run per base
directory executes at a time.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Bulk == nil {
			return fmt.Errorf("reanalyzer not initialized")
		}
		trigger := models.TriggerSource(reanalyzeTrigger)
		if !trigger.Valid() {
			return fmt.Errorf("invalid --trigger %q (use manual, message, close or cron)", reanalyzeTrigger)
		}

		ids, err := selectCards(cmd.Context(), args)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No cards to reanalyze.")
			return nil
		}

		report, err := Bulk.Run(cmd.Context(), ids, trigger)
		if err != nil {
			return fmt.Errorf("reanalyzing cards: %w", err)
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Reanalyzed %d card(s): %d succeeded, %d failed\n",
			len(ids), len(report.Succeeded), len(report.Failed))
		failed := make([]string, 0, len(report.Failed))
		for id := range report.Failed {
			failed = append(failed, id)
		}
		sort.Strings(failed)
		for _, id := range failed {
			fmt.Fprintf(w, "  %-20s %s\n", id, report.Failed[id])
		}
		if len(failed) > 0 {
			return fmt.Errorf("%d card(s) failed", len(failed))
		}
		return nil
	},
}

func selectCards(ctx context.Context, args []string) ([]string, error) {
	switch {
	case len(args) > 0:
		if reanalyzePipeline != "" || reanalyzeAll {
			return nil, fmt.Errorf("card ids cannot be combined with --pipeline or --all")
		}
		return args, nil
	case reanalyzePipeline != "" && reanalyzeAll:
		return nil, fmt.Errorf("--pipeline and --all are mutually exclusive")
	case reanalyzePipeline == "" && !reanalyzeAll:
		return nil, fmt.Errorf("specify card ids, --pipeline or --all")
	}
	if Store == nil {
		return nil, fmt.Errorf("card store not initialized")
	}

	if reanalyzePipeline != "" {
		ids, err := Store.ListCardIDs(ctx, reanalyzePipeline)
		if err != nil {
			return nil, fmt.Errorf("listing cards of %s: %w", reanalyzePipeline, err)
		}
		return ids, nil
	}

	pipelines, err := Store.ListPipelines(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing pipelines: %w", err)
	}
	var ids []string
	for _, p := range pipelines {
		pids, err := Store.ListCardIDs(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("listing cards of %s: %w", p, err)
		}
		ids = append(ids, pids...)
	}
	return ids, nil
}

func init() {
	reanalyzeCmd.Flags().StringVar(&reanalyzePipeline, "pipeline", "", "Reanalyze every card of this pipeline")
	reanalyzeCmd.Flags().BoolVar(&reanalyzeAll, "all", false, "Reanalyze every card of every pipeline")
	reanalyzeCmd.Flags().StringVar(&reanalyzeTrigger, "trigger", string(models.TriggerCron), "Trigger source recorded in history")
	_ = reanalyzeCmd.RegisterFlagCompletionFunc("trigger", completeTriggers)
	_ = reanalyzeCmd.RegisterFlagCompletionFunc("pipeline", completePipelineIDs)
	rootCmd.AddCommand(reanalyzeCmd)
}
