package cli

import (
	"context"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/ai-kanban/pkg/models"
)

type completeFunc func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective)

// completeCardIDs lists card IDs with their title and stage as description.
func completeCardIDs(_ *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if Store == nil || len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	cards, err := Store.ListCards(context.Background(), "")
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	var ids []string
	for _, c := range cards {
		if !strings.HasPrefix(c.ID, toComplete) {
			continue
		}
		desc := c.Title
		if c.LifecycleStage != "" {
			desc += " [" + c.LifecycleStage + "]"
		}
		ids = append(ids, c.ID+"\t"+desc)
	}
	return ids, cobra.ShellCompDirectiveNoFileComp
}

// completePipelineIDs lists the pipelines that have a stored board.
func completePipelineIDs(_ *cobra.Command, _ []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if Store == nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	ids, err := Store.ListPipelines(context.Background())
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	var out []string
	for _, id := range ids {
		if strings.HasPrefix(id, toComplete) {
			out = append(out, id)
		}
	}
	return out, cobra.ShellCompDirectiveNoFileComp
}

// completeCardThen completes the card ID first and hands the second
// positional argument to next, which receives the card's board.
func completeCardThen(next func(*models.Board, string) []string) completeFunc {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		switch len(args) {
		case 0:
			return completeCardIDs(cmd, args, toComplete)
		case 1:
		default:
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		if Store == nil {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		ctx := context.Background()
		card, err := Store.GetCard(ctx, args[0])
		if err != nil {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		board, err := Store.LoadBoard(ctx, card.PipelineID)
		if err != nil {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		return next(board, toComplete), cobra.ShellCompDirectiveNoFileComp
	}
}

// stageNames returns every distinct stage name configured on the board.
func stageNames(b *models.Board, toComplete string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, f := range b.Funnels {
		for _, s := range f.Stages {
			if seen[s.StageName] || !strings.HasPrefix(s.StageName, toComplete) {
				continue
			}
			seen[s.StageName] = true
			names = append(names, s.StageName+"\t"+f.FunnelType)
		}
	}
	sort.Strings(names)
	return names
}

func columnIDs(b *models.Board, toComplete string) []string {
	var ids []string
	for _, c := range b.Columns {
		if strings.HasPrefix(c.ID, toComplete) {
			ids = append(ids, c.ID+"\t"+c.Name)
		}
	}
	return ids
}

func completeTriggers(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
	return []string{
		string(models.TriggerManual) + "\tRequested by a user",
		string(models.TriggerMessage) + "\tNew conversation message",
		string(models.TriggerClose) + "\tConversation closed",
		string(models.TriggerCron) + "\tScheduled reanalysis",
	}, cobra.ShellCompDirectiveNoFileComp
}

func init() {
	analyzeCmd.ValidArgsFunction = completeCardIDs
	historyCmd.ValidArgsFunction = completeCardIDs
	reanalyzeCmd.ValidArgsFunction = func(_ *cobra.Command, _ []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return completeCardIDs(nil, nil, toComplete)
	}
	stageCmd.ValidArgsFunction = completeCardThen(stageNames)
	moveCmd.ValidArgsFunction = completeCardThen(columnIDs)

	firstArgPipeline := func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if len(args) > 0 {
			return nil, cobra.ShellCompDirectiveDefault
		}
		return completePipelineIDs(cmd, args, toComplete)
	}
	boardExportCmd.ValidArgsFunction = firstArgPipeline
	rulesSetCmd.ValidArgsFunction = firstArgPipeline
}
