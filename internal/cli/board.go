package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/valter-silva-au/ai-kanban/internal/core"
	"github.com/valter-silva-au/ai-kanban/internal/storage"
	"github.com/valter-silva-au/ai-kanban/pkg/models"
)

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Import and export board configuration",
	Long: `Boards are described in YAML files holding pipelines (columns, funnels
with their lifecycle stages, movement rules and move rules), cards and
customer profiles.`,
}

var boardImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Load pipelines, cards and customers from a board file",
	Long: `Import a board file into the database.

Each pipeline's configuration replaces the stored one. Move rules are
validated first and the import is rejected when any rule is invalid. Cards
that already exist are left untouched; customer profiles are upserted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if Store == nil {
			return fmt.Errorf("card store not initialized")
		}
		ctx := cmd.Context()
		bf, err := storage.LoadBoardFile(args[0], time.Now().UTC())
		if err != nil {
			return err
		}

		for _, p := range bf.Pipelines {
			if err := core.ValidateMoveRules(p.MoveRules); err != nil {
				return fmt.Errorf("pipeline %s: %w", p.PipelineID, err)
			}
		}
		for i := range bf.Pipelines {
			if err := Store.SaveBoard(ctx, &bf.Pipelines[i]); err != nil {
				return fmt.Errorf("saving pipeline %s: %w", bf.Pipelines[i].PipelineID, err)
			}
		}

		for _, c := range bf.Customers {
			if err := Store.UpsertCustomer(ctx, c); err != nil {
				return fmt.Errorf("saving customer %s: %w", c.ID, err)
			}
		}

		var inserted, skipped int
		for i := range bf.Cards {
			c := &bf.Cards[i]
			if _, err := Store.GetCard(ctx, c.ID); err == nil {
				skipped++
				continue
			} else if !errors.Is(err, core.ErrCardNotFound) && !errors.Is(err, storage.ErrCardNotFound) {
				return fmt.Errorf("checking card %s: %w", c.ID, err)
			}
			if err := Store.InsertCard(ctx, c); err != nil {
				return fmt.Errorf("inserting card %s: %w", c.ID, err)
			}
			inserted++
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d pipeline(s), %d customer(s), %d card(s) (%d already present)\n",
			len(bf.Pipelines), len(bf.Customers), inserted, skipped)
		return nil
	},
}

var boardExportCmd = &cobra.Command{
	Use:   "export <pipeline-id> <file>",
	Short: "Write a pipeline's configuration and cards to a board file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if Store == nil {
			return fmt.Errorf("card store not initialized")
		}
		ctx := cmd.Context()
		board, err := Store.LoadBoard(ctx, args[0])
		if err != nil {
			return fmt.Errorf("loading pipeline %s: %w", args[0], err)
		}
		cards, err := Store.ListCards(ctx, args[0])
		if err != nil {
			return fmt.Errorf("listing cards of %s: %w", args[0], err)
		}

		bf := &storage.BoardFile{Pipelines: []models.Board{*board}}
		seen := make(map[string]bool)
		for _, c := range cards {
			bf.Cards = append(bf.Cards, *c)
			if c.CustomerID == "" || seen[c.CustomerID] {
				continue
			}
			seen[c.CustomerID] = true
			profile, err := Store.GetCustomer(ctx, c.CustomerID)
			if err != nil {
				logger().Debug("customer profile not exported",
					zap.String("customer_id", c.CustomerID), zap.Error(err))
				continue
			}
			bf.Customers = append(bf.Customers, *profile)
		}

		if err := storage.SaveBoardFile(args[1], bf); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported pipeline %s (%d card(s)) to %s\n", args[0], len(bf.Cards), args[1])
		return nil
	},
}

func init() {
	boardCmd.AddCommand(boardImportCmd)
	boardCmd.AddCommand(boardExportCmd)
	rootCmd.AddCommand(boardCmd)
}
