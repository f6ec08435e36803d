package cli

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	akbmcp "github.com/valter-silva-au/ai-kanban/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the akb MCP server on stdio",
	Long: `Start the akb MCP (Model Context Protocol) server on stdio transport.

The server exposes the engine as MCP tools that AI assistants can call:
get_card, list_cards, get_card_history, analyze_card, force_stage,
move_card, get_metrics, get_alerts.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Engine == nil || Store == nil {
			return fmt.Errorf("engine not initialized")
		}

		deps := akbmcp.Deps{
			Engine:  Engine,
			Cards:   Store,
			History: Store,
		}
		if MetricsCalc != nil {
			deps.Metrics = MetricsCalc
		}
		if AlertEngine != nil {
			deps.Alerts = AlertEngine
		}
		srv := akbmcp.NewServer(deps, appVersion)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		if err := srv.Run(ctx); err != nil {
			return fmt.Errorf("running MCP server: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
