package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/valter-silva-au/ai-kanban/internal/observability"
)

var (
	alertsNotify bool
	alertsJSON   bool
)

var severityStyles = map[observability.AlertSeverity]lipgloss.Style{
	observability.SeverityHigh:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
	observability.SeverityMedium: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
	observability.SeverityLow:    lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
}

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Evaluate alert conditions over the engine event log",
	Long: `Evaluate alert conditions against the event log and display any triggered alerts.

Alerts flag funnels whose AI stage names keep failing to match the
configured stages, failed history writes, cards that have not been analyzed
for a while, and monetary locks engaged recently. With --notify the alerts
are also posted to the configured Slack webhook.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if AlertEngine == nil {
			return fmt.Errorf("alert engine not initialized (event log may be disabled)")
		}

		alerts, err := AlertEngine.Evaluate()
		if err != nil {
			return fmt.Errorf("evaluating alerts: %w", err)
		}

		w := cmd.OutOrStdout()
		switch {
		case alertsJSON:
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			if alerts == nil {
				alerts = []observability.Alert{}
			}
			if err := enc.Encode(alerts); err != nil {
				return fmt.Errorf("encoding alerts: %w", err)
			}
		case len(alerts) == 0:
			fmt.Fprintln(w, "No active alerts.")
		default:
			fmt.Fprintf(w, "%d active alert(s):\n", len(alerts))
			for _, a := range alerts {
				tag := "[" + strings.ToUpper(string(a.Severity)) + "]"
				if st, ok := severityStyles[a.Severity]; ok {
					tag = st.Render(tag)
				}
				fmt.Fprintf(w, "  %s %s\n", tag, a.Message)
				fmt.Fprintf(w, "      %s at %s\n", a.Condition, a.TriggeredAt.Format("2006-01-02 15:04 UTC"))
			}
		}

		if !alertsNotify || len(alerts) == 0 {
			return nil
		}
		if Notifier == nil {
			return fmt.Errorf("notifications are not configured (set notifications.enabled and notifications.slack.webhook_url)")
		}
		if err := Notifier.Notify(cmd.Context(), alerts); err != nil {
			return fmt.Errorf("sending alert notification: %w", err)
		}
		if !alertsJSON {
			fmt.Fprintln(w, "Notification sent.")
		}
		return nil
	},
}

func init() {
	alertsCmd.Flags().BoolVar(&alertsNotify, "notify", false, "Post the alerts to the configured Slack webhook")
	alertsCmd.Flags().BoolVar(&alertsJSON, "json", false, "Output alerts as JSON")
	rootCmd.AddCommand(alertsCmd)
}
