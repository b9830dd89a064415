package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/duegate/internal/observability"
)

var alertsNotify bool

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Show active alerts and warnings",
	Long: `Evaluate alert conditions against the event log and display any triggered alerts.

Alerts check for tasks left blocked, accounts left blocked, and users
re-blocked repeatedly after their grace period. Use --notify to post the
alerts to the configured Slack webhook.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if AlertEngine == nil {
			return fmt.Errorf("alert engine not initialized (observability may be disabled)")
		}

		alerts, err := AlertEngine.Evaluate()
		if err != nil {
			return fmt.Errorf("evaluating alerts: %w", err)
		}

		if len(alerts) == 0 {
			fmt.Println("No active alerts.")
			return nil
		}

		fmt.Printf("%d active alert(s):\n\n", len(alerts))
		for _, alert := range alerts {
			severity := strings.ToUpper(string(alert.Severity))
			fmt.Printf("  [%s] %s\n", severity, alert.Message)
			fmt.Printf("         triggered at %s\n\n", alert.TriggeredAt.Format("2006-01-02 15:04 UTC"))
		}

		if alertsNotify {
			if Notifier == nil {
				return fmt.Errorf("no notifier configured (set notifications.slack.webhook_url)")
			}
			if err := Notifier.Notify(cmd.Context(), alerts); err != nil {
				return fmt.Errorf("sending notification: %w", err)
			}
			fmt.Println("Alerts sent to Slack.")
		}
		return nil
	},
}

// notifyAlerts evaluates the alert rules and posts any active alerts.
// It is a no-op when alerting or notification is not configured.
func notifyAlerts(ctx context.Context) ([]observability.Alert, error) {
	if AlertEngine == nil || Notifier == nil {
		return nil, nil
	}
	alerts, err := AlertEngine.Evaluate()
	if err != nil {
		return nil, fmt.Errorf("evaluating alerts: %w", err)
	}
	if len(alerts) == 0 {
		return nil, nil
	}
	if err := Notifier.Notify(ctx, alerts); err != nil {
		return alerts, fmt.Errorf("sending notification: %w", err)
	}
	return alerts, nil
}

func init() {
	alertsCmd.Flags().BoolVar(&alertsNotify, "notify", false, "Post the active alerts to Slack")
	rootCmd.AddCommand(alertsCmd)
}
