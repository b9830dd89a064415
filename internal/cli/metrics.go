package cli

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
	mcpserver "github.com/valter-silva-au/duegate/internal/mcp"
)

var (
	metricsJSON  bool
	metricsSince string
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Display overdue enforcement metrics",
	Long: `Display aggregated metrics derived from the event log.

Metrics include task creation and completion counts, status transitions,
tasks auto-blocked by the cascade, refused moves by reason, account
blocks, and grace period outcomes.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if MetricsCalc == nil {
			return fmt.Errorf("metrics calculator not initialized (observability may be disabled)")
		}

		sinceTime, err := mcpserver.ParseSince(metricsSince, time.Now())
		if err != nil {
			return fmt.Errorf("parsing --since: %w", err)
		}

		metrics, err := MetricsCalc.Calculate(sinceTime)
		if err != nil {
			return fmt.Errorf("calculating metrics: %w", err)
		}

		if metricsJSON {
			return printJSON(metrics)
		}

		fmt.Printf("Metrics (since %s)\n\n", sinceTime.Format("2006-01-02"))
		fmt.Printf("  %-24s %d\n", "Events recorded:", metrics.EventCount)
		fmt.Printf("  %-24s %d\n", "Tasks created:", metrics.TasksCreated)
		fmt.Printf("  %-24s %d\n", "Tasks completed:", metrics.TasksCompleted)
		fmt.Printf("  %-24s %d\n", "Tasks auto-blocked:", metrics.TasksAutoBlocked)
		fmt.Printf("  %-24s %d\n", "Cascade runs:", metrics.CascadeRuns)
		fmt.Printf("  %-24s %d\n", "Account blocks:", metrics.AccountBlocks)
		fmt.Printf("  %-24s %d\n", "Account unblocks:", metrics.AccountUnblocks)
		fmt.Printf("  %-24s %d\n", "Grace periods started:", metrics.GraceStarted)
		fmt.Printf("  %-24s %d\n", "Grace periods expired:", metrics.GraceExpired)
		fmt.Printf("  %-24s %d\n", "Re-blocked after grace:", metrics.GraceReblocked)

		printCounts("Status transitions:", metrics.TasksByStatus)
		printCounts("Refused moves:", metrics.MovesRefused)

		if metrics.OldestEvent != nil {
			fmt.Printf("\n  %-24s %s\n", "Oldest event:", metrics.OldestEvent.Format(time.RFC3339))
		}
		if metrics.NewestEvent != nil {
			fmt.Printf("  %-24s %s\n", "Newest event:", metrics.NewestEvent.Format(time.RFC3339))
		}

		return nil
	},
}

func printCounts(heading string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Printf("\n  %s\n", heading)
	for _, k := range keys {
		fmt.Printf("    %-20s %d\n", k+":", counts[k])
	}
}

func init() {
	metricsCmd.Flags().BoolVar(&metricsJSON, "json", false, "Output metrics as JSON")
	metricsCmd.Flags().StringVar(&metricsSince, "since", "7d", "Time window for metrics (e.g. 7d, 30d, 24h)")
	rootCmd.AddCommand(metricsCmd)
}
