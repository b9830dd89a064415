package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	mcpserver "github.com/valter-silva-au/duegate/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "MCP server commands",
	Long:  "Commands for running the duegate MCP (Model Context Protocol) server.",
}

var mcpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the duegate MCP server on stdio",
	Long: `Start the duegate MCP server on stdio transport, acting as the current user.

The server exposes the task board and the overdue policy as MCP tools:
list_tasks, get_task, move_task, check_move, get_overdue_summary,
process_overdue, grace_status, get_metrics, get_alerts.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireLifecycle(); err != nil {
			return err
		}
		session, err := currentSession()
		if err != nil {
			return err
		}

		srv := mcpserver.NewServer(mcpserver.Options{
			Lifecycle: Lifecycle,
			Tasks:     TaskMgr,
			Session:   session,
			Metrics:   MetricsCalc,
			Alerts:    AlertEngine,
			Version:   appVersion,
		})

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		if err := srv.Run(ctx); err != nil {
			return fmt.Errorf("running MCP server: %w", err)
		}

		return nil
	},
}

func init() {
	mcpCmd.AddCommand(mcpServeCmd)
	rootCmd.AddCommand(mcpCmd)
}
