package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/duegate/internal/core"
	"github.com/valter-silva-au/duegate/pkg/models"
)

var overdueCmd = &cobra.Command{
	Use:   "overdue",
	Short: "Inspect and enforce the overdue policy",
	Long: `Overdue policy commands.

A task is overdue once its due date has passed. It stays in the grace
period for the configured number of business days, after which the
blocking cascade moves it to blocked and blocks its assignees.`,
}

var overdueSummaryJSON bool

type overdueSummaryView struct {
	User                string                `json:"user"`
	Summary             models.OverdueSummary `json:"summary"`
	CanSelfUnblock      bool                  `json:"can_self_unblock"`
	UnblockInstructions string                `json:"unblock_instructions,omitempty"`
}

var overdueSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show the current user's overdue counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireLifecycle(); err != nil {
			return err
		}
		user, err := currentUser()
		if err != nil {
			return err
		}
		tasks, err := listAllTasks(cmd.Context())
		if err != nil {
			return err
		}

		view := overdueSummaryView{
			User:                user,
			Summary:             Lifecycle.GetUserOverdueSummary(tasks, user),
			CanSelfUnblock:      core.CanUserUnblockSelf(tasks, user),
			UnblockInstructions: core.SelfUnblockInstructions(tasks, user),
		}
		if overdueSummaryJSON {
			return printJSON(view)
		}

		fmt.Printf("Overdue summary for %s\n\n", titleStyle.Render(user))
		fmt.Printf("  %-24s %d\n", "Overdue:", view.Summary.Overdue)
		fmt.Printf("  %-24s %d\n", "In grace period:", view.Summary.InGrace)
		fmt.Printf("  %-24s %d\n", "Blocked:", view.Summary.Blocked)
		if view.CanSelfUnblock {
			fmt.Printf("\n%s\n", view.UnblockInstructions)
		}
		return nil
	},
}

var overdueProcessCmd = &cobra.Command{
	Use:   "process",
	Short: "Run the blocking cascade now",
	Long: `Run the blocking cascade over the whole board.

Tasks overdue past the grace period are moved to blocked, and the current
user's account is blocked or unblocked to match their blocked tasks. The
monitor started by 'duegate serve' runs this automatically.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireLifecycle(); err != nil {
			return err
		}
		session, err := currentSession()
		if err != nil {
			return err
		}
		tasks, err := listAllTasks(cmd.Context())
		if err != nil {
			return err
		}

		result, err := Lifecycle.ProcessOverdueTasks(cmd.Context(), session, tasks)
		if err != nil {
			return fmt.Errorf("processing overdue tasks: %w", err)
		}

		if len(result.NewlyBlocked) == 0 {
			fmt.Println("No tasks newly blocked.")
		} else {
			fmt.Printf("%d task(s) moved to blocked:\n", len(result.NewlyBlocked))
			for _, id := range result.NewlyBlocked {
				fmt.Printf("  %s\n", id)
			}
		}
		for _, f := range result.Failures {
			fmt.Printf("  %s %s: %v\n", warnStyle.Render("failed"), f.TaskID, f.Err)
		}
		fmt.Printf("Blocked tasks held by %s: %d\n", session.User, result.BlockedCount)
		fmt.Printf("Account: %s\n", accountActionLabel(result.Account))
		return nil
	},
}

var overdueDueTodayUser string

var overdueDueTodayCmd = &cobra.Command{
	Use:   "due-today",
	Short: "List open tasks due today",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireLifecycle(); err != nil {
			return err
		}
		tasks, err := TaskMgr.ListTasks(cmd.Context(), core.TaskFilter{User: overdueDueTodayUser})
		if err != nil {
			return fmt.Errorf("listing tasks: %w", err)
		}

		due := Lifecycle.DueToday(tasks)
		if len(due) == 0 {
			fmt.Println("Nothing due today.")
			return nil
		}
		fmt.Printf("%d task(s) due today:\n", len(due))
		for _, t := range due {
			fmt.Printf("  %-36s  %-12s  %s\n", t.ID, t.Status, t.Title)
		}
		return nil
	},
}

var overdueMessageCmd = &cobra.Command{
	Use:   "message <task-id>",
	Short: "Print the overdue message for a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireLifecycle(); err != nil {
			return err
		}
		task, err := TaskMgr.GetTask(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("getting task: %w", err)
		}
		msg := Lifecycle.FormatOverdueMessage(*task)
		if msg == "" {
			fmt.Println("Task is not overdue.")
			return nil
		}
		fmt.Println(msg)
		return nil
	},
}

func accountActionLabel(a core.AccountAction) string {
	switch a {
	case core.AccountBlocked:
		return blockedStyle.Render("blocked")
	case core.AccountUnblocked:
		return okStyle.Render("unblocked")
	case core.AccountDeferred:
		return warnStyle.Render("blocking deferred (grace period active)")
	default:
		return "unchanged"
	}
}

func init() {
	overdueSummaryCmd.Flags().BoolVar(&overdueSummaryJSON, "json", false, "Output the summary as JSON")
	overdueDueTodayCmd.Flags().StringVar(&overdueDueTodayUser, "assignee", "", "Only tasks assigned to this user")
	overdueMessageCmd.ValidArgsFunction = completeTaskIDs(models.StatusCompleted)

	overdueCmd.AddCommand(overdueSummaryCmd, overdueProcessCmd, overdueDueTodayCmd, overdueMessageCmd)
	rootCmd.AddCommand(overdueCmd)
}
