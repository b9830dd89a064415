package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/duegate/internal/core"
	"github.com/valter-silva-au/duegate/pkg/models"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks (add, list, show, move)",
	Long: `Task board commands.

Create tasks with a due date, list and inspect them with their overdue
state, and move them between statuses through the permission gate.`,
}

var (
	taskAddDescription string
	taskAddPriority    string
	taskAddStatus      string
	taskAddDue         string
	taskAddStart       string
	taskAddAssign      []string
	taskAddAssignedBy  string
)

var taskAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Create a new task",
	Long: `Create a new task on the board.

Dates are YYYY-MM-DD in the configured timezone, or RFC 3339. Use
--assign once per assignee. The task is created by the current user.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireLifecycle(); err != nil {
			return err
		}
		session, err := currentSession()
		if err != nil {
			return err
		}

		loc := Lifecycle.Clock().Now().Location()
		due, err := core.ParseDueDate(taskAddDue, loc)
		if err != nil {
			return err
		}
		start, err := core.ParseDueDate(taskAddStart, loc)
		if err != nil {
			return err
		}

		task, err := TaskMgr.CreateTask(cmd.Context(), session, core.CreateTaskOpts{
			Title:         args[0],
			Description:   taskAddDescription,
			Priority:      models.Priority(taskAddPriority),
			Status:        models.TaskStatus(taskAddStatus),
			DueDate:       due,
			StartDate:     start,
			AssignedUsers: taskAddAssign,
			AssignedBy:    taskAddAssignedBy,
		})
		if err != nil {
			return fmt.Errorf("creating task: %w", err)
		}

		fmt.Printf("Created task %s\n", task.ID)
		fmt.Printf("  Title:    %s\n", task.Title)
		fmt.Printf("  Status:   %s\n", task.Status)
		fmt.Printf("  Due:      %s\n", formatDate(task.DueDate))
		if len(task.AssignedUsers) > 0 {
			fmt.Printf("  Assigned: %s\n", strings.Join(task.AssignedUsers, ", "))
		}
		return nil
	},
}

var (
	taskListStatus []string
	taskListUser   string
	taskListJSON   bool
)

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks with their overdue state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireLifecycle(); err != nil {
			return err
		}

		filter := core.TaskFilter{User: taskListUser}
		for _, raw := range taskListStatus {
			status, err := models.ParseTaskStatus(strings.TrimSpace(raw))
			if err != nil {
				return err
			}
			filter.Status = append(filter.Status, status)
		}

		tasks, err := TaskMgr.ListTasks(cmd.Context(), filter)
		if err != nil {
			return fmt.Errorf("listing tasks: %w", err)
		}

		if taskListJSON {
			if tasks == nil {
				tasks = []models.Task{}
			}
			return printJSON(tasks)
		}

		if len(tasks) == 0 {
			fmt.Println("No tasks found.")
			return nil
		}

		fmt.Printf("%-36s  %-12s  %-10s  %-8s  %s\n", "ID", "STATUS", "DUE", "STATE", "TITLE")
		for _, t := range tasks {
			fmt.Printf("%-36s  %-12s  %-10s  %-8s  %s\n", t.ID, t.Status, formatDate(t.DueDate), overdueState(t), t.Title)
		}
		return nil
	},
}

var taskShowJSON bool

var taskShowCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show one task with its overdue message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireLifecycle(); err != nil {
			return err
		}
		task, err := TaskMgr.GetTask(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("getting task: %w", err)
		}

		if taskShowJSON {
			return printJSON(task)
		}

		fmt.Println(titleStyle.Render(task.Title))
		fmt.Printf("  ID:          %s\n", task.ID)
		fmt.Printf("  Status:      %s\n", styleStatus(task.Status))
		fmt.Printf("  Priority:    %s\n", task.Priority)
		fmt.Printf("  Due:         %s\n", formatDate(task.DueDate))
		if task.StartDate != nil {
			fmt.Printf("  Start:       %s\n", formatDate(task.StartDate))
		}
		fmt.Printf("  Assigned:    %s\n", strings.Join(task.AssignedUsers, ", "))
		fmt.Printf("  Created by:  %s\n", task.CreatedBy)
		if task.AssignedBy != "" {
			fmt.Printf("  Assigned by: %s\n", task.AssignedBy)
		}
		if task.BlockedReason != "" {
			fmt.Printf("  Blocked:     %s (%s)\n", task.BlockedReason, formatTimestamp(task.BlockedAt))
		}
		if task.CompletedBy != "" {
			fmt.Printf("  Completed:   %s by %s\n", formatTimestamp(task.CompletedAt), task.CompletedBy)
		}
		if task.PausedBy != "" {
			fmt.Printf("  Paused:      %s by %s\n", formatTimestamp(task.PausedAt), task.PausedBy)
		}
		if task.Description != "" {
			fmt.Printf("\n%s\n", task.Description)
		}
		if Lifecycle.IsTaskOverdue(*task) {
			fmt.Printf("\n%s\n", warnStyle.Render(Lifecycle.FormatOverdueMessage(*task)))
		}
		return nil
	},
}

var taskMoveCmd = &cobra.Command{
	Use:   "move <task-id> <status>",
	Short: "Move a task to a new status",
	Long: `Move a task to a new status as the current user.

Valid statuses: todo, in-progress, blocked, paused, completed.

The move is refused if the transition is not allowed, if your account is
blocked and the move does not resolve overdue work, or if you are not an
assignee of the task.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireLifecycle(); err != nil {
			return err
		}
		session, err := currentSession()
		if err != nil {
			return err
		}
		status, err := models.ParseTaskStatus(args[1])
		if err != nil {
			return err
		}

		task, err := TaskMgr.MoveTask(cmd.Context(), session, args[0], status)
		if err != nil {
			var refused *core.MoveRefusedError
			if errors.As(err, &refused) {
				fmt.Fprintln(os.Stderr, blockedStyle.Render(refused.Decision.Message))
				return fmt.Errorf("move refused (%s)", refused.Decision.Refusal)
			}
			return fmt.Errorf("moving task: %w", err)
		}

		fmt.Printf("Task %s moved to %s\n", task.ID, styleStatus(task.Status))
		return nil
	},
}

// overdueState is the short label shown in task listings.
func overdueState(t models.Task) string {
	switch {
	case t.Status == models.StatusCompleted:
		return "done"
	case Lifecycle.IsTaskInGracePeriod(t):
		return "grace"
	case Lifecycle.IsTaskOverdue(t):
		return "overdue"
	default:
		return "ok"
	}
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

// listAllTasks loads the whole board for engine calls.
func listAllTasks(ctx context.Context) ([]models.Task, error) {
	tasks, err := TaskMgr.ListTasks(ctx, core.TaskFilter{})
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	return tasks, nil
}

func init() {
	taskAddCmd.Flags().StringVarP(&taskAddDescription, "description", "d", "", "Task description")
	taskAddCmd.Flags().StringVarP(&taskAddPriority, "priority", "p", "", "Priority: low, medium, high or urgent")
	taskAddCmd.Flags().StringVar(&taskAddStatus, "status", "", "Initial status (default todo)")
	taskAddCmd.Flags().StringVar(&taskAddDue, "due", "", "Due date (YYYY-MM-DD)")
	taskAddCmd.Flags().StringVar(&taskAddStart, "start", "", "Start date (YYYY-MM-DD)")
	taskAddCmd.Flags().StringArrayVarP(&taskAddAssign, "assign", "a", nil, "Assignee (repeatable)")
	taskAddCmd.Flags().StringVar(&taskAddAssignedBy, "assigned-by", "", "Who assigned the task")
	_ = taskAddCmd.RegisterFlagCompletionFunc("priority", completePriorities)
	_ = taskAddCmd.RegisterFlagCompletionFunc("status", completeStatuses)

	taskListCmd.Flags().StringSliceVarP(&taskListStatus, "status", "s", nil, "Filter by status (comma-separated)")
	taskListCmd.Flags().StringVar(&taskListUser, "assignee", "", "Only tasks assigned to this user")
	taskListCmd.Flags().BoolVar(&taskListJSON, "json", false, "Output tasks as JSON")
	_ = taskListCmd.RegisterFlagCompletionFunc("status", completeStatuses)

	taskShowCmd.Flags().BoolVar(&taskShowJSON, "json", false, "Output the task as JSON")
	taskShowCmd.ValidArgsFunction = completeTaskIDs()
	taskMoveCmd.ValidArgsFunction = completeMoveArgs

	taskCmd.AddCommand(taskAddCmd, taskListCmd, taskShowCmd, taskMoveCmd)
	rootCmd.AddCommand(taskCmd)
}
