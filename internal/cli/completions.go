package cli

import (
	"context"
	"strings"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/duegate/internal/core"
	"github.com/valter-silva-au/duegate/pkg/models"
)

// completeTaskIDs returns a completion function that lists task IDs,
// optionally filtered to exclude certain statuses.
func completeTaskIDs(excludeStatuses ...models.TaskStatus) func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return func(_ *cobra.Command, _ []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if TaskMgr == nil {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}

		tasks, err := TaskMgr.ListTasks(context.Background(), core.TaskFilter{})
		if err != nil {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}

		exclude := make(map[models.TaskStatus]bool)
		for _, s := range excludeStatuses {
			exclude[s] = true
		}

		var ids []string
		for _, task := range tasks {
			if exclude[task.Status] {
				continue
			}
			if toComplete == "" || strings.HasPrefix(task.ID, toComplete) {
				ids = append(ids, task.ID+"\t"+string(task.Status)+": "+task.Title)
			}
		}

		return ids, cobra.ShellCompDirectiveNoFileComp
	}
}

// completeMoveArgs completes the task ID, then the target status.
func completeMoveArgs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) == 0 {
		return completeTaskIDs(models.StatusCompleted)(cmd, args, toComplete)
	}
	if len(args) == 1 {
		return completeStatuses(cmd, args, toComplete)
	}
	return nil, cobra.ShellCompDirectiveNoFileComp
}

func completePriorities(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
	return []string{
		"low\tCan wait",
		"medium\tNormal",
		"high\tSoon",
		"urgent\tDrop everything",
	}, cobra.ShellCompDirectiveNoFileComp
}

func completeStatuses(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
	return []string{
		"todo\tNot started",
		"in-progress\tActively being worked on",
		"blocked\tStopped, overdue past grace",
		"paused\tOn hold, resolves overdue blocking",
		"completed\tDone",
	}, cobra.ShellCompDirectiveNoFileComp
}
