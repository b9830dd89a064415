package core

import "github.com/valter-silva-au/duegate/pkg/models"

// transitions is the single source of status-transition legality. Every
// entry point (CLI, HTTP, MCP, cascade) is checked against it.
var transitions = map[models.TaskStatus][]models.TaskStatus{
	models.StatusTodo:       {models.StatusInProgress, models.StatusBlocked, models.StatusPaused},
	models.StatusInProgress: {models.StatusTodo, models.StatusBlocked, models.StatusPaused, models.StatusCompleted},
	models.StatusBlocked:    {models.StatusPaused, models.StatusCompleted},
	models.StatusPaused:     {models.StatusTodo, models.StatusInProgress, models.StatusCompleted},
	models.StatusCompleted:  {models.StatusTodo, models.StatusInProgress},
}

// CanTransition reports whether a task may go from one status to another,
// independent of who is asking.
func CanTransition(from, to models.TaskStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// AllowedTransitions returns the statuses reachable from from. The result
// is a copy and may be modified by the caller.
func AllowedTransitions(from models.TaskStatus) []models.TaskStatus {
	allowed := transitions[from]
	out := make([]models.TaskStatus, len(allowed))
	copy(out, allowed)
	return out
}
