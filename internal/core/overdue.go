package core

import (
	"fmt"
	"time"

	"github.com/valter-silva-au/duegate/pkg/models"
)

// DefaultGracePeriodDays is the number of business days an overdue task is
// tolerated before it should be blocked.
const DefaultGracePeriodDays = 2

// BlockedByOverdueReason is stamped on tasks the cascade moves to blocked.
const BlockedByOverdueReason = "Overdue task moved to blocked status after grace period"

// OverdueClassifier derives overdue, grace and blocking state from a task's
// due date and the current time. Nothing is cached: every answer is
// recomputed from the inputs.
type OverdueClassifier struct {
	GracePeriodDays int
}

// NewOverdueClassifier creates a classifier with the given grace length.
// Negative values are clamped to zero.
func NewOverdueClassifier(graceDays int) OverdueClassifier {
	if graceDays < 0 {
		graceDays = 0
	}
	return OverdueClassifier{GracePeriodDays: graceDays}
}

// dueDay returns the task's due date as midnight in now's location.
func dueDay(task models.Task, now time.Time) (time.Time, bool) {
	if task.DueDate == nil || task.DueDate.IsZero() {
		return time.Time{}, false
	}
	return dateIn(*task.DueDate, now.Location()), true
}

// IsOverdue reports whether today is strictly after the task's due date.
// Status is not consulted; completed tasks can still be overdue.
func (c OverdueClassifier) IsOverdue(task models.Task, now time.Time) bool {
	due, ok := dueDay(task, now)
	if !ok {
		return false
	}
	return startOfDay(now).After(due)
}

// GracePeriodEnd returns the last day of the task's grace period.
func (c OverdueClassifier) GracePeriodEnd(task models.Task, now time.Time) (time.Time, bool) {
	due, ok := dueDay(task, now)
	if !ok {
		return time.Time{}, false
	}
	return AddBusinessDays(due, c.GracePeriodDays), true
}

// IsInGracePeriod reports whether an overdue task is still within
// GracePeriodDays business days of its due date.
func (c OverdueClassifier) IsInGracePeriod(task models.Task, now time.Time) bool {
	if !c.IsOverdue(task, now) {
		return false
	}
	end, _ := c.GracePeriodEnd(task, now)
	return !startOfDay(now).After(end)
}

// ShouldBeBlocked reports whether the task belongs in blocked status.
// Already-blocked overdue tasks stay blocked. Completed and paused tasks
// count as resolved and are never blocked.
func (c OverdueClassifier) ShouldBeBlocked(task models.Task, now time.Time) bool {
	if !c.IsOverdue(task, now) {
		return false
	}
	switch task.Status {
	case models.StatusCompleted, models.StatusPaused:
		return false
	case models.StatusBlocked:
		return true
	}
	return !c.IsInGracePeriod(task, now)
}

// FormatOverdueMessage renders a human-readable overdue notice for the task.
// It returns an empty string when the task is not overdue.
func (c OverdueClassifier) FormatOverdueMessage(task models.Task, now time.Time) string {
	due, ok := dueDay(task, now)
	if !ok || !c.IsOverdue(task, now) {
		return ""
	}
	today := startOfDay(now)
	overdueBy := CountBusinessDays(due.AddDate(0, 0, 1), today)

	if c.IsInGracePeriod(task, now) {
		end, _ := c.GracePeriodEnd(task, now)
		left := CountBusinessDays(today.AddDate(0, 0, 1), end)
		return fmt.Sprintf("Task %q is overdue by %s. Grace period ends in %s.",
			task.Title, pluralize(overdueBy, "business day"), pluralize(left, "business day"))
	}
	return fmt.Sprintf("Task %q is overdue by %s and has been moved to blocked status.",
		task.Title, pluralize(overdueBy, "business day"))
}

// Summary counts the user's open tasks by overdue state. Blocked tasks are
// counted as blocked regardless of their dates.
func (c OverdueClassifier) Summary(tasks []models.Task, user string, now time.Time) models.OverdueSummary {
	var s models.OverdueSummary
	if user == "" {
		return s
	}
	for _, t := range tasks {
		if !t.IsAssignedTo(user) || t.Status == models.StatusCompleted {
			continue
		}
		switch {
		case t.Status == models.StatusBlocked:
			s.Blocked++
		case c.IsInGracePeriod(t, now):
			s.InGrace++
		case c.IsOverdue(t, now):
			s.Overdue++
		}
	}
	return s
}

// DueToday returns the open tasks whose due date is today.
func (c OverdueClassifier) DueToday(tasks []models.Task, now time.Time) []models.Task {
	today := startOfDay(now)
	var result []models.Task
	for _, t := range tasks {
		if t.Status == models.StatusCompleted {
			continue
		}
		due, ok := dueDay(t, now)
		if ok && due.Equal(today) {
			result = append(result, t)
		}
	}
	return result
}

// UnresolvedOverdue returns the user's overdue tasks that are neither
// completed nor paused. Grace-period expiry re-blocks on these.
func (c OverdueClassifier) UnresolvedOverdue(tasks []models.Task, user string, now time.Time) []models.Task {
	var result []models.Task
	for _, t := range tasks {
		if !t.IsAssignedTo(user) {
			continue
		}
		if t.Status == models.StatusCompleted || t.Status == models.StatusPaused {
			continue
		}
		if c.IsOverdue(t, now) {
			result = append(result, t)
		}
	}
	return result
}

// UserBlockedTasks returns the tasks in blocked status held by user.
func UserBlockedTasks(tasks []models.Task, user string) []models.Task {
	if user == "" {
		return nil
	}
	var result []models.Task
	for _, t := range tasks {
		if t.Status == models.StatusBlocked && t.IsAssignedTo(user) {
			result = append(result, t)
		}
	}
	return result
}

func pluralize(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
