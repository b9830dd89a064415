package core

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/valter-silva-au/duegate/pkg/models"
)

// AccountAction records what a cascade run did to the acting user's account.
type AccountAction string

const (
	AccountUnchanged AccountAction = "unchanged"
	AccountBlocked   AccountAction = "blocked"
	AccountUnblocked AccountAction = "unblocked"
	// AccountDeferred means blocking was due but an active grace period
	// held it back.
	AccountDeferred AccountAction = "deferred"
)

// TaskFailure is a task write that failed during a cascade run.
type TaskFailure struct {
	TaskID string
	Err    error
}

// CascadeResult summarizes one cascade run.
type CascadeResult struct {
	NewlyBlocked []string
	Failures     []TaskFailure
	BlockedCount int
	Account      AccountAction
}

// BlockingEngine moves overdue tasks past their grace period into blocked
// status and keeps the acting user's account block in step with the number
// of blocked tasks they hold.
type BlockingEngine struct {
	tasks      TaskStore
	accounts   AccountStore
	clock      Clock
	classifier OverdueClassifier
	events     EventLogger
	log        zerolog.Logger

	// mu serializes runs so overlapping snapshot updates cannot both act
	// on a stale blocked count.
	mu sync.Mutex
}

// NewBlockingEngine creates a BlockingEngine. events may be nil.
func NewBlockingEngine(tasks TaskStore, accounts AccountStore, clock Clock, classifier OverdueClassifier, events EventLogger, log zerolog.Logger) *BlockingEngine {
	return &BlockingEngine{
		tasks:      tasks,
		accounts:   accounts,
		clock:      clock,
		classifier: classifier,
		events:     events,
		log:        log,
	}
}

// Process runs the cascade over a task snapshot for session's user. The
// snapshot is read-only: all writes go through the stores. A failed task
// write is logged and recorded, and the remaining tasks are still processed.
// graceActive suppresses (re)blocking the account.
func (e *BlockingEngine) Process(ctx context.Context, session Session, tasks []models.Task, graceActive bool) (*CascadeResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	result := &CascadeResult{Account: AccountUnchanged}
	now := e.clock.Now()

	// Local view of the snapshot with this run's successful writes applied.
	view := make([]models.Task, len(tasks))
	copy(view, tasks)

	for i, task := range view {
		if task.Status == models.StatusBlocked || !e.classifier.ShouldBeBlocked(task, now) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		blockedAt := now
		update := models.StatusUpdate{
			BlockedAt:     &blockedAt,
			BlockedReason: BlockedByOverdueReason,
			UpdatedAt:     now,
		}
		if err := e.tasks.UpdateTaskStatus(ctx, task.ID, models.StatusBlocked, update); err != nil {
			e.log.Warn().Str("task_id", task.ID).Err(err).Msg("failed to move overdue task to blocked")
			result.Failures = append(result.Failures, TaskFailure{TaskID: task.ID, Err: err})
			continue
		}
		view[i] = update.Apply(task, models.StatusBlocked)
		result.NewlyBlocked = append(result.NewlyBlocked, task.ID)
		e.log.Info().Str("task_id", task.ID).Msg("task moved to blocked status")
		e.logEvent("task.blocked", map[string]any{
			"task_id":    task.ID,
			"old_status": string(task.Status),
			"new_status": string(models.StatusBlocked),
			"assignees":  task.AssignedUsers,
		})
	}

	if session.User == "" {
		return result, nil
	}

	result.BlockedCount = len(UserBlockedTasks(view, session.User))

	account, err := e.accounts.GetUser(ctx, session.User)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return result, fmt.Errorf("processing overdue tasks: reading account %s: %w", session.User, err)
	}
	currentlyBlocked := account != nil && account.IsBlocked

	switch {
	case result.BlockedCount > 0 && !currentlyBlocked:
		if graceActive {
			result.Account = AccountDeferred
			e.log.Info().Str("user", session.User).Int("blocked_tasks", result.BlockedCount).Msg("account block deferred by grace period")
			break
		}
		reason := BlockedAccountReason(result.BlockedCount)
		if err := e.accounts.SetUserBlocking(ctx, session.User, true, reason); err != nil {
			return result, fmt.Errorf("processing overdue tasks: blocking %s: %w", session.User, err)
		}
		result.Account = AccountBlocked
		e.log.Info().Str("user", session.User).Int("blocked_tasks", result.BlockedCount).Msg("user blocked due to overdue tasks")
		e.logEvent("account.blocked", map[string]any{"user": session.User, "reason": reason, "blocked_tasks": result.BlockedCount})
	case result.BlockedCount == 0 && currentlyBlocked:
		if err := e.accounts.SetUserBlocking(ctx, session.User, false, ""); err != nil {
			return result, fmt.Errorf("processing overdue tasks: unblocking %s: %w", session.User, err)
		}
		result.Account = AccountUnblocked
		e.log.Info().Str("user", session.User).Msg("user unblocked, no more blocked tasks")
		e.logEvent("account.unblocked", map[string]any{"user": session.User})
	}

	e.logEvent("cascade.completed", map[string]any{
		"user":          session.User,
		"newly_blocked": len(result.NewlyBlocked),
		"failures":      len(result.Failures),
		"blocked_tasks": result.BlockedCount,
		"account":       string(result.Account),
	})
	return result, nil
}

// BlockedAccountReason is the account block message for n blocked tasks.
func BlockedAccountReason(n int) string {
	noun := "task"
	if n > 1 {
		noun = "tasks"
	}
	return fmt.Sprintf("You have %d overdue %s that require immediate attention.", n, noun)
}

func (e *BlockingEngine) logEvent(eventType string, data map[string]any) {
	if e.events == nil {
		return
	}
	if err := e.events.LogEvent(eventType, data); err != nil {
		e.log.Debug().Err(err).Str("event", eventType).Msg("event log write failed")
	}
}
