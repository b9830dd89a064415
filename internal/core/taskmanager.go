package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/valter-silva-au/duegate/pkg/models"
)

// CreateTaskOpts holds the fields for a new task.
type CreateTaskOpts struct {
	Title         string
	Description   string
	Priority      models.Priority
	Status        models.TaskStatus
	DueDate       *time.Time
	StartDate     *time.Time
	AssignedUsers []string
	AssignedBy    string
}

// TaskFilter narrows ListTasks. Empty fields match everything.
type TaskFilter struct {
	Status []models.TaskStatus
	User   string
}

// TaskManager defines the task operations exposed to the CLI, HTTP and MCP
// layers. Every status change goes through the move gate.
type TaskManager interface {
	CreateTask(ctx context.Context, session Session, opts CreateTaskOpts) (*models.Task, error)
	GetTask(ctx context.Context, taskID string) (*models.Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]models.Task, error)
	MoveTask(ctx context.Context, session Session, taskID string, newStatus models.TaskStatus) (*models.Task, error)
}

type taskManager struct {
	store     TaskStore
	lifecycle *Lifecycle
	events    EventLogger
	log       zerolog.Logger
}

// NewTaskManager creates a TaskManager. events may be nil. It logs through
// the lifecycle's logger.
func NewTaskManager(store TaskStore, lifecycle *Lifecycle, events EventLogger) TaskManager {
	tm := &taskManager{store: store, lifecycle: lifecycle, events: events, log: zerolog.Nop()}
	if lifecycle != nil {
		tm.log = lifecycle.log
	}
	return tm
}

func (tm *taskManager) CreateTask(ctx context.Context, session Session, opts CreateTaskOpts) (*models.Task, error) {
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		return nil, fmt.Errorf("creating task: title must not be empty")
	}
	status := opts.Status
	if status == "" {
		status = models.StatusTodo
	}
	if !status.Valid() {
		return nil, fmt.Errorf("creating task: invalid status %q", status)
	}
	priority := opts.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}

	assignedBy := opts.AssignedBy
	if assignedBy == "" && len(opts.AssignedUsers) > 0 {
		assignedBy = session.User
	}

	now := tm.lifecycle.Clock().Now()
	task := models.Task{
		ID:            uuid.NewString(),
		Title:         title,
		Description:   opts.Description,
		Priority:      priority,
		Status:        status,
		DueDate:       opts.DueDate,
		StartDate:     opts.StartDate,
		AssignedUsers: dedupe(opts.AssignedUsers),
		CreatedBy:     session.User,
		AssignedBy:    assignedBy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := tm.store.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("creating task: %w", err)
	}

	tm.logEvent("task.created", map[string]any{
		"task_id":    task.ID,
		"status":     string(task.Status),
		"created_by": task.CreatedBy,
	})
	return &task, nil
}

func (tm *taskManager) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	task, err := tm.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("getting task %s: %w", taskID, err)
	}
	return task, nil
}

func (tm *taskManager) ListTasks(ctx context.Context, filter TaskFilter) ([]models.Task, error) {
	all, err := tm.store.ListTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	var result []models.Task
	for _, t := range all {
		if len(filter.Status) > 0 && !containsStatus(filter.Status, t.Status) {
			continue
		}
		if filter.User != "" && !t.IsAssignedTo(filter.User) {
			continue
		}
		result = append(result, t)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// MoveTask changes a task's status on behalf of the session user. A move
// the gate refuses returns *MoveRefusedError.
func (tm *taskManager) MoveTask(ctx context.Context, session Session, taskID string, newStatus models.TaskStatus) (*models.Task, error) {
	task, err := tm.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("moving task %s: %w", taskID, err)
	}

	decision, err := tm.lifecycle.CheckMove(ctx, session, *task, newStatus)
	if err != nil {
		return nil, fmt.Errorf("moving task %s: %w", taskID, err)
	}
	if !decision.Allowed {
		tm.logEvent("task.move_refused", map[string]any{
			"task_id":    taskID,
			"user":       session.User,
			"old_status": string(task.Status),
			"new_status": string(newStatus),
			"refusal":    string(decision.Refusal),
		})
		return nil, &MoveRefusedError{TaskID: taskID, Decision: decision}
	}

	now := tm.lifecycle.Clock().Now()
	update := models.StatusUpdate{UpdatedAt: now}
	switch newStatus {
	case models.StatusCompleted:
		update.CompletedAt = &now
		update.CompletedBy = session.User
	case models.StatusPaused:
		update.PausedAt = &now
		update.PausedBy = session.User
	case models.StatusBlocked:
		update.BlockedAt = &now
		update.BlockedReason = "Moved to blocked by " + session.User
	}

	if err := tm.store.UpdateTaskStatus(ctx, taskID, newStatus, update); err != nil {
		return nil, fmt.Errorf("moving task %s: %w", taskID, err)
	}

	tm.logEvent("task.status_changed", map[string]any{
		"task_id":    taskID,
		"user":       session.User,
		"old_status": string(task.Status),
		"new_status": string(newStatus),
	})
	moved := update.Apply(*task, newStatus)
	return &moved, nil
}

func (tm *taskManager) logEvent(eventType string, data map[string]any) {
	if tm.events == nil {
		return
	}
	if err := tm.events.LogEvent(eventType, data); err != nil {
		tm.log.Debug().Err(err).Str("event", eventType).Msg("event log write failed")
	}
}

func containsStatus(haystack []models.TaskStatus, needle models.TaskStatus) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
