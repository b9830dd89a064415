package models

import (
	"fmt"
	"time"
)

// TaskStatus represents the current lifecycle state of a task.
type TaskStatus string

const (
	StatusTodo       TaskStatus = "todo"
	StatusInProgress TaskStatus = "in-progress"
	StatusBlocked    TaskStatus = "blocked"
	StatusPaused     TaskStatus = "paused"
	StatusCompleted  TaskStatus = "completed"
)

// AllStatuses returns every task status in board column order.
func AllStatuses() []TaskStatus {
	return []TaskStatus{StatusTodo, StatusInProgress, StatusBlocked, StatusPaused, StatusCompleted}
}

// Valid reports whether s is one of the five known statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusBlocked, StatusPaused, StatusCompleted:
		return true
	}
	return false
}

// ParseTaskStatus converts a raw string into a TaskStatus.
func ParseTaskStatus(raw string) (TaskStatus, error) {
	s := TaskStatus(raw)
	if !s.Valid() {
		return "", fmt.Errorf("invalid status %q: must be one of todo, in-progress, blocked, paused, completed", raw)
	}
	return s, nil
}

// Priority represents the urgency level of a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Task is a unit of work on the board. Ownership is expressed by
// AssignedUsers; CreatedBy and AssignedBy only record provenance.
type Task struct {
	ID            string     `yaml:"id" json:"id"`
	Title         string     `yaml:"title" json:"title"`
	Description   string     `yaml:"description,omitempty" json:"description,omitempty"`
	Priority      Priority   `yaml:"priority" json:"priority"`
	Status        TaskStatus `yaml:"status" json:"status"`
	DueDate       *time.Time `yaml:"due_date,omitempty" json:"due_date,omitempty"`
	StartDate     *time.Time `yaml:"start_date,omitempty" json:"start_date,omitempty"`
	AssignedUsers []string   `yaml:"assigned_users" json:"assigned_users"`
	CreatedBy     string     `yaml:"created_by" json:"created_by"`
	AssignedBy    string     `yaml:"assigned_by,omitempty" json:"assigned_by,omitempty"`

	BlockedAt     *time.Time `yaml:"blocked_at,omitempty" json:"blocked_at,omitempty"`
	BlockedReason string     `yaml:"blocked_reason,omitempty" json:"blocked_reason,omitempty"`
	CompletedAt   *time.Time `yaml:"completed_at,omitempty" json:"completed_at,omitempty"`
	CompletedBy   string     `yaml:"completed_by,omitempty" json:"completed_by,omitempty"`
	PausedAt      *time.Time `yaml:"paused_at,omitempty" json:"paused_at,omitempty"`
	PausedBy      string     `yaml:"paused_by,omitempty" json:"paused_by,omitempty"`

	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at" json:"updated_at"`
}

// IsAssignedTo reports whether user holds the task. A task without
// assignees is held by nobody.
func (t *Task) IsAssignedTo(user string) bool {
	if t == nil || user == "" {
		return false
	}
	for _, u := range t.AssignedUsers {
		if u == user {
			return true
		}
	}
	return false
}

// StatusUpdate carries the fields written alongside a status change.
// Nil pointers and empty strings leave the stored value untouched.
type StatusUpdate struct {
	BlockedAt     *time.Time
	BlockedReason string
	CompletedAt   *time.Time
	CompletedBy   string
	PausedAt      *time.Time
	PausedBy      string
	UpdatedAt     time.Time
}

// Apply returns a copy of task with status and the non-empty update fields set.
func (u StatusUpdate) Apply(task Task, status TaskStatus) Task {
	task.Status = status
	if u.BlockedAt != nil {
		task.BlockedAt = u.BlockedAt
	}
	if u.BlockedReason != "" {
		task.BlockedReason = u.BlockedReason
	}
	if u.CompletedAt != nil {
		task.CompletedAt = u.CompletedAt
	}
	if u.CompletedBy != "" {
		task.CompletedBy = u.CompletedBy
	}
	if u.PausedAt != nil {
		task.PausedAt = u.PausedAt
	}
	if u.PausedBy != "" {
		task.PausedBy = u.PausedBy
	}
	if !u.UpdatedAt.IsZero() {
		task.UpdatedAt = u.UpdatedAt
	}
	return task
}

// ChangeKind classifies a task change notification.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
	ChangeRemoved  ChangeKind = "removed"
)

// TaskChange is delivered to subscribers after a committed task write.
type TaskChange struct {
	Kind   ChangeKind
	TaskID string
	At     time.Time
}
