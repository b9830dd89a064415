package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/valter-silva-au/duegate/internal/core"
	"github.com/valter-silva-au/duegate/pkg/models"
)

const taskColumns = `id, title, description, priority, status, due_date, start_date,
	assigned_users, created_by, assigned_by, blocked_at, blocked_reason,
	completed_at, completed_by, paused_at, paused_by, created_at, updated_at`

// TaskStore persists tasks in SQLite and notifies in-process subscribers
// after every committed write.
type TaskStore struct {
	db  *sql.DB
	now func() time.Time

	mu     sync.Mutex
	nextID int
	subs   map[int]chan models.TaskChange
}

// NewTaskStore creates a TaskStore over an initialized database.
func NewTaskStore(db *sql.DB) *TaskStore {
	return &TaskStore{db: db, now: time.Now, subs: make(map[int]chan models.TaskChange)}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var t models.Task
	var priority, status, assigned, createdAt, updatedAt string
	var dueDate, startDate, blockedAt, completedAt, pausedAt sql.NullString
	err := row.Scan(&t.ID, &t.Title, &t.Description, &priority, &status, &dueDate, &startDate,
		&assigned, &t.CreatedBy, &t.AssignedBy, &blockedAt, &t.BlockedReason,
		&completedAt, &t.CompletedBy, &pausedAt, &t.PausedBy, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	t.Priority = models.Priority(priority)
	t.Status = models.TaskStatus(status)

	if assigned != "" {
		if err := json.Unmarshal([]byte(assigned), &t.AssignedUsers); err != nil {
			return nil, fmt.Errorf("decoding assigned users of %s: %w", t.ID, err)
		}
	}

	for _, f := range []struct {
		src sql.NullString
		dst **time.Time
	}{
		{dueDate, &t.DueDate},
		{startDate, &t.StartDate},
		{blockedAt, &t.BlockedAt},
		{completedAt, &t.CompletedAt},
		{pausedAt, &t.PausedAt},
	} {
		v, err := parseNullTime(f.src)
		if err != nil {
			return nil, err
		}
		*f.dst = v
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTasks returns every task ordered by creation time.
func (s *TaskStore) ListTasks(ctx context.Context) ([]models.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("listing tasks: %w", err)
		}
		tasks = append(tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	return tasks, nil
}

// GetTask returns the task with the given ID or core.ErrTaskNotFound.
func (s *TaskStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	return getTask(ctx, s.db, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getTask(ctx context.Context, q queryer, id string) (*models.Task, error) {
	row := q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, core.ErrTaskNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading task %s: %w", id, err)
	}
	return t, nil
}

// CreateTask inserts a new task. The ID must be set and unused.
func (s *TaskStore) CreateTask(ctx context.Context, task models.Task) error {
	if task.ID == "" {
		return fmt.Errorf("creating task: ID must not be empty")
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = s.now()
	}
	if task.UpdatedAt.IsZero() {
		task.UpdatedAt = task.CreatedAt
	}
	assigned, err := encodeUsers(task.AssignedUsers)
	if err != nil {
		return fmt.Errorf("creating task %s: %w", task.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.Title, task.Description, string(task.Priority), string(task.Status),
		nullTime(task.DueDate), nullTime(task.StartDate), assigned, task.CreatedBy, task.AssignedBy,
		nullTime(task.BlockedAt), task.BlockedReason, nullTime(task.CompletedAt), task.CompletedBy,
		nullTime(task.PausedAt), task.PausedBy, formatTime(task.CreatedAt.UTC()), formatTime(task.UpdatedAt.UTC()))
	if err != nil {
		return fmt.Errorf("creating task %s: %w", task.ID, err)
	}
	s.publish(models.ChangeAdded, task.ID)
	return nil
}

// UpdateTaskStatus sets the status and merges the non-empty fields of
// update into the stored task in one transaction.
func (s *TaskStore) UpdateTaskStatus(ctx context.Context, id string, status models.TaskStatus, update models.StatusUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("updating task %s: %w", id, err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := getTask(ctx, tx, id)
	if err != nil {
		return fmt.Errorf("updating task %s: %w", id, err)
	}
	if update.UpdatedAt.IsZero() {
		update.UpdatedAt = s.now()
	}
	t := update.Apply(*current, status)

	_, err = tx.ExecContext(ctx, `UPDATE tasks SET status = ?, blocked_at = ?, blocked_reason = ?,
		completed_at = ?, completed_by = ?, paused_at = ?, paused_by = ?, updated_at = ?
		WHERE id = ?`,
		string(t.Status), nullTime(t.BlockedAt), t.BlockedReason, nullTime(t.CompletedAt), t.CompletedBy,
		nullTime(t.PausedAt), t.PausedBy, formatTime(t.UpdatedAt.UTC()), id)
	if err != nil {
		return fmt.Errorf("updating task %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("updating task %s: %w", id, err)
	}
	s.publish(models.ChangeModified, id)
	return nil
}

// DeleteTask removes a task. Deleting an unknown ID returns
// core.ErrTaskNotFound.
func (s *TaskStore) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting task %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("deleting task %s: %w", id, core.ErrTaskNotFound)
	}
	s.publish(models.ChangeRemoved, id)
	return nil
}

// Subscribe registers a change listener. Notifications that do not fit in
// the buffer are dropped, so consumers should treat a notification as
// "something changed" and re-read the store.
func (s *TaskStore) Subscribe(buffer int) (<-chan models.TaskChange, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan models.TaskChange, buffer)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (s *TaskStore) publish(kind models.ChangeKind, id string) {
	change := models.TaskChange{Kind: kind, TaskID: id, At: s.now()}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- change:
		default:
		}
	}
}

func encodeUsers(users []string) (string, error) {
	if users == nil {
		users = []string{}
	}
	data, err := json.Marshal(users)
	if err != nil {
		return "", fmt.Errorf("encoding assigned users: %w", err)
	}
	return string(data), nil
}

var (
	_ core.TaskStore        = (*TaskStore)(nil)
	_ core.TaskChangeSource = (*TaskStore)(nil)
)
