package core

import (
	"context"
	"errors"
	"sync"

	"github.com/valter-silva-au/duegate/pkg/models"
)

var (
	// ErrTaskNotFound is returned by task stores for unknown IDs.
	ErrTaskNotFound = errors.New("task not found")
	// ErrUserNotFound is returned by account stores for unknown usernames.
	ErrUserNotFound = errors.New("user not found")
)

// TaskStore is the persistence the lifecycle engine writes through. It is
// defined here so core stays independent of the storage package.
type TaskStore interface {
	ListTasks(ctx context.Context) ([]models.Task, error)
	GetTask(ctx context.Context, id string) (*models.Task, error)
	CreateTask(ctx context.Context, task models.Task) error
	UpdateTaskStatus(ctx context.Context, id string, status models.TaskStatus, update models.StatusUpdate) error
}

// TaskChangeSource delivers change notifications for committed task writes.
// The returned cancel func unsubscribes and closes the channel.
type TaskChangeSource interface {
	Subscribe(buffer int) (<-chan models.TaskChange, func())
}

// AccountStore holds per-user account records. SetUserBlocking replaces the
// blocking fields as one write.
type AccountStore interface {
	GetUser(ctx context.Context, username string) (*models.UserAccount, error)
	SetUserBlocking(ctx context.Context, username string, blocked bool, reason string) error
}

// SessionStore is a small key-value store scoped to one client session that
// survives process restarts.
type SessionStore interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
}

// Session identifies the acting user and carries their session storage.
// It replaces ambient "current user" globals: every engine call receives
// the session explicitly.
type Session struct {
	ID    string
	User  string
	Store SessionStore
}

type memorySessionStore struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMemorySessionStore returns a SessionStore that lives only as long as
// the process.
func NewMemorySessionStore() SessionStore {
	return &memorySessionStore{values: make(map[string]string)}
}

func (s *memorySessionStore) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *memorySessionStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *memorySessionStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}
