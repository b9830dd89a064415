package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/valter-silva-au/duegate/pkg/models"
)

// fakeClock is a manually advanced Clock. Timers fire inside Advance.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Stopper {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward and runs every timer that became due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// memTaskStore is an in-memory TaskStore. failOn makes UpdateTaskStatus fail
// for the listed IDs.
type memTaskStore struct {
	mu     sync.Mutex
	tasks  map[string]models.Task
	failOn map[string]bool
	writes int
}

func newMemTaskStore(tasks ...models.Task) *memTaskStore {
	s := &memTaskStore{tasks: make(map[string]models.Task), failOn: make(map[string]bool)}
	for _, t := range tasks {
		s.tasks[t.ID] = t
	}
	return s
}

func (s *memTaskStore) ListTasks(_ context.Context) ([]models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memTaskStore) GetTask(_ context.Context, id string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return &t, nil
}

func (s *memTaskStore) CreateTask(_ context.Context, task models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.ID]; ok {
		return fmt.Errorf("task %s already exists", task.ID)
	}
	s.tasks[task.ID] = task
	return nil
}

func (s *memTaskStore) UpdateTaskStatus(_ context.Context, id string, status models.TaskStatus, update models.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn[id] {
		return fmt.Errorf("write rejected for %s", id)
	}
	t, ok := s.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	s.tasks[id] = update.Apply(t, status)
	s.writes++
	return nil
}

func (s *memTaskStore) get(id string) models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[id]
}

type blockingCall struct {
	User    string
	Blocked bool
	Reason  string
}

// memAccountStore is an in-memory AccountStore recording every
// SetUserBlocking call.
type memAccountStore struct {
	mu    sync.Mutex
	users map[string]models.UserAccount
	calls []blockingCall
}

func newMemAccountStore(users ...models.UserAccount) *memAccountStore {
	s := &memAccountStore{users: make(map[string]models.UserAccount)}
	for _, u := range users {
		s.users[u.Username] = u
	}
	return s
}

func (s *memAccountStore) GetUser(_ context.Context, username string) (*models.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (s *memAccountStore) SetUserBlocking(_ context.Context, username string, blocked bool, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[username]
	u.Username = username
	u.IsBlocked = blocked
	u.BlockedReason = reason
	s.users[username] = u
	s.calls = append(s.calls, blockingCall{User: username, Blocked: blocked, Reason: reason})
	return nil
}

func (s *memAccountStore) isBlocked(username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[username].IsBlocked
}

// recordingEvents captures logged event types in order.
type recordingEvents struct {
	mu    sync.Mutex
	types []string
}

func (r *recordingEvents) LogEvent(eventType string, _ map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, eventType)
	return nil
}

func (r *recordingEvents) has(eventType string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.types {
		if t == eventType {
			return true
		}
	}
	return false
}

// failingEvents rejects every event.
type failingEvents struct{}

func (failingEvents) LogEvent(string, map[string]any) error {
	return fmt.Errorf("event log closed")
}

// date returns midnight UTC on the given day.
func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func datePtr(y int, m time.Month, d int) *time.Time {
	t := date(y, m, d)
	return &t
}

func testSession(user string) Session {
	return Session{ID: "sess-" + user, User: user, Store: NewMemorySessionStore()}
}
