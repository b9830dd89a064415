package cli

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/valter-silva-au/duegate/internal/core"
	"github.com/valter-silva-au/duegate/internal/storage"
	"github.com/valter-silva-au/duegate/pkg/models"
)

// testNow is a Thursday.
var testNow = time.Date(2024, time.June, 6, 10, 0, 0, 0, time.UTC)

// fixedClock pins Now and never fires timers.
type fixedClock struct{ now time.Time }

type noopStopper struct{}

func (noopStopper) Stop() bool { return true }

func (c fixedClock) Now() time.Time { return c.now }
func (c fixedClock) AfterFunc(time.Duration, func()) core.Stopper { return noopStopper{} }

type cliFixture struct {
	tasks    *storage.TaskStore
	accounts *storage.AccountStore
	sessions storage.SessionStoreManager
}

// setVar overrides a package variable for the duration of the test.
func setVar[T any](t *testing.T, p *T, v T) {
	t.Helper()
	orig := *p
	*p = v
	t.Cleanup(func() { *p = orig })
}

// newCLIFixture wires the package service vars to real storage in a temp
// directory, acting as alice.
func newCLIFixture(t *testing.T) *cliFixture {
	t.Helper()
	dir := t.TempDir()
	db, err := storage.InitDB(filepath.Join(dir, "duegate.db"))
	if err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	f := &cliFixture{
		tasks:    storage.NewTaskStore(db),
		accounts: storage.NewAccountStore(db),
		sessions: storage.NewSessionStoreManager(filepath.Join(dir, "sessions")),
	}
	lifecycle := core.NewLifecycle(core.LifecycleOptions{
		Tasks:             f.tasks,
		Accounts:          f.accounts,
		Clock:             fixedClock{now: testNow},
		Logger:            zerolog.Nop(),
		GracePeriodDays:   2,
		SelfUnblockWindow: 5 * time.Minute,
	})

	cfg := core.DefaultConfig()
	cfg.DatabasePath = filepath.Join(dir, "duegate.db")
	setVar(t, &Config, cfg)
	setVar(t, &Lifecycle, lifecycle)
	setVar(t, &TaskMgr, core.NewTaskManager(f.tasks, lifecycle, nil))
	setVar[TaskSource](t, &Tasks, f.tasks)
	setVar[AccountManager](t, &Accounts, f.accounts)
	setVar[SessionOpener](t, &Sessions, f.sessions)
	setVar(t, &userFlag, "alice")

	for _, u := range []string{"alice", "bob", "carol"} {
		if _, err := f.accounts.CreateUser(context.Background(), u, ""); err != nil {
			t.Fatalf("CreateUser(%s): %v", u, err)
		}
	}
	return f
}

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

// addTask stores a task created by carol directly, bypassing the CLI.
func (f *cliFixture) addTask(t *testing.T, id, title string, status models.TaskStatus, due *time.Time, assignees ...string) {
	t.Helper()
	task := models.Task{
		ID:            id,
		Title:         title,
		Priority:      models.PriorityMedium,
		Status:        status,
		DueDate:       due,
		AssignedUsers: assignees,
		CreatedBy:     "carol",
		CreatedAt:     testNow.AddDate(0, -1, 0),
	}
	if err := f.tasks.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("CreateTask(%s): %v", id, err)
	}
}

func (f *cliFixture) task(t *testing.T, id string) *models.Task {
	t.Helper()
	task, err := f.tasks.GetTask(context.Background(), id)
	if err != nil {
		t.Fatalf("GetTask(%s): %v", id, err)
	}
	return task
}

func (f *cliFixture) account(t *testing.T, user string) *models.UserAccount {
	t.Helper()
	a, err := f.accounts.GetUser(context.Background(), user)
	if err != nil {
		t.Fatalf("GetUser(%s): %v", user, err)
	}
	return a
}

// captureStdout captures stdout output during fn execution.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	origStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("creating pipe: %v", err)
	}
	os.Stdout = w

	fn()

	w.Close()
	os.Stdout = origStdout

	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("reading pipe: %v", err)
	}
	return string(out)
}

type commandCase struct {
	cmd  *cobra.Command
	args []string
}

// runCommand invokes cmd's RunE with a background context and returns
// what it printed.
func runCommand(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	cmd.SetContext(context.Background())
	var err error
	out := captureStdout(t, func() { err = cmd.RunE(cmd, args) })
	return out, err
}
