package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valter-silva-au/duegate/internal/core"
	"github.com/valter-silva-au/duegate/internal/storage"
	"github.com/valter-silva-au/duegate/pkg/models"
)

// fixedClock pins Now and never fires timers.
type fixedClock struct{ now time.Time }

type noopStopper struct{}

func (noopStopper) Stop() bool { return true }

func (c fixedClock) Now() time.Time { return c.now }
func (c fixedClock) AfterFunc(time.Duration, func()) core.Stopper { return noopStopper{} }

type apiFixture struct {
	server   *Server
	tasks    *storage.TaskStore
	accounts *storage.AccountStore
	sessions storage.SessionStoreManager
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	db, err := storage.InitDB(filepath.Join(dir, "duegate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	tasks := storage.NewTaskStore(db)
	accounts := storage.NewAccountStore(db)
	lifecycle := core.NewLifecycle(core.LifecycleOptions{
		Tasks:             tasks,
		Accounts:          accounts,
		Clock:             fixedClock{now: time.Date(2024, time.June, 6, 10, 0, 0, 0, time.UTC)},
		Logger:            zerolog.Nop(),
		GracePeriodDays:   2,
		SelfUnblockWindow: 5 * time.Minute,
	})
	for _, u := range []string{"alice", "bob", "carol"} {
		_, err := accounts.CreateUser(context.Background(), u, "")
		require.NoError(t, err)
	}

	f := &apiFixture{
		tasks:    tasks,
		accounts: accounts,
		sessions: storage.NewSessionStoreManager(filepath.Join(dir, "sessions")),
	}
	f.server = NewServer(Options{
		Lifecycle: lifecycle,
		Tasks:     core.NewTaskManager(tasks, lifecycle, nil),
		Accounts:  accounts,
		Sessions:  f.sessions,
		Logger:    zerolog.Nop(),
	})
	return f
}

func (f *apiFixture) login(t *testing.T, user string) string {
	t.Helper()
	rec, err := f.sessions.Create(user)
	require.NoError(t, err)
	return rec.ID
}

func (f *apiFixture) do(t *testing.T, method, path, session string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if session != "" {
		req.Header.Set(SessionHeader, session)
	}
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), "body: %s", w.Body.String())
	return v
}

// createTask creates a task as carol assigned to alice.
func (f *apiFixture) createTask(t *testing.T, due, status string) taskResponse {
	t.Helper()
	w := f.do(t, http.MethodPost, "/api/tasks", f.login(t, "carol"), gin.H{
		"title":          "Quarterly report",
		"due_date":       due,
		"status":         status,
		"assigned_users": []string{"alice"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[taskResponse](t, w)
}

func TestCreateSession(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/api/sessions", "", gin.H{"username": "alice"})
	require.Equal(t, http.StatusCreated, w.Code)
	body := decode[map[string]string](t, w)
	assert.NotEmpty(t, body["session_id"])
	assert.Equal(t, "alice", body["user"])

	w = f.do(t, http.MethodPost, "/api/sessions", "", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRequireSession(t *testing.T) {
	f := newAPIFixture(t)

	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/tasks", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/tasks", "no-such-session", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/tasks", f.login(t, "bob"), nil).Code)
}

func TestCreateAndGetTask(t *testing.T) {
	f := newAPIFixture(t)
	created := f.createTask(t, "2024-06-03", "")

	assert.Equal(t, models.StatusTodo, created.Task.Status)
	assert.Equal(t, "carol", created.Task.CreatedBy)
	assert.Equal(t, "carol", created.Task.AssignedBy)

	w := f.do(t, http.MethodGet, "/api/tasks/"+created.Task.ID, f.login(t, "alice"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[taskResponse](t, w)
	assert.True(t, got.Overdue.IsOverdue)
	assert.False(t, got.Overdue.InGracePeriod)
	assert.Contains(t, got.Overdue.Message, "Quarterly report")

	w = f.do(t, http.MethodGet, "/api/tasks/missing", f.login(t, "alice"), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateTask_BadInput(t *testing.T) {
	f := newAPIFixture(t)
	session := f.login(t, "carol")

	w := f.do(t, http.MethodPost, "/api/tasks", session, gin.H{"due_date": "2024-06-03"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/tasks", session, gin.H{"title": "x", "due_date": "soon"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/tasks", session, gin.H{"title": "x", "status": "archived"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListTasks_Filter(t *testing.T) {
	f := newAPIFixture(t)
	f.createTask(t, "2024-06-20", "")
	f.createTask(t, "2024-06-20", "in-progress")
	session := f.login(t, "alice")

	w := f.do(t, http.MethodGet, "/api/tasks?status=in-progress", session, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[struct {
		Tasks []models.Task `json:"tasks"`
		Total int           `json:"total"`
	}](t, w)
	assert.Equal(t, 1, body.Total)

	w = f.do(t, http.MethodGet, "/api/tasks?status=todo,in-progress&user=bob", session, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":0`)

	w = f.do(t, http.MethodGet, "/api/tasks?status=nope", session, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMoveTask(t *testing.T) {
	f := newAPIFixture(t)
	task := f.createTask(t, "2024-06-20", "")
	alice := f.login(t, "alice")
	path := "/api/tasks/" + task.Task.ID + "/move"

	w := f.do(t, http.MethodPost, path, alice, gin.H{"status": "completed"})
	assert.Equal(t, http.StatusConflict, w.Code, "todo to completed is not a legal transition")

	w = f.do(t, http.MethodPost, path, f.login(t, "bob"), gin.H{"status": "in-progress"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "not_permitted")

	w = f.do(t, http.MethodPost, path, alice, gin.H{"status": "in-progress"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.StatusInProgress, decode[taskResponse](t, w).Task.Status)

	w = f.do(t, http.MethodPost, "/api/tasks/missing/move", alice, gin.H{"status": "paused"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPost, path, alice, gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMoveTask_BlockedAccount(t *testing.T) {
	f := newAPIFixture(t)
	task := f.createTask(t, "2024-06-20", "")
	require.NoError(t, f.accounts.SetUserBlocking(context.Background(), "alice", true, core.BlockedAccountReason(1)))

	w := f.do(t, http.MethodPost, "/api/tasks/"+task.Task.ID+"/move", f.login(t, "alice"), gin.H{"status": "in-progress"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	body := decode[map[string]string](t, w)
	assert.Equal(t, "account_blocked", body["refusal"])
	assert.Equal(t, "Cannot move tasks while account is blocked.", body["error"])
}

func TestCanMove(t *testing.T) {
	f := newAPIFixture(t)
	task := f.createTask(t, "2024-06-20", "")
	path := "/api/tasks/" + task.Task.ID + "/can-move?status=in-progress"

	w := f.do(t, http.MethodGet, path, f.login(t, "alice"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[core.MoveDecision](t, w).Allowed)

	w = f.do(t, http.MethodGet, path, f.login(t, "bob"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, core.RefusalNotPermitted, decode[core.MoveDecision](t, w).Refusal)

	w = f.do(t, http.MethodGet, "/api/tasks/"+task.Task.ID+"/can-move?status=bogus", f.login(t, "alice"), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOverdueCascadeAndSelfUnblock(t *testing.T) {
	f := newAPIFixture(t)
	task := f.createTask(t, "2024-06-03", "")
	alice := f.login(t, "alice")

	w := f.do(t, http.MethodPost, "/api/overdue/process", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	result := decode[cascadeResponse](t, w)
	assert.Equal(t, []string{task.Task.ID}, result.NewlyBlocked)
	assert.Equal(t, 1, result.BlockedCount)
	assert.Equal(t, string(core.AccountBlocked), result.Account)

	w = f.do(t, http.MethodGet, "/api/account", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[models.UserAccount](t, w).IsBlocked)

	w = f.do(t, http.MethodGet, "/api/overdue/summary", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	summary := decode[struct {
		Summary        models.OverdueSummary `json:"summary"`
		CanSelfUnblock bool                  `json:"can_self_unblock"`
	}](t, w)
	assert.Equal(t, 1, summary.Summary.Blocked)
	assert.True(t, summary.CanSelfUnblock)

	w = f.do(t, http.MethodPost, "/api/account/self-unblock", alice, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	status := decode[core.GraceStatus](t, w)
	assert.True(t, status.Active)
	assert.Equal(t, (5 * time.Minute).Milliseconds(), status.RemainingMs)

	w = f.do(t, http.MethodGet, "/api/grace", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[core.GraceStatus](t, w).Active)

	w = f.do(t, http.MethodPost, "/api/account/self-unblock", alice, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	// While the grace period runs, the cascade leaves the account alone.
	w = f.do(t, http.MethodPost, "/api/overdue/process", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(core.AccountDeferred), decode[cascadeResponse](t, w).Account)
}

func TestSelfUnblock_GraceCoversStandingSession(t *testing.T) {
	f := newAPIFixture(t)
	f.createTask(t, "2024-06-03", "")
	alice := f.login(t, "alice")

	w := f.do(t, http.MethodPost, "/api/overdue/process", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = f.do(t, http.MethodPost, "/api/account/self-unblock", alice, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// The monitor cascades under alice's standing session, not the web one.
	standing, err := f.sessions.OpenUser("alice")
	require.NoError(t, err)
	require.NotEqual(t, alice, standing.ID)

	ctx := context.Background()
	snapshot, err := f.tasks.ListTasks(ctx)
	require.NoError(t, err)
	result, err := f.server.lifecycle.ProcessOverdueTasks(ctx, standing, snapshot)
	require.NoError(t, err)
	assert.Equal(t, core.AccountDeferred, result.Account)

	account, err := f.accounts.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, account.IsBlocked)
}

func TestResumeGracePeriods_AfterRestart(t *testing.T) {
	f := newAPIFixture(t)
	f.createTask(t, "2024-06-03", "")
	alice := f.login(t, "alice")
	f.login(t, "bob")

	w := f.do(t, http.MethodPost, "/api/overdue/process", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = f.do(t, http.MethodPost, "/api/account/self-unblock", alice, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	restarted := core.NewLifecycle(core.LifecycleOptions{
		Tasks:             f.tasks,
		Accounts:          f.accounts,
		Clock:             fixedClock{now: time.Date(2024, time.June, 6, 10, 1, 0, 0, time.UTC)},
		Logger:            zerolog.Nop(),
		GracePeriodDays:   2,
		SelfUnblockWindow: 5 * time.Minute,
	})
	srv := NewServer(Options{
		Lifecycle: restarted,
		Tasks:     core.NewTaskManager(f.tasks, restarted, nil),
		Accounts:  f.accounts,
		Sessions:  f.sessions,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, srv.ResumeGracePeriods())

	standing, err := f.sessions.OpenUser("alice")
	require.NoError(t, err)
	assert.True(t, restarted.UserGraceActive(standing))

	ctx := context.Background()
	snapshot, err := f.tasks.ListTasks(ctx)
	require.NoError(t, err)
	result, err := restarted.ProcessOverdueTasks(ctx, standing, snapshot)
	require.NoError(t, err)
	assert.Equal(t, core.AccountDeferred, result.Account)
}

func TestGetAccount_Unknown(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(t, http.MethodGet, "/api/account", f.login(t, "dave"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	account := decode[models.UserAccount](t, w)
	assert.Equal(t, "dave", account.Username)
	assert.False(t, account.IsBlocked)

	w = f.do(t, http.MethodPost, "/api/account/self-unblock", f.login(t, "dave"), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDueToday(t *testing.T) {
	f := newAPIFixture(t)
	today := f.createTask(t, "2024-06-06", "")
	f.createTask(t, "2024-06-07", "")

	w := f.do(t, http.MethodGet, "/api/overdue/due-today", f.login(t, "alice"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[struct {
		Tasks []models.Task `json:"tasks"`
	}](t, w)
	require.Len(t, body.Tasks, 1)
	assert.Equal(t, today.Task.ID, body.Tasks[0].ID)
}
