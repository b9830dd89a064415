package core

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/valter-silva-au/duegate/pkg/models"
)

func newTestEngine(clock Clock, tasks *memTaskStore, accounts *memAccountStore, events EventLogger) *BlockingEngine {
	return NewBlockingEngine(tasks, accounts, clock, NewOverdueClassifier(2), events, zerolog.Nop())
}

func TestBlockingEngine_BlocksTaskAndAccount(t *testing.T) {
	clock := newFakeClock(at(2024, time.June, 6, 10))
	snapshot := []models.Task{dueTask("t1", models.StatusTodo, datePtr(2024, time.June, 3), "alice")}
	tasks := newMemTaskStore(snapshot...)
	accounts := newMemAccountStore(models.UserAccount{Username: "alice"})
	events := &recordingEvents{}
	engine := newTestEngine(clock, tasks, accounts, events)

	result, err := engine.Process(context.Background(), testSession("alice"), snapshot, false)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if got := tasks.get("t1"); got.Status != models.StatusBlocked || got.BlockedReason != BlockedByOverdueReason || got.BlockedAt == nil {
		t.Errorf("task after cascade = %+v", got)
	}
	if snapshot[0].Status != models.StatusTodo {
		t.Error("input snapshot was mutated")
	}
	if len(result.NewlyBlocked) != 1 || result.BlockedCount != 1 || result.Account != AccountBlocked {
		t.Errorf("result = %+v", result)
	}
	if len(accounts.calls) != 1 {
		t.Fatalf("SetUserBlocking called %d times, want 1", len(accounts.calls))
	}
	call := accounts.calls[0]
	if call.User != "alice" || !call.Blocked || !strings.Contains(call.Reason, "1 overdue task") {
		t.Errorf("SetUserBlocking = %+v", call)
	}
	for _, ev := range []string{"task.blocked", "account.blocked", "cascade.completed"} {
		if !events.has(ev) {
			t.Errorf("event %q not logged", ev)
		}
	}
}

func TestBlockingEngine_ContinuesAfterTaskFailure(t *testing.T) {
	clock := newFakeClock(at(2024, time.June, 6, 10))
	due := datePtr(2024, time.June, 3)
	snapshot := []models.Task{
		dueTask("t1", models.StatusTodo, due, "alice"),
		dueTask("t2", models.StatusInProgress, due, "alice"),
	}
	tasks := newMemTaskStore(snapshot...)
	tasks.failOn["t1"] = true
	accounts := newMemAccountStore(models.UserAccount{Username: "alice"})
	engine := newTestEngine(clock, tasks, accounts, nil)

	result, err := engine.Process(context.Background(), testSession("alice"), snapshot, false)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(result.Failures) != 1 || result.Failures[0].TaskID != "t1" {
		t.Errorf("Failures = %+v", result.Failures)
	}
	if len(result.NewlyBlocked) != 1 || result.NewlyBlocked[0] != "t2" {
		t.Errorf("NewlyBlocked = %v", result.NewlyBlocked)
	}
	if result.BlockedCount != 1 {
		t.Errorf("BlockedCount = %d, want 1", result.BlockedCount)
	}
	if !accounts.isBlocked("alice") {
		t.Error("alice should be blocked")
	}
}

func TestBlockingEngine_SkipsTasksInGraceAndCompleted(t *testing.T) {
	clock := newFakeClock(at(2024, time.June, 6, 10))
	snapshot := []models.Task{
		dueTask("grace", models.StatusTodo, datePtr(2024, time.June, 5), "alice"),
		dueTask("done", models.StatusCompleted, datePtr(2024, time.June, 3), "alice"),
		dueTask("nodue", models.StatusTodo, nil, "alice"),
	}
	tasks := newMemTaskStore(snapshot...)
	accounts := newMemAccountStore(models.UserAccount{Username: "alice"})
	engine := newTestEngine(clock, tasks, accounts, nil)

	result, err := engine.Process(context.Background(), testSession("alice"), snapshot, false)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if tasks.writes != 0 {
		t.Errorf("store writes = %d, want 0", tasks.writes)
	}
	if result.Account != AccountUnchanged || len(accounts.calls) != 0 {
		t.Errorf("account touched: result=%+v calls=%+v", result, accounts.calls)
	}
}

func TestBlockingEngine_UnblocksWhenNoBlockedTasks(t *testing.T) {
	clock := newFakeClock(at(2024, time.June, 6, 10))
	snapshot := []models.Task{dueTask("t1", models.StatusCompleted, datePtr(2024, time.June, 3), "alice")}
	tasks := newMemTaskStore(snapshot...)
	accounts := newMemAccountStore(models.UserAccount{Username: "alice", IsBlocked: true, BlockedReason: "old"})
	events := &recordingEvents{}
	engine := newTestEngine(clock, tasks, accounts, events)

	result, err := engine.Process(context.Background(), testSession("alice"), snapshot, false)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Account != AccountUnblocked {
		t.Errorf("Account = %q, want unblocked", result.Account)
	}
	if accounts.isBlocked("alice") {
		t.Error("alice should be unblocked")
	}
	if !events.has("account.unblocked") {
		t.Error("account.unblocked not logged")
	}
}

func TestBlockingEngine_GraceDefersAccountBlock(t *testing.T) {
	clock := newFakeClock(at(2024, time.June, 6, 10))
	snapshot := []models.Task{dueTask("t1", models.StatusTodo, datePtr(2024, time.June, 3), "alice")}
	tasks := newMemTaskStore(snapshot...)
	accounts := newMemAccountStore(models.UserAccount{Username: "alice"})
	engine := newTestEngine(clock, tasks, accounts, nil)

	result, err := engine.Process(context.Background(), testSession("alice"), snapshot, true)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Account != AccountDeferred {
		t.Errorf("Account = %q, want deferred", result.Account)
	}
	if tasks.get("t1").Status != models.StatusBlocked {
		t.Error("task blocking is not deferred by grace")
	}
	if len(accounts.calls) != 0 {
		t.Errorf("SetUserBlocking called during grace: %+v", accounts.calls)
	}
}

func TestBlockingEngine_MissingAccountIsUpserted(t *testing.T) {
	clock := newFakeClock(at(2024, time.June, 6, 10))
	snapshot := []models.Task{dueTask("t1", models.StatusBlocked, datePtr(2024, time.June, 3), "alice")}
	tasks := newMemTaskStore(snapshot...)
	accounts := newMemAccountStore()
	engine := newTestEngine(clock, tasks, accounts, nil)

	result, err := engine.Process(context.Background(), testSession("alice"), snapshot, false)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Account != AccountBlocked || !accounts.isBlocked("alice") {
		t.Errorf("result = %+v", result)
	}
	if tasks.writes != 0 {
		t.Error("already-blocked task should not be rewritten")
	}
}

func TestBlockingEngine_NoUserSkipsAccount(t *testing.T) {
	clock := newFakeClock(at(2024, time.June, 6, 10))
	snapshot := []models.Task{dueTask("t1", models.StatusTodo, datePtr(2024, time.June, 3), "alice")}
	tasks := newMemTaskStore(snapshot...)
	accounts := newMemAccountStore()
	engine := newTestEngine(clock, tasks, accounts, nil)

	result, err := engine.Process(context.Background(), Session{}, snapshot, false)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(result.NewlyBlocked) != 1 || len(accounts.calls) != 0 {
		t.Errorf("result = %+v, calls = %+v", result, accounts.calls)
	}
}

func TestBlockingEngine_CancelledContext(t *testing.T) {
	clock := newFakeClock(at(2024, time.June, 6, 10))
	snapshot := []models.Task{dueTask("t1", models.StatusTodo, datePtr(2024, time.June, 3), "alice")}
	tasks := newMemTaskStore(snapshot...)
	engine := newTestEngine(clock, tasks, newMemAccountStore(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := engine.Process(ctx, testSession("alice"), snapshot, false); err == nil {
		t.Fatal("expected context error")
	}
	if tasks.writes != 0 {
		t.Error("no writes expected after cancellation")
	}
}

func TestBlockedAccountReason(t *testing.T) {
	if got := BlockedAccountReason(1); got != "You have 1 overdue task that require immediate attention." {
		t.Errorf("BlockedAccountReason(1) = %q", got)
	}
	if got := BlockedAccountReason(3); !strings.Contains(got, "3 overdue tasks") {
		t.Errorf("BlockedAccountReason(3) = %q", got)
	}
}
