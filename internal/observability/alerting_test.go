package observability

import (
	"testing"
	"time"
)

func newTestAlertEngine(t *testing.T, now time.Time, events ...Event) AlertEngine {
	t.Helper()
	log, _ := newTestEventLog(t)
	for _, e := range events {
		if err := log.Write(e); err != nil {
			t.Fatalf("writing event: %v", err)
		}
	}
	engine := NewAlertEngine(log, DefaultAlertThresholds()).(*alertEngine)
	engine.now = func() time.Time { return now }
	return engine
}

func TestAlertEngine_BlockedTasks(t *testing.T) {
	now := time.Date(2024, time.June, 10, 12, 0, 0, 0, time.UTC)
	engine := newTestAlertEngine(t, now,
		NewEvent(now.Add(-30*time.Hour), EventTaskBlocked, map[string]any{"task_id": "stuck"}),
		NewEvent(now.Add(-30*time.Hour), EventTaskBlocked, map[string]any{"task_id": "resolved"}),
		NewEvent(now.Add(-2*time.Hour), EventTaskStatusChanged, map[string]any{"task_id": "resolved", "new_status": "paused"}),
		NewEvent(now.Add(-2*time.Hour), EventTaskBlocked, map[string]any{"task_id": "recent"}),
	)

	alerts, err := engine.Evaluate()
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("got %d alerts, want 1: %+v", len(alerts), alerts)
	}
	if alerts[0].ID != "blocked-task-stuck" || alerts[0].Severity != SeverityHigh {
		t.Errorf("alert = %+v", alerts[0])
	}
}

func TestAlertEngine_BlockedAccounts(t *testing.T) {
	now := time.Date(2024, time.June, 10, 12, 0, 0, 0, time.UTC)
	engine := newTestAlertEngine(t, now,
		NewEvent(now.Add(-10*time.Hour), EventAccountBlocked, map[string]any{"user": "alice"}),
		NewEvent(now.Add(-10*time.Hour), EventAccountBlocked, map[string]any{"user": "bob"}),
		NewEvent(now.Add(-9*time.Hour), EventGraceStarted, map[string]any{"user": "bob"}),
		NewEvent(now.Add(-9*time.Hour), EventGraceExpired, map[string]any{"user": "carol", "reblocked": true}),
		NewEvent(now.Add(-time.Hour), EventAccountBlocked, map[string]any{"user": "dave"}),
	)

	alerts, err := engine.Evaluate()
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	ids := map[string]bool{}
	for _, a := range alerts {
		ids[a.ID] = true
	}
	if len(alerts) != 2 || !ids["blocked-account-alice"] || !ids["blocked-account-carol"] {
		t.Errorf("alerts = %+v", alerts)
	}
}

func TestAlertEngine_RepeatedReblocks(t *testing.T) {
	now := time.Date(2024, time.June, 10, 12, 0, 0, 0, time.UTC)
	var events []Event
	for i := 0; i < 3; i++ {
		at := now.Add(-time.Duration(3-i) * time.Hour)
		events = append(events,
			NewEvent(at, EventGraceStarted, map[string]any{"user": "erin"}),
			NewEvent(at.Add(5*time.Minute), EventGraceExpired, map[string]any{"user": "erin", "reblocked": true}),
		)
	}
	events = append(events, NewEvent(now.Add(-time.Minute), EventAccountUnblocked, map[string]any{"user": "erin"}))
	engine := newTestAlertEngine(t, now, events...)

	alerts, err := engine.Evaluate()
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(alerts) != 1 || alerts[0].Condition != "repeated_reblock" || alerts[0].Severity != SeverityMedium {
		t.Errorf("alerts = %+v", alerts)
	}
}

func TestAlertEngine_EmptyLog(t *testing.T) {
	engine := newTestAlertEngine(t, time.Now())
	alerts, err := engine.Evaluate()
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(alerts) != 0 {
		t.Errorf("alerts = %+v", alerts)
	}
}
