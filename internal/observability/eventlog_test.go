package observability

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestEventLog(t *testing.T) (EventLog, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "logs", "events.jsonl")
	log, err := NewJSONLEventLog(path)
	if err != nil {
		t.Fatalf("creating event log: %v", err)
	}
	t.Cleanup(func() { _ = log.Close() })
	return log, path
}

func TestEventLog_WriteAndRead(t *testing.T) {
	log, _ := newTestEventLog(t)
	now := time.Now().UTC().Truncate(time.Millisecond)

	events := []Event{
		NewEvent(now, EventTaskCreated, map[string]any{"task_id": "t1", "created_by": "carol"}),
		NewEvent(now.Add(time.Second), EventTaskBlocked, map[string]any{"task_id": "t1"}),
	}
	for _, e := range events {
		if err := log.Write(e); err != nil {
			t.Fatalf("writing event: %v", err)
		}
	}

	result, err := log.Read(EventFilter{})
	if err != nil {
		t.Fatalf("reading events: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("expected 2 events, got %d", len(result))
	}
	if result[0].Message != "task t1 created by carol" {
		t.Errorf("message = %q", result[0].Message)
	}
	if result[1].Level != "WARN" {
		t.Errorf("task.blocked level = %q, want WARN", result[1].Level)
	}
	if result[1].Data["task_id"] != "t1" {
		t.Errorf("data = %v", result[1].Data)
	}
}

func TestEventLog_Filter(t *testing.T) {
	log, _ := newTestEventLog(t)
	base := time.Date(2024, time.June, 6, 10, 0, 0, 0, time.UTC)
	for i, typ := range []string{EventTaskCreated, EventAccountBlocked, EventGraceStarted} {
		if err := log.Write(NewEvent(base.Add(time.Duration(i)*time.Hour), typ, map[string]any{"user": "alice"})); err != nil {
			t.Fatalf("writing event: %v", err)
		}
	}

	since := base.Add(30 * time.Minute)
	got, _ := log.Read(EventFilter{Since: &since})
	if len(got) != 2 {
		t.Errorf("Since filter returned %d, want 2", len(got))
	}
	until := base.Add(90 * time.Minute)
	got, _ = log.Read(EventFilter{Until: &until})
	if len(got) != 2 {
		t.Errorf("Until filter returned %d, want 2", len(got))
	}
	got, _ = log.Read(EventFilter{Type: EventAccountBlocked})
	if len(got) != 1 || got[0].Message != "account alice blocked" {
		t.Errorf("Type filter returned %v", got)
	}
	got, _ = log.Read(EventFilter{Level: "WARN"})
	if len(got) != 1 {
		t.Errorf("Level filter returned %d, want 1", len(got))
	}
}

func TestEventLog_SkipsMalformedLines(t *testing.T) {
	log, path := newTestEventLog(t)
	if err := log.Write(NewEvent(time.Now(), EventCascadeCompleted, nil)); err != nil {
		t.Fatalf("writing event: %v", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("opening log: %v", err)
	}
	_, _ = f.WriteString("{not json\n\n")
	_ = f.Close()

	got, err := log.Read(EventFilter{})
	if err != nil {
		t.Fatalf("reading events: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("got %d events, want 1", len(got))
	}
}

func TestEventLog_ConcurrentWrites(t *testing.T) {
	log, _ := newTestEventLog(t)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = log.Write(NewEvent(time.Now(), EventTaskStatusChanged, map[string]any{"task_id": "t"}))
		}()
	}
	wg.Wait()

	got, err := log.Read(EventFilter{})
	if err != nil {
		t.Fatalf("reading events: %v", err)
	}
	if len(got) != 50 {
		t.Errorf("got %d events, want 50", len(got))
	}
}

func TestEventMessage_UnknownType(t *testing.T) {
	e := NewEvent(time.Now(), "custom.thing", nil)
	if e.Message != "custom.thing" || e.Level != "INFO" {
		t.Errorf("event = %+v", e)
	}
}
