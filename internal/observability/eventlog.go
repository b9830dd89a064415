package observability

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event types recorded by the lifecycle engine.
const (
	EventTaskCreated       = "task.created"
	EventTaskStatusChanged = "task.status_changed"
	EventTaskBlocked       = "task.blocked"
	EventTaskMoveRefused   = "task.move_refused"
	EventAccountBlocked    = "account.blocked"
	EventAccountUnblocked  = "account.unblocked"
	EventGraceStarted      = "grace.started"
	EventGraceExpired      = "grace.expired"
	EventCascadeCompleted  = "cascade.completed"
)

// Event is one line of the event log.
type Event struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"` // INFO, WARN
	Type    string         `json:"type"`
	Message string         `json:"msg"`
	Data    map[string]any `json:"data,omitempty"`
}

// NewEvent stamps an event with its level and a readable message derived
// from the type and data.
func NewEvent(at time.Time, eventType string, data map[string]any) Event {
	return Event{
		Time:    at.UTC(),
		Level:   eventLevel(eventType),
		Type:    eventType,
		Message: eventMessage(eventType, data),
		Data:    data,
	}
}

func eventLevel(eventType string) string {
	switch eventType {
	case EventTaskBlocked, EventAccountBlocked, EventTaskMoveRefused:
		return "WARN"
	}
	return "INFO"
}

func eventMessage(eventType string, data map[string]any) string {
	str := func(k string) string { return dataString(data, k) }
	switch eventType {
	case EventTaskCreated:
		return fmt.Sprintf("task %s created by %s", str("task_id"), str("created_by"))
	case EventTaskStatusChanged:
		return fmt.Sprintf("task %s moved from %s to %s", str("task_id"), str("old_status"), str("new_status"))
	case EventTaskBlocked:
		return fmt.Sprintf("task %s blocked after grace period", str("task_id"))
	case EventTaskMoveRefused:
		return fmt.Sprintf("move of task %s to %s refused (%s)", str("task_id"), str("new_status"), str("refusal"))
	case EventAccountBlocked:
		return fmt.Sprintf("account %s blocked", str("user"))
	case EventAccountUnblocked:
		return fmt.Sprintf("account %s unblocked", str("user"))
	case EventGraceStarted:
		return fmt.Sprintf("grace period started for %s", str("user"))
	case EventGraceExpired:
		return fmt.Sprintf("grace period expired for %s", str("user"))
	case EventCascadeCompleted:
		return fmt.Sprintf("overdue cascade completed for %s", str("user"))
	}
	return eventType
}

func dataString(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}

// EventFilter specifies criteria for reading events.
type EventFilter struct {
	Since *time.Time
	Until *time.Time
	Type  string
	Level string
}

// EventLog defines the interface for writing and reading events.
type EventLog interface {
	Write(event Event) error
	Read(filter EventFilter) ([]Event, error)
	Close() error
}

// jsonlEventLog implements EventLog using an append-only JSONL file.
type jsonlEventLog struct {
	path string
	file *os.File
	mu   sync.Mutex
}

// NewJSONLEventLog creates an EventLog backed by a JSONL file at path,
// creating the parent directory if needed.
func NewJSONLEventLog(path string) (EventLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("opening event log: creating directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening event log: %w", err)
	}
	return &jsonlEventLog{path: path, file: f}, nil
}

// Write appends a JSON-encoded event followed by a newline.
func (l *jsonlEventLog) Write(event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}
	data = append(data, '\n')

	if _, err := l.file.Write(data); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}
	return nil
}

// Read scans the log and returns the events matching filter, oldest first.
// Malformed lines are skipped.
func (l *jsonlEventLog) Read(filter EventFilter) ([]Event, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening event log for reading: %w", err)
	}
	defer func() { _ = f.Close() }()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}
		if matchesEventFilter(event, filter) {
			events = append(events, event)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning event log: %w", err)
	}
	return events, nil
}

// Close closes the underlying log file.
func (l *jsonlEventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.file.Close(); err != nil {
		return fmt.Errorf("closing event log: %w", err)
	}
	return nil
}

func matchesEventFilter(event Event, filter EventFilter) bool {
	if filter.Since != nil && event.Time.Before(*filter.Since) {
		return false
	}
	if filter.Until != nil && event.Time.After(*filter.Until) {
		return false
	}
	if filter.Type != "" && event.Type != filter.Type {
		return false
	}
	if filter.Level != "" && event.Level != filter.Level {
		return false
	}
	return true
}
