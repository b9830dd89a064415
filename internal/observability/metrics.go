package observability

import (
	"fmt"
	"time"
)

// Metrics holds overdue-lifecycle metrics derived from the event log.
type Metrics struct {
	TasksCreated     int            `json:"tasks_created"`
	TasksCompleted   int            `json:"tasks_completed"`
	TasksByStatus    map[string]int `json:"tasks_by_status"`
	TasksAutoBlocked int            `json:"tasks_auto_blocked"`
	MovesRefused     map[string]int `json:"moves_refused"`
	AccountBlocks    int            `json:"account_blocks"`
	AccountUnblocks  int            `json:"account_unblocks"`
	GraceStarted     int            `json:"grace_started"`
	GraceExpired     int            `json:"grace_expired"`
	GraceReblocked   int            `json:"grace_reblocked"`
	CascadeRuns      int            `json:"cascade_runs"`
	EventCount       int            `json:"event_count"`
	OldestEvent      *time.Time     `json:"oldest_event,omitempty"`
	NewestEvent      *time.Time     `json:"newest_event,omitempty"`
}

// MetricsCalculator derives metrics from the event log.
type MetricsCalculator interface {
	Calculate(since time.Time) (*Metrics, error)
}

type metricsCalculator struct {
	eventLog EventLog
}

// NewMetricsCalculator creates a MetricsCalculator reading from eventLog.
func NewMetricsCalculator(eventLog EventLog) MetricsCalculator {
	return &metricsCalculator{eventLog: eventLog}
}

// Calculate aggregates all events at or after since.
func (mc *metricsCalculator) Calculate(since time.Time) (*Metrics, error) {
	events, err := mc.eventLog.Read(EventFilter{Since: &since})
	if err != nil {
		return nil, fmt.Errorf("reading events for metrics: %w", err)
	}

	m := &Metrics{
		TasksByStatus: make(map[string]int),
		MovesRefused:  make(map[string]int),
		EventCount:    len(events),
	}

	for i, event := range events {
		if i == 0 {
			t := event.Time
			m.OldestEvent = &t
		}
		t := event.Time
		m.NewestEvent = &t

		switch event.Type {
		case EventTaskCreated:
			m.TasksCreated++
		case EventTaskStatusChanged:
			status := dataString(event.Data, "new_status")
			if status != "" {
				m.TasksByStatus[status]++
			}
			if status == "completed" {
				m.TasksCompleted++
			}
		case EventTaskBlocked:
			m.TasksAutoBlocked++
		case EventTaskMoveRefused:
			reason := dataString(event.Data, "refusal")
			if reason == "" {
				reason = "unknown"
			}
			m.MovesRefused[reason]++
		case EventAccountBlocked:
			m.AccountBlocks++
		case EventAccountUnblocked:
			m.AccountUnblocks++
		case EventGraceStarted:
			m.GraceStarted++
		case EventGraceExpired:
			m.GraceExpired++
			if reblocked, _ := event.Data["reblocked"].(bool); reblocked {
				m.GraceReblocked++
			}
		case EventCascadeCompleted:
			m.CascadeRuns++
		}
	}

	return m, nil
}
