package observability

import (
	"fmt"
	"sort"
	"time"
)

// AlertSeverity represents the urgency of an alert.
type AlertSeverity string

const (
	SeverityHigh   AlertSeverity = "high"
	SeverityMedium AlertSeverity = "medium"
	SeverityLow    AlertSeverity = "low"
)

// Alert represents a triggered alert condition.
type Alert struct {
	ID          string        `json:"id"`
	Condition   string        `json:"condition"`
	Severity    AlertSeverity `json:"severity"`
	Message     string        `json:"message"`
	TriggeredAt time.Time     `json:"triggered_at"`
}

// AlertThresholds configures when alerts fire.
type AlertThresholds struct {
	BlockedHours        int `yaml:"blocked_hours" json:"blocked_hours"`
	AccountBlockedHours int `yaml:"account_blocked_hours" json:"account_blocked_hours"`
	// MaxReblocks is how many grace expirations may end in a re-block
	// before the user is flagged.
	MaxReblocks int `yaml:"max_reblocks" json:"max_reblocks"`
}

// DefaultAlertThresholds returns the default thresholds.
func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{
		BlockedHours:        24,
		AccountBlockedHours: 8,
		MaxReblocks:         3,
	}
}

// AlertEngine evaluates alert conditions against the event log.
type AlertEngine interface {
	Evaluate() ([]Alert, error)
}

type alertEngine struct {
	eventLog   EventLog
	thresholds AlertThresholds
	now        func() time.Time
}

// NewAlertEngine creates an AlertEngine over eventLog.
func NewAlertEngine(eventLog EventLog, thresholds AlertThresholds) AlertEngine {
	return &alertEngine{
		eventLog:   eventLog,
		thresholds: thresholds,
		now:        time.Now,
	}
}

// Evaluate replays the event log and returns every triggered alert, ordered
// by ID.
func (ae *alertEngine) Evaluate() ([]Alert, error) {
	now := ae.now().UTC()
	events, err := ae.eventLog.Read(EventFilter{})
	if err != nil {
		return nil, fmt.Errorf("reading events for alerts: %w", err)
	}

	var alerts []Alert
	alerts = append(alerts, ae.checkBlockedTasks(events, now)...)
	alerts = append(alerts, ae.checkBlockedAccounts(events, now)...)
	alerts = append(alerts, ae.checkRepeatedReblocks(events, now)...)

	sort.Slice(alerts, func(i, j int) bool { return alerts[i].ID < alerts[j].ID })
	return alerts, nil
}

type stateSince struct {
	state string
	since time.Time
}

// checkBlockedTasks flags tasks whose latest status is blocked for longer
// than the threshold.
func (ae *alertEngine) checkBlockedTasks(events []Event, now time.Time) []Alert {
	tasks := make(map[string]stateSince)
	for _, event := range events {
		taskID := dataString(event.Data, "task_id")
		if taskID == "" {
			continue
		}
		switch event.Type {
		case EventTaskBlocked:
			tasks[taskID] = stateSince{state: "blocked", since: event.Time}
		case EventTaskStatusChanged:
			if status := dataString(event.Data, "new_status"); status != "" {
				tasks[taskID] = stateSince{state: status, since: event.Time}
			}
		}
	}

	threshold := time.Duration(ae.thresholds.BlockedHours) * time.Hour
	var alerts []Alert
	for taskID, s := range tasks {
		if s.state == "blocked" && now.Sub(s.since) > threshold {
			alerts = append(alerts, Alert{
				ID:          "blocked-task-" + taskID,
				Condition:   "task_blocked_too_long",
				Severity:    SeverityHigh,
				Message:     fmt.Sprintf("task %s has been blocked for more than %d hours", taskID, ae.thresholds.BlockedHours),
				TriggeredAt: now,
			})
		}
	}
	return alerts
}

// checkBlockedAccounts flags users whose account has stayed blocked for
// longer than the threshold. A self-unblock counts as unblocking.
func (ae *alertEngine) checkBlockedAccounts(events []Event, now time.Time) []Alert {
	users := make(map[string]stateSince)
	for _, event := range events {
		user := dataString(event.Data, "user")
		if user == "" {
			continue
		}
		switch event.Type {
		case EventAccountBlocked:
			users[user] = stateSince{state: "blocked", since: event.Time}
		case EventAccountUnblocked, EventGraceStarted:
			users[user] = stateSince{state: "active", since: event.Time}
		case EventGraceExpired:
			if reblocked, _ := event.Data["reblocked"].(bool); reblocked {
				users[user] = stateSince{state: "blocked", since: event.Time}
			}
		}
	}

	threshold := time.Duration(ae.thresholds.AccountBlockedHours) * time.Hour
	var alerts []Alert
	for user, s := range users {
		if s.state == "blocked" && now.Sub(s.since) > threshold {
			alerts = append(alerts, Alert{
				ID:          "blocked-account-" + user,
				Condition:   "account_blocked_too_long",
				Severity:    SeverityHigh,
				Message:     fmt.Sprintf("account %s has been blocked for more than %d hours", user, ae.thresholds.AccountBlockedHours),
				TriggeredAt: now,
			})
		}
	}
	return alerts
}

// checkRepeatedReblocks flags users who keep failing to clear their overdue
// tasks inside the self-unblock window.
func (ae *alertEngine) checkRepeatedReblocks(events []Event, now time.Time) []Alert {
	if ae.thresholds.MaxReblocks <= 0 {
		return nil
	}
	counts := make(map[string]int)
	for _, event := range events {
		if event.Type != EventGraceExpired {
			continue
		}
		if reblocked, _ := event.Data["reblocked"].(bool); reblocked {
			counts[dataString(event.Data, "user")]++
		}
	}

	var alerts []Alert
	for user, n := range counts {
		if user == "" || n < ae.thresholds.MaxReblocks {
			continue
		}
		alerts = append(alerts, Alert{
			ID:          "reblocked-" + user,
			Condition:   "repeated_reblock",
			Severity:    SeverityMedium,
			Message:     fmt.Sprintf("account %s was re-blocked %d times after self-unblocking", user, n),
			TriggeredAt: now,
		})
	}
	return alerts
}
