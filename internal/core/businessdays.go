package core

import (
	"fmt"
	"time"
)

// IsBusinessDay reports whether t falls on Monday through Friday.
// There is no holiday calendar.
func IsBusinessDay(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// startOfDay truncates t to midnight in its own location.
func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// dateIn returns the calendar date of t as midnight in loc. Due dates are
// calendar dates, so only their year, month and day are significant.
func dateIn(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// CountBusinessDays counts the calendar days in [start, end], inclusive on
// both ends, that are business days. Only the date parts are compared.
// It returns 0 when end is before start.
func CountBusinessDays(start, end time.Time) int {
	cur := startOfDay(start)
	last := dateIn(end, start.Location())
	count := 0
	for !cur.After(last) {
		if IsBusinessDay(cur) {
			count++
		}
		cur = cur.AddDate(0, 0, 1)
	}
	return count
}

// AddBusinessDays steps forward one calendar day at a time until n business
// days have been passed and returns the resulting date. The time of day is
// preserved. n <= 0 returns date unchanged.
func AddBusinessDays(date time.Time, n int) time.Time {
	result := date
	added := 0
	for added < n {
		result = result.AddDate(0, 0, 1)
		if IsBusinessDay(result) {
			added++
		}
	}
	return result
}

// ParseDueDate reads a due date given as YYYY-MM-DD (midnight in loc) or
// RFC 3339. An empty string yields nil.
func ParseDueDate(raw string, loc *time.Location) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if loc == nil {
		loc = time.Local
	}
	if t, err := time.ParseInLocation("2006-01-02", raw, loc); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("parsing date %q: want YYYY-MM-DD or RFC 3339", raw)
	}
	return &t, nil
}
