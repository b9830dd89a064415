package cli

import (
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/valter-silva-au/duegate/pkg/models"
)

var (
	accentColor  = lipgloss.Color("#5FAFAF")
	subtleColor  = lipgloss.Color("#666666")
	okColor      = lipgloss.Color("#87AF87")
	warnColor    = lipgloss.Color("#D7AF5F")
	blockedColor = lipgloss.Color("#AF5F5F")

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(accentColor)
	subtleStyle  = lipgloss.NewStyle().Foreground(subtleColor)
	okStyle      = lipgloss.NewStyle().Foreground(okColor)
	warnStyle    = lipgloss.NewStyle().Foreground(warnColor)
	blockedStyle = lipgloss.NewStyle().Bold(true).Foreground(blockedColor)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(subtleColor).
			Padding(0, 1)
)

// styleStatus colours a task status for terminal output.
func styleStatus(s models.TaskStatus) string {
	switch s {
	case models.StatusBlocked:
		return blockedStyle.Render(string(s))
	case models.StatusPaused:
		return warnStyle.Render(string(s))
	case models.StatusCompleted:
		return okStyle.Render(string(s))
	default:
		return string(s)
	}
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("2006-01-02")
}

func formatTimestamp(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("2006-01-02 15:04 MST")
}
