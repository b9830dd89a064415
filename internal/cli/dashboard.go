package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/valter-silva-au/duegate/internal/observability"
	"github.com/valter-silva-au/duegate/pkg/models"
)

// Dashboard panel indices.
const (
	panelBoard = iota
	panelMetrics
	panelAlerts
	panelCount
)

type dashboardModel struct {
	activePanel int
	width       int
	height      int

	board   boardSnapshot
	metrics *metricsSnapshot
	alerts  []alertSnapshot

	loading bool
	err     error
}

type boardSnapshot struct {
	byStatus map[models.TaskStatus]int
	overdue  int
	inGrace  int
	total    int
}

type metricsSnapshot struct {
	autoBlocked    int
	movesRefused   int
	accountBlocks  int
	graceStarted   int
	graceReblocked int
	eventCount     int
}

type alertSnapshot struct {
	severity string
	message  string
}

// dataLoadedMsg carries loaded data back to the model.
type dataLoadedMsg struct {
	board   boardSnapshot
	metrics *metricsSnapshot
	alerts  []alertSnapshot
	err     error
}

var (
	panelStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(subtleColor).
			Padding(1, 2)

	activePanelStyle = lipgloss.NewStyle().
				BorderStyle(lipgloss.RoundedBorder()).
				BorderForeground(accentColor).
				Padding(1, 2)

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(accentColor).MarginBottom(1)
)

func newDashboardModel() dashboardModel {
	return dashboardModel{
		activePanel: panelBoard,
		loading:     true,
		board:       boardSnapshot{byStatus: make(map[models.TaskStatus]int)},
	}
}

func (m dashboardModel) Init() tea.Cmd {
	return loadDashboardData
}

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "tab":
			m.activePanel = (m.activePanel + 1) % panelCount
			return m, nil
		case "shift+tab":
			m.activePanel = (m.activePanel - 1 + panelCount) % panelCount
			return m, nil
		case "r":
			m.loading = true
			return m, loadDashboardData
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case dataLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.board = msg.board
		m.metrics = msg.metrics
		m.alerts = msg.alerts
		m.err = nil
		return m, nil
	}

	return m, nil
}

func (m dashboardModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	title := titleStyle.Render("duegate board")
	help := subtleStyle.Render("tab: switch panel | r: refresh | q: quit")

	if m.loading {
		return fmt.Sprintf("%s\n\n  Loading data...\n\n%s", title, help)
	}
	if m.err != nil {
		return fmt.Sprintf("%s\n\n  Error: %s\n\n%s", title, m.err, help)
	}

	panels := []string{m.renderBoardPanel(), m.renderMetricsPanel(), m.renderAlertsPanel()}
	availableWidth := m.width - 2

	var body string
	if availableWidth > 120 {
		colWidth := availableWidth/panelCount - 4
		for i := range panels {
			panels[i] = m.applyPanelStyle(i, panels[i], colWidth)
		}
		body = lipgloss.JoinHorizontal(lipgloss.Top, panels...)
	} else {
		panelWidth := availableWidth - 4
		if panelWidth < 20 {
			panelWidth = 20
		}
		for i := range panels {
			panels[i] = m.applyPanelStyle(i, panels[i], panelWidth)
		}
		body = lipgloss.JoinVertical(lipgloss.Left, panels...)
	}

	return fmt.Sprintf("%s\n\n%s\n\n%s", title, body, help)
}

func (m dashboardModel) applyPanelStyle(panel int, content string, width int) string {
	style := panelStyle
	if m.activePanel == panel {
		style = activePanelStyle
	}
	return style.Width(width).Render(content)
}

func (m dashboardModel) renderBoardPanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Board"))
	b.WriteString("\n")

	if m.board.total == 0 {
		b.WriteString("  No tasks found.")
		return b.String()
	}

	for _, status := range models.AllStatuses() {
		count := m.board.byStatus[status]
		if count == 0 {
			continue
		}
		b.WriteString(fmt.Sprintf("  %-14s %d\n", styleStatus(status), count))
	}
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("  %-14s %d\n", "overdue", m.board.overdue))
	b.WriteString(fmt.Sprintf("  %-14s %d\n", "in grace", m.board.inGrace))
	b.WriteString(fmt.Sprintf("\n  Total: %d", m.board.total))

	return b.String()
}

func (m dashboardModel) renderMetricsPanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Metrics (7d)"))
	b.WriteString("\n")

	if m.metrics == nil {
		b.WriteString("  No metrics available.")
		return b.String()
	}

	md := m.metrics
	lines := []struct {
		label string
		value int
	}{
		{"Events", md.eventCount},
		{"Auto-blocked", md.autoBlocked},
		{"Moves refused", md.movesRefused},
		{"Account blocks", md.accountBlocks},
		{"Self-unblocks", md.graceStarted},
		{"Re-blocked", md.graceReblocked},
	}
	for _, l := range lines {
		b.WriteString(fmt.Sprintf("  %-14s %d\n", l.label, l.value))
	}

	return b.String()
}

func (m dashboardModel) renderAlertsPanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Alerts"))
	b.WriteString("\n")

	if len(m.alerts) == 0 {
		b.WriteString("  No active alerts.")
		return b.String()
	}

	for _, a := range m.alerts {
		sev := styleForSeverity(a.severity).Render(fmt.Sprintf("[%s]", strings.ToUpper(a.severity)))
		b.WriteString(fmt.Sprintf("  %s %s\n", sev, a.message))
	}
	b.WriteString(fmt.Sprintf("\n  Total: %d alert(s)", len(m.alerts)))

	return b.String()
}

func styleForSeverity(severity string) lipgloss.Style {
	switch observability.AlertSeverity(strings.ToLower(severity)) {
	case observability.SeverityHigh:
		return blockedStyle
	case observability.SeverityMedium:
		return warnStyle
	default:
		return subtleStyle
	}
}

func loadDashboardData() tea.Msg {
	result := dataLoadedMsg{board: boardSnapshot{byStatus: make(map[models.TaskStatus]int)}}

	if TaskMgr != nil && Lifecycle != nil {
		tasks, err := listAllTasks(context.Background())
		if err != nil {
			result.err = fmt.Errorf("loading tasks: %w", err)
			return result
		}
		for _, t := range tasks {
			result.board.byStatus[t.Status]++
			result.board.total++
			if t.Status == models.StatusCompleted {
				continue
			}
			if Lifecycle.IsTaskInGracePeriod(t) {
				result.board.inGrace++
			} else if Lifecycle.IsTaskOverdue(t) {
				result.board.overdue++
			}
		}
	}

	if MetricsCalc != nil {
		metrics, err := MetricsCalc.Calculate(time.Now().UTC().AddDate(0, 0, -7))
		if err != nil {
			result.err = fmt.Errorf("loading metrics: %w", err)
			return result
		}
		refused := 0
		for _, n := range metrics.MovesRefused {
			refused += n
		}
		result.metrics = &metricsSnapshot{
			autoBlocked:    metrics.TasksAutoBlocked,
			movesRefused:   refused,
			accountBlocks:  metrics.AccountBlocks,
			graceStarted:   metrics.GraceStarted,
			graceReblocked: metrics.GraceReblocked,
			eventCount:     metrics.EventCount,
		}
	}

	if AlertEngine != nil {
		alerts, err := AlertEngine.Evaluate()
		if err != nil {
			result.err = fmt.Errorf("loading alerts: %w", err)
			return result
		}
		sort.SliceStable(alerts, func(i, j int) bool {
			return severityRank(alerts[i].Severity) < severityRank(alerts[j].Severity)
		})
		result.alerts = make([]alertSnapshot, 0, len(alerts))
		for _, a := range alerts {
			result.alerts = append(result.alerts, alertSnapshot{severity: string(a.Severity), message: a.Message})
		}
	}

	return result
}

func severityRank(s observability.AlertSeverity) int {
	switch s {
	case observability.SeverityHigh:
		return 0
	case observability.SeverityMedium:
		return 1
	default:
		return 2
	}
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Interactive board dashboard with metrics and alerts",
	Long: `Launch an interactive terminal dashboard showing the board by status,
overdue counts, enforcement metrics, and alerts.

Navigate between panels with Tab, refresh with r, quit with q.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireLifecycle(); err != nil {
			return err
		}
		p := tea.NewProgram(newDashboardModel(), tea.WithAltScreen())
		_, err := p.Run()
		return err
	},
}

func init() {
	rootCmd.AddCommand(dashboardCmd)
}
