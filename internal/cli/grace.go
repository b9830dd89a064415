package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"github.com/valter-silva-au/duegate/internal/core"
)

var graceCmd = &cobra.Command{
	Use:   "grace",
	Short: "Inspect the self-unblock grace period",
}

var graceStatusJSON bool

var graceStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current user's grace period",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Lifecycle == nil {
			return fmt.Errorf("task manager not initialized")
		}
		session, err := currentSession()
		if err != nil {
			return err
		}
		status, err := Lifecycle.GraceStatus(session)
		if err != nil {
			return fmt.Errorf("reading grace period: %w", err)
		}
		if graceStatusJSON {
			return printJSON(status)
		}

		switch status.State {
		case core.GraceActive:
			remaining := time.Duration(status.RemainingMs) * time.Millisecond
			fmt.Printf("Grace period active: %s remaining\n", remaining.Round(time.Second))
		case core.GraceExpired:
			fmt.Println("Grace period ended and has not been evaluated yet.")
		default:
			fmt.Println("No grace period active.")
		}
		return nil
	},
}

var graceWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the grace period countdown",
	Long: `Show a live countdown of the current user's grace period.

When the window ends, the account is re-evaluated: it is blocked again
if any overdue task is still open.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireLifecycle(); err != nil {
			return err
		}
		session, err := currentSession()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		model := newGraceWatchModel(
			session.User,
			Lifecycle.Grace(session).Duration(),
			func() (core.GraceStatus, error) { return Lifecycle.GraceStatus(session) },
			func() (*core.ExpiryResult, error) { return expireSession(ctx, session) },
		)
		final, err := tea.NewProgram(model, tea.WithContext(ctx)).Run()
		if err != nil {
			return fmt.Errorf("running grace watch: %w", err)
		}
		if m, ok := final.(graceWatchModel); ok && m.err != nil {
			return m.err
		}
		return nil
	},
}

func expireSession(ctx context.Context, session core.Session) (*core.ExpiryResult, error) {
	tasks, err := listAllTasks(ctx)
	if err != nil {
		return nil, err
	}
	return Lifecycle.ExpireGracePeriod(ctx, session, tasks)
}

type graceTickMsg time.Time

type graceExpiredMsg struct {
	result *core.ExpiryResult
	err    error
}

// graceWatchModel polls the grace status once a second and runs the
// expiry evaluation when the window closes.
type graceWatchModel struct {
	user   string
	window time.Duration
	status func() (core.GraceStatus, error)
	expire func() (*core.ExpiryResult, error)

	bar      progress.Model
	current  core.GraceStatus
	expiring bool
	result   *core.ExpiryResult
	done     bool
	err      error
}

func newGraceWatchModel(user string, window time.Duration, status func() (core.GraceStatus, error), expire func() (*core.ExpiryResult, error)) graceWatchModel {
	return graceWatchModel{
		user:   user,
		window: window,
		status: status,
		expire: expire,
		bar:    progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
	}
}

func graceTick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return graceTickMsg(t)
	})
}

func (m graceWatchModel) Init() tea.Cmd {
	return func() tea.Msg { return graceTickMsg(time.Now()) }
}

func (m graceWatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		width := msg.Width - 4
		if width > 60 {
			width = 60
		}
		if width < 10 {
			width = 10
		}
		m.bar.Width = width
		return m, nil

	case graceTickMsg:
		if m.expiring || m.done {
			return m, nil
		}
		status, err := m.status()
		if err != nil {
			m.err = fmt.Errorf("reading grace period: %w", err)
			m.done = true
			return m, tea.Quit
		}
		m.current = status
		switch status.State {
		case core.GraceActive:
			return m, graceTick()
		case core.GraceExpired:
			if m.expire == nil {
				m.done = true
				return m, tea.Quit
			}
			m.expiring = true
			expire := m.expire
			return m, func() tea.Msg {
				result, err := expire()
				return graceExpiredMsg{result: result, err: err}
			}
		default:
			m.done = true
			return m, tea.Quit
		}

	case graceExpiredMsg:
		m.expiring = false
		m.done = true
		m.result = msg.result
		if msg.err != nil {
			m.err = fmt.Errorf("expiring grace period: %w", msg.err)
		}
		return m, tea.Quit
	}

	return m, nil
}

// remainingFraction is the share of the window still left, in [0, 1].
func (m graceWatchModel) remainingFraction() float64 {
	if m.window <= 0 {
		return 0
	}
	f := float64(m.current.RemainingMs) / float64(m.window.Milliseconds())
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func (m graceWatchModel) View() string {
	header := titleStyle.Render("Grace period for " + m.user)
	help := subtleStyle.Render("q: quit")

	var body string
	switch {
	case m.err != nil:
		body = blockedStyle.Render("Error: " + m.err.Error())
	case m.result != nil && m.result.Reblocked:
		body = blockedStyle.Render(fmt.Sprintf("Grace period ended. %d overdue task(s) still open, account blocked again.", m.result.Remaining))
	case m.result != nil:
		body = okStyle.Render("Grace period ended. All overdue tasks resolved.")
	case m.expiring:
		body = warnStyle.Render("Grace period ended, re-evaluating...")
	case m.current.State == core.GraceActive:
		remaining := time.Duration(m.current.RemainingMs) * time.Millisecond
		body = m.bar.ViewAs(m.remainingFraction()) + "\n\n" + fmt.Sprintf("%s remaining", remaining.Round(time.Second))
	case m.done:
		body = "No grace period active."
	default:
		body = subtleStyle.Render("Checking...")
	}

	return fmt.Sprintf("%s\n\n%s\n\n%s\n", header, body, help)
}

func init() {
	graceStatusCmd.Flags().BoolVar(&graceStatusJSON, "json", false, "Output the status as JSON")
	graceCmd.AddCommand(graceStatusCmd, graceWatchCmd)
	rootCmd.AddCommand(graceCmd)
}
