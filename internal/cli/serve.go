package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/duegate/internal/core"
	"github.com/valter-silva-au/duegate/internal/integration"
	"github.com/valter-silva-au/duegate/internal/web"
)

var (
	serveAddr      string
	serveNoMonitor bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the overdue monitor",
	Long: `Serve the JSON API used by the board front-end and run the overdue
monitor alongside it.

The monitor re-runs the blocking cascade whenever a task changes, on the
configured sweep schedule, and when another process writes the database.
It also enforces the current user's self-unblock grace period. After each
scheduled sweep, active alerts are posted to Slack when a webhook is
configured.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireLifecycle(); err != nil {
			return err
		}
		if Sessions == nil || Accounts == nil {
			return fmt.Errorf("session store not initialized")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		addr := serveAddr
		if addr == "" && Config != nil {
			addr = Config.WebAddr
		}

		srv := web.NewServer(web.Options{
			Lifecycle: Lifecycle,
			Tasks:     TaskMgr,
			Accounts:  Accounts,
			Sessions:  Sessions,
			Logger:    Logger,
		})

		if err := srv.ResumeGracePeriods(); err != nil {
			return err
		}

		errs := make(chan error, 2)
		running := 1
		go func() { errs <- srv.Run(ctx, addr) }()

		if !serveNoMonitor {
			mon, err := newMonitor()
			if err != nil {
				return err
			}
			running++
			go func() { errs <- mon.Run(ctx) }()
		}

		var first error
		for i := 0; i < running; i++ {
			if err := <-errs; err != nil && first == nil {
				first = err
				stop()
			}
		}
		return first
	},
}

// newMonitor builds the monitor for the configured user. Without a user
// the cascade still blocks tasks but no account is evaluated.
func newMonitor() (*integration.Monitor, error) {
	if Tasks == nil {
		return nil, fmt.Errorf("task store not initialized")
	}
	var session core.Session
	if _, err := currentUser(); err == nil {
		if session, err = currentSession(); err != nil {
			return nil, err
		}
	} else {
		Logger.Warn().Msg("no current user configured, monitor will not evaluate account blocking")
	}

	opts := integration.MonitorOptions{
		Lifecycle: Lifecycle,
		Tasks:     Tasks,
		Changes:   Tasks,
		Session:   session,
		Logger:    Logger,
		AfterRun:  notifyAfterSweep,
	}
	if Config != nil {
		opts.SweepSchedule = Config.SweepSchedule
		opts.WatchPath = Config.DatabasePath
	}
	return integration.NewMonitor(opts)
}

func notifyAfterSweep(report integration.RunReport) {
	if report.Kind != integration.TriggerSweep || report.Err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := notifyAlerts(ctx); err != nil {
		Logger.Warn().Err(err).Msg("alert notification failed")
	}
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from web.addr)")
	serveCmd.Flags().BoolVar(&serveNoMonitor, "no-monitor", false, "Serve the API without the overdue monitor")
	rootCmd.AddCommand(serveCmd)
}
