// Package internal provides the App struct that wires all components of
// duegate together and initializes the CLI layer.
package internal

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/valter-silva-au/duegate/internal/cli"
	"github.com/valter-silva-au/duegate/internal/core"
	"github.com/valter-silva-au/duegate/internal/observability"
	"github.com/valter-silva-au/duegate/internal/storage"
	"github.com/valter-silva-au/duegate/pkg/models"
)

// App holds all service dependencies.
type App struct {
	BasePath string
	Config   *models.Config
	Logger   zerolog.Logger

	// Configuration
	ConfigMgr core.ConfigurationManager

	// Storage layer
	DB           *sql.DB
	Tasks        *storage.TaskStore
	Accounts     *storage.AccountStore
	SessionStore storage.SessionStoreManager

	// Core services
	Lifecycle *core.Lifecycle
	TaskMgr   core.TaskManager

	// Observability
	EventLog    observability.EventLog
	AlertEngine observability.AlertEngine
	MetricsCalc observability.MetricsCalculator
	Notifier    observability.Notifier
}

// NewApp creates and wires all components. basePath is the directory
// holding .duegate.yaml and, by default, the database and event log.
// Diagnostic logs go to logOut.
func NewApp(basePath string, logOut io.Writer) (*App, error) {
	app := &App{BasePath: basePath}

	// --- Configuration ---
	app.ConfigMgr = core.NewConfigurationManager(basePath)
	cfg, err := app.ConfigMgr.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := app.ConfigMgr.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	app.Config = cfg

	app.Logger, err = observability.NewLogger(logOut, cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	loc, err := core.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, err
	}

	// --- Storage layer ---
	app.DB, err = storage.InitDB(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	app.Tasks = storage.NewTaskStore(app.DB)
	app.Accounts = storage.NewAccountStore(app.DB)
	app.SessionStore = storage.NewSessionStoreManager(cfg.SessionsDir)

	// --- Observability ---
	app.EventLog, err = observability.NewJSONLEventLog(cfg.EventLogPath)
	if err != nil {
		// Non-fatal: run without the event log.
		app.Logger.Warn().Err(err).Str("path", cfg.EventLogPath).Msg("event log disabled")
		app.EventLog = nil
	}
	var events core.EventLogger
	if app.EventLog != nil {
		events = &eventLogAdapter{log: app.EventLog}

		thresholds := observability.DefaultAlertThresholds()
		if cfg.Notifications.Alerts.BlockedHours > 0 {
			thresholds.BlockedHours = cfg.Notifications.Alerts.BlockedHours
		}
		if cfg.Notifications.Alerts.AccountBlockedHours > 0 {
			thresholds.AccountBlockedHours = cfg.Notifications.Alerts.AccountBlockedHours
		}
		app.AlertEngine = observability.NewAlertEngine(app.EventLog, thresholds)
		app.MetricsCalc = observability.NewMetricsCalculator(app.EventLog)
	}
	if cfg.Notifications.Slack.WebhookURL != "" {
		app.Notifier = observability.NewSlackNotifier(cfg.Notifications.Slack.WebhookURL)
	}

	// --- Core services ---
	app.Lifecycle = core.NewLifecycle(core.LifecycleOptions{
		Tasks:             app.Tasks,
		Accounts:          app.Accounts,
		Clock:             core.NewSystemClock(loc),
		Events:            events,
		Logger:            app.Logger,
		GracePeriodDays:   cfg.GracePeriodDays,
		SelfUnblockWindow: cfg.SelfUnblockWindow,
	})
	app.TaskMgr = core.NewTaskManager(app.Tasks, app.Lifecycle, events)

	// --- Wire CLI package-level variables ---
	cli.BasePath = basePath
	cli.Config = cfg
	cli.Logger = app.Logger
	cli.Lifecycle = app.Lifecycle
	cli.TaskMgr = app.TaskMgr
	cli.Tasks = app.Tasks
	cli.Accounts = app.Accounts
	cli.Sessions = app.SessionStore

	cli.EventLog = app.EventLog
	cli.AlertEngine = app.AlertEngine
	cli.MetricsCalc = app.MetricsCalc
	cli.Notifier = app.Notifier

	return app, nil
}

// Close releases the database and the event log file handle.
func (a *App) Close() error {
	var firstErr error
	if a.EventLog != nil {
		if err := a.EventLog.Close(); err != nil {
			firstErr = err
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ResolveBasePath determines the duegate data directory. DUEGATE_HOME wins,
// then the nearest ancestor of the working directory holding .duegate.yaml,
// then ~/.duegate.
func ResolveBasePath() string {
	if home := os.Getenv("DUEGATE_HOME"); home != "" {
		return home
	}
	if dir, err := os.Getwd(); err == nil {
		for {
			if _, err := os.Stat(filepath.Join(dir, core.ConfigFileName)); err == nil {
				return dir
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".duegate")
	}
	return "."
}

// eventLogAdapter adapts observability.EventLog to core.EventLogger.
type eventLogAdapter struct {
	log observability.EventLog
	now func() time.Time
}

func (a *eventLogAdapter) LogEvent(eventType string, data map[string]any) error {
	now := time.Now
	if a.now != nil {
		now = a.now
	}
	return a.log.Write(observability.NewEvent(now(), eventType, data))
}
