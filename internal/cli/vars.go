package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/valter-silva-au/duegate/internal/core"
	"github.com/valter-silva-au/duegate/internal/observability"
	"github.com/valter-silva-au/duegate/pkg/models"
)

// AccountManager is the account store surface the CLI needs.
type AccountManager interface {
	CreateUser(ctx context.Context, username, role string) (*models.UserAccount, error)
	GetUser(ctx context.Context, username string) (*models.UserAccount, error)
	ListUsers(ctx context.Context) ([]models.UserAccount, error)
}

// SessionOpener creates and opens client sessions.
type SessionOpener interface {
	Create(user string) (*models.SessionRecord, error)
	List() ([]models.SessionRecord, error)
	Open(id string) (core.Session, error)
	OpenUser(user string) (core.Session, error)
}

// TaskSource is the task store the monitor watches.
type TaskSource interface {
	core.TaskStore
	core.TaskChangeSource
}

// Service instances, set during app initialization in app.go.
var (
	BasePath string
	Config   *models.Config
	Logger   = zerolog.Nop()

	Lifecycle *core.Lifecycle
	TaskMgr   core.TaskManager
	Tasks     TaskSource
	Accounts  AccountManager
	Sessions  SessionOpener
)

// Observability service instances, set during app initialization in app.go.
var (
	EventLog    observability.EventLog
	AlertEngine observability.AlertEngine
	MetricsCalc observability.MetricsCalculator
	Notifier    observability.Notifier
)

// currentUser resolves the acting user from --user or the configuration.
func currentUser() (string, error) {
	if u := strings.TrimSpace(userFlag); u != "" {
		return u, nil
	}
	if Config != nil && strings.TrimSpace(Config.CurrentUser) != "" {
		return strings.TrimSpace(Config.CurrentUser), nil
	}
	return "", fmt.Errorf("no current user: pass --user or set user in .duegate.yaml")
}

// currentSession opens the acting user's standing session, which the CLI,
// the MCP server and the monitor share through the session directory.
func currentSession() (core.Session, error) {
	if Sessions == nil {
		return core.Session{}, fmt.Errorf("session store not initialized")
	}
	user, err := currentUser()
	if err != nil {
		return core.Session{}, err
	}
	session, err := Sessions.OpenUser(user)
	if err != nil {
		return core.Session{}, fmt.Errorf("opening session: %w", err)
	}
	return session, nil
}

func requireLifecycle() error {
	if Lifecycle == nil || TaskMgr == nil {
		return fmt.Errorf("task manager not initialized")
	}
	return nil
}
