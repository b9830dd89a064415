// Package core contains the overdue-task lifecycle engine: business-day
// arithmetic, overdue classification, the move permission gate, the
// blocking cascade and the self-unblock grace period.
package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	"github.com/valter-silva-au/duegate/pkg/models"
)

// ConfigFileName is the config file looked up in the base directory.
const ConfigFileName = ".duegate.yaml"

// ConfigurationManager loads and validates the system configuration.
type ConfigurationManager interface {
	Load() (*models.Config, error)
	ValidateConfig(cfg *models.Config) error
}

type viperConfigManager struct {
	basePath string
}

// NewConfigurationManager creates a ConfigurationManager that reads
// .duegate.yaml and .env from basePath.
func NewConfigurationManager(basePath string) ConfigurationManager {
	return &viperConfigManager{basePath: basePath}
}

// DefaultConfig returns a Config populated with defaults.
func DefaultConfig() *models.Config {
	return &models.Config{
		GracePeriodDays:   DefaultGracePeriodDays,
		SelfUnblockWindow: DefaultSelfUnblockWindow,
		SweepSchedule:     "@every 10m",
		DatabasePath:      "duegate.db",
		SessionsDir:       "sessions",
		EventLogPath:      ".duegate_events.jsonl",
		LogLevel:          "info",
		WebAddr:           ":8080",
		Timezone:          "Local",
		Notifications: models.NotificationsConfig{
			Alerts: models.AlertsConfig{
				BlockedHours:        24,
				AccountBlockedHours: 8,
			},
		},
	}
}

// Load reads the configuration. A missing config file yields defaults;
// DUEGATE_* environment variables override file values. Relative storage
// paths are resolved against the base directory.
func (cm *viperConfigManager) Load() (*models.Config, error) {
	cfg := DefaultConfig()

	envFile := filepath.Join(cm.basePath, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetConfigName(strings.TrimSuffix(ConfigFileName, ".yaml"))
	v.SetConfigType("yaml")
	v.AddConfigPath(cm.basePath)
	v.SetEnvPrefix("DUEGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("grace.business_days", cfg.GracePeriodDays)
	v.SetDefault("grace.self_unblock_window", cfg.SelfUnblockWindow.String())
	v.SetDefault("sweep.schedule", cfg.SweepSchedule)
	v.SetDefault("storage.database", cfg.DatabasePath)
	v.SetDefault("storage.sessions", cfg.SessionsDir)
	v.SetDefault("observability.event_log", cfg.EventLogPath)
	v.SetDefault("observability.log_level", cfg.LogLevel)
	v.SetDefault("web.addr", cfg.WebAddr)
	v.SetDefault("user", "")
	v.SetDefault("timezone", cfg.Timezone)
	v.SetDefault("notifications.slack.webhook_url", "")
	v.SetDefault("notifications.alerts.blocked_hours", cfg.Notifications.Alerts.BlockedHours)
	v.SetDefault("notifications.alerts.account_blocked_hours", cfg.Notifications.Alerts.AccountBlockedHours)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading %s: %w", ConfigFileName, err)
		}
	}

	cfg.GracePeriodDays = v.GetInt("grace.business_days")
	cfg.SelfUnblockWindow = v.GetDuration("grace.self_unblock_window")
	cfg.SweepSchedule = v.GetString("sweep.schedule")
	cfg.DatabasePath = cm.resolve(v.GetString("storage.database"))
	cfg.SessionsDir = cm.resolve(v.GetString("storage.sessions"))
	cfg.EventLogPath = cm.resolve(v.GetString("observability.event_log"))
	cfg.LogLevel = v.GetString("observability.log_level")
	cfg.WebAddr = v.GetString("web.addr")
	cfg.CurrentUser = v.GetString("user")
	cfg.Timezone = v.GetString("timezone")
	cfg.Notifications.Slack.WebhookURL = v.GetString("notifications.slack.webhook_url")
	cfg.Notifications.Alerts.BlockedHours = v.GetInt("notifications.alerts.blocked_hours")
	cfg.Notifications.Alerts.AccountBlockedHours = v.GetInt("notifications.alerts.account_blocked_hours")

	return cfg, nil
}

func (cm *viperConfigManager) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(cm.basePath, path)
}

// ValidateConfig checks a loaded configuration for values the engine
// cannot run with.
func (cm *viperConfigManager) ValidateConfig(cfg *models.Config) error {
	if cfg == nil {
		return fmt.Errorf("config must not be nil")
	}
	if cfg.GracePeriodDays < 0 {
		return fmt.Errorf("grace.business_days must be >= 0, got %d", cfg.GracePeriodDays)
	}
	if cfg.SelfUnblockWindow <= 0 {
		return fmt.Errorf("grace.self_unblock_window must be positive, got %s", cfg.SelfUnblockWindow)
	}
	if cfg.SweepSchedule != "" {
		if _, err := cron.ParseStandard(cfg.SweepSchedule); err != nil {
			return fmt.Errorf("sweep.schedule %q is invalid: %w", cfg.SweepSchedule, err)
		}
	}
	if _, err := LoadLocation(cfg.Timezone); err != nil {
		return err
	}
	if cfg.DatabasePath == "" {
		return fmt.Errorf("storage.database must not be empty")
	}
	if cfg.Notifications.Alerts.BlockedHours < 0 || cfg.Notifications.Alerts.AccountBlockedHours < 0 {
		return fmt.Errorf("notifications.alerts thresholds must be >= 0")
	}
	return nil
}

// LoadLocation resolves a configured timezone name. Empty and "Local" map
// to time.Local.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("timezone %q is invalid: %w", name, err)
	}
	return loc, nil
}
