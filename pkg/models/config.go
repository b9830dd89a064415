package models

import "time"

// AlertsConfig holds thresholds for the alert engine.
type AlertsConfig struct {
	BlockedHours        int `yaml:"blocked_hours" mapstructure:"blocked_hours"`
	AccountBlockedHours int `yaml:"account_blocked_hours" mapstructure:"account_blocked_hours"`
}

// SlackConfig holds the webhook used for alert notifications.
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// NotificationsConfig groups alerting and delivery settings.
type NotificationsConfig struct {
	Slack  SlackConfig  `yaml:"slack" mapstructure:"slack"`
	Alerts AlertsConfig `yaml:"alerts" mapstructure:"alerts"`
}

// Config holds system-wide settings read from .duegate.yaml via Viper.
type Config struct {
	// GracePeriodDays is the number of business days an overdue task is
	// tolerated before it is moved to blocked.
	GracePeriodDays int `yaml:"grace_business_days" mapstructure:"grace_business_days"`
	// SelfUnblockWindow is how long a self-unblocked user may resolve
	// overdue tasks before being re-evaluated.
	SelfUnblockWindow time.Duration `yaml:"self_unblock_window" mapstructure:"self_unblock_window"`
	SweepSchedule     string        `yaml:"sweep_schedule" mapstructure:"sweep_schedule"`

	DatabasePath string `yaml:"database" mapstructure:"database"`
	SessionsDir  string `yaml:"sessions" mapstructure:"sessions"`
	EventLogPath string `yaml:"event_log" mapstructure:"event_log"`
	LogLevel     string `yaml:"log_level" mapstructure:"log_level"`

	WebAddr     string `yaml:"web_addr" mapstructure:"web_addr"`
	CurrentUser string `yaml:"user" mapstructure:"user"`
	Timezone    string `yaml:"timezone" mapstructure:"timezone"`

	Notifications NotificationsConfig `yaml:"notifications" mapstructure:"notifications"`
}
