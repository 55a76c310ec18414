package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ogulcanaydogan/qmeter/pkg/alerts"
	"github.com/ogulcanaydogan/qmeter/pkg/model"
	"github.com/ogulcanaydogan/qmeter/pkg/scheduler"
	"github.com/spf13/viper"
)

const settingsVersion = 1

// Settings holds all qmeter settings read from the settings file.
type Settings struct {
	Version           int                  `mapstructure:"version" json:"version"`
	RefreshIntervalMs int                  `mapstructure:"refreshIntervalMs" json:"refreshIntervalMs"`
	VisibleProviders  VisibleProviders     `mapstructure:"visibleProviders" json:"visibleProviders"`
	Notification      NotificationSettings `mapstructure:"notification" json:"notification"`
	Logging           LoggingConfig        `mapstructure:"logging" json:"logging"`
	Notifiers         NotifiersConfig      `mapstructure:"notifiers" json:"notifiers"`
	Metrics           MetricsConfig        `mapstructure:"metrics" json:"metrics"`
}

// VisibleProviders selects the sources polled by watch.
type VisibleProviders struct {
	Claude bool `mapstructure:"claude" json:"claude"`
	Codex  bool `mapstructure:"codex" json:"codex"`
}

// NotificationSettings defines the alert policy.
type NotificationSettings struct {
	WarningPercent    float64    `mapstructure:"warningPercent" json:"warningPercent"`
	CriticalPercent   float64    `mapstructure:"criticalPercent" json:"criticalPercent"`
	CooldownMinutes   int        `mapstructure:"cooldownMinutes" json:"cooldownMinutes"`
	HysteresisPercent float64    `mapstructure:"hysteresisPercent" json:"hysteresisPercent"`
	QuietHours        QuietHours `mapstructure:"quietHours" json:"quietHours"`
}

// QuietHours defines the daily window during which events are suppressed.
type QuietHours struct {
	Enabled   bool `mapstructure:"enabled" json:"enabled"`
	StartHour int  `mapstructure:"startHour" json:"startHour"`
	EndHour   int  `mapstructure:"endHour" json:"endHour"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level" json:"level"`
	Format string `mapstructure:"format" json:"format"`
}

// NotifiersConfig defines where events are delivered.
type NotifiersConfig struct {
	Log                bool          `mapstructure:"log" json:"log"`
	Slack              SlackConfig   `mapstructure:"slack" json:"slack"`
	Webhook            WebhookConfig `mapstructure:"webhook" json:"webhook"`
	Command            CommandConfig `mapstructure:"command" json:"command"`
	RateLimitPerMinute int           `mapstructure:"rateLimitPerMinute" json:"rateLimitPerMinute"`
	Burst              int           `mapstructure:"burst" json:"burst"`
}

// SlackConfig defines Slack webhook settings.
type SlackConfig struct {
	Enabled    bool   `mapstructure:"enabled" json:"enabled"`
	WebhookURL string `mapstructure:"webhookUrl" json:"webhookUrl"`
	Channel    string `mapstructure:"channel" json:"channel"`
}

// WebhookConfig defines generic webhook settings.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
	URL     string `mapstructure:"url" json:"url"`
	Secret  string `mapstructure:"secret" json:"secret"`
}

// CommandConfig runs an external program per event, e.g. notify-send.
type CommandConfig struct {
	Enabled bool     `mapstructure:"enabled" json:"enabled"`
	Argv    []string `mapstructure:"argv" json:"argv"`
}

// MetricsConfig defines the Prometheus textfile export.
type MetricsConfig struct {
	TextfilePath string `mapstructure:"textfilePath" json:"textfilePath"`
}

// Defaults returns the settings used when no valid settings file exists.
func Defaults() *Settings {
	return &Settings{
		Version:           settingsVersion,
		RefreshIntervalMs: 60_000,
		VisibleProviders:  VisibleProviders{Claude: true, Codex: true},
		Notification: NotificationSettings{
			WarningPercent:    80,
			CriticalPercent:   95,
			CooldownMinutes:   60,
			HysteresisPercent: 2,
			QuietHours:        QuietHours{Enabled: false, StartHour: 22, EndHour: 8},
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Notifiers: NotifiersConfig{
			Log:                true,
			Slack:              SlackConfig{Channel: "#qmeter"},
			RateLimitPerMinute: 30,
			Burst:              5,
		},
	}
}

func setDefaults(v *viper.Viper, d *Settings) {
	v.SetDefault("version", d.Version)
	v.SetDefault("refreshIntervalMs", d.RefreshIntervalMs)
	v.SetDefault("visibleProviders.claude", d.VisibleProviders.Claude)
	v.SetDefault("visibleProviders.codex", d.VisibleProviders.Codex)
	v.SetDefault("notification.warningPercent", d.Notification.WarningPercent)
	v.SetDefault("notification.criticalPercent", d.Notification.CriticalPercent)
	v.SetDefault("notification.cooldownMinutes", d.Notification.CooldownMinutes)
	v.SetDefault("notification.hysteresisPercent", d.Notification.HysteresisPercent)
	v.SetDefault("notification.quietHours.enabled", d.Notification.QuietHours.Enabled)
	v.SetDefault("notification.quietHours.startHour", d.Notification.QuietHours.StartHour)
	v.SetDefault("notification.quietHours.endHour", d.Notification.QuietHours.EndHour)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("notifiers.log", d.Notifiers.Log)
	v.SetDefault("notifiers.slack.channel", d.Notifiers.Slack.Channel)
	v.SetDefault("notifiers.rateLimitPerMinute", d.Notifiers.RateLimitPerMinute)
	v.SetDefault("notifiers.burst", d.Notifiers.Burst)
}

// Load reads the settings file at path. It always returns usable settings:
// a missing file yields the defaults, and an unreadable or invalid file
// yields the defaults together with an error describing why it was ignored.
func Load(path string) (*Settings, error) {
	if path == "" {
		return Defaults(), nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	setDefaults(v, Defaults())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.Is(err, os.ErrNotExist) || errors.As(err, &notFound) {
			return Defaults(), nil
		}
		return Defaults(), fmt.Errorf("read settings: %w", err)
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Defaults(), fmt.Errorf("unmarshal settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Defaults(), fmt.Errorf("invalid settings %s: %w", path, err)
	}
	return &s, nil
}

// Save validates s and writes it to path as indented JSON.
func Save(path string, s *Settings) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

// Validate checks every field against its allowed range.
func (s *Settings) Validate() error {
	if s.Version != settingsVersion {
		return fmt.Errorf("unsupported version %d", s.Version)
	}
	if s.RefreshIntervalMs < 5_000 || s.RefreshIntervalMs > 3_600_000 {
		return fmt.Errorf("refreshIntervalMs %d out of range [5000, 3600000]", s.RefreshIntervalMs)
	}
	n := s.Notification
	if err := percentInRange("warningPercent", n.WarningPercent, 100); err != nil {
		return err
	}
	if err := percentInRange("criticalPercent", n.CriticalPercent, 100); err != nil {
		return err
	}
	if err := percentInRange("hysteresisPercent", n.HysteresisPercent, 30); err != nil {
		return err
	}
	if n.CooldownMinutes < 1 || n.CooldownMinutes > 24*60 {
		return fmt.Errorf("cooldownMinutes %d out of range [1, 1440]", n.CooldownMinutes)
	}
	if !validHour(n.QuietHours.StartHour) || !validHour(n.QuietHours.EndHour) {
		return fmt.Errorf("quietHours %d-%d out of range [0, 23]", n.QuietHours.StartHour, n.QuietHours.EndHour)
	}
	switch s.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging level %q", s.Logging.Level)
	}
	switch s.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown logging format %q", s.Logging.Format)
	}
	if s.Notifiers.Command.Enabled && len(s.Notifiers.Command.Argv) == 0 {
		return fmt.Errorf("command notifier enabled without argv")
	}
	return nil
}

func percentInRange(name string, v, hi float64) error {
	if v < 0 || v > hi {
		return fmt.Errorf("%s %v out of range [0, %v]", name, v, hi)
	}
	return nil
}

func validHour(h int) bool {
	return h >= 0 && h <= 23
}

// Interval returns the polling interval.
func (s *Settings) Interval() time.Duration {
	return time.Duration(s.RefreshIntervalMs) * time.Millisecond
}

// Sources returns the visible sources in deterministic order.
func (s *Settings) Sources() []model.SourceID {
	var out []model.SourceID
	for _, id := range model.AllSources() {
		switch {
		case id == model.SourceClaude && s.VisibleProviders.Claude,
			id == model.SourceCodex && s.VisibleProviders.Codex:
			out = append(out, id)
		}
	}
	return out
}

// Policy converts the notification settings.
func (s *Settings) Policy() alerts.Policy {
	n := s.Notification
	return alerts.Policy{
		Thresholds: alerts.Thresholds{
			WarningPercent:  n.WarningPercent,
			CriticalPercent: n.CriticalPercent,
		},
		Cooldown:          time.Duration(n.CooldownMinutes) * time.Minute,
		HysteresisPercent: n.HysteresisPercent,
		QuietHours: alerts.QuietHours{
			Enabled:   n.QuietHours.Enabled,
			StartHour: n.QuietHours.StartHour,
			EndHour:   n.QuietHours.EndHour,
		},
	}
}

// Scheduler converts the settings into poller configuration.
func (s *Settings) Scheduler() scheduler.Config {
	return scheduler.Config{
		Interval: s.Interval(),
		Sources:  s.Sources(),
		Policy:   s.Policy(),
	}
}
