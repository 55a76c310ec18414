package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ogulcanaydogan/qmeter/internal/config"
	"github.com/ogulcanaydogan/qmeter/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSettings(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.v1.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	s, err := config.Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)

	assert.Equal(t, config.Defaults(), s)
	assert.Equal(t, time.Minute, s.Interval())
	assert.Equal(t, []model.SourceID{model.SourceClaude, model.SourceCodex}, s.Sources())
	assert.Equal(t, 80.0, s.Notification.WarningPercent)
	assert.Equal(t, 95.0, s.Notification.CriticalPercent)
	assert.Equal(t, 60, s.Notification.CooldownMinutes)
	assert.Equal(t, 2.0, s.Notification.HysteresisPercent)
	assert.False(t, s.Notification.QuietHours.Enabled)
	assert.Equal(t, 22, s.Notification.QuietHours.StartHour)
	assert.Equal(t, 8, s.Notification.QuietHours.EndHour)
}

func TestLoad_EmptyPath(t *testing.T) {
	s, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.Defaults(), s)
}

func TestLoad_FromFile(t *testing.T) {
	path := writeSettings(t, `{
  "version": 1,
  "refreshIntervalMs": 30000,
  "visibleProviders": {"claude": false, "codex": true},
  "notification": {
    "warningPercent": 70,
    "criticalPercent": 90,
    "cooldownMinutes": 15,
    "hysteresisPercent": 5,
    "quietHours": {"enabled": true, "startHour": 23, "endHour": 7}
  },
  "logging": {"level": "debug", "format": "json"},
  "notifiers": {
    "command": {"enabled": true, "argv": ["notify-send", "-u", "normal"]},
    "webhook": {"enabled": true, "url": "http://localhost:9000/hook", "secret": "s3cret"}
  },
  "metrics": {"textfilePath": "/var/lib/node_exporter/qmeter.prom"}
}`)

	s, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, s.Interval())
	assert.Equal(t, []model.SourceID{model.SourceCodex}, s.Sources())
	assert.Equal(t, "debug", s.Logging.Level)
	assert.Equal(t, "json", s.Logging.Format)
	assert.Equal(t, []string{"notify-send", "-u", "normal"}, s.Notifiers.Command.Argv)
	assert.True(t, s.Notifiers.Webhook.Enabled)
	assert.Equal(t, "s3cret", s.Notifiers.Webhook.Secret)
	assert.Equal(t, "/var/lib/node_exporter/qmeter.prom", s.Metrics.TextfilePath)

	p := s.Policy()
	assert.Equal(t, 70.0, p.Thresholds.WarningPercent)
	assert.Equal(t, 90.0, p.Thresholds.CriticalPercent)
	assert.Equal(t, 15*time.Minute, p.Cooldown)
	assert.Equal(t, 5.0, p.HysteresisPercent)
	assert.True(t, p.QuietHours.Enabled)
	assert.Equal(t, 23, p.QuietHours.StartHour)
	assert.Equal(t, 7, p.QuietHours.EndHour)

	sc := s.Scheduler()
	assert.Equal(t, 30*time.Second, sc.Interval)
	assert.Equal(t, p, sc.Policy)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := writeSettings(t, `{"refreshIntervalMs": 120000}`)

	s, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Minute, s.Interval())
	assert.Equal(t, 80.0, s.Notification.WarningPercent)
	assert.True(t, s.Notifiers.Log)
	assert.Equal(t, 30, s.Notifiers.RateLimitPerMinute)
}

func TestLoad_InvalidFileFallsBackToDefaults(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"refreshIntervalMs": `},
		{"interval too short", `{"refreshIntervalMs": 1000}`},
		{"interval too long", `{"refreshIntervalMs": 7200000}`},
		{"warning above 100", `{"notification": {"warningPercent": 101}}`},
		{"cooldown zero", `{"notification": {"cooldownMinutes": 0}}`},
		{"hysteresis too wide", `{"notification": {"hysteresisPercent": 31}}`},
		{"quiet hour out of range", `{"notification": {"quietHours": {"startHour": 24}}}`},
		{"unknown version", `{"version": 2}`},
		{"unknown log level", `{"logging": {"level": "trace"}}`},
		{"command without argv", `{"notifiers": {"command": {"enabled": true}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := config.Load(writeSettings(t, tt.body))
			assert.Error(t, err)
			assert.Equal(t, config.Defaults(), s)
		})
	}
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.v1.json")
	s := config.Defaults()
	s.RefreshIntervalMs = 90_000
	s.VisibleProviders.Claude = false

	require.NoError(t, config.Save(path, s))

	got, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestSave_RejectsInvalid(t *testing.T) {
	s := config.Defaults()
	s.RefreshIntervalMs = 10

	err := config.Save(filepath.Join(t.TempDir(), "settings.json"), s)
	assert.ErrorContains(t, err, "refreshIntervalMs")
}
