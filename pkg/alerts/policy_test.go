package alerts_test

import (
	"testing"
	"time"

	"github.com/ogulcanaydogan/qmeter/pkg/alerts"
	"github.com/ogulcanaydogan/qmeter/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaultPolicy = alerts.Policy{
	Thresholds:        alerts.Thresholds{WarningPercent: 80, CriticalPercent: 95},
	Cooldown:          time.Minute,
	HysteresisPercent: 2,
}

var noon = time.Date(2026, 2, 24, 12, 0, 0, 0, time.UTC)

func TestLevelFor_Hysteresis(t *testing.T) {
	tests := []struct {
		name string
		pct  float64
		prev model.AlertLevel
		want model.AlertLevel
	}{
		{"warning holds inside band", 79, model.LevelWarning, model.LevelWarning},
		{"warning drops below band", 77, model.LevelWarning, model.LevelNormal},
		{"warning escalates", 95, model.LevelWarning, model.LevelCritical},
		{"normal to warning", 81, model.LevelNormal, model.LevelWarning},
		{"normal no hysteresis going up", 79, model.LevelNormal, model.LevelNormal},
		{"normal straight to critical", 99, model.LevelNormal, model.LevelCritical},
		{"critical holds inside band", 93, model.LevelCritical, model.LevelCritical},
		{"critical drops to warning", 92, model.LevelCritical, model.LevelWarning},
		{"critical drops to normal", 50, model.LevelCritical, model.LevelNormal},
		{"percent clamped high", 250, model.LevelNormal, model.LevelCritical},
		{"percent clamped low", -10, model.LevelWarning, model.LevelNormal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, alerts.LevelFor(tt.pct, tt.prev, defaultPolicy))
		})
	}
}

func TestLevelFor_NegativeHysteresisIgnored(t *testing.T) {
	p := defaultPolicy
	p.HysteresisPercent = -5
	assert.Equal(t, model.LevelWarning, alerts.LevelFor(80, model.LevelWarning, p))
	assert.Equal(t, model.LevelNormal, alerts.LevelFor(79.5, model.LevelWarning, p))
}

func TestInQuietHours(t *testing.T) {
	at := func(h int) time.Time { return time.Date(2026, 2, 24, h, 30, 0, 0, time.UTC) }
	wrap := alerts.QuietHours{Enabled: true, StartHour: 22, EndHour: 8}

	assert.True(t, alerts.InQuietHours(wrap, at(23)))
	assert.True(t, alerts.InQuietHours(wrap, at(7)))
	assert.True(t, alerts.InQuietHours(wrap, at(22)))
	assert.False(t, alerts.InQuietHours(wrap, at(8)))
	assert.False(t, alerts.InQuietHours(wrap, at(12)))

	same := alerts.QuietHours{Enabled: true, StartHour: 5, EndHour: 5}
	for h := 0; h < 24; h++ {
		assert.True(t, alerts.InQuietHours(same, at(h)), "hour %d", h)
	}

	day := alerts.QuietHours{Enabled: true, StartHour: 9, EndHour: 17}
	assert.True(t, alerts.InQuietHours(day, at(9)))
	assert.False(t, alerts.InQuietHours(day, at(17)))

	disabled := alerts.QuietHours{StartHour: 0, EndHour: 0}
	assert.False(t, alerts.InQuietHours(disabled, at(3)))

	clamped := alerts.QuietHours{Enabled: true, StartHour: -4, EndHour: 99}
	assert.True(t, alerts.InQuietHours(clamped, at(0)))
	assert.False(t, alerts.InQuietHours(clamped, time.Date(2026, 2, 24, 23, 0, 0, 0, time.UTC)))
}

func TestInQuietHours_UsesLocation(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	q := alerts.QuietHours{Enabled: true, StartHour: 22, EndHour: 8}

	// 14:00 UTC is 23:00 in Tokyo.
	assert.True(t, alerts.InQuietHours(q, time.Date(2026, 2, 24, 14, 0, 0, 0, time.UTC).In(tokyo)))
	assert.False(t, alerts.InQuietHours(q, time.Date(2026, 2, 24, 14, 0, 0, 0, time.UTC)))
}

func TestShouldNotify(t *testing.T) {
	t0 := noon
	warn := model.NotificationState{EventKey: "k", Level: model.LevelWarning}
	normal := model.NotificationState{EventKey: "k", Level: model.LevelNormal}

	assert.True(t, alerts.ShouldNotify(nil, warn, time.Minute, t0))
	assert.False(t, alerts.ShouldNotify(nil, normal, time.Minute, t0))

	prevNormal := normal
	assert.True(t, alerts.ShouldNotify(&prevNormal, warn, time.Minute, t0))

	prevWarn := model.NotificationState{EventKey: "k", Level: model.LevelWarning, LastNotifiedAt: &t0}
	assert.False(t, alerts.ShouldNotify(&prevWarn, normal, time.Minute, t0))
	assert.False(t, alerts.ShouldNotify(&prevWarn, warn, time.Minute, t0.Add(30*time.Second)))
	assert.True(t, alerts.ShouldNotify(&prevWarn, warn, time.Minute, t0.Add(time.Minute)))

	neverNotified := model.NotificationState{EventKey: "k", Level: model.LevelWarning}
	assert.False(t, alerts.ShouldNotify(&neverNotified, warn, time.Minute, t0.Add(time.Hour)))
}

func TestEvaluate_TransitionFromNormal(t *testing.T) {
	rows := []model.Row{usageRow(model.SourceCodex, "codex:5h", 81)}

	ev := alerts.Evaluate(rows, map[string]model.NotificationState{}, defaultPolicy, noon)

	require.Len(t, ev.Events, 1)
	e := ev.Events[0]
	assert.Equal(t, "codex:codex:5h", e.EventKey)
	assert.Equal(t, model.LevelWarning, e.Level)
	assert.Equal(t, alerts.ReasonTransition, e.Reason)
	assert.NotEmpty(t, e.ID)

	s := ev.State["codex:codex:5h"]
	assert.Equal(t, model.LevelWarning, s.Level)
	require.NotNil(t, s.LastNotifiedAt)
	assert.True(t, noon.Equal(*s.LastNotifiedAt))
}

func TestEvaluate_Cooldown(t *testing.T) {
	t0 := noon
	prev := map[string]model.NotificationState{
		"codex:codex:5h": {EventKey: "codex:codex:5h", Level: model.LevelWarning, LastNotifiedAt: &t0},
	}
	rows := []model.Row{usageRow(model.SourceCodex, "codex:5h", 85)}

	early := alerts.Evaluate(rows, prev, defaultPolicy, t0.Add(30*time.Second))
	assert.Empty(t, early.Events)
	assert.True(t, t0.Equal(*early.State["codex:codex:5h"].LastNotifiedAt))

	late := alerts.Evaluate(rows, prev, defaultPolicy, t0.Add(120*time.Second))
	require.Len(t, late.Events, 1)
	assert.Equal(t, alerts.ReasonCooldown, late.Events[0].Reason)
	assert.True(t, t0.Add(120*time.Second).Equal(*late.State["codex:codex:5h"].LastNotifiedAt))
}

func TestEvaluate_QuietHoursKeepTransition(t *testing.T) {
	p := defaultPolicy
	p.QuietHours = alerts.QuietHours{Enabled: true, StartHour: 22, EndHour: 8}
	night := time.Date(2026, 2, 24, 23, 0, 0, 0, time.UTC)
	rows := []model.Row{usageRow(model.SourceClaude, "claude:session", 97)}

	ev := alerts.Evaluate(rows, nil, p, night)

	assert.Empty(t, ev.Events)
	s := ev.State["claude:claude:session"]
	assert.Equal(t, model.LevelCritical, s.Level)
	assert.Nil(t, s.LastNotifiedAt)
}

func TestEvaluate_SkipsRowsWithoutPercentAndCarriesState(t *testing.T) {
	t0 := noon.Add(-time.Hour)
	prev := map[string]model.NotificationState{
		"claude:claude:session": {EventKey: "claude:claude:session", Level: model.LevelCritical, LastNotifiedAt: &t0},
	}
	noPct := usageRow(model.SourceClaude, "claude:session", 0)
	noPct.UsedPercent = nil
	rows := []model.Row{noPct, usageRow(model.SourceCodex, "codex:weekly", 10)}

	ev := alerts.Evaluate(rows, prev, defaultPolicy, noon)

	assert.Empty(t, ev.Events)
	require.Len(t, ev.State, 2)
	assert.Equal(t, prev["claude:claude:session"], ev.State["claude:claude:session"])
	assert.Equal(t, model.LevelNormal, ev.State["codex:codex:weekly"].Level)

	ev.State["extra"] = model.NotificationState{}
	assert.NotContains(t, prev, "extra", "previous map is not modified")
}

func TestEvaluate_DropToNormalIsSilent(t *testing.T) {
	t0 := noon.Add(-time.Hour)
	prev := map[string]model.NotificationState{
		"codex:codex:5h": {EventKey: "codex:codex:5h", Level: model.LevelWarning, LastNotifiedAt: &t0},
	}
	ev := alerts.Evaluate([]model.Row{usageRow(model.SourceCodex, "codex:5h", 40)}, prev, defaultPolicy, noon)

	assert.Empty(t, ev.Events)
	s := ev.State["codex:codex:5h"]
	assert.Equal(t, model.LevelNormal, s.Level)
	assert.True(t, t0.Equal(*s.LastNotifiedAt))
}

func TestEvent_TitleAndBody(t *testing.T) {
	e := testEvent(model.LevelCritical)
	assert.Equal(t, "CRITICAL - Codex Session limit", e.Title())
	assert.Equal(t, "81% used", e.Body())

	e.Row = usageRow(model.SourceCodex, "codex:2h", 50)
	assert.Equal(t, "CRITICAL - codex:2h", e.Title())
}
