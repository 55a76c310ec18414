package alerts

import (
	"time"

	"github.com/google/uuid"
	"github.com/ogulcanaydogan/qmeter/pkg/model"
)

// Thresholds are the percentages at which a window enters each level.
type Thresholds struct {
	WarningPercent  float64
	CriticalPercent float64
}

// QuietHours is a daily local-time window during which events are suppressed.
type QuietHours struct {
	Enabled   bool
	StartHour int
	EndHour   int
}

// Policy configures event evaluation.
type Policy struct {
	Thresholds        Thresholds
	Cooldown          time.Duration
	HysteresisPercent float64
	QuietHours        QuietHours
}

// Evaluation is the outcome of one policy pass. State is a complete
// replacement for the previous state map.
type Evaluation struct {
	Events []Event
	State  map[string]model.NotificationState
}

// EventKey identifies the alert state of one source window.
func EventKey(r model.Row) string {
	return string(r.Source) + ":" + r.Window
}

func clampHour(h int) int {
	return min(max(h, 0), 23)
}

// InQuietHours reports whether now falls inside q, using now's location.
// Equal start and end hours mean the whole day is quiet.
func InQuietHours(q QuietHours, now time.Time) bool {
	if !q.Enabled {
		return false
	}
	start, end := clampHour(q.StartHour), clampHour(q.EndHour)
	h := now.Hour()

	switch {
	case start == end:
		return true
	case start < end:
		return h >= start && h < end
	default:
		return h >= start || h < end
	}
}

// LevelFor maps a percentage to a level. Leaving an active level requires
// dropping hysteresis points below the threshold that entered it.
func LevelFor(pct float64, prev model.AlertLevel, p Policy) model.AlertLevel {
	pct = min(max(pct, 0), 100)
	warning := p.Thresholds.WarningPercent
	critical := p.Thresholds.CriticalPercent
	h := max(p.HysteresisPercent, 0)

	switch prev {
	case model.LevelCritical:
		if pct >= critical-h {
			return model.LevelCritical
		}
		if pct >= warning {
			return model.LevelWarning
		}
		return model.LevelNormal
	case model.LevelWarning:
		if pct >= critical {
			return model.LevelCritical
		}
		if pct >= warning-h {
			return model.LevelWarning
		}
		return model.LevelNormal
	}

	if pct >= critical {
		return model.LevelCritical
	}
	if pct >= warning {
		return model.LevelWarning
	}
	return model.LevelNormal
}

// ShouldNotify decides whether moving from prev to next warrants an event.
// A repeat at the same level needs a previous notification at least
// cooldown ago.
func ShouldNotify(prev *model.NotificationState, next model.NotificationState, cooldown time.Duration, now time.Time) bool {
	if prev == nil || prev.Level != next.Level {
		return next.Level != model.LevelNormal
	}
	if prev.LastNotifiedAt == nil {
		return false
	}
	return now.Sub(*prev.LastNotifiedAt) >= cooldown
}

// Evaluate runs the policy over rows. Rows without a percentage are skipped
// and keys not present in rows keep their previous state.
func Evaluate(rows []model.Row, prev map[string]model.NotificationState, p Policy, now time.Time) Evaluation {
	next := make(map[string]model.NotificationState, len(prev))
	for k, v := range prev {
		next[k] = v
	}
	out := Evaluation{State: next}
	quiet := InQuietHours(p.QuietHours, now)

	for _, r := range rows {
		if r.UsedPercent == nil {
			continue
		}
		key := EventKey(r)

		var before *model.NotificationState
		prevLevel := model.LevelNormal
		if s, ok := prev[key]; ok {
			before = &s
			prevLevel = s.Level
		}

		candidate := model.NotificationState{
			EventKey: key,
			Level:    LevelFor(*r.UsedPercent, prevLevel, p),
		}
		if before != nil {
			candidate.LastNotifiedAt = before.LastNotifiedAt
		}

		if !quiet && candidate.Level != model.LevelNormal && ShouldNotify(before, candidate, p.Cooldown, now) {
			reason := ReasonTransition
			if before != nil && before.Level == candidate.Level {
				reason = ReasonCooldown
			}
			at := now.UTC()
			out.Events = append(out.Events, Event{
				ID:       uuid.New().String(),
				EventKey: key,
				Level:    candidate.Level,
				Reason:   reason,
				Row:      r,
				At:       at,
			})
			candidate.LastNotifiedAt = &at
		}
		next[key] = candidate
	}
	return out
}
