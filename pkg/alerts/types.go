package alerts

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ogulcanaydogan/qmeter/pkg/model"
)

// Reason explains why an event was emitted.
type Reason string

const (
	ReasonTransition Reason = "transition" // Level changed to warning or critical
	ReasonCooldown   Reason = "cooldown"   // Same level, cooldown elapsed
)

// Event is one threshold notification for a source window.
type Event struct {
	ID       string           `json:"id"`
	EventKey string           `json:"eventKey"`
	Level    model.AlertLevel `json:"level"`
	Reason   Reason           `json:"reason"`
	Row      model.Row        `json:"row"`
	At       time.Time        `json:"at"`
}

// Title returns a short human readable headline.
func (e Event) Title() string {
	return fmt.Sprintf("%s - %s", strings.ToUpper(string(e.Level)), WindowTitle(e.Row))
}

// Body returns the notification text.
func (e Event) Body() string {
	pct := 0.0
	if e.Row.UsedPercent != nil {
		pct = *e.Row.UsedPercent
	}
	return fmt.Sprintf("%d%% used", int(math.Round(pct)))
}

// WindowTitle names well-known windows, falling back to the window key.
func WindowTitle(r model.Row) string {
	switch {
	case r.Source == model.SourceClaude && r.Window == "claude:session":
		return "Claude Session limit"
	case r.Source == model.SourceClaude && r.Window == "claude:week(all-models)":
		return "Claude Week limit"
	case r.Source == model.SourceCodex && r.Window == "codex:5h":
		return "Codex Session limit"
	case r.Source == model.SourceCodex && r.Window == "codex:weekly":
		return "Codex Week limit"
	}
	return r.Window
}

// Notifier delivers events to an external system.
type Notifier interface {
	// Name returns the notifier identifier.
	Name() string

	// Send delivers an event. Implementations must be safe for concurrent use.
	Send(ctx context.Context, event Event) error
}
