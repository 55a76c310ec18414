package alerts_test

import (
	"time"

	"github.com/ogulcanaydogan/qmeter/pkg/alerts"
	"github.com/ogulcanaydogan/qmeter/pkg/model"
)

func usageRow(source model.SourceID, window string, pct float64) model.Row {
	return model.Row{
		Source:      source,
		Window:      window,
		UsedPercent: &pct,
		Provenance:  model.ProvenanceStructured,
		Confidence:  model.ConfidenceHigh,
	}
}

func testEvent(level model.AlertLevel) alerts.Event {
	return alerts.Event{
		ID:       "0b6c1f0e-9a55-4a53-9a8c-1b3f6c2d7e10",
		EventKey: "codex:codex:5h",
		Level:    level,
		Reason:   alerts.ReasonTransition,
		Row:      usageRow(model.SourceCodex, "codex:5h", 81.4),
		At:       time.Date(2026, 2, 24, 9, 0, 0, 0, time.UTC),
	}
}
