package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"regexp"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/ogulcanaydogan/qmeter/pkg/alerts"
	"github.com/ogulcanaydogan/qmeter/pkg/model"
	"golang.org/x/term"
)

const graphBarWidth = 32

var (
	titleStyle    = lipgloss.NewStyle().Bold(true)
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	normalStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	warningStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	criticalStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true)
)

var resetsPrefix = regexp.MustCompile(`(?i)^resets\s+`)

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func renderJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

func usageLabel(r model.Row) string {
	switch {
	case r.UsedPercent != nil:
		return fmt.Sprintf("%d%%", int(math.Round(*r.UsedPercent)))
	case r.Used != nil && r.Limit != nil:
		return fmt.Sprintf("%d/%d", *r.Used, *r.Limit)
	}
	return "?"
}

func metaLabel(r model.Row) string {
	meta := string(r.Provenance) + "/" + string(r.Confidence)
	if r.Stale {
		meta += "/stale"
	}
	return meta
}

func renderTable(w io.Writer, snap model.Snapshot) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "PROV\tWINDOW\tUSAGE\tRESET_AT\tMETA\n")
	for _, r := range snap.Rows {
		reset := "?"
		if r.ResetAt != nil {
			reset = r.ResetAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Source, r.Window, usageLabel(r), reset, metaLabel(r))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(snap.Rows) == 0 {
		fmt.Fprintln(w, "(no rows)")
	}
	renderErrors(w, snap, false)
	return nil
}

type graphOptions struct {
	Color      bool
	Thresholds alerts.Thresholds
	Location   *time.Location
}

func renderGraph(w io.Writer, snap model.Snapshot, opts graphOptions) error {
	paint := func(s lipgloss.Style, text string) string {
		if !opts.Color {
			return text
		}
		return s.Render(text)
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}

	fmt.Fprintf(w, "%s\n\n", paint(titleStyle, "Usage Snapshot @ "+snap.FetchedAt.UTC().Format(time.RFC3339)))
	if len(snap.Rows) == 0 {
		fmt.Fprintln(w, "(no rows)")
	}
	for i, r := range snap.Rows {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w, paint(titleStyle, alerts.WindowTitle(r)))
		if r.UsedPercent != nil {
			pct := *r.UsedPercent
			fmt.Fprintf(w, "  %s  %d%% used\n", paint(levelStyle(pct, opts.Thresholds), bar(pct, graphBarWidth)), int(math.Round(pct)))
		} else {
			label := "unknown"
			if r.Used != nil && r.Limit != nil {
				label = fmt.Sprintf("%d/%d", *r.Used, *r.Limit)
			}
			fmt.Fprintf(w, "  %s used\n", label)
		}
		fmt.Fprintf(w, "  %s\n", resetLabel(r, loc))
		fmt.Fprintf(w, "  %s\n", paint(dimStyle, "Source "+metaLabel(r)))
	}
	renderErrors(w, snap, opts.Color)
	return nil
}

func levelStyle(pct float64, t alerts.Thresholds) lipgloss.Style {
	switch {
	case t.CriticalPercent > 0 && pct >= t.CriticalPercent:
		return criticalStyle
	case t.WarningPercent > 0 && pct >= t.WarningPercent:
		return warningStyle
	}
	return normalStyle
}

func bar(pct float64, width int) string {
	p := min(max(int(math.Round(pct)), 0), 100)
	filled := int(math.Round(float64(p) / 100 * float64(width)))
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func resetLabel(r model.Row, loc *time.Location) string {
	if r.ResetAt != nil {
		return "Resets " + r.ResetAt.In(loc).Format("Jan 2, 2006 3:04 PM")
	}
	if r.Notes != nil && *r.Notes != "" {
		return "Resets " + resetsPrefix.ReplaceAllString(*r.Notes, "")
	}
	return "Resets unknown"
}

func renderErrors(w io.Writer, snap model.Snapshot, color bool) {
	if len(snap.Errors) == 0 {
		return
	}
	heading := "Errors:"
	if color {
		heading = errorStyle.Render(heading)
	}
	fmt.Fprintf(w, "\n%s\n", heading)
	for _, e := range snap.Errors {
		action := ""
		if e.Actionable != nil {
			action = fmt.Sprintf(" (next: %s)", *e.Actionable)
		}
		fmt.Fprintf(w, "- %s: %s: %s%s\n", e.Source, e.Kind, e.Message, action)
	}
}
