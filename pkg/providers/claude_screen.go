package providers

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/ogulcanaydogan/qmeter/pkg/model"
	"github.com/ogulcanaydogan/qmeter/pkg/timeparse"
	"golang.org/x/text/unicode/norm"
)

// Window keys produced by the Claude screen parser.
const (
	ClaudeSessionWindow = "claude:session"
	ClaudeWeekWindow    = "claude:week(all-models)"
)

const (
	percentSearchSpan = 600
	resetSearchSpan   = 1200
)

var (
	sessionAnchor = regexp.MustCompile(`(?i)Current session`)
	weekAnchor    = regexp.MustCompile(`(?i)Current week \(all models\)`)

	percentUsedRe = regexp.MustCompile(`(?i)(\d{1,3})%\s*used`)
	resetLineRe   = regexp.MustCompile(`(?i)Resets\s+([^\n]+?)(?:\s*\(([^)]+)\))?\s*(?:\n|$)`)
	debugLineRe   = regexp.MustCompile(`(?i)(Current session|Current week \(all models\)|Resets\s+|%\s*used)`)

	blankRunRe = regexp.MustCompile(`\n{3,}`)
	spaceRunRe = regexp.MustCompile(`[ \t]+`)
)

// CleanScreenText strips terminal control sequences from raw PTY output and
// normalizes whitespace so anchors can be matched as plain text.
func CleanScreenText(raw string) string {
	s := ansi.Strip(raw)
	s = norm.NFKC.String(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.ReplaceAll(s, "\u00a0", " ")
	s = spaceRunRe.ReplaceAllString(s, " ")
	return blankRunRe.ReplaceAllString(s, "\n\n")
}

// ScreenParse is the outcome of parsing one cleaned /usage screen.
type ScreenParse struct {
	Rows   []model.Row
	Errors []model.SourceError
}

// Complete reports whether both the session and the weekly row were found.
func (p ScreenParse) Complete() bool {
	return len(p.Missing()) == 0
}

// Missing returns the expected windows that were not found, in screen order.
func (p ScreenParse) Missing() []string {
	var missing []string
	for _, w := range []string{ClaudeSessionWindow, ClaudeWeekWindow} {
		found := false
		for _, r := range p.Rows {
			if r.Window == w {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, w)
		}
	}
	return missing
}

// ParseUsageScreen extracts usage rows from cleaned /usage screen text.
// Reset phrases are converted relative to now only when they carry no zone
// label or a label equal to zone; otherwise the raw line is kept as a note.
func ParseUsageScreen(text string, now time.Time, zone string) ScreenParse {
	var out ScreenParse

	for _, sec := range []struct {
		window string
		anchor *regexp.Regexp
	}{
		{ClaudeSessionWindow, sessionAnchor},
		{ClaudeWeekWindow, weekAnchor},
	} {
		row, ok := parseSection(text, sec.anchor, sec.window, now, zone)
		if ok {
			out.Rows = append(out.Rows, row)
		}
	}

	if len(out.Rows) == 0 {
		out.Errors = append(out.Errors, model.NewSourceError(
			model.SourceClaude,
			model.ErrParseFailed,
			"failed to extract usage from /usage screen output",
			"run `claude`, run /usage, and ensure you are logged in",
		))
	}
	return out
}

// parseSection looks at every occurrence of anchor, latest first, and builds a
// row from the first one followed by a percentage. The screen is redrawn many
// times, so the latest occurrence carries the freshest values.
func parseSection(text string, anchor *regexp.Regexp, window string, now time.Time, zone string) (model.Row, bool) {
	locs := anchor.FindAllStringIndex(text, -1)
	for i := len(locs) - 1; i >= 0; i-- {
		start := locs[i][0]
		pct, ok := percentNear(text[start:min(len(text), start+percentSearchSpan)])
		if !ok {
			continue
		}

		row := model.Row{
			Source:      model.SourceClaude,
			Window:      window,
			UsedPercent: &pct,
			Provenance:  model.ProvenanceParsed,
			Confidence:  model.ConfidenceMedium,
		}
		raw, resetAt := resetNear(text[start:min(len(text), start+resetSearchSpan)], now, zone)
		if raw != "" {
			row.Notes = &raw
		}
		row.ResetAt = resetAt
		return row, true
	}
	return model.Row{}, false
}

func percentNear(span string) (float64, bool) {
	m := percentUsedRe.FindStringSubmatch(span)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 0 || n > 100 {
		return 0, false
	}
	return float64(n), true
}

func resetNear(span string, now time.Time, zone string) (string, *time.Time) {
	m := resetLineRe.FindStringSubmatch(span)
	if m == nil {
		return "", nil
	}
	raw := strings.TrimSpace(m[0])
	body := strings.TrimSpace(m[1])
	label := strings.TrimSpace(m[2])

	if label != "" && label != zone {
		return raw, nil
	}
	t, ok := timeparse.ParseResetAt(body, now)
	if !ok {
		return raw, nil
	}
	t = t.UTC()
	return raw, &t
}

// matchedScreenLines returns the last n lines that look like usage output.
func matchedScreenLines(text string, n int) string {
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		l = strings.TrimRight(l, " ")
		if debugLineRe.MatchString(l) {
			lines = append(lines, l)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
