// Package timeparse converts the time representations emitted by usage sources
// into absolute timestamps.
package timeparse

import (
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// pastTolerance is how far in the past a parsed phrase may land before it is
// rolled forward to the next occurrence.
const pastTolerance = time.Minute

var (
	monthDayRe = regexp.MustCompile(`^([A-Za-z]{3})\s+(\d{1,2}),\s*(.+)$`)
	clockRe    = regexp.MustCompile(`(?i)^(\d{1,2})(?::(\d{2}))?\s*(am|pm)$`)
)

var months = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

// FromEpochSeconds converts a unix timestamp in seconds. Non-positive values
// mean "unknown" and yield nil.
func FromEpochSeconds(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

// ParseResetAt resolves a local "next occurrence" phrase such as "3am",
// "3:15pm" or "Feb 28, 10am" against now, in now's location.
//
// Without a date the phrase means today, or tomorrow once today's occurrence is
// more than a minute in the past. With a date it means this year, or next year
// under the same rule.
func ParseResetAt(phrase string, now time.Time) (time.Time, bool) {
	body := strings.TrimSpace(phrase)
	loc := now.Location()

	var (
		month   time.Month
		day     int
		hasDate bool
	)
	if m := monthDayRe.FindStringSubmatch(body); m != nil {
		mon, ok := months[strings.ToLower(m[1])]
		if !ok {
			return time.Time{}, false
		}
		d, err := strconv.Atoi(m[2])
		if err != nil || d < 1 || d > 31 {
			return time.Time{}, false
		}
		month, day, hasDate = mon, d, true
		body = strings.TrimSpace(m[3])
	}

	hh, mm, ok := parseClock(body)
	if !ok {
		return time.Time{}, false
	}

	cutoff := now.Add(-pastTolerance)
	if hasDate {
		t := time.Date(now.Year(), month, day, hh, mm, 0, 0, loc)
		if t.Before(cutoff) {
			t = time.Date(now.Year()+1, month, day, hh, mm, 0, 0, loc)
		}
		return t, true
	}

	t := time.Date(now.Year(), now.Month(), now.Day(), hh, mm, 0, 0, loc)
	if t.Before(cutoff) {
		t = time.Date(now.Year(), now.Month(), now.Day()+1, hh, mm, 0, 0, loc)
	}
	return t, true
}

// parseClock turns "10am" or "10:30pm" into 24-hour clock components.
func parseClock(s string) (hour, minute int, ok bool) {
	m := clockRe.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, false
	}
	hour, err := strconv.Atoi(m[1])
	if err != nil || hour < 1 || hour > 12 {
		return 0, 0, false
	}
	if m[2] != "" {
		minute, err = strconv.Atoi(m[2])
		if err != nil || minute > 59 {
			return 0, 0, false
		}
	}
	pm := strings.EqualFold(m[3], "pm")
	switch {
	case hour == 12 && !pm:
		hour = 0
	case hour != 12 && pm:
		hour += 12
	}
	return hour, minute, true
}

// LocalZoneName returns the IANA name of the process time zone when it can be
// determined, falling back to the name Go reports for time.Local.
func LocalZoneName() string {
	if tz := strings.TrimPrefix(os.Getenv("TZ"), ":"); tz != "" {
		return tz
	}
	if target, err := os.Readlink("/etc/localtime"); err == nil {
		if i := strings.Index(target, "zoneinfo/"); i >= 0 {
			return target[i+len("zoneinfo/"):]
		}
	}
	return time.Local.String()
}
