package model

import (
	"fmt"
	"time"
)

// SourceID identifies a telemetry source.
type SourceID string

const (
	SourceClaude SourceID = "claude" // Interactive terminal application, scraped through a PTY
	SourceCodex  SourceID = "codex"  // JSON-RPC app-server subprocess
)

// AllSources returns every known source in the default collection order.
func AllSources() []SourceID {
	return []SourceID{SourceClaude, SourceCodex}
}

// ParseSourceID validates a source name.
func ParseSourceID(s string) (SourceID, error) {
	for _, id := range AllSources() {
		if string(id) == s {
			return id, nil
		}
	}
	return "", fmt.Errorf("unknown provider %q", s)
}

// Provenance records how a row's values were obtained.
type Provenance string

const (
	ProvenanceStructured Provenance = "structured" // Machine-readable reply
	ProvenanceParsed     Provenance = "parsed"     // Extracted from rendered text
	ProvenanceCache      Provenance = "cache"      // Replayed from a previous result
)

// Confidence is set by the strategy that produced a row.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Row is one usage window for one source.
type Row struct {
	Source      SourceID   `json:"provider"`
	Window      string     `json:"window"`
	Used        *int64     `json:"used"`
	Limit       *int64     `json:"limit"`
	UsedPercent *float64   `json:"usedPercent"`
	ResetAt     *time.Time `json:"resetAt"`
	Provenance  Provenance `json:"source"`
	Confidence  Confidence `json:"confidence"`
	Stale       bool       `json:"stale"`
	Notes       *string    `json:"notes"`
}

// Normalize fills UsedPercent from Used and Limit when it is missing and derivable.
func (r Row) Normalize() Row {
	if r.UsedPercent != nil || r.Used == nil || r.Limit == nil || *r.Limit <= 0 {
		return r
	}
	pct := float64(*r.Used) / float64(*r.Limit) * 100
	if pct > 100 {
		pct = 100
	}
	r.UsedPercent = &pct
	return r
}

// Validate checks the row against the persisted schema.
func (r Row) Validate() error {
	if _, err := ParseSourceID(string(r.Source)); err != nil {
		return err
	}
	if r.Window == "" {
		return fmt.Errorf("row for %s: empty window", r.Source)
	}
	if r.Used != nil && *r.Used < 0 {
		return fmt.Errorf("row %s: negative used", r.Window)
	}
	if r.Limit != nil && *r.Limit <= 0 {
		return fmt.Errorf("row %s: non-positive limit", r.Window)
	}
	if r.UsedPercent != nil && (*r.UsedPercent < 0 || *r.UsedPercent > 100) {
		return fmt.Errorf("row %s: percent %v out of range", r.Window, *r.UsedPercent)
	}
	switch r.Provenance {
	case ProvenanceStructured, ProvenanceParsed, ProvenanceCache:
	default:
		return fmt.Errorf("row %s: unknown source %q", r.Window, r.Provenance)
	}
	switch r.Confidence {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
	default:
		return fmt.Errorf("row %s: unknown confidence %q", r.Window, r.Confidence)
	}
	return nil
}

// ErrorKind is the closed taxonomy of acquisition failures.
type ErrorKind string

const (
	ErrNotInstalled    ErrorKind = "not-installed"
	ErrAuthRequired    ErrorKind = "auth-required"
	ErrOffline         ErrorKind = "offline"
	ErrTTYUnavailable  ErrorKind = "tty-unavailable"
	ErrTimeout         ErrorKind = "timeout"
	ErrParseFailed     ErrorKind = "parse-failed"
	ErrInvalidResponse ErrorKind = "invalid-response"
	ErrAcquireFailed   ErrorKind = "acquire-failed"
	ErrUnexpected      ErrorKind = "unexpected"
)

// SourceError is one acquisition failure attached to a snapshot.
type SourceError struct {
	Source     SourceID  `json:"provider"`
	Kind       ErrorKind `json:"type"`
	Message    string    `json:"message"`
	Actionable *string   `json:"actionable"`
}

func (e SourceError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Source, e.Kind, e.Message)
}

// NewSourceError builds a SourceError. An empty hint leaves Actionable nil.
func NewSourceError(source SourceID, kind ErrorKind, message, hint string) SourceError {
	e := SourceError{Source: source, Kind: kind, Message: message}
	if hint != "" {
		e.Actionable = &hint
	}
	return e
}

// Snapshot is one complete collection result across the requested sources.
type Snapshot struct {
	FetchedAt time.Time     `json:"fetchedAt"`
	Rows      []Row         `json:"rows"`
	Errors    []SourceError `json:"errors"`
}

// AlertLevel is the notification state of one event key.
type AlertLevel string

const (
	LevelNormal   AlertLevel = "normal"
	LevelWarning  AlertLevel = "warning"
	LevelCritical AlertLevel = "critical"
)

// Valid reports whether l is one of the known levels.
func (l AlertLevel) Valid() bool {
	switch l {
	case LevelNormal, LevelWarning, LevelCritical:
		return true
	}
	return false
}

// NotificationState is the persisted alert state for one source window.
type NotificationState struct {
	EventKey       string     `json:"eventKey"`
	Level          AlertLevel `json:"level"`
	LastNotifiedAt *time.Time `json:"lastNotifiedAt"`
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
