package providers

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/ogulcanaydogan/qmeter/pkg/model"
	"gopkg.in/yaml.v3"
)

//go:embed fixtures/demo.yaml
var demoFixture []byte

// FixtureRow is one canned row in a fixture file.
type FixtureRow struct {
	Window      string           `yaml:"window"`
	Used        *int64           `yaml:"used"`
	Limit       *int64           `yaml:"limit"`
	UsedPercent *float64         `yaml:"usedPercent"`
	ResetAt     *time.Time       `yaml:"resetAt"`
	Source      model.Provenance `yaml:"source"`
	Confidence  model.Confidence `yaml:"confidence"`
	Notes       *string          `yaml:"notes"`
}

// FixtureError is one canned error in a fixture file.
type FixtureError struct {
	Type       model.ErrorKind `yaml:"type"`
	Message    string          `yaml:"message"`
	Actionable string          `yaml:"actionable"`
}

// FixtureSource holds the canned result of one source.
type FixtureSource struct {
	Rows   []FixtureRow   `yaml:"rows"`
	Errors []FixtureError `yaml:"errors"`
}

// FixtureSet maps source ids to canned results.
type FixtureSet map[model.SourceID]FixtureSource

// LoadFixtures reads a fixture file, or the embedded demo set when path is empty.
func LoadFixtures(path string) (FixtureSet, error) {
	data := demoFixture
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read fixture file: %w", err)
		}
	}

	var set FixtureSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("parse fixture file: %w", err)
	}
	for id, src := range set {
		if _, err := model.ParseSourceID(string(id)); err != nil {
			return nil, fmt.Errorf("fixture: %w", err)
		}
		for _, r := range src.Rows {
			if err := toRow(id, r).Validate(); err != nil {
				return nil, fmt.Errorf("fixture: %w", err)
			}
		}
	}
	return set, nil
}

// Fixture serves canned rows for one source without spawning anything.
type Fixture struct {
	id  model.SourceID
	src FixtureSource
}

// NewFixture creates a fixture provider for id. A source missing from the
// set yields an empty result.
func NewFixture(id model.SourceID, set FixtureSet) *Fixture {
	return &Fixture{id: id, src: set[id]}
}

func (f *Fixture) ID() model.SourceID { return f.id }

func (f *Fixture) Acquire(_ context.Context, opts AcquireOptions) Result {
	var res Result
	for _, r := range f.src.Rows {
		res.Rows = append(res.Rows, toRow(f.id, r))
	}
	for _, e := range f.src.Errors {
		res.Errors = append(res.Errors, model.NewSourceError(f.id, e.Type, e.Message, e.Actionable))
	}
	if opts.Debug {
		res.Debug = map[string]any{"fixture": true}
	}
	return res
}

func toRow(id model.SourceID, r FixtureRow) model.Row {
	row := model.Row{
		Source:      id,
		Window:      r.Window,
		Used:        r.Used,
		Limit:       r.Limit,
		UsedPercent: r.UsedPercent,
		ResetAt:     r.ResetAt,
		Provenance:  r.Source,
		Confidence:  r.Confidence,
		Notes:       r.Notes,
	}
	if row.ResetAt != nil {
		t := row.ResetAt.UTC()
		row.ResetAt = &t
	}
	return row
}
