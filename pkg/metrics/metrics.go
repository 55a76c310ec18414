package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ogulcanaydogan/qmeter/pkg/model"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the gauges describing the latest snapshot.
type Metrics struct {
	UsagePercent        *prometheus.GaugeVec
	SourceErrors        *prometheus.GaugeVec
	LastCollection      prometheus.Gauge
	ConsecutiveFailures prometheus.Gauge
}

func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		UsagePercent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "qmeter_usage_percent",
			Help: "Used percentage of a usage window.",
		}, []string{"provider", "window", "stale"}),
		SourceErrors: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "qmeter_source_errors",
			Help: "Acquisition errors in the latest snapshot by type.",
		}, []string{"provider", "type"}),
		LastCollection: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "qmeter_last_collection_timestamp_seconds",
			Help: "Unix time of the latest snapshot.",
		}),
		ConsecutiveFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "qmeter_consecutive_failures",
			Help: "Consecutive collection passes that reported errors.",
		}),
	}

	registry.MustRegister(
		m.UsagePercent,
		m.SourceErrors,
		m.LastCollection,
		m.ConsecutiveFailures,
	)

	return m
}

// Observe replaces all gauge values with those of snap.
func (m *Metrics) Observe(snap model.Snapshot, consecutiveFailures int) {
	m.UsagePercent.Reset()
	for _, r := range snap.Rows {
		if r.UsedPercent == nil {
			continue
		}
		m.UsagePercent.WithLabelValues(string(r.Source), r.Window, strconv.FormatBool(r.Stale)).Set(*r.UsedPercent)
	}

	m.SourceErrors.Reset()
	for _, e := range snap.Errors {
		m.SourceErrors.WithLabelValues(string(e.Source), string(e.Kind)).Inc()
	}

	m.LastCollection.Set(float64(snap.FetchedAt.Unix()))
	m.ConsecutiveFailures.Set(float64(consecutiveFailures))
}

// Textfile writes metrics in the Prometheus text format to a file, for
// node_exporter's textfile collector.
type Textfile struct {
	path     string
	registry *prometheus.Registry
	metrics  *Metrics
}

// NewTextfile creates an exporter writing to path.
func NewTextfile(path string) *Textfile {
	registry := prometheus.NewRegistry()
	return &Textfile{
		path:     path,
		registry: registry,
		metrics:  New(registry),
	}
}

// Export observes snap and rewrites the file.
func (t *Textfile) Export(snap model.Snapshot, consecutiveFailures int) error {
	t.metrics.Observe(snap, consecutiveFailures)
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(t.path, t.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
