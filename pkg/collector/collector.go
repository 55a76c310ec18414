package collector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ogulcanaydogan/qmeter/pkg/model"
	"github.com/ogulcanaydogan/qmeter/pkg/providers"
	"github.com/ogulcanaydogan/qmeter/pkg/storage"
)

// Options selects what one collection pass does.
type Options struct {
	Refresh bool             // Ignore fresh cache entries
	Debug   bool             // Collect per-source diagnostics
	Sources []model.SourceID // Sources in output order; empty collects nothing
}

// Result is the outcome of one collection pass.
type Result struct {
	RunID    string
	Snapshot model.Snapshot
	Debug    map[model.SourceID]map[string]any
}

// Collector builds snapshots from providers, serving and refreshing the cache.
type Collector struct {
	registry *providers.Registry
	cache    storage.CacheStore
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// New creates a collector. A non-positive ttl disables cache hits but rows
// are still cached for stale replay.
func New(registry *providers.Registry, cache storage.CacheStore, ttl time.Duration, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		registry: registry,
		cache:    cache,
		ttl:      ttl,
		now:      time.Now,
		logger:   logger,
	}
}

// WithClock replaces the time source.
func (c *Collector) WithClock(now func() time.Time) *Collector {
	c.now = now
	return c
}

// Collect runs one pass over the requested sources, sequentially and in order.
// Failures are recorded in the snapshot; Collect itself never fails.
func (c *Collector) Collect(ctx context.Context, opts Options) Result {
	sources := opts.Sources

	start := c.now().UTC()
	res := Result{
		RunID: uuid.New().String(),
		Snapshot: model.Snapshot{
			FetchedAt: start,
			Rows:      []model.Row{},
			Errors:    []model.SourceError{},
		},
	}
	if opts.Debug {
		res.Debug = make(map[model.SourceID]map[string]any)
	}
	log := c.logger.With("run_id", res.RunID)

	cache := c.cache.Load()
	dirty := false

	if len(sources) == 0 {
		log.Debug("no sources selected")
	}
	for _, id := range sources {
		entry, cached := cache.Entry(id)
		if cached && !opts.Refresh && storage.IsFresh(entry, c.ttl, start) {
			note := "cached at " + entry.FetchedAt.UTC().Format(time.RFC3339)
			res.Snapshot.Rows = append(res.Snapshot.Rows, storage.ReplayRows(entry.Rows, false, note)...)
			log.Debug("served from cache", "provider", id, "fetched_at", entry.FetchedAt)
			continue
		}

		began := time.Now()
		out := c.acquire(ctx, id, providers.AcquireOptions{Refresh: opts.Refresh, Debug: opts.Debug})
		rows, invalid := sanitize(id, out.Rows)
		res.Snapshot.Rows = append(res.Snapshot.Rows, rows...)
		res.Snapshot.Errors = append(res.Snapshot.Errors, out.Errors...)
		res.Snapshot.Errors = append(res.Snapshot.Errors, invalid...)

		log.Info("provider acquired",
			"provider", id,
			"rows", len(rows),
			"errors", len(out.Errors)+len(invalid),
			"duration_ms", time.Since(began).Milliseconds(),
		)
		for _, e := range out.Errors {
			log.Warn("provider error", "provider", id, "type", e.Kind, "error", e.Message)
		}

		if len(rows) > 0 {
			cache.Put(id, storage.CacheEntry{FetchedAt: c.now().UTC(), Rows: rows})
			dirty = true
		} else if cached && len(entry.Rows) > 0 {
			note := "stale cache from " + entry.FetchedAt.UTC().Format(time.RFC3339)
			res.Snapshot.Rows = append(res.Snapshot.Rows, storage.ReplayRows(entry.Rows, true, note)...)
		}

		if opts.Debug && out.Debug != nil {
			res.Debug[id] = out.Debug
		}
	}

	if dirty {
		if err := c.cache.Save(cache, c.now()); err != nil {
			log.Error("cache save failed", "error", err)
		}
	}
	return res
}

// acquire runs one provider, converting a missing provider or a panic into
// an unexpected error.
func (c *Collector) acquire(ctx context.Context, id model.SourceID, opts providers.AcquireOptions) (out providers.Result) {
	p, err := c.registry.Get(id)
	if err != nil {
		return providers.Result{Errors: []model.SourceError{
			model.NewSourceError(id, model.ErrUnexpected, err.Error(), ""),
		}}
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("provider panicked", "provider", id, "panic", r)
			out = providers.Result{Errors: []model.SourceError{
				model.NewSourceError(id, model.ErrUnexpected, fmt.Sprint(r), ""),
			}}
		}
	}()
	return p.Acquire(ctx, opts)
}

// sanitize normalizes rows and drops those that would not survive a cache round trip.
func sanitize(id model.SourceID, in []model.Row) ([]model.Row, []model.SourceError) {
	var (
		rows []model.Row
		errs []model.SourceError
	)
	for _, r := range in {
		r = r.Normalize()
		if err := r.Validate(); err != nil {
			errs = append(errs, model.NewSourceError(id, model.ErrInvalidResponse, err.Error(), ""))
			continue
		}
		rows = append(rows, r)
	}
	return rows, errs
}
