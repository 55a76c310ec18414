package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ogulcanaydogan/qmeter/pkg/alerts"
	"github.com/ogulcanaydogan/qmeter/pkg/collector"
	"github.com/ogulcanaydogan/qmeter/pkg/model"
	"github.com/ogulcanaydogan/qmeter/pkg/storage"
)

// Config is the part of the settings the poller acts on.
type Config struct {
	Interval time.Duration
	Sources  []model.SourceID
	Policy   alerts.Policy
}

// Exporter publishes the outcome of a pass, e.g. as metrics.
type Exporter interface {
	Export(snap model.Snapshot, consecutiveFailures int) error
}

// Pass is the outcome of one poll.
type Pass struct {
	RunID     string
	Snapshot  model.Snapshot
	Events    []alerts.Event
	Failures  int
	NextDelay time.Duration
}

// Poller periodically collects snapshots, evaluates the notification policy
// and delivers events. Passes never overlap.
type Poller struct {
	collector  *collector.Collector
	state      storage.StateStore
	dispatcher *alerts.Dispatcher
	exporter   Exporter
	backoff    BackoffOptions
	random     func() float64
	now        func() time.Time
	logger     *slog.Logger
	onPass     func(Pass)

	pass sync.Mutex // Held for the duration of a pass

	mu       sync.Mutex
	cfg      Config
	current  *model.Snapshot
	failures int

	refresh  chan struct{}
	reconfig chan struct{}
}

// NewPoller creates a poller. dispatcher may be nil to evaluate without delivering.
func NewPoller(c *collector.Collector, state storage.StateStore, dispatcher *alerts.Dispatcher, cfg Config, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		collector:  c,
		state:      state,
		dispatcher: dispatcher,
		backoff:    DefaultBackoff(),
		now:        time.Now,
		logger:     logger,
		cfg:        cfg,
		refresh:    make(chan struct{}, 1),
		reconfig:   make(chan struct{}, 1),
	}
}

// SetExporter attaches an exporter invoked after every pass.
func (p *Poller) SetExporter(e Exporter) { p.exporter = e }

// SetBackoff replaces the failure backoff options and random source.
func (p *Poller) SetBackoff(opts BackoffOptions, random func() float64) {
	p.backoff = opts
	p.random = random
}

// SetClock replaces the time source used for policy evaluation.
func (p *Poller) SetClock(now func() time.Time) { p.now = now }

// OnPass registers a callback invoked after every pass.
func (p *Poller) OnPass(fn func(Pass)) { p.onPass = fn }

// Snapshot returns the most recent snapshot, if any pass has completed.
func (p *Poller) Snapshot() (model.Snapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return model.Snapshot{}, false
	}
	return *p.current, true
}

// Config returns the active configuration.
func (p *Poller) Config() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// UpdateConfig replaces the configuration. A running loop reschedules
// its next pass with the new interval.
func (p *Poller) UpdateConfig(cfg Config) {
	p.mu.Lock()
	p.cfg = cfg
	p.mu.Unlock()
	select {
	case p.reconfig <- struct{}{}:
	default:
	}
}

// RequestRefresh asks a running loop for an immediate cache-bypassing pass.
// Requests made while one is pending are coalesced.
func (p *Poller) RequestRefresh() {
	select {
	case p.refresh <- struct{}{}:
	default:
	}
}

// NextDelay returns the delay before the next scheduled pass.
func (p *Poller) NextDelay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nextDelayLocked()
}

func (p *Poller) nextDelayLocked() time.Duration {
	interval := p.cfg.Interval
	if p.failures == 0 {
		return interval
	}
	return max(interval, BackoffDelay(p.failures-1, p.backoff, p.random))
}

// RunOnce performs a single pass. Concurrent calls are serialized.
func (p *Poller) RunOnce(ctx context.Context, refresh bool) Pass {
	p.pass.Lock()
	defer p.pass.Unlock()

	cfg := p.Config()
	res := p.collector.Collect(ctx, collector.Options{Refresh: refresh, Sources: cfg.Sources})
	log := p.logger.With("run_id", res.RunID)

	ev := alerts.Evaluate(res.Snapshot.Rows, p.state.Load(), cfg.Policy, p.now())
	if err := p.state.Save(ev.State); err != nil {
		log.Error("save notification state", "error", err)
	}
	if p.dispatcher != nil && len(ev.Events) > 0 {
		n := p.dispatcher.Dispatch(ctx, ev.Events)
		log.Info("events dispatched", "events", len(ev.Events), "deliveries", n)
	}

	p.mu.Lock()
	snap := res.Snapshot
	p.current = &snap
	if len(snap.Errors) > 0 {
		p.failures++
	} else {
		p.failures = 0
	}
	pass := Pass{
		RunID:     res.RunID,
		Snapshot:  snap,
		Events:    ev.Events,
		Failures:  p.failures,
		NextDelay: p.nextDelayLocked(),
	}
	p.mu.Unlock()

	if p.exporter != nil {
		if err := p.exporter.Export(snap, pass.Failures); err != nil {
			log.Warn("export metrics", "error", err)
		}
	}
	log.Debug("pass complete",
		"rows", len(snap.Rows),
		"errors", len(snap.Errors),
		"failures", pass.Failures,
		"next_delay", pass.NextDelay,
	)
	if p.onPass != nil {
		p.onPass(pass)
	}
	return pass
}

// Run polls until ctx is done. The first pass starts immediately.
func (p *Poller) Run(ctx context.Context) error {
	refresh := false
	for {
		pass := p.RunOnce(ctx, refresh)
		refresh = false

		timer := time.NewTimer(pass.NextDelay)
	wait:
		for {
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
				break wait
			case <-p.refresh:
				timer.Stop()
				refresh = true
				break wait
			case <-p.reconfig:
				timer.Stop()
				timer = time.NewTimer(p.NextDelay())
			}
		}
	}
}
