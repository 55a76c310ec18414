package alerts

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Dispatcher fans events out to notifiers. Deliveries are rate limited and
// failures are logged, never returned.
type Dispatcher struct {
	notifiers []Notifier
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// NewDispatcher creates a dispatcher allowing perMinute deliveries per
// minute with bursts up to burst. A non-positive perMinute disables limiting.
func NewDispatcher(notifiers []Notifier, perMinute, burst int, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	return &Dispatcher{
		notifiers: notifiers,
		limiter:   rate.NewLimiter(limit, max(burst, 1)),
		logger:    logger,
	}
}

// Notifiers returns the configured notifiers.
func (d *Dispatcher) Notifiers() []Notifier { return d.notifiers }

// Dispatch delivers every event to every notifier and returns the number of
// successful deliveries. Events beyond the rate limit are dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, events []Event) int {
	var (
		mu        sync.Mutex
		delivered int
	)
	for _, e := range events {
		if !d.limiter.Allow() {
			d.logger.Warn("event dropped by rate limit", "event_key", e.EventKey, "level", e.Level)
			continue
		}

		var wg sync.WaitGroup
		for _, n := range d.notifiers {
			wg.Add(1)
			go func(n Notifier) {
				defer wg.Done()
				if err := n.Send(ctx, e); err != nil {
					d.logger.Error("notification failed", "notifier", n.Name(), "event_key", e.EventKey, "error", err)
					return
				}
				mu.Lock()
				delivered++
				mu.Unlock()
			}(n)
		}
		wg.Wait()
	}
	return delivered
}
