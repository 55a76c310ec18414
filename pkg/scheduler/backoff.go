package scheduler

import (
	"math"
	"math/rand/v2"
	"time"
)

// BackoffOptions shapes the retry delay after consecutive failures.
type BackoffOptions struct {
	Base        time.Duration
	Max         time.Duration
	Multiplier  float64
	JitterRatio float64 // Fraction of the delay added or removed at random
}

// DefaultBackoff returns 30s doubling up to 5m with 20% jitter.
func DefaultBackoff() BackoffOptions {
	return BackoffOptions{
		Base:        30 * time.Second,
		Max:         5 * time.Minute,
		Multiplier:  2,
		JitterRatio: 0.2,
	}
}

// BackoffDelay returns the delay before the next attempt. random must yield
// values in [0, 1); nil uses math/rand. The result stays within [Base, Max].
func BackoffDelay(failures int, opts BackoffOptions, random func() float64) time.Duration {
	if random == nil {
		random = rand.Float64
	}
	failures = max(failures, 0)

	raw := float64(opts.Base) * math.Pow(opts.Multiplier, float64(failures))
	clamped := math.Min(float64(opts.Max), raw)

	jitter := clamped * opts.JitterRatio
	delta := (random()*2 - 1) * jitter
	d := time.Duration(math.Round(clamped + delta))

	return min(max(d, opts.Base), opts.Max)
}
