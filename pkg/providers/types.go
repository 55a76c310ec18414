package providers

import (
	"context"

	"github.com/ogulcanaydogan/qmeter/pkg/model"
)

// AcquireOptions carries per-call acquisition flags.
type AcquireOptions struct {
	Refresh bool // Caller bypassed the cache
	Debug   bool // Attach diagnostics to the result
}

// Result is the outcome of one acquisition. Rows and Errors may both be
// non-empty, e.g. partial rows paired with a timeout.
type Result struct {
	Rows   []model.Row
	Errors []model.SourceError
	Debug  map[string]any
}

// Provider acquires current usage rows from one source.
type Provider interface {
	// ID returns the source this provider acquires from.
	ID() model.SourceID

	// Acquire runs one bounded acquisition. Failures are reported in the
	// result, never returned as Go errors.
	Acquire(ctx context.Context, opts AcquireOptions) Result
}

// failure builds a result holding a single error.
func failure(source model.SourceID, kind model.ErrorKind, message, hint string) Result {
	return Result{Errors: []model.SourceError{model.NewSourceError(source, kind, message, hint)}}
}
