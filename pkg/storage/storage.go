package storage

import (
	"time"

	"github.com/ogulcanaydogan/qmeter/pkg/model"
)

// CacheStore persists the most recent successful rows per source.
type CacheStore interface {
	// Load returns the stored cache. A missing or unreadable store yields an
	// empty cache, never an error.
	Load() *Cache

	// Save replaces the stored cache as a whole.
	Save(c *Cache, now time.Time) error

	// Clear removes every stored entry.
	Clear() error
}

// StateStore persists notification state keyed by event key.
type StateStore interface {
	// Load returns the stored state. A missing or unreadable store yields an
	// empty map, never an error.
	Load() map[string]model.NotificationState

	// Save replaces the stored state as a whole.
	Save(items map[string]model.NotificationState) error

	// Clear removes the stored state.
	Clear() error
}
