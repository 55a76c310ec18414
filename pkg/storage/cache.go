package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ogulcanaydogan/qmeter/pkg/model"
)

const cacheVersion = 1

// CacheEntry holds the rows of the last acquisition that produced any.
type CacheEntry struct {
	FetchedAt time.Time   `json:"fetchedAt"`
	Rows      []model.Row `json:"rows"`
}

// Cache is the in-memory view of the cache store.
type Cache struct {
	Entries map[model.SourceID]CacheEntry
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{Entries: make(map[model.SourceID]CacheEntry)}
}

// Entry returns the entry for id, if any.
func (c *Cache) Entry(id model.SourceID) (CacheEntry, bool) {
	e, ok := c.Entries[id]
	return e, ok
}

// Put replaces the entry for id.
func (c *Cache) Put(id model.SourceID, e CacheEntry) {
	if c.Entries == nil {
		c.Entries = make(map[model.SourceID]CacheEntry)
	}
	c.Entries[id] = e
}

func (c *Cache) clone() *Cache {
	out := NewCache()
	for id, e := range c.Entries {
		out.Entries[id] = CacheEntry{FetchedAt: e.FetchedAt, Rows: append([]model.Row(nil), e.Rows...)}
	}
	return out
}

// IsFresh reports whether e is young enough to serve without acquiring.
// A non-positive ttl disables freshness.
func IsFresh(e CacheEntry, ttl time.Duration, now time.Time) bool {
	if ttl <= 0 || e.FetchedAt.IsZero() {
		return false
	}
	return now.Sub(e.FetchedAt) <= ttl
}

// ReplayRows marks rows as served from the cache and appends note to their notes.
func ReplayRows(rows []model.Row, stale bool, note string) []model.Row {
	out := make([]model.Row, 0, len(rows))
	for _, r := range rows {
		r.Provenance = model.ProvenanceCache
		r.Stale = stale
		if note != "" {
			merged := note
			if r.Notes != nil && *r.Notes != "" {
				merged = *r.Notes + "; " + note
			}
			r.Notes = &merged
		}
		out = append(out, r)
	}
	return out
}

type cacheFile struct {
	Version   int                    `json:"version"`
	SavedAt   time.Time              `json:"savedAt"`
	Providers map[string]*CacheEntry `json:"providers"`
}

// FileCache stores the cache as one versioned JSON document.
type FileCache struct {
	path string
}

// NewFileCache creates a cache store backed by the file at path.
func NewFileCache(path string) *FileCache {
	return &FileCache{path: path}
}

// Path returns the backing file path.
func (f *FileCache) Path() string { return f.path }

func (f *FileCache) Load() *Cache {
	c, err := f.read()
	if err != nil {
		return NewCache()
	}
	return c
}

func (f *FileCache) read() (*Cache, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}
	var file cacheFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode cache: %w", err)
	}
	if file.Version != cacheVersion {
		return nil, fmt.Errorf("unsupported cache version %d", file.Version)
	}
	if file.SavedAt.IsZero() {
		return nil, fmt.Errorf("cache missing savedAt")
	}

	c := NewCache()
	for _, id := range model.AllSources() {
		e := file.Providers[string(id)]
		if e == nil {
			continue
		}
		if e.FetchedAt.IsZero() {
			return nil, fmt.Errorf("cache entry %s missing fetchedAt", id)
		}
		for _, r := range e.Rows {
			if err := r.Validate(); err != nil {
				return nil, fmt.Errorf("cache entry %s: %w", id, err)
			}
		}
		c.Entries[id] = *e
	}
	return c, nil
}

// Save writes every known source, with null for sources without an entry.
func (f *FileCache) Save(c *Cache, now time.Time) error {
	file := cacheFile{
		Version:   cacheVersion,
		SavedAt:   now.UTC(),
		Providers: make(map[string]*CacheEntry),
	}
	for _, id := range model.AllSources() {
		file.Providers[string(id)] = nil
		if e, ok := c.Entries[id]; ok {
			file.Providers[string(id)] = &e
		}
	}
	if err := writeJSONAtomic(f.path, file); err != nil {
		return fmt.Errorf("save cache: %w", err)
	}
	return nil
}

func (f *FileCache) Clear() error {
	return removeIfExists(f.path)
}

// MemoryCache keeps the cache in process memory only.
type MemoryCache struct {
	mu sync.Mutex
	c  *Cache
}

// NewMemoryCache creates an empty in-memory cache store.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{c: NewCache()}
}

func (m *MemoryCache) Load() *Cache {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.c.clone()
}

func (m *MemoryCache) Save(c *Cache, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.c = c.clone()
	return nil
}

func (m *MemoryCache) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.c = NewCache()
	return nil
}
