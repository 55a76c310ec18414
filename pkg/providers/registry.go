package providers

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ogulcanaydogan/qmeter/pkg/model"
)

// Registry manages provider instances by source id.
type Registry struct {
	mu        sync.RWMutex
	providers map[model.SourceID]Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[model.SourceID]Provider),
	}
}

// Register adds a provider to the registry.
func (r *Registry) Register(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := p.ID()
	if _, exists := r.providers[id]; exists {
		return fmt.Errorf("provider %q already registered", id)
	}
	r.providers[id] = p
	return nil
}

// Get returns a provider by source id.
func (r *Registry) Get(id model.SourceID) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("provider %q not found", id)
	}
	return p, nil
}

// List returns all registered source ids, sorted.
func (r *Registry) List() []model.SourceID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]model.SourceID, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// All returns every registered provider, ordered by source id.
func (r *Registry) All() []Provider {
	ids := r.List()

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Provider, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.providers[id])
	}
	return out
}
