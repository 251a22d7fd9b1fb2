package transcription

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrInvalidDescriptor is returned when registering an unusable descriptor
	ErrInvalidDescriptor = errors.New("invalid backend descriptor")
	// ErrDuplicateBackend is returned when an id is registered twice
	ErrDuplicateBackend = errors.New("backend already registered")
)

// statsReporter is implemented by backends built on the HTTP Client
type statsReporter interface {
	GetStats() ClientStats
}

// Registry maps backend ids to descriptors
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]Descriptor
}

// NewRegistry creates an empty registry. Every id resolves to the no-op
// descriptor until registered.
func NewRegistry() *Registry {
	return &Registry{
		descriptors: make(map[string]Descriptor),
	}
}

// Register adds a descriptor under its id
func (r *Registry) Register(d Descriptor) error {
	if d.ID == "" || d.ID == BackendNone {
		return fmt.Errorf("%w: reserved or empty id %q", ErrInvalidDescriptor, d.ID)
	}
	if !d.Available() {
		return fmt.Errorf("%w: %s has no backend", ErrInvalidDescriptor, d.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.descriptors[d.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateBackend, d.ID)
	}
	r.descriptors[d.ID] = d
	return nil
}

// Resolve returns the descriptor for id, or the no-op descriptor when id is
// "none", unknown, or not registered.
func (r *Registry) Resolve(id string) Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if d, ok := r.descriptors[id]; ok {
		return d
	}
	return NoopDescriptor(id)
}

// IDs returns the registered backend ids in sorted order
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.descriptors))
	for id := range r.descriptors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// BackendStats returns transport statistics for backends that keep them
func (r *Registry) BackendStats() map[string]ClientStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[string]ClientStats)
	for id, d := range r.descriptors {
		if reporter, ok := d.Backend.(statsReporter); ok {
			stats[id] = reporter.GetStats()
		}
	}
	return stats
}
