package flows

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const DefaultIdleTTL = 30 * time.Minute

type entry[T any] struct {
	value    T
	lastSeen time.Time
}

// Registry keeps live flows addressable by id. Entries not touched for the
// idle TTL are dropped on the next access.
type Registry[T any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]*entry[T]
	onEvict func(id string, value T)
}

func NewRegistry[T any](ttl time.Duration) *Registry[T] {
	if ttl <= 0 {
		ttl = DefaultIdleTTL
	}
	return &Registry[T]{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]*entry[T]),
	}
}

// WithClock replaces the time source.
func (r *Registry[T]) WithClock(now func() time.Time) *Registry[T] {
	r.now = now
	return r
}

// OnEvict registers a hook run for every expired or deleted flow, outside the lock.
func (r *Registry[T]) OnEvict(fn func(id string, value T)) *Registry[T] {
	r.onEvict = fn
	return r
}

// Add stores value under a fresh uuid.
func (r *Registry[T]) Add(value T) string {
	id := uuid.NewString()

	r.mu.Lock()
	expired := r.sweep()
	r.entries[id] = &entry[T]{value: value, lastSeen: r.now()}
	r.mu.Unlock()

	r.evict(expired)
	return id
}

// Get returns the flow and refreshes its idle timer.
func (r *Registry[T]) Get(id string) (T, bool) {
	r.mu.Lock()
	expired := r.sweep()
	e, ok := r.entries[id]
	var value T
	if ok {
		e.lastSeen = r.now()
		value = e.value
	}
	r.mu.Unlock()

	r.evict(expired)
	return value, ok
}

func (r *Registry[T]) Delete(id string) bool {
	r.mu.Lock()
	e, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()

	if ok && r.onEvict != nil {
		r.onEvict(id, e.value)
	}
	return ok
}

func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// sweep removes idle entries. Caller holds mu.
func (r *Registry[T]) sweep() map[string]T {
	cutoff := r.now().Add(-r.ttl)
	var expired map[string]T
	for id, e := range r.entries {
		if e.lastSeen.Before(cutoff) {
			if expired == nil {
				expired = make(map[string]T)
			}
			expired[id] = e.value
			delete(r.entries, id)
		}
	}
	return expired
}

func (r *Registry[T]) evict(expired map[string]T) {
	if r.onEvict == nil {
		return
	}
	for id, v := range expired {
		r.onEvict(id, v)
	}
}
