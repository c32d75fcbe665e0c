// Package registry holds keyed handles for long-lived sessions (listeners per account,
// watchdog subscriptions per symbol).
package registry

import (
	"sort"
	"sync"
)

// Registry maps a key to a session handle. Add and Remove are the only mutators.
type Registry[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]V
}

// New creates an empty registry.
func New[K comparable, V any]() *Registry[K, V] {
	return &Registry[K, V]{entries: make(map[K]V)}
}

// Add stores v under key unless the key is already taken. It returns the handle that is
// registered afterwards and whether v was the one added.
func (r *Registry[K, V]) Add(key K, v V) (V, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.entries[key]; ok {
		return existing, false
	}
	r.entries[key] = v
	return v, true
}

// Remove deletes key and returns the handle that was registered, if any.
func (r *Registry[K, V]) Remove(key K) (V, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.entries[key]
	if ok {
		delete(r.entries, key)
	}
	return v, ok
}

// Get returns the handle registered under key.
func (r *Registry[K, V]) Get(key K) (V, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.entries[key]
	return v, ok
}

// Len returns the number of registered handles.
func (r *Registry[K, V]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Snapshot returns a copy of the current entries.
func (r *Registry[K, V]) Snapshot() map[K]V {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[K]V, len(r.entries))
	for k, v := range r.entries {
		out[k] = v
	}
	return out
}

// Keys returns the registered keys in ascending order.
func Keys[K interface{ ~string | ~int64 }, V any](r *Registry[K, V]) []K {
	snap := r.Snapshot()
	keys := make([]K, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
