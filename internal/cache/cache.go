package cache

import (
	"maps"
	"sync"
)

// EntityCache holds the last committed state of one entity kind, keyed by id.
// Ingest diffs incoming batches against it so unchanged rows never hit the store.
//
// Snapshots are copy-on-write: the map returned by Get is never mutated after
// it is published, so readers may range over it without holding a lock. They
// must not modify it.
type EntityCache[T any] struct {
	mu       sync.RWMutex
	entities map[string]T
}

func NewEntityCache[T any]() *EntityCache[T] {
	return &EntityCache[T]{
		entities: make(map[string]T),
	}
}

// Get returns the current snapshot.
func (c *EntityCache[T]) Get() map[string]T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entities
}

// Set replaces the snapshot. The cache takes ownership of m.
func (c *EntityCache[T]) Set(m map[string]T) {
	if m == nil {
		m = make(map[string]T)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entities = m
}

// Lookup retrieves one entity by id
func (c *EntityCache[T]) Lookup(id string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entities[id]
	return e, ok
}

// Apply publishes a new snapshot built from the current one: upserts are
// written, then deletes removed.
func (c *EntityCache[T]) Apply(upserts map[string]T, deletes []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := maps.Clone(c.entities)
	maps.Copy(next, upserts)
	for _, id := range deletes {
		delete(next, id)
	}
	c.entities = next
}

// Len returns the number of cached entities
func (c *EntityCache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entities)
}

// Reset clears all entities from the cache
func (c *EntityCache[T]) Reset() {
	c.Set(nil)
}
