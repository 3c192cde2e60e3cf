// Package state provides the concurrent keyed storage used by the tracker and the silencer.
// Keys are sharded across independently locked buckets so that a cleanup scan on one
// shard never stalls reads and writes on the others.
package state

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultShards is the shard count used when NewMap is given a non-positive value.
const DefaultShards = 32

// Store is a keyed state container with per-key atomic read-modify-write.
// Implementations must be safe for concurrent use.
type Store[V any] interface {
	// Get returns the value stored under key.
	Get(key string) (V, bool)
	// Put stores value under key, replacing any previous value.
	Put(key string, value V)
	// Compute atomically replaces the value under key with the result of fn.
	// fn receives the current value and whether it exists. When fn returns keep=false
	// the key is removed. Compute returns the value fn produced.
	Compute(key string, fn func(current V, exists bool) (next V, keep bool)) V
	// Delete removes key and reports whether it was present.
	Delete(key string) bool
	// DeleteFunc removes every entry for which pred returns true and returns the count removed.
	DeleteFunc(pred func(key string, value V) bool) int
	// Range calls fn for each entry until fn returns false. The iteration order is undefined.
	Range(fn func(key string, value V) bool)
	// Len returns the number of entries.
	Len() int
}

type shard[V any] struct {
	mu    sync.RWMutex
	items map[string]V
}

// Map is the in-process Store implementation.
type Map[V any] struct {
	shards []*shard[V]
}

// Compile-time check that Map implements Store.
var _ Store[int] = (*Map[int])(nil)

// NewMap creates a sharded map with the given number of shards.
func NewMap[V any](shards int) *Map[V] {
	if shards <= 0 {
		shards = DefaultShards
	}
	m := &Map[V]{shards: make([]*shard[V], shards)}
	for i := range m.shards {
		m.shards[i] = &shard[V]{items: make(map[string]V)}
	}
	return m
}

func (m *Map[V]) shardFor(key string) *shard[V] {
	return m.shards[xxhash.Sum64String(key)%uint64(len(m.shards))]
}

// Get returns the value stored under key.
func (m *Map[V]) Get(key string) (V, bool) {
	s := m.shardFor(key)
	s.mu.RLock()
	v, ok := s.items[key]
	s.mu.RUnlock()
	return v, ok
}

// Put stores value under key.
func (m *Map[V]) Put(key string, value V) {
	s := m.shardFor(key)
	s.mu.Lock()
	s.items[key] = value
	s.mu.Unlock()
}

// Compute runs fn under the key's shard lock.
func (m *Map[V]) Compute(key string, fn func(current V, exists bool) (V, bool)) V {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.items[key]
	next, keep := fn(current, exists)
	if keep {
		s.items[key] = next
	} else {
		delete(s.items, key)
	}
	return next
}

// Delete removes key.
func (m *Map[V]) Delete(key string) bool {
	s := m.shardFor(key)
	s.mu.Lock()
	_, ok := s.items[key]
	delete(s.items, key)
	s.mu.Unlock()
	return ok
}

// DeleteFunc scans one shard at a time, holding only that shard's lock.
func (m *Map[V]) DeleteFunc(pred func(key string, value V) bool) int {
	removed := 0
	for _, s := range m.shards {
		s.mu.Lock()
		for k, v := range s.items {
			if pred(k, v) {
				delete(s.items, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Range visits entries shard by shard under a read lock.
// fn must not call back into the map for a key in the same shard.
func (m *Map[V]) Range(fn func(key string, value V) bool) {
	for _, s := range m.shards {
		s.mu.RLock()
		for k, v := range s.items {
			if !fn(k, v) {
				s.mu.RUnlock()
				return
			}
		}
		s.mu.RUnlock()
	}
}

// Len returns the total number of entries across shards.
func (m *Map[V]) Len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.RLock()
		n += len(s.items)
		s.mu.RUnlock()
	}
	return n
}
