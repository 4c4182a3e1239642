// Package livemap is a string-keyed concurrent map on top of cornelk/hashmap
// that never unlinks keys.
//
// hashmap v1.0.8 leaves deleted elements reachable from the list: a later
// Set or GetOrInsert for the same key finds the dead element, so GetOrInsert
// spins and Set writes a value Get never returns. Range may also still visit
// it. livemap removes a key by storing a nil tombstone in its element
// instead, so re-adding the key updates the same live element.
//
// Reads are lock-free; writers are serialized so that compare-and-remove
// claims are atomic.
package livemap

import (
	"sync"

	"github.com/cornelk/hashmap"
)

type Map[V any] struct {
	mu sync.Mutex
	m  *hashmap.Map[string, *V]
}

func New[V any]() *Map[V] {
	return &Map[V]{m: hashmap.New[string, *V]()}
}

// Get returns the live value for key.
func (m *Map[V]) Get(key string) (V, bool) {
	if p, ok := m.m.Get(key); ok && p != nil {
		return *p, true
	}
	var zero V
	return zero, false
}

// Set stores v under key, replacing any live value.
func (m *Map[V]) Set(key string, v V) {
	m.mu.Lock()
	m.m.Set(key, &v)
	m.mu.Unlock()
}

// Insert stores v unless key is live. It returns the live value and true
// when key was already present.
func (m *Map[V]) Insert(key string, v V) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.Get(key); ok {
		return cur, true
	}
	m.m.Set(key, &v)
	return v, false
}

// Replace stores v only while key is live and match accepts its current
// value. It reports whether v was stored.
func (m *Map[V]) Replace(key string, v V, match func(V) bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.Get(key)
	if !ok || !match(cur) {
		return false
	}
	m.m.Set(key, &v)
	return true
}

// Delete removes key and returns the value it held.
func (m *Map[V]) Delete(key string) (V, bool) {
	return m.DeleteIf(key, nil)
}

// DeleteIf removes key only when match accepts its live value. A nil match
// accepts any value. Exactly one of several racing callers wins the removal.
func (m *Map[V]) DeleteIf(key string, match func(V) bool) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.Get(key)
	if !ok || (match != nil && !match(cur)) {
		var zero V
		return zero, false
	}
	m.m.Set(key, nil)
	return cur, true
}

// Range calls f for every live entry until f returns false.
func (m *Map[V]) Range(f func(key string, v V) bool) {
	m.m.Range(func(key string, p *V) bool {
		if p == nil {
			return true
		}
		return f(key, *p)
	})
}

// Len counts live entries.
func (m *Map[V]) Len() int {
	n := 0
	m.Range(func(string, V) bool {
		n++
		return true
	})
	return n
}

// Clear removes every live entry and returns them.
func (m *Map[V]) Clear() []V {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed []V
	m.m.Range(func(key string, p *V) bool {
		if p != nil {
			removed = append(removed, *p)
			m.m.Set(key, nil)
		}
		return true
	})
	return removed
}
