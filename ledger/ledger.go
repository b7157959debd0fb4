// Package ledger provides concurrency-safe in-memory ledgers that steps use
// to remember the effects they applied, so compensation can reverse exactly
// those effects and nothing else.
//
// Ledgers are constructed by the caller and injected into steps. Nothing in
// this package is global.
package ledger

import (
	"github.com/puzpuzpuz/xsync/v3"
)

// Records maps a key, usually a work item ID, to the effect applied for it.
type Records[K comparable, V any] struct {
	entries *xsync.MapOf[K, V]
}

// NewRecords creates an empty Records ledger.
func NewRecords[K comparable, V any]() *Records[K, V] {
	return &Records[K, V]{
		entries: xsync.NewMapOf[K, V](),
	}
}

// Record stores value for key, replacing any previous value.
func (r *Records[K, V]) Record(key K, value V) {
	r.entries.Store(key, value)
}

// Take removes and returns the value for key. Only one of several concurrent
// callers observes ok == true for the same entry.
func (r *Records[K, V]) Take(key K) (V, bool) {
	return r.entries.LoadAndDelete(key)
}

// Lookup returns the value for key without removing it.
func (r *Records[K, V]) Lookup(key K) (V, bool) {
	return r.entries.Load(key)
}

// Len returns the number of entries.
func (r *Records[K, V]) Len() int {
	return r.entries.Size()
}

// Stock tracks available quantity per resource.
type Stock[K comparable] struct {
	levels *xsync.MapOf[K, int]
}

// NewStock creates a Stock seeded with initial levels.
func NewStock[K comparable](initial map[K]int) *Stock[K] {
	s := &Stock[K]{
		levels: xsync.NewMapOf[K, int](),
	}
	for k, qty := range initial {
		s.levels.Store(k, qty)
	}
	return s
}

// Set overwrites the level for key.
func (s *Stock[K]) Set(key K, qty int) {
	s.levels.Store(key, qty)
}

// Available returns the level for key. Unknown keys have zero available.
func (s *Stock[K]) Available(key K) int {
	qty, _ := s.levels.Load(key)
	return qty
}

// TryReserve atomically takes qty from key if enough is available. It returns
// the level seen before the attempt and whether the reservation was made.
func (s *Stock[K]) TryReserve(key K, qty int) (available int, ok bool) {
	s.levels.Compute(key, func(old int, loaded bool) (int, bool) {
		available = old
		if !loaded {
			return old, true
		}
		if qty <= 0 || old < qty {
			return old, false
		}
		ok = true
		return old - qty, false
	})
	return available, ok
}

// Release returns qty to key.
func (s *Stock[K]) Release(key K, qty int) {
	s.levels.Compute(key, func(old int, _ bool) (int, bool) {
		return old + qty, false
	})
}

// Snapshot returns a copy of all levels.
func (s *Stock[K]) Snapshot() map[K]int {
	out := make(map[K]int, s.levels.Size())
	s.levels.Range(func(k K, qty int) bool {
		out[k] = qty
		return true
	})
	return out
}
