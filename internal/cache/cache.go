package cache

import "sync/atomic"

// Snapshot is a lock-free, read-optimized container holding any immutable
// structure. The engine publishes its status through one so the HTTP API
// can read it without touching engine state.
type Snapshot[T any] struct{ v atomic.Value }

// Load returns the stored value, or the zero value if nothing was stored.
func (s *Snapshot[T]) Load() (T, bool) {
	v := s.v.Load()
	if v == nil {
		var z T
		return z, false
	}
	return v.(T), true
}

// Store atomically swaps in the new value.
func (s *Snapshot[T]) Store(v T) {
	s.v.Store(v)
}
