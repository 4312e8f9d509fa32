package shared

import "sync"

// RingBuffer keeps the most recent items up to a fixed capacity. Safe for concurrent use.
type RingBuffer[T any] struct {
	mu    sync.RWMutex
	items []T
	start int
	n     int
}

// NewRingBuffer creates a buffer holding at most capacity items (minimum 1).
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	return &RingBuffer[T]{items: make([]T, max(capacity, 1))}
}

// Push adds item, dropping the oldest when full.
func (r *RingBuffer[T]) Push(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[(r.start+r.n)%len(r.items)] = item
	if r.n < len(r.items) {
		r.n++
		return
	}
	r.start = (r.start + 1) % len(r.items)
}

// Snapshot copies the items oldest first.
func (r *RingBuffer[T]) Snapshot() []T {
	return r.Recent(-1)
}

// Recent copies the newest limit items, oldest first. A negative limit returns everything.
func (r *RingBuffer[T]) Recent(limit int) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit < 0 || limit > r.n {
		limit = r.n
	}
	out := make([]T, 0, limit)
	for i := r.n - limit; i < r.n; i++ {
		out = append(out, r.items[(r.start+i)%len(r.items)])
	}
	return out
}

func (r *RingBuffer[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.n
}
