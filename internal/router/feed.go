package router

import "sync"

// Feed is a bounded, newest-first ring of live entries. Older entries
// fall off the live feed; they remain in the event store.
type Feed[T any] struct {
	mu    sync.Mutex
	items []T
	cap   int
}

func NewFeed[T any](capacity int) *Feed[T] {
	return &Feed[T]{cap: capacity}
}

// Push prepends an item, evicting the oldest when over capacity.
func (f *Feed[T]) Push(item T) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.items = append([]T{item}, f.items...)
	if len(f.items) > f.cap {
		f.items = f.items[:f.cap]
	}
}

// Items returns a newest-first copy of the live entries.
func (f *Feed[T]) Items() []T {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]T, len(f.items))
	copy(out, f.items)
	return out
}

func (f *Feed[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

// Cap is the retention bound.
func (f *Feed[T]) Cap() int {
	return f.cap
}
