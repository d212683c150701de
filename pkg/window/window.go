// Package window is a fixed-size FIFO history, backed by a power-of-2 ring buffer.
//
// A RingP of capacity N holds N-1 items, so the ring is sized to the next power of 2
// above size. A Window never exposes more than its logical size, so callers see
// exactly the last N items.
package window

import (
	"github.com/bmharper/ringbuffer"
	"github.com/cyclopcam/vigil/pkg/gen"
)

type Window[T any] struct {
	size int
	ring ringbuffer.RingP[T]
}

// New creates a window that holds at most size items. size must be at least 1.
func New[T any](size int) *Window[T] {
	size = max(size, 1)
	return &Window[T]{
		size: size,
		ring: ringbuffer.NewRingP[T](gen.NextPowerOf2(size + 1)),
	}
}

// Add an item, evicting the oldest item if the window is full
func (w *Window[T]) Add(item T) {
	w.ring.Add(item)
}

// Number of items currently visible. Never more than Size().
func (w *Window[T]) Len() int {
	return min(w.ring.Len(), w.size)
}

func (w *Window[T]) Size() int {
	return w.size
}

// Get returns the i'th visible item, where 0 is the oldest and Len()-1 is the newest
func (w *Window[T]) Get(i int) T {
	skip := w.ring.Len() - w.Len()
	return w.ring.Peek(skip + i)
}

// Newest returns the most recently added item. Len() must be > 0.
func (w *Window[T]) Newest() T {
	return w.Get(w.Len() - 1)
}

// Items returns a copy of the visible items, oldest first
func (w *Window[T]) Items() []T {
	n := w.Len()
	out := make([]T, n)
	for i := 0; i < n; i++ {
		out[i] = w.Get(i)
	}
	return out
}
