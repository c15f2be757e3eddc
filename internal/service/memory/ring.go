package memory

// Ring is a fixed-capacity circular buffer. Pushing onto a full ring
// overwrites the oldest element. Not safe for concurrent use.
type Ring[T any] struct {
	items []T
	head  int // index of the oldest element
	size  int
}

// NewRing creates a ring holding at most capacity elements.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{items: make([]T, capacity)}
}

// Push appends v, returning the evicted element and true when the ring was full.
func (r *Ring[T]) Push(v T) (T, bool) {
	var evicted T
	if r.size < len(r.items) {
		r.items[(r.head+r.size)%len(r.items)] = v
		r.size++
		return evicted, false
	}
	evicted = r.items[r.head]
	r.items[r.head] = v
	r.head = (r.head + 1) % len(r.items)
	return evicted, true
}

// Len returns the number of stored elements.
func (r *Ring[T]) Len() int { return r.size }

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int { return len(r.items) }

// At returns the i-th element, oldest first.
func (r *Ring[T]) At(i int) T {
	return r.items[(r.head+i)%len(r.items)]
}

// Do calls fn for every element from newest to oldest until fn returns false.
func (r *Ring[T]) Do(fn func(T) bool) {
	for i := r.size - 1; i >= 0; i-- {
		if !fn(r.At(i)) {
			return
		}
	}
}

// Clear drops every element.
func (r *Ring[T]) Clear() {
	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.head, r.size = 0, 0
}
