package state

import "sync"

// Accumulator is an ordered, mutex-guarded container for the
// "many producers, one growing list" relationships in the state model
// (raw notes, message histories, knowledge base, critiques, quality
// history). Readers always get a defensive copy, never a live slice.
type Accumulator[T any] struct {
	mu    sync.Mutex
	items []T
}

// NewAccumulator builds an accumulator seeded with the given items.
func NewAccumulator[T any](items ...T) *Accumulator[T] {
	acc := &Accumulator[T]{}
	if len(items) > 0 {
		acc.items = append(acc.items, items...)
	}
	return acc
}

// Add appends one item.
func (a *Accumulator[T]) Add(item T) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.items = append(a.items, item)
}

// AddRange appends all items in order.
func (a *Accumulator[T]) AddRange(items []T) {
	if len(items) == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.items = append(a.items, items...)
}

// Replace swaps the whole contents for a copy of items.
func (a *Accumulator[T]) Replace(items []T) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.items = append([]T(nil), items...)
}

// Clear removes all items.
func (a *Accumulator[T]) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.items = nil
}

// Items returns a consistent snapshot of the contents.
func (a *Accumulator[T]) Items() []T {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]T(nil), a.items...)
}

// Len returns the current item count.
func (a *Accumulator[T]) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.items)
}

// Last returns the most recently added item, if any.
func (a *Accumulator[T]) Last() (T, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.items) == 0 {
		var zero T
		return zero, false
	}
	return a.items[len(a.items)-1], true
}

// Clone returns an independent accumulator with the same contents.
func (a *Accumulator[T]) Clone() *Accumulator[T] {
	return NewAccumulator[T](a.Items()...)
}

// Union concatenates two accumulators into a new one without mutating
// either operand.
func Union[T any](a, b *Accumulator[T]) *Accumulator[T] {
	out := a.Clone()
	out.AddRange(b.Items())
	return out
}
