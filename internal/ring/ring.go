// Package ring implements a growable, wrap-around ring buffer.
//
// The buffer tracks head, tail, and size explicitly. Capacity only ever
// doubles, and only when an insertion finds the buffer full, at which point
// the contents are copied into the new backing array in logical order,
// starting at index 0. A maximum capacity bounds growth.
//
// Buffers are not safe for concurrent use.
package ring

import (
	"errors"
)

const (
	// DefaultCapacity is the initial capacity used when a non-positive
	// capacity is provided to New.
	DefaultCapacity = 16
)

// ErrCapacityExceeded is returned when an insertion would require growing
// beyond the configured maximum capacity.
var ErrCapacityExceeded = errors.New(`ring: capacity exceeded`)

// Buffer is a growable ring buffer. Instances must be initialized using New.
type Buffer[E any] struct {
	s          []E
	head, tail int
	size       int
	max        int
}

// New initializes a Buffer with the given initial capacity, which may not
// exceed maxCapacity. A non-positive capacity uses DefaultCapacity, and a
// non-positive maxCapacity disables the ceiling (growth is then bounded only
// by int overflow).
func New[E any](capacity, maxCapacity int) *Buffer[E] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if maxCapacity > 0 && capacity > maxCapacity {
		capacity = maxCapacity
	}
	return &Buffer[E]{
		s:   make([]E, capacity),
		max: maxCapacity,
	}
}

// Len returns the number of logical entries.
func (x *Buffer[E]) Len() int { return x.size }

// Cap returns the capacity of the current backing array.
func (x *Buffer[E]) Cap() int { return len(x.s) }

// Max returns the capacity ceiling, or 0 if unbounded.
func (x *Buffer[E]) Max() int { return x.max }

func (x *Buffer[E]) full() bool {
	return x.size != 0 && x.tail == x.head
}

func (x *Buffer[E]) index(i int) int {
	return (x.head + i) % len(x.s)
}

// grow doubles the capacity (clamped to the ceiling), relinearizing the
// contents so head is 0 and tail is size.
func (x *Buffer[E]) grow() error {
	n := len(x.s) << 1
	if n <= 0 {
		return ErrCapacityExceeded
	}
	if x.max > 0 && n > x.max {
		if len(x.s) >= x.max {
			return ErrCapacityExceeded
		}
		n = x.max
	}

	s := make([]E, n)
	if x.head < x.tail {
		copy(s, x.s[x.head:x.tail])
	} else {
		// wrapped (or full, where head == tail)
		l := copy(s, x.s[x.head:])
		copy(s[l:], x.s[:x.tail])
	}

	x.s = s
	x.head = 0
	x.tail = x.size
	return nil
}

// PushBack appends value at the tail, growing if the buffer is full.
func (x *Buffer[E]) PushBack(value E) error {
	if x.full() {
		if err := x.grow(); err != nil {
			return err
		}
	}
	x.s[x.tail] = value
	x.tail = (x.tail + 1) % len(x.s)
	x.size++
	return nil
}

// PopFront removes and returns the entry at the head.
func (x *Buffer[E]) PopFront() (value E, ok bool) {
	if x.size == 0 {
		return value, false
	}
	var zero E
	value = x.s[x.head]
	x.s[x.head] = zero // release the reference
	x.head = (x.head + 1) % len(x.s)
	x.size--
	if x.size == 0 {
		x.head = 0
		x.tail = 0
	}
	return value, true
}

// Front returns the entry at the head, without removing it.
func (x *Buffer[E]) Front() (value E, ok bool) {
	if x.size == 0 {
		return value, false
	}
	return x.Get(0), true
}

// Get returns the entry at logical index i, panicking if out of range.
func (x *Buffer[E]) Get(i int) E {
	if i < 0 || i >= x.size {
		panic(`ring: get: index out of range`)
	}
	return x.s[x.index(i)]
}

// Search returns the smallest logical index for which fn returns true,
// or Len if there is none. The entries must be partitioned by fn, i.e. fn is
// false for some prefix, and true for the remainder.
func (x *Buffer[E]) Search(fn func(value E) bool) int {
	lo, hi := 0, x.size
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if !fn(x.s[x.index(mid)]) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// Insert places value at logical index i (0 <= i <= Len), shifting later
// entries towards the tail. It panics if i is out of range.
func (x *Buffer[E]) Insert(i int, value E) error {
	if i < 0 || i > x.size {
		panic(`ring: insert: index out of range`)
	}
	if i == x.size {
		return x.PushBack(value)
	}
	if x.full() {
		if err := x.grow(); err != nil {
			return err
		}
	}

	// shift [i, size) right by one, starting from the end
	for j := x.size; j > i; j-- {
		x.s[x.index(j)] = x.s[x.index(j-1)]
	}
	x.s[x.index(i)] = value
	x.tail = (x.tail + 1) % len(x.s)
	x.size++
	return nil
}

// Slice returns a copy of the logical contents, in order.
func (x *Buffer[E]) Slice() (b []E) {
	if x.size == 0 {
		return nil
	}
	b = make([]E, x.size)
	if x.head < x.tail {
		copy(b, x.s[x.head:x.tail])
	} else {
		l := copy(b, x.s[x.head:])
		copy(b[l:], x.s[:x.tail])
	}
	return b
}

// Clear removes all entries, retaining the backing array.
func (x *Buffer[E]) Clear() {
	clear(x.s)
	x.head = 0
	x.tail = 0
	x.size = 0
}
