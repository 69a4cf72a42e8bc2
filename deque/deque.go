// Package deque provides a slice-backed double-ended queue.
package deque

import "slices"

// Deque is a slice-backed double-ended queue.
// Operations return the updated deque; the receiver must not be used after.
type Deque[Elem any] struct {
	el []Elem
	// left is the position of the leftmost valid element in el.
	// left >= len(el) implies the deque is empty.
	left int
}

// Of creates a deque holding the given elements in order.
func Of[Elem any](ee ...Elem) Deque[Elem] {
	return Deque[Elem]{el: slices.Clone(ee)}
}

// Len returns the number of elements in the deque.
func (d Deque[Elem]) Len() int {
	return len(d.el) - d.left
}

// Append adds elements to the end of the deque.
func (d Deque[Elem]) Append(ee ...Elem) Deque[Elem] {
	d.el = append(d.el, ee...)
	return d
}

// Prepend adds elements to the front of the deque.
func (d Deque[Elem]) Prepend(ee ...Elem) Deque[Elem] {
	if d.left < len(ee) {
		// Grow the slice, then slide the existing elements to the end.
		k := d.Len()
		d.el = slices.Grow(d.el, len(ee))
		copy(d.el[cap(d.el)-k:cap(d.el)], d.Slice())
		d.el = d.el[:cap(d.el)]
		d.left = cap(d.el) - k
	}
	d.left -= len(ee)
	copy(d.Slice(), ee)
	return d
}

// Front returns the first element of the deque.
// The boolean is false if the deque is empty.
func (d Deque[Elem]) Front() (Elem, bool) {
	if d.Len() == 0 {
		var zero Elem
		return zero, false
	}
	return d.el[d.left], true
}

// DropFront removes n elements from the front of the deque.
// If n is negative, there is no change.
// If n is larger than the deque's size, the result is empty.
func (d Deque[Elem]) DropFront(n int) Deque[Elem] {
	if n <= 0 {
		return d
	}
	if n >= d.Len() {
		return d.Reset()
	}
	clear(d.el[d.left : d.left+n])
	d.left += n
	if d.left > len(d.el)/2 {
		// Reclaim the dead space at the front.
		k := copy(d.el, d.el[d.left:])
		clear(d.el[k:])
		d.el = d.el[:k]
		d.left = 0
	}
	return d
}

// DropEnd removes n elements from the end of the deque.
// If n is negative, there is no change.
// If n is larger than the deque's size, the result is empty.
func (d Deque[Elem]) DropEnd(n int) Deque[Elem] {
	if n <= 0 {
		return d
	}
	if n >= d.Len() {
		return d.Reset()
	}
	clear(d.el[len(d.el)-n:])
	d.el = d.el[:len(d.el)-n]
	return d
}

// Reset removes all elements from the deque.
func (d Deque[Elem]) Reset() Deque[Elem] {
	clear(d.el)
	d.el = d.el[:0]
	d.left = 0
	return d
}

// Slice returns a view into the deque's memory.
// Elements prepended to the deque appear at the beginning of the slice.
func (d Deque[Elem]) Slice() []Elem {
	return d.el[d.left:]
}
