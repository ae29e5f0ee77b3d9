package versioned

import "sync/atomic"

// Link is one version of a value. A key's history is a chain of links,
// newest first, with strictly decreasing generations. A nil value is a
// tombstone.
//
// Readers only ever load the value and next pointers. The writer stores into
// a link's value only while the link belongs to the live generation, and the
// collector only cuts next pointers below the floor.
type Link[T any] struct {
	gen   uint64
	value atomic.Pointer[T]
	next  atomic.Pointer[Link[T]]
}

// NewLink returns a link for gen in front of next.
func NewLink[T any](value *T, gen uint64, next *Link[T]) *Link[T] {
	l := &Link[T]{gen: gen}
	l.value.Store(value)
	l.next.Store(next)
	return l
}

func (l *Link[T]) Gen() uint64 { return l.gen }

func (l *Link[T]) Value() *T { return l.value.Load() }

func (l *Link[T]) Next() *Link[T] { return l.next.Load() }

// AsOf returns the newest link of the chain visible at gen, or nil.
func AsOf[T any](l *Link[T], gen uint64) *Link[T] {
	for l != nil && l.gen > gen {
		l = l.next.Load()
	}
	return l
}

// Version is a copy of one link used for inspection.
type Version[T any] struct {
	Gen   uint64
	Value *T
}

// Chain lists the chain starting at l, newest first.
func Chain[T any](l *Link[T]) []Version[T] {
	var out []Version[T]
	for ; l != nil; l = l.next.Load() {
		out = append(out, Version[T]{Gen: l.gen, Value: l.value.Load()})
	}
	return out
}

// trim cuts everything older than the newest link at or below floor.
func trim[T any](head *Link[T], floor uint64) bool {
	l := AsOf(head, floor)
	if l == nil || l.next.Load() == nil {
		return false
	}
	l.next.Store(nil)
	return true
}
