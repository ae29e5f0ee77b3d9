package versioned

import "sync/atomic"

// Cell is a single versioned value, used for a store's synthetic root.
type Cell[T any] struct {
	head atomic.Pointer[Link[T]]
}

// NewCell returns a cell holding value at gen.
func NewCell[T any](value *T, gen uint64) *Cell[T] {
	c := &Cell[T]{}
	c.head.Store(NewLink(value, gen, nil))
	return c
}

func (c *Cell[T]) Head() *Link[T] { return c.head.Load() }

// Get returns the value visible at gen.
func (c *Cell[T]) Get(gen uint64) *T {
	l := AsOf(c.head.Load(), gen)
	if l == nil {
		return nil
	}
	return l.Value()
}

// Set writes value at the live generation, in place when the head is live.
func (c *Cell[T]) Set(value *T, live uint64) {
	h := c.head.Load()
	if h != nil && h.gen == live {
		h.value.Store(value)
		return
	}
	c.head.Store(NewLink(value, live, h))
}

// Collect cuts the chain below its newest link at or under floor.
func (c *Cell[T]) Collect(floor uint64) {
	trim(c.head.Load(), floor)
}

// Rollback pops the head if it is newer than live.
func (c *Cell[T]) Rollback(live uint64) {
	h := c.head.Load()
	if h == nil || h.gen <= live {
		return
	}
	if next := h.Next(); next != nil {
		c.head.CompareAndSwap(h, next)
	}
}

// Versions returns the chain, newest first.
func (c *Cell[T]) Versions() []Version[T] {
	return Chain(c.head.Load())
}
