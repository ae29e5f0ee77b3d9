package versioned

import (
	"sync"
	"sync/atomic"
)

// Map is a concurrent key to version-chain map. Get and Range are lock-free
// and may run alongside the writer and the collector. Set, ClearAll and
// Rollback must only be called by the holder of the owning store's writer
// lock.
type Map[K comparable, T any] struct {
	entries sync.Map
	count   atomic.Int64
}

// Head returns the newest link for key, or nil.
func (m *Map[K, T]) Head(key K) *Link[T] {
	v, ok := m.entries.Load(key)
	if !ok {
		return nil
	}
	return v.(*Link[T])
}

// Get returns the value of key visible at gen. Tombstones and missing keys
// both yield nil.
func (m *Map[K, T]) Get(key K, gen uint64) *T {
	l := AsOf(m.Head(key), gen)
	if l == nil {
		return nil
	}
	return l.Value()
}

// Set writes value for key at the live generation. A value that is the same
// pointer as the current head's is a no-op; a nil value on a key whose only
// version is live removes the key.
func (m *Map[K, T]) Set(key K, value *T, live uint64) { // A
	for {
		head := m.Head(key)
		if head == nil {
			if value == nil {
				return
			}
			if _, loaded := m.entries.LoadOrStore(key, NewLink(value, live, nil)); !loaded {
				m.count.Add(1)
				return
			}
			continue
		}

		if head.gen != live {
			if head.Value() == value {
				return
			}
			if m.entries.CompareAndSwap(key, head, NewLink(value, live, head)) {
				return
			}
			continue
		}

		if value == nil && head.Next() == nil {
			if m.entries.CompareAndDelete(key, head) {
				m.count.Add(-1)
				return
			}
			continue
		}
		head.value.Store(value)
		return
	}
}

// ClearAll tombstones every key at the live generation.
func (m *Map[K, T]) ClearAll(live uint64) {
	m.entries.Range(func(k, _ any) bool {
		m.Set(k.(K), nil, live)
		return true
	})
}

// Range calls fn for every key with a value visible at gen until fn returns
// false. Order is unspecified.
func (m *Map[K, T]) Range(gen uint64, fn func(key K, value *T) bool) {
	m.entries.Range(func(k, v any) bool {
		l := AsOf(v.(*Link[T]), gen)
		if l == nil {
			return true
		}
		val := l.Value()
		if val == nil {
			return true
		}
		return fn(k.(K), val)
	})
}

// RangeHeads calls fn with every key's newest link.
func (m *Map[K, T]) RangeHeads(fn func(key K, head *Link[T]) bool) {
	m.entries.Range(func(k, v any) bool {
		return fn(k.(K), v.(*Link[T]))
	})
}

// Len returns the number of keys, tombstoned ones included.
func (m *Map[K, T]) Len() int {
	return int(m.count.Load())
}

// Versions returns the chain of key, newest first.
func (m *Map[K, T]) Versions(key K) []Version[T] {
	return Chain(m.Head(key))
}

// Collect drops history no snapshot at or above floor can reach. A head is
// removed when it is an older-than-live tombstone that hides nothing
// reachable; otherwise the chain is cut below its newest link at or under
// floor. It returns the number of keys removed.
func (m *Map[K, T]) Collect(floor, live uint64) int { // A
	removed := 0
	m.entries.Range(func(k, v any) bool {
		head := v.(*Link[T])
		if head.gen < live && head.Value() == nil && (head.Next() == nil || head.gen <= floor) {
			if m.entries.CompareAndDelete(k, head) {
				m.count.Add(-1)
				removed++
			}
			return true
		}
		trim(head, floor)
		return true
	})
	return removed
}

// Rollback pops every head newer than live.
func (m *Map[K, T]) Rollback(live uint64) {
	m.entries.Range(func(k, v any) bool {
		head := v.(*Link[T])
		if head.gen <= live {
			return true
		}
		if next := head.Next(); next != nil {
			m.entries.CompareAndSwap(k, head, next)
		} else if m.entries.CompareAndDelete(k, head) {
			m.count.Add(-1)
		}
		return true
	})
}
