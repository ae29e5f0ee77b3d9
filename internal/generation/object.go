package generation

import (
	"fmt"
	"sync/atomic"
)

// Object is the bookkeeping for one generation number. It counts the
// snapshots currently pinned to that generation; the collector may drop it
// from the queue once the count reaches zero.
type Object struct {
	Gen   uint64
	count atomic.Int64
}

func newObject(gen uint64) *Object {
	return &Object{Gen: gen}
}

// Count returns the number of live references.
func (o *Object) Count() int64 {
	return o.count.Load()
}

func (o *Object) ref() *Ref {
	o.count.Add(1)
	return &Ref{obj: o}
}

// Ref is a single snapshot's hold on an Object. Release must be called
// exactly once; extra calls are ignored.
type Ref struct {
	obj      *Object
	released atomic.Bool
}

// Gen returns the pinned generation.
func (r *Ref) Gen() uint64 {
	return r.obj.Gen
}

// Release drops the reference. It reports whether this call released it.
func (r *Ref) Release() bool {
	if !r.released.CompareAndSwap(false, true) {
		return false
	}
	r.obj.count.Add(-1)
	return true
}

// Released reports whether Release has been called.
func (r *Ref) Released() bool {
	return r.released.Load()
}

// PanicError is the value passed to panic when an internal invariant breaks.
// It is never recovered by this module.
type PanicError struct {
	Op  string
	Msg string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %s: %s", e.Op, e.Msg)
}

// Panicf panics with a *PanicError.
func Panicf(op, format string, args ...any) {
	panic(&PanicError{Op: op, Msg: fmt.Sprintf(format, args...)})
}
