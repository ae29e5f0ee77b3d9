package generation

import (
	"context"
	"errors"
)

var (
	// ErrRolledBack is returned by the outermost Commit when a nested scope
	// was closed without committing.
	ErrRolledBack = errors.New("generation: transaction rolled back by nested scope")
	// ErrScopeDone is returned when Commit is called twice on one scope.
	ErrScopeDone = errors.New("generation: scope already completed")
)

type txKey struct{ t *Tracker }

type tx struct {
	depth   int
	aborted bool
	active  bool
}

// Scope is one level of a write transaction. The outermost scope owns the
// writer lock; nested scopes share it and only record whether they
// completed.
//
//	ctx, sc := tracker.Begin(ctx)
//	defer sc.Close()
//	...
//	return sc.Commit()
type Scope struct {
	t     *Tracker
	tx    *tx
	outer bool
	done  bool
}

// Begin opens a write scope. If ctx already carries a transaction of this
// tracker the new scope joins it without locking or opening a generation.
// The returned context must be passed to nested calls.
func (t *Tracker) Begin(ctx context.Context) (context.Context, *Scope) { // A
	if cur, ok := ctx.Value(txKey{t}).(*tx); ok && cur.active {
		cur.depth++
		return ctx, &Scope{t: t, tx: cur}
	}

	t.lock()
	cur := &tx{depth: 1, active: true}
	return context.WithValue(ctx, txKey{t}, cur), &Scope{t: t, tx: cur, outer: true}
}

// InTransaction reports whether ctx carries an open transaction of t.
func (t *Tracker) InTransaction(ctx context.Context) bool {
	cur, ok := ctx.Value(txKey{t}).(*tx)
	return ok && cur.active
}

// Commit completes this level. For the outermost scope it commits the
// generation, or rolls it back if any nested scope did not complete.
func (s *Scope) Commit() error { // A
	if s.done {
		return ErrScopeDone
	}
	s.done = true
	s.tx.depth--
	if !s.outer {
		return nil
	}

	s.tx.active = false
	if s.tx.aborted || s.tx.depth > 0 {
		_ = s.t.release(false)
		return ErrRolledBack
	}
	return s.t.release(true)
}

// Close abandons this level if it was not committed. It is a no-op after
// Commit, so it is safe to defer.
func (s *Scope) Close() error { // A
	if s.done {
		return nil
	}
	s.done = true
	s.tx.depth--
	if !s.outer {
		s.tx.aborted = true
		return nil
	}

	s.tx.active = false
	return s.t.release(false)
}

// Update runs fn inside a write scope and commits when fn returns nil.
func (t *Tracker) Update(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, sc := t.Begin(ctx)
	defer sc.Close()

	if err := fn(ctx); err != nil {
		return err
	}
	return sc.Commit()
}
