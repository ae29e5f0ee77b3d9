// Package snapdict provides a generic snapshot-isolated dictionary.
//
// A Dict shares the generation engine of the content store without the tree:
// one writer changes values under the write lock, readers pin a generation
// with CreateSnapshot and read without locking. It backs small lookup tables
// such as the domain bindings.
package snapdict

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"os"
	"slices"
	"sync"

	"github.com/i5heu/snapstore/internal/generation"
	"github.com/i5heu/snapstore/internal/versioned"
)

var (
	ErrSnapshotDisposed = errors.New("snapdict: snapshot has been disposed")
	ErrNotFound         = errors.New("snapdict: key not found")
	ErrClosed           = errors.New("snapdict: dictionary closed")
)

type options struct {
	name         string
	logger       *slog.Logger
	collectDelta uint64
	autoCollect  bool
}

// Option configures a Dict.
type Option func(*options)

// WithName sets the name used in logs.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithLogger sets the structured logger. A nil logger keeps the default.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithCollectDelta sets the live/floor distance above which snapshot
// creation schedules a collection.
func WithCollectDelta(delta uint64) Option {
	return func(o *options) { o.collectDelta = delta }
}

// WithAutoCollect turns collections scheduled by snapshot creation on or off.
// It is on by default.
func WithAutoCollect(enabled bool) Option {
	return func(o *options) { o.autoCollect = enabled }
}

// Dict is a versioned dictionary of K to V.
type Dict[K cmp.Ordered, V any] struct {
	name    string
	tracker *generation.Tracker
	values  versioned.Map[K, V]

	closeOnce sync.Once
}

// New returns an empty dictionary.
func New[K cmp.Ordered, V any](opts ...Option) *Dict[K, V] { // A
	o := options{
		name:         "dict",
		collectDelta: generation.DefaultCollectDelta,
		autoCollect:  true,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	d := &Dict[K, V]{name: o.name}
	d.tracker = generation.NewTracker(generation.Config{
		Name:               o.name,
		Logger:             o.logger,
		CollectDelta:       o.collectDelta,
		DisableAutoCollect: !o.autoCollect,
	}, generation.Hooks{
		Sweep:    d.values.Collect,
		Rollback: d.values.Rollback,
	})
	return d
}

// Name returns the dictionary name.
func (d *Dict[K, V]) Name() string { return d.name }

// Begin opens a write scope. Nested calls with the returned context join the
// same transaction.
func (d *Dict[K, V]) Begin(ctx context.Context) (context.Context, *generation.Scope) {
	return d.tracker.Begin(ctx)
}

// Update runs fn in a write transaction and commits when fn returns nil.
func (d *Dict[K, V]) Update(ctx context.Context, fn func(ctx context.Context) error) error {
	return d.tracker.Update(ctx, fn)
}

// Set writes one value in its own transaction, or in the transaction ctx
// carries.
func (d *Dict[K, V]) Set(ctx context.Context, key K, value V) error {
	return d.Update(ctx, func(context.Context) error {
		d.SetLocked(key, value)
		return nil
	})
}

// Clear removes one key in its own transaction, or in the transaction ctx
// carries.
func (d *Dict[K, V]) Clear(ctx context.Context, key K) error {
	return d.Update(ctx, func(context.Context) error {
		d.ClearLocked(key)
		return nil
	})
}

// SetLocked writes value for key at the live generation.
func (d *Dict[K, V]) SetLocked(key K, value V) {
	d.tracker.EnsureLocked("SetLocked")
	d.values.Set(key, &value, d.tracker.LiveGen())
}

// ClearLocked removes key at the live generation.
func (d *Dict[K, V]) ClearLocked(key K) {
	d.tracker.EnsureLocked("ClearLocked")
	d.values.Set(key, nil, d.tracker.LiveGen())
}

// ClearAllLocked removes every key at the live generation.
func (d *Dict[K, V]) ClearAllLocked() {
	d.tracker.EnsureLocked("ClearAllLocked")
	d.values.ClearAll(d.tracker.LiveGen())
}

// CreateSnapshot pins the newest consistent generation. The snapshot must be
// closed.
func (d *Dict[K, V]) CreateSnapshot() *Snapshot[K, V] {
	ref := d.tracker.Acquire()
	return &Snapshot[K, V]{dict: d, ref: ref, gen: ref.Gen()}
}

// Count returns the number of keys held, tombstones included.
func (d *Dict[K, V]) Count() int { return d.values.Len() }

// GenCount returns the number of generation objects waiting for collection.
func (d *Dict[K, V]) GenCount() int { return d.tracker.GenCount() }

// SnapCount returns the number of live snapshots.
func (d *Dict[K, V]) SnapCount() int64 { return d.tracker.SnapCount() }

func (d *Dict[K, V]) LiveGen() uint64  { return d.tracker.LiveGen() }
func (d *Dict[K, V]) FloorGen() uint64 { return d.tracker.FloorGen() }

// Versions returns the generations held for key, newest first.
func (d *Dict[K, V]) Versions(key K) []versioned.Version[V] {
	return d.values.Versions(key)
}

// Collect runs a collection and waits for it, or for ctx to end.
func (d *Dict[K, V]) Collect(ctx context.Context) error {
	return d.tracker.Collect(ctx)
}

// CollectAsync schedules a collection.
func (d *Dict[K, V]) CollectAsync() <-chan struct{} {
	return d.tracker.CollectAsync()
}

// Close waits for a running collection and stops further ones.
func (d *Dict[K, V]) Close() error {
	err := ErrClosed
	d.closeOnce.Do(func() {
		err = d.tracker.Close()
	})
	return err
}

// Snapshot is a read view of a Dict pinned to one generation.
type Snapshot[K cmp.Ordered, V any] struct {
	dict *Dict[K, V]
	ref  *generation.Ref
	gen  uint64
}

// Gen returns the pinned generation.
func (s *Snapshot[K, V]) Gen() uint64 { return s.gen }

// Close releases the pinned generation. It is safe to call more than once.
func (s *Snapshot[K, V]) Close() error {
	s.ref.Release()
	return nil
}

// Get returns the value of key.
func (s *Snapshot[K, V]) Get(key K) (V, error) {
	var zero V
	if s.ref.Released() {
		return zero, ErrSnapshotDisposed
	}
	v := s.dict.values.Get(key, s.gen)
	if v == nil {
		return zero, ErrNotFound
	}
	return *v, nil
}

// GetAll returns every value, ordered by key.
func (s *Snapshot[K, V]) GetAll() ([]V, error) {
	if s.ref.Released() {
		return nil, ErrSnapshotDisposed
	}
	var keys []K
	vals := make(map[K]V)
	s.dict.values.Range(s.gen, func(k K, v *V) bool {
		keys = append(keys, k)
		vals[k] = *v
		return true
	})
	slices.Sort(keys)

	out := make([]V, 0, len(keys))
	for _, k := range keys {
		out = append(out, vals[k])
	}
	return out, nil
}

// IsEmpty reports whether no key has a value.
func (s *Snapshot[K, V]) IsEmpty() (bool, error) {
	if s.ref.Released() {
		return false, ErrSnapshotDisposed
	}
	empty := true
	s.dict.values.Range(s.gen, func(K, *V) bool {
		empty = false
		return false
	})
	return empty, nil
}
