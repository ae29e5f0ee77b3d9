package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultCollectDelta is the live/floor distance above which snapshot
// creation schedules a collection.
const DefaultCollectDelta uint64 = 8

const (
	logKeyName    = "store"
	logKeyFloor   = "floorGen"
	logKeyLive    = "liveGen"
	logKeyRemoved = "removed"
	logKeyTook    = "took"
)

var ErrClosed = errors.New("generation: tracker closed")

// Hooks connect a Tracker to the versioned structures it governs.
type Hooks struct {
	// Sweep trims history below floor. It runs on the collector goroutine,
	// concurrently with readers and with the writer, and returns the number
	// of entries it removed.
	Sweep func(floor, live uint64) int
	// Rollback discards every version newer than live. Called with the
	// write lock held.
	Rollback func(live uint64)
	// Commit runs once per outer transaction while the write lock is still
	// held. A non-nil error aborts the transaction.
	Commit func() error
}

// CollectStats describes one finished collection.
type CollectStats struct {
	Floor   uint64
	Live    uint64
	Removed int
	Took    time.Duration
}

// Config configures a Tracker.
type Config struct {
	// Name identifies the owning store in logs.
	Name string
	// Logger is an optional structured logger. If nil, a stderr logger is used.
	Logger *slog.Logger
	// CollectDelta overrides DefaultCollectDelta when non-zero.
	CollectDelta uint64
	// DisableAutoCollect stops snapshot creation from scheduling collections.
	DisableAutoCollect bool
	// OnCollect, if set, observes every finished collection.
	OnCollect func(CollectStats)
}

// Tracker implements the generation lifecycle shared by every versioned
// store: the single writer lock, the live and floor generations, the queue
// of generation objects pinned by snapshots and the background collector.
type Tracker struct {
	log   *slog.Logger
	conf  Config
	hooks Hooks

	wmu  sync.Mutex
	held atomic.Bool

	mu       sync.Mutex
	liveGen  uint64
	floorGen uint64
	nextGen  bool
	prevNext bool
	writing  bool
	current  *Object
	queue    []*Object

	flight singleflight.Group

	// cmu orders wg.Add against Close.
	cmu    sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

func defaultLogger() *slog.Logger { // A
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return slog.New(h)
}

// NewTracker returns a Tracker at generation zero.
func NewTracker(conf Config, hooks Hooks) *Tracker { // A
	if conf.Logger == nil {
		conf.Logger = defaultLogger()
	}
	if conf.CollectDelta == 0 {
		conf.CollectDelta = DefaultCollectDelta
	}
	return &Tracker{
		log:   conf.Logger.With(logKeyName, conf.Name),
		conf:  conf,
		hooks: hooks,
	}
}

// lock takes the writer lock and opens a new generation. Every outer
// transaction gets its own generation; the previous nextGen flag is kept so a
// rollback restores it.
func (t *Tracker) lock() { // A
	t.wmu.Lock()
	t.held.Store(true)

	t.mu.Lock()
	t.prevNext = t.nextGen
	t.liveGen++
	t.nextGen = true
	t.writing = true
	t.mu.Unlock()
}

// release ends the outer transaction. When commit is false, or the commit
// hook fails or panics, the generation is rolled back before the lock is
// released.
func (t *Tracker) release(commit bool) (err error) { // A
	committed := false
	defer func() {
		if !committed {
			t.rollback()
		} else {
			t.mu.Lock()
			t.writing = false
			t.mu.Unlock()
		}
		t.held.Store(false)
		t.wmu.Unlock()
	}()

	if !commit {
		return nil
	}
	if t.hooks.Commit != nil {
		if err = t.hooks.Commit(); err != nil {
			return fmt.Errorf("commit generation: %w", err)
		}
	}
	committed = true
	return nil
}

func (t *Tracker) rollback() { // A
	t.mu.Lock()
	t.liveGen--
	t.nextGen = t.prevNext
	t.writing = false
	live := t.liveGen
	t.mu.Unlock()

	if t.hooks.Rollback != nil {
		t.hooks.Rollback(live)
	}
}

// Locked reports whether the writer lock is currently held.
func (t *Tracker) Locked() bool {
	return t.held.Load()
}

// EnsureLocked panics when the writer lock is not held.
func (t *Tracker) EnsureLocked(op string) {
	if !t.held.Load() {
		Panicf(op, "write lock must be acquired")
	}
}

// LiveGen returns the live generation. Only the writer may rely on it not
// changing between calls.
func (t *Tracker) LiveGen() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.liveGen
}

// FloorGen returns the floor generation.
func (t *Tracker) FloorGen() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.floorGen
}

// NextGen reports whether the live generation has unsnapshotted changes.
func (t *Tracker) NextGen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nextGen
}

// GenCount returns the number of queued generation objects.
func (t *Tracker) GenCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}

// SnapCount returns the number of live snapshot references over all queued
// generation objects.
func (t *Tracker) SnapCount() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var n int64
	for _, o := range t.queue {
		n += o.Count()
	}
	return n
}

// Acquire pins a generation for a new snapshot. While a write is in flight
// the previous generation is pinned, since the live one is not consistent
// yet.
func (t *Tracker) Acquire() *Ref { // A
	t.mu.Lock()
	var ref *Ref
	switch {
	case !t.nextGen && t.current != nil:
		ref = t.current.ref()
	case t.writing:
		snapGen := t.liveGen - 1
		if t.current == nil || t.current.Gen < snapGen {
			t.enqueueLocked(snapGen)
		} else if t.current.Gen != snapGen {
			cur := t.current.Gen
			t.mu.Unlock()
			Panicf("acquire", "generation object gen=%d does not match snapshot gen=%d", cur, snapGen)
		}
		ref = t.current.ref()
	default:
		t.enqueueLocked(t.liveGen)
		t.nextGen = false
		ref = t.current.ref()
	}
	delta := t.liveGen - t.floorGen
	t.mu.Unlock()

	if !t.conf.DisableAutoCollect && delta > t.conf.CollectDelta {
		t.CollectAsync()
	}
	return ref
}

func (t *Tracker) enqueueLocked(gen uint64) {
	t.current = newObject(gen)
	t.queue = append(t.queue, t.current)
}

// pinnableGenLocked is the generation a snapshot created right now would pin.
func (t *Tracker) pinnableGenLocked() uint64 {
	if t.writing {
		return t.liveGen - 1
	}
	return t.liveGen
}

// CollectAsync schedules a collection on a background goroutine. A request
// made while one is running joins it. The returned channel is closed when the
// collection the request joined has finished; it cannot be cancelled.
func (t *Tracker) CollectAsync() <-chan struct{} { // A
	done := make(chan struct{})
	t.cmu.Lock()
	if t.closed || t.hooks.Sweep == nil {
		t.cmu.Unlock()
		close(done)
		return done
	}
	t.wg.Add(1)
	t.cmu.Unlock()

	res := t.flight.DoChan("collect", func() (any, error) {
		return t.collect(), nil
	})
	go func() {
		defer t.wg.Done()
		<-res
		close(done)
	}()
	return done
}

// Collect schedules a collection and waits for it, or for ctx to end. A
// cancelled wait does not stop the collection.
func (t *Tracker) Collect(ctx context.Context) error {
	select {
	case <-t.CollectAsync():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Tracker) collect() CollectStats { // A
	start := time.Now()

	t.mu.Lock()
	for len(t.queue) > 0 && t.queue[0].Count() == 0 {
		obj := t.queue[0]
		t.queue[0] = nil
		t.queue = t.queue[1:]
		if obj.Gen > t.floorGen {
			t.floorGen = obj.Gen
		}
		if obj == t.current {
			t.current = nil
		}
	}
	if len(t.queue) == 0 {
		if g := t.pinnableGenLocked(); g > t.floorGen {
			t.floorGen = g
		}
	}
	floor := t.floorGen
	live := t.liveGen
	if !t.nextGen {
		live++
	}
	t.mu.Unlock()

	removed := t.hooks.Sweep(floor, live)
	stats := CollectStats{Floor: floor, Live: live, Removed: removed, Took: time.Since(start)}

	t.log.Debug("collected generations",
		logKeyFloor, floor,
		logKeyLive, live,
		logKeyRemoved, removed,
		logKeyTook, stats.Took)
	if t.conf.OnCollect != nil {
		t.conf.OnCollect(stats)
	}
	return stats
}

// Close stops accepting collection requests and waits for a running one.
func (t *Tracker) Close() error {
	t.cmu.Lock()
	if t.closed {
		t.cmu.Unlock()
		return ErrClosed
	}
	t.closed = true
	t.cmu.Unlock()
	t.wg.Wait()
	return nil
}
