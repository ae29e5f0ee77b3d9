// Package contentstore implements the snapshot-isolated store of one content
// tree.
//
// A Store keeps one versioned map per index (nodes by id, node ids by key,
// content types by id, alias and key) plus the synthetic root node. A single
// writer mutates the maps through the *Locked methods while holding the
// write lock; readers take a Snapshot, which pins a generation and reads
// without locking.
//
//	ctx, sc := store.Begin(ctx)
//	defer sc.Close()
//	if _, err := store.SetLocked(kit); err != nil {
//		return err
//	}
//	if err := sc.Commit(); err != nil {
//		return err
//	}
//
//	snap := store.CreateSnapshot()
//	defer snap.Close()
//	node, err := snap.Get(kit.Node.ID)
//
// Changes made inside a transaction are staged and replayed into the local
// mirror, if one is configured, when the transaction commits. A mirror
// failure rolls the whole transaction back.
package contentstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/i5heu/snapstore/internal/generation"
	"github.com/i5heu/snapstore/internal/versioned"
	"github.com/i5heu/snapstore/pkg/localdb"
	"github.com/i5heu/snapstore/pkg/metrics"
	"github.com/i5heu/snapstore/pkg/model"
)

const (
	logKeyError    = "error"
	logKeyID       = "id"
	logKeyParentID = "parentId"
	logKeyTypeID   = "contentTypeId"
	logKeyReason   = "reason"
	logKeyCount    = "count"
)

// WriteScope is one level of a write transaction, see Store.Begin.
type WriteScope = generation.Scope

// Config configures a Store.
type Config struct {
	// Name identifies the store in logs and metrics, e.g. "content" or "media".
	Name string
	// Logger is an optional structured logger. If nil, a stderr logger is used.
	Logger *slog.Logger
	// Metrics receives store events. May be nil.
	Metrics *metrics.StoreMetrics
	// Mirror is the optional local persistent mirror.
	Mirror localdb.Mirror
	// CollectDelta overrides the default live/floor distance that triggers
	// a collection.
	CollectDelta uint64
	// DisableAutoCollect turns off collections scheduled by snapshot creation.
	DisableAutoCollect bool
}

// DefaultConfig returns the configuration of a store named name.
func DefaultConfig(name string) Config {
	return Config{
		Name:         name,
		CollectDelta: generation.DefaultCollectDelta,
	}
}

// Store is the versioned content tree.
type Store struct {
	name    string
	log     *slog.Logger
	metrics *metrics.StoreMetrics
	tracker *generation.Tracker

	nodes    versioned.Map[int, model.ContentNode]
	keys     versioned.Map[uuid.UUID, int]
	types    versioned.Map[int, model.ContentType]
	aliases  versioned.Map[string, model.ContentType]
	typeKeys versioned.Map[uuid.UUID, model.ContentType]
	root     *versioned.Cell[model.ContentNode]

	// mirror and the staged changes are only touched by the lock holder.
	mirror      localdb.Mirror
	changes     map[int]model.ContentNodeKit
	clearMirror bool

	closeOnce sync.Once
}

func defaultLogger() *slog.Logger { // A
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return slog.New(h)
}

// New returns an empty store.
func New(conf Config) *Store { // A
	if conf.Logger == nil {
		conf.Logger = defaultLogger()
	}
	if conf.Name == "" {
		conf.Name = "content"
	}

	s := &Store{
		name:    conf.Name,
		log:     conf.Logger.With("store", conf.Name),
		metrics: conf.Metrics,
		mirror:  conf.Mirror,
		root:    versioned.NewCell(model.NewRootNode(), 0),
	}
	s.tracker = generation.NewTracker(generation.Config{
		Name:               conf.Name,
		Logger:             conf.Logger,
		CollectDelta:       conf.CollectDelta,
		DisableAutoCollect: conf.DisableAutoCollect,
		OnCollect: func(st generation.CollectStats) {
			s.metrics.ObserveCollect(s.name, st.Removed, st.Took)
		},
	}, generation.Hooks{
		Sweep:    s.sweep,
		Rollback: s.rollback,
		Commit:   s.commit,
	})
	return s
}

// Name returns the store name.
func (s *Store) Name() string { return s.name }

// Begin opens a write scope, see generation.Tracker.Begin. Nested calls
// with the returned context join the same transaction.
func (s *Store) Begin(ctx context.Context) (context.Context, *WriteScope) {
	return s.tracker.Begin(ctx)
}

// Update runs fn in a write transaction and commits when fn returns nil.
func (s *Store) Update(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.tracker.Update(ctx, fn)
}

// Locked reports whether the write lock is held.
func (s *Store) Locked() bool { return s.tracker.Locked() }

// LiveGen returns the live generation.
func (s *Store) LiveGen() uint64 { return s.tracker.LiveGen() }

// FloorGen returns the floor generation.
func (s *Store) FloorGen() uint64 { return s.tracker.FloorGen() }

// GenCount returns the number of generation objects waiting for collection.
func (s *Store) GenCount() int { return s.tracker.GenCount() }

// SnapCount returns the number of live snapshots.
func (s *Store) SnapCount() int64 { return s.tracker.SnapCount() }

// Count returns the number of node keys held, tombstones included.
func (s *Store) Count() int { return s.nodes.Len() }

// Collect runs a collection and waits for it, or for ctx to end.
func (s *Store) Collect(ctx context.Context) error {
	return s.tracker.Collect(ctx)
}

// CollectAsync schedules a collection. The channel is closed when it is done.
func (s *Store) CollectAsync() <-chan struct{} {
	return s.tracker.CollectAsync()
}

// CreateSnapshot pins the newest consistent generation. The snapshot must be
// closed.
func (s *Store) CreateSnapshot() *Snapshot {
	ref := s.tracker.Acquire()
	return &Snapshot{store: s, ref: ref, gen: ref.Gen()}
}

// Close waits for a running collection and stops further ones. The mirror
// is not closed, see ReleaseLocalDB.
func (s *Store) Close() error {
	err := ErrClosed
	s.closeOnce.Do(func() {
		err = s.tracker.Close()
	})
	return err
}

// ReleaseLocalDB detaches and closes the local mirror under the write lock.
// Close errors are logged and suppressed.
func (s *Store) ReleaseLocalDB(ctx context.Context) error {
	return s.Update(ctx, func(context.Context) error {
		if s.mirror == nil {
			return nil
		}
		if err := s.mirror.Close(); err != nil {
			s.log.Error("failed to close local mirror", logKeyError, err)
		}
		s.mirror = nil
		return nil
	})
}

// HasMirrorLocked reports whether a local mirror is attached.
func (s *Store) HasMirrorLocked() bool {
	s.tracker.EnsureLocked("HasMirrorLocked")
	return s.mirror != nil
}

// LoadFromMirrorLocked bulk-loads the content of the local mirror. It
// returns the number of kits read; zero means the mirror was empty or absent
// and nothing was changed.
func (s *Store) LoadFromMirrorLocked() (int, bool, error) { // A
	s.tracker.EnsureLocked("LoadFromMirrorLocked")
	if s.mirror == nil {
		return 0, true, nil
	}
	kits, err := localdb.Load(s.mirror)
	if err != nil {
		return 0, false, fmt.Errorf("load local mirror: %w", err)
	}
	if len(kits) == 0 {
		return 0, true, nil
	}
	ok := s.SetAllFastSortedLocked(kits, false)
	s.log.Info("loaded content from local mirror", logKeyCount, len(kits))
	return len(kits), ok, nil
}

// stageKit records a change for the mirror. An empty kit removes the id.
func (s *Store) stageKit(id int, kit model.ContentNodeKit) {
	if s.mirror == nil {
		return
	}
	if s.changes == nil {
		s.changes = make(map[int]model.ContentNodeKit)
	}
	s.changes[id] = kit
}

func (s *Store) stageClear() {
	if s.mirror == nil {
		return
	}
	s.clearMirror = true
	s.changes = nil
}

func (s *Store) resetStaged() {
	s.changes = nil
	s.clearMirror = false
}

// commit replays the staged changes into the mirror.
func (s *Store) commit() error { // A
	defer s.resetStaged()
	if s.mirror == nil || (!s.clearMirror && len(s.changes) == 0) {
		s.metrics.Transaction(s.name, metrics.OutcomeCommit)
		return nil
	}

	if err := s.replay(); err != nil {
		if rerr := s.mirror.Rollback(); rerr != nil {
			s.log.Error("failed to roll back local mirror", logKeyError, rerr)
		}
		return fmt.Errorf("local mirror: %w", err)
	}
	s.metrics.Transaction(s.name, metrics.OutcomeCommit)
	return nil
}

func (s *Store) replay() error {
	if s.clearMirror {
		if err := s.mirror.Clear(); err != nil {
			return err
		}
	}
	ids := make([]int, 0, len(s.changes))
	for id := range s.changes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		kit := s.changes[id]
		var err error
		if kit.IsEmpty() {
			err = s.mirror.Remove(id)
		} else {
			err = s.mirror.Set(id, kit)
		}
		if err != nil {
			return err
		}
	}
	return s.mirror.Commit()
}

// rollback discards every version newer than live.
func (s *Store) rollback(live uint64) {
	s.resetStaged()
	s.nodes.Rollback(live)
	s.keys.Rollback(live)
	s.types.Rollback(live)
	s.aliases.Rollback(live)
	s.typeKeys.Rollback(live)
	s.root.Rollback(live)
	s.metrics.Transaction(s.name, metrics.OutcomeRollback)
}

func (s *Store) sweep(floor, live uint64) int {
	removed := s.nodes.Collect(floor, live)
	removed += s.keys.Collect(floor, live)
	removed += s.types.Collect(floor, live)
	removed += s.aliases.Collect(floor, live)
	removed += s.typeKeys.Collect(floor, live)
	s.root.Collect(floor)
	return removed
}

// skip records a kit rejected by validation.
func (s *Store) skip(kit model.ContentNodeKit, reason string) {
	s.log.Warn("skipping kit",
		logKeyID, kit.Node.ID,
		logKeyParentID, kit.Node.ParentID,
		logKeyTypeID, kit.ContentTypeID,
		logKeyReason, reason)
	s.metrics.KitSkipped(s.name, reason)
}

// buildKit validates kit against the live generation and attaches its type
// and payloads. It reports false when the kit must be skipped.
func (s *Store) buildKit(kit model.ContentNodeKit, live uint64) bool { // A
	canBePublished := true
	if !kit.Node.IsRootLevel() {
		link := versioned.AsOf(s.nodes.Head(kit.Node.ParentID), live)
		if link == nil {
			s.skip(kit, ReasonMissingParent)
			return false
		}
		parent := link.Value()
		if parent == nil {
			s.skip(kit, ReasonCorruptPath)
			return false
		}
		canBePublished = parent.HasPublished()
	}

	if kit.DraftData == nil && kit.PublishedData == nil {
		s.skip(kit, ReasonNoData)
		return false
	}
	if kit.DraftData == nil && !canBePublished {
		s.skip(kit, ReasonUnpublishedParent)
		return false
	}

	ct := s.types.Get(kit.ContentTypeID, live)
	if ct == nil {
		s.skip(kit, ReasonMissingContentType)
		return false
	}

	if err := kit.Build(ct, canBePublished); err != nil {
		reason := ReasonNoData
		if errors.Is(err, model.ErrKitUnreachable) {
			reason = ReasonUnpublishedParent
		}
		s.skip(kit, reason)
		return false
	}
	return true
}
