package contentstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i5heu/snapstore/internal/generation"
	"github.com/i5heu/snapstore/pkg/localdb"
	"github.com/i5heu/snapstore/pkg/metrics"
	"github.com/i5heu/snapstore/pkg/model"
)

var pageType = &model.ContentType{
	ID:    1,
	Key:   uuid.MustParse("6b2b6c3e-0b8c-4f4e-9c4b-1a7c1e0c0001"),
	Alias: "Page",
	PropertyTypes: []model.PropertyType{
		{Alias: "title", DataTypeID: 100},
	},
}

func uidFor(id int) uuid.UUID {
	return uuid.NewMD5(uuid.Nil, []byte(strconv.Itoa(id)))
}

func draftKit(id, parentID, sortOrder int) model.ContentNodeKit {
	level := 1
	if parentID > 0 {
		level = 2
	}
	return model.ContentNodeKit{
		Node:          model.NewContentNode(id, uidFor(id), level, "-1", sortOrder, parentID, model.NewRootNode().CreateDate, 0),
		ContentTypeID: pageType.ID,
		DraftData:     &model.ContentData{Name: "node " + strconv.Itoa(id)},
	}
}

func publishedKit(id, parentID, sortOrder int) model.ContentNodeKit {
	k := draftKit(id, parentID, sortOrder)
	k.PublishedData = &model.ContentData{Name: "node " + strconv.Itoa(id), Published: true}
	return k
}

type storeOption func(*Config)

func withMirror(m localdb.Mirror) storeOption {
	return func(c *Config) { c.Mirror = m }
}

func withLogger(l *slog.Logger) storeOption {
	return func(c *Config) { c.Logger = l }
}

func withMetrics(m *metrics.StoreMetrics) storeOption {
	return func(c *Config) { c.Metrics = m }
}

// newTestStore returns a store holding pageType, written in generation 1.
func newTestStore(t *testing.T, opts ...storeOption) *Store {
	t.Helper()
	conf := DefaultConfig("content")
	conf.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	conf.DisableAutoCollect = true
	for _, o := range opts {
		o(&conf)
	}
	s := New(conf)
	t.Cleanup(func() { s.Close() })

	write(t, s, func() {
		s.NewContentTypesLocked([]*model.ContentType{pageType})
	})
	return s
}

func write(t *testing.T, s *Store, fn func()) {
	t.Helper()
	require.NoError(t, s.Update(context.Background(), func(context.Context) error {
		fn()
		return nil
	}))
}

func setKits(t *testing.T, s *Store, kits ...model.ContentNodeKit) {
	t.Helper()
	write(t, s, func() {
		for _, k := range kits {
			ok, err := s.SetLocked(k)
			require.NoError(t, err)
			require.True(t, ok, "kit %d", k.Node.ID)
		}
	})
}

func ids(nodes []*model.ContentNode) []int {
	out := make([]int, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.ID)
	}
	return out
}

func rootIDs(t *testing.T, snap *Snapshot) []int {
	t.Helper()
	nodes, err := snap.GetAtRoot()
	require.NoError(t, err)
	return ids(nodes)
}

func childIDs(t *testing.T, snap *Snapshot, id int) []int {
	t.Helper()
	nodes, err := snap.Children(id)
	require.NoError(t, err)
	return ids(nodes)
}

func TestChildIsLinkedUnderParent(t *testing.T) {
	s := newTestStore(t)
	setKits(t, s, draftKit(10, -1, 0))
	setKits(t, s, draftKit(11, 10, 0))

	snap := s.CreateSnapshot()
	defer snap.Close()

	assert.Equal(t, []int{10}, rootIDs(t, snap))
	assert.Equal(t, []int{11}, childIDs(t, snap, 10))

	child, err := snap.Get(11)
	require.NoError(t, err)
	parent, err := snap.Parent(child)
	require.NoError(t, err)
	assert.Equal(t, 10, parent.ID)

	root, err := snap.Get(10)
	require.NoError(t, err)
	parent, err = snap.Parent(root)
	require.NoError(t, err)
	assert.Nil(t, parent)
}

func TestReorderKeepsOlderSnapshotOrder(t *testing.T) {
	s := newTestStore(t)
	setKits(t, s, draftKit(10, -1, 0), draftKit(20, -1, 1), draftKit(30, -1, 2))

	s1 := s.CreateSnapshot()
	defer s1.Close()

	setKits(t, s, draftKit(10, -1, 5))

	s2 := s.CreateSnapshot()
	defer s2.Close()

	assert.Equal(t, []int{10, 20, 30}, rootIDs(t, s1))
	assert.Equal(t, []int{20, 30, 10}, rootIDs(t, s2))
	assert.Less(t, s1.Gen(), s2.Gen())

	n1, err := s1.Get(10)
	require.NoError(t, err)
	n2, err := s2.Get(10)
	require.NoError(t, err)
	assert.Equal(t, 0, n1.SortOrder)
	assert.Equal(t, 5, n2.SortOrder)
}

func TestHasPublishedFollowsPayloads(t *testing.T) {
	s := newTestStore(t)
	setKits(t, s, draftKit(10, -1, 0))

	s1 := s.CreateSnapshot()
	defer s1.Close()
	n, err := s1.Get(10)
	require.NoError(t, err)
	assert.False(t, n.HasPublished())
	assert.NotNil(t, n.DraftView())

	setKits(t, s, publishedKit(10, -1, 0))

	s2 := s.CreateSnapshot()
	defer s2.Close()
	n, err = s2.Get(10)
	require.NoError(t, err)
	assert.True(t, n.HasPublished())
	assert.Equal(t, "node 10", n.PublishedView().Name(""))

	n, err = s1.Get(10)
	require.NoError(t, err)
	assert.False(t, n.HasPublished())
}

func TestPublishedChildUnderUnpublishedParentIsHidden(t *testing.T) {
	s := newTestStore(t)
	setKits(t, s, draftKit(10, -1, 0), publishedKit(11, 10, 0))

	snap := s.CreateSnapshot()
	defer snap.Close()
	n, err := snap.Get(11)
	require.NoError(t, err)
	assert.False(t, n.HasPublished())
	assert.NotNil(t, n.DraftData())
}

func TestPublishedOnlyChildUnderUnpublishedParentIsSkipped(t *testing.T) {
	var logs bytes.Buffer
	reg := prometheus.NewRegistry()
	m := metrics.NewStoreMetrics(reg)
	s := newTestStore(t,
		withLogger(slog.New(slog.NewTextHandler(&logs, nil))),
		withMetrics(m))
	setKits(t, s, draftKit(10, -1, 0))

	orphan := publishedKit(11, 10, 0)
	orphan.DraftData = nil
	write(t, s, func() {
		ok, err := s.SetLocked(orphan)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	snap := s.CreateSnapshot()
	defer snap.Close()
	_, err := snap.Get(11)
	assert.ErrorIs(t, err, ErrNotFound)
	children, err := snap.Children(10)
	require.NoError(t, err)
	assert.Empty(t, children)

	assert.Contains(t, logs.String(), ReasonUnpublishedParent)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.KitsSkippedTotal.WithLabelValues("content", ReasonUnpublishedParent)))

	// the same kit is accepted once the parent is published
	setKits(t, s, publishedKit(10, -1, 0), orphan)
	after := s.CreateSnapshot()
	defer after.Close()
	n, err := after.Get(11)
	require.NoError(t, err)
	assert.True(t, n.HasPublished())
	assert.Nil(t, n.DraftData())
}

func TestMissingParentIsSkipped(t *testing.T) {
	var logs bytes.Buffer
	reg := prometheus.NewRegistry()
	m := metrics.NewStoreMetrics(reg)
	s := newTestStore(t,
		withLogger(slog.New(slog.NewTextHandler(&logs, nil))),
		withMetrics(m))

	write(t, s, func() {
		ok, err := s.SetLocked(draftKit(50, 999, 0))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	snap := s.CreateSnapshot()
	defer snap.Close()
	_, err := snap.Get(50)
	assert.ErrorIs(t, err, ErrNotFound)
	empty, err := snap.IsEmpty()
	require.NoError(t, err)
	assert.True(t, empty)

	assert.Contains(t, logs.String(), "skipping kit")
	assert.Contains(t, logs.String(), ReasonMissingParent)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.KitsSkippedTotal.WithLabelValues("content", ReasonMissingParent)))
}

func TestKitValidation(t *testing.T) {
	s := newTestStore(t)

	noData := draftKit(1, -1, 0)
	noData.DraftData = nil
	unknownType := draftKit(2, -1, 0)
	unknownType.ContentTypeID = 42

	write(t, s, func() {
		ok, err := s.SetLocked(noData)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = s.SetLocked(unknownType)
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = s.SetLocked(model.ContentNodeKit{})
		assert.ErrorIs(t, err, ErrEmptyKit)

		withChildren := draftKit(3, -1, 0)
		withChildren.Node.FirstChildID = 4
		_, err = s.SetLocked(withChildren)
		assert.ErrorIs(t, err, ErrKitHasChildren)
	})
	assert.Equal(t, 0, s.Count())
}

func TestCorruptPathIsSkipped(t *testing.T) {
	s := newTestStore(t)
	setKits(t, s, draftKit(10, -1, 0))

	write(t, s, func() {
		require.True(t, s.ClearLocked(10))
		// the parent is a tombstone of an older generation's node
		ok, err := s.SetLocked(draftKit(11, 10, 0))
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestCollectorKeepsPinnedSnapshotsReadable(t *testing.T) {
	s := newTestStore(t)
	setKits(t, s, draftKit(10, -1, 0))
	setKits(t, s, draftKit(11, 10, 0))
	s1 := s.CreateSnapshot()
	require.Equal(t, uint64(3), s1.Gen())

	for i := 1; i <= 4; i++ {
		k := draftKit(10, -1, 0)
		k.DraftData.Name = "rev " + strconv.Itoa(i)
		setKits(t, s, k)
	}
	s2 := s.CreateSnapshot()
	require.Equal(t, uint64(7), s2.Gen())

	require.NoError(t, s.Collect(context.Background()))

	n, err := s1.Get(10)
	require.NoError(t, err)
	assert.Equal(t, "node 10", n.DraftData().Name)
	assert.Equal(t, []int{11}, childIDs(t, s1, 10))

	n, err = s2.Get(10)
	require.NoError(t, err)
	assert.Equal(t, "rev 4", n.DraftData().Name)
	assert.Equal(t, []int{11}, childIDs(t, s2, 10))
	assert.Equal(t, int64(2), s.SnapCount())

	require.NoError(t, s1.Close())
	require.NoError(t, s2.Close())
	require.NoError(t, s.Collect(context.Background()))

	assert.Equal(t, uint64(7), s.FloorGen())
	assert.Equal(t, 0, s.GenCount())
	assert.Len(t, s.nodes.Versions(10), 1)
}

func TestDisposedSnapshotFails(t *testing.T) {
	s := newTestStore(t)
	setKits(t, s, draftKit(10, -1, 0))

	snap := s.CreateSnapshot()
	require.NoError(t, snap.Close())
	require.NoError(t, snap.Close())

	_, err := snap.Get(10)
	assert.ErrorIs(t, err, ErrSnapshotDisposed)
	_, err = snap.GetAtRoot()
	assert.ErrorIs(t, err, ErrSnapshotDisposed)
	_, err = snap.GetAll()
	assert.ErrorIs(t, err, ErrSnapshotDisposed)
	_, err = snap.ContentType(pageType.ID)
	assert.ErrorIs(t, err, ErrSnapshotDisposed)
	_, err = snap.IsEmpty()
	assert.ErrorIs(t, err, ErrSnapshotDisposed)
}

func TestLockedMethodsRequireLock(t *testing.T) {
	s := newTestStore(t)
	defer func() {
		r := recover()
		require.NotNil(t, r)
		var pe *generation.PanicError
		require.True(t, errors.As(r.(error), &pe))
		assert.Equal(t, "SetLocked", pe.Op)
	}()
	s.SetLocked(draftKit(10, -1, 0))
}

func TestInsertInSortOrder(t *testing.T) {
	s := newTestStore(t)
	setKits(t, s, draftKit(1, -1, 0))
	setKits(t, s, draftKit(2, 1, 10), draftKit(3, 1, 30))
	setKits(t, s, draftKit(4, 1, 20), draftKit(5, 1, 0), draftKit(6, 1, 40), draftKit(7, 1, 20))

	snap := s.CreateSnapshot()
	defer snap.Close()
	assert.Equal(t, []int{5, 2, 4, 7, 3, 6}, childIDs(t, snap, 1))

	parent, err := snap.Get(1)
	require.NoError(t, err)
	assert.Equal(t, 5, parent.FirstChildID)
	assert.Equal(t, 6, parent.LastChildID)
}

func TestMoveNodeToOtherParent(t *testing.T) {
	s := newTestStore(t)
	setKits(t, s, draftKit(1, -1, 0), draftKit(2, -1, 1))
	setKits(t, s, draftKit(10, 1, 0), draftKit(11, 1, 1), draftKit(12, 1, 2))
	setKits(t, s, draftKit(20, 11, 0))

	before := s.CreateSnapshot()
	defer before.Close()

	setKits(t, s, draftKit(11, 2, 0))

	after := s.CreateSnapshot()
	defer after.Close()

	assert.Equal(t, []int{10, 11, 12}, childIDs(t, before, 1))
	assert.Empty(t, childIDs(t, before, 2))

	assert.Equal(t, []int{10, 12}, childIDs(t, after, 1))
	assert.Equal(t, []int{11}, childIDs(t, after, 2))
	// the moved node keeps its children
	assert.Equal(t, []int{20}, childIDs(t, after, 11))

	n, err := after.Get(10)
	require.NoError(t, err)
	assert.Equal(t, 12, n.NextSiblingID)
}

func TestReplaceInPlaceKeepsSiblings(t *testing.T) {
	s := newTestStore(t)
	setKits(t, s, draftKit(1, -1, 0), draftKit(2, -1, 1), draftKit(3, -1, 2))
	setKits(t, s, publishedKit(2, -1, 1))

	snap := s.CreateSnapshot()
	defer snap.Close()
	assert.Equal(t, []int{1, 2, 3}, rootIDs(t, snap))
	n, err := snap.Get(2)
	require.NoError(t, err)
	assert.Equal(t, 1, n.PrevSiblingID)
	assert.Equal(t, 3, n.NextSiblingID)
	assert.True(t, n.HasPublished())
}

func TestClearIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	setKits(t, s, draftKit(1, -1, 0), draftKit(2, -1, 1))
	setKits(t, s, draftKit(10, 1, 0), draftKit(11, 1, 1))
	setKits(t, s, draftKit(20, 10, 0))

	write(t, s, func() {
		assert.False(t, s.ClearLocked(99))
		assert.True(t, s.ClearLocked(1))
		assert.False(t, s.ClearLocked(1))
		assert.False(t, s.ClearLocked(20))
	})

	snap := s.CreateSnapshot()
	defer snap.Close()
	assert.Equal(t, []int{2}, rootIDs(t, snap))
	for _, id := range []int{1, 10, 11, 20} {
		_, err := snap.Get(id)
		assert.ErrorIs(t, err, ErrNotFound, "id %d", id)
		_, err = snap.GetByKey(uidFor(id))
		assert.ErrorIs(t, err, ErrNotFound, "key of %d", id)
	}
	n, err := snap.Get(2)
	require.NoError(t, err)
	assert.Equal(t, model.NoID, n.PrevSiblingID)
}

func TestGetByKey(t *testing.T) {
	s := newTestStore(t)
	setKits(t, s, draftKit(10, -1, 0))

	k := draftKit(10, -1, 0)
	k.Node.UID = uuid.New()
	s1 := s.CreateSnapshot()
	defer s1.Close()
	setKits(t, s, k)
	s2 := s.CreateSnapshot()
	defer s2.Close()

	n, err := s1.GetByKey(uidFor(10))
	require.NoError(t, err)
	assert.Equal(t, 10, n.ID)

	_, err = s2.GetByKey(uidFor(10))
	assert.ErrorIs(t, err, ErrNotFound)
	n, err = s2.GetByKey(k.Node.UID)
	require.NoError(t, err)
	assert.Equal(t, 10, n.ID)
}

func TestRollbackDiscardsChanges(t *testing.T) {
	s := newTestStore(t)
	setKits(t, s, draftKit(1, -1, 0))
	live := s.LiveGen()

	errBoom := errors.New("boom")
	err := s.Update(context.Background(), func(context.Context) error {
		_, err := s.SetLocked(draftKit(2, -1, 1))
		require.NoError(t, err)
		s.ClearLocked(1)
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, live, s.LiveGen())

	snap := s.CreateSnapshot()
	defer snap.Close()
	assert.Equal(t, []int{1}, rootIDs(t, snap))
	_, err = snap.Get(2)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNestedScopeAbortRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx, outer := s.Begin(context.Background())
	defer outer.Close()

	_, err := s.SetLocked(draftKit(1, -1, 0))
	require.NoError(t, err)

	_, inner := s.Begin(ctx)
	_, err = s.SetLocked(draftKit(2, -1, 1))
	require.NoError(t, err)
	require.NoError(t, inner.Close())

	assert.ErrorIs(t, outer.Commit(), ErrRolledBack)
	assert.False(t, s.Locked())

	snap := s.CreateSnapshot()
	defer snap.Close()
	empty, err := snap.IsEmpty()
	require.NoError(t, err)
	assert.True(t, empty)
}

func TestSetAllFastSorted(t *testing.T) {
	s := newTestStore(t)
	setKits(t, s, draftKit(99, -1, 0))

	kits := []model.ContentNodeKit{
		draftKit(1, -1, 0), draftKit(2, -1, 1),
		draftKit(10, 1, 0), draftKit(11, 1, 1), draftKit(12, 1, 2),
		draftKit(20, 2, 0),
		draftKit(30, 77, 0),
	}
	write(t, s, func() {
		assert.False(t, s.SetAllFastSortedLocked(kits, true))
	})

	snap := s.CreateSnapshot()
	defer snap.Close()
	assert.Equal(t, []int{1, 2}, rootIDs(t, snap))
	assert.Equal(t, []int{10, 11, 12}, childIDs(t, snap, 1))
	assert.Equal(t, []int{20}, childIDs(t, snap, 2))
	_, err := snap.Get(99)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = snap.Get(30)
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := snap.Get(12)
	require.NoError(t, err)
	assert.Equal(t, 11, n.PrevSiblingID)
}

func TestSetAllLocked(t *testing.T) {
	s := newTestStore(t)
	setKits(t, s, draftKit(99, -1, 0))
	old := s.CreateSnapshot()
	defer old.Close()

	write(t, s, func() {
		assert.True(t, s.SetAllLocked([]model.ContentNodeKit{
			draftKit(1, -1, 5), draftKit(2, -1, 1), draftKit(3, 1, 0),
		}))
	})

	snap := s.CreateSnapshot()
	defer snap.Close()
	assert.Equal(t, []int{2, 1}, rootIDs(t, snap))
	assert.Equal(t, []int{3}, childIDs(t, snap, 1))
	assert.Equal(t, []int{99}, rootIDs(t, old))
}

func TestSetBranchLocked(t *testing.T) {
	s := newTestStore(t)
	setKits(t, s, draftKit(1, -1, 0), draftKit(2, -1, 1), draftKit(3, -1, 2))
	setKits(t, s, draftKit(10, 2, 0), draftKit(11, 2, 1))
	setKits(t, s, draftKit(20, 10, 0))

	write(t, s, func() {
		assert.True(t, s.SetBranchLocked(2, []model.ContentNodeKit{
			draftKit(2, -1, 1), draftKit(11, 2, 0), draftKit(12, 2, 1),
		}))
	})

	snap := s.CreateSnapshot()
	defer snap.Close()
	assert.Equal(t, []int{1, 2, 3}, rootIDs(t, snap))
	assert.Equal(t, []int{11, 12}, childIDs(t, snap, 2))
	for _, id := range []int{10, 20} {
		_, err := snap.Get(id)
		assert.ErrorIs(t, err, ErrNotFound)
	}
}

func TestContentTypeIndexes(t *testing.T) {
	s := newTestStore(t)

	s1 := s.CreateSnapshot()
	defer s1.Close()

	renamed := *pageType
	renamed.Alias = "Article"
	write(t, s, func() {
		s.UpdateContentTypesLocked([]*model.ContentType{&renamed})
	})

	s2 := s.CreateSnapshot()
	defer s2.Close()

	ct, err := s1.ContentTypeByAlias("PAGE")
	require.NoError(t, err)
	assert.Same(t, pageType, ct)

	_, err = s2.ContentTypeByAlias("page")
	assert.ErrorIs(t, err, ErrNotFound)
	ct, err = s2.ContentTypeByAlias("article")
	require.NoError(t, err)
	assert.Same(t, &renamed, ct)

	ct, err = s2.ContentTypeByKey(pageType.Key)
	require.NoError(t, err)
	assert.Same(t, &renamed, ct)
	ct, err = s2.ContentType(pageType.ID)
	require.NoError(t, err)
	assert.Same(t, &renamed, ct)
}

func TestUpdateContentTypesRebuildsNodes(t *testing.T) {
	s := newTestStore(t)
	setKits(t, s, draftKit(1, -1, 0), draftKit(2, -1, 1))

	s1 := s.CreateSnapshot()
	defer s1.Close()

	refreshed := *pageType
	refreshed.PropertyTypes = nil
	write(t, s, func() {
		s.UpdateContentTypesLocked([]*model.ContentType{&refreshed})
	})

	s2 := s.CreateSnapshot()
	defer s2.Close()

	n, err := s1.Get(1)
	require.NoError(t, err)
	assert.Same(t, pageType, n.ContentType())
	n, err = s2.Get(1)
	require.NoError(t, err)
	assert.Same(t, &refreshed, n.ContentType())
	assert.Equal(t, 2, n.NextSiblingID)
}

func TestUpdateContentTypesWithKits(t *testing.T) {
	s := newTestStore(t)
	blogType := &model.ContentType{ID: 2, Key: uuid.New(), Alias: "Blog"}
	write(t, s, func() {
		s.NewContentTypesLocked([]*model.ContentType{blogType})
	})

	blog := draftKit(3, -1, 2)
	blog.ContentTypeID = blogType.ID
	setKits(t, s, draftKit(1, -1, 0), draftKit(2, -1, 1), blog)
	setKits(t, s, draftKit(10, 3, 0))

	refreshed := *pageType
	refreshed.Alias = "Landing"
	write(t, s, func() {
		// node 2 has no kit and becomes an orphan
		ok := s.UpdateContentTypesWithKitsLocked(
			[]int{blogType.ID},
			[]*model.ContentType{&refreshed},
			[]model.ContentNodeKit{draftKit(1, -1, 0)},
		)
		assert.True(t, ok)
	})

	snap := s.CreateSnapshot()
	defer snap.Close()
	assert.Equal(t, []int{1}, rootIDs(t, snap))
	for _, id := range []int{2, 3, 10} {
		_, err := snap.Get(id)
		assert.ErrorIs(t, err, ErrNotFound, "id %d", id)
	}
	n, err := snap.Get(1)
	require.NoError(t, err)
	assert.Same(t, &refreshed, n.ContentType())
	_, err = snap.ContentType(blogType.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateDataTypes(t *testing.T) {
	s := newTestStore(t)
	setKits(t, s, draftKit(1, -1, 0))

	fresh := *pageType
	fresh.PropertyTypes = []model.PropertyType{{Alias: "title", DataTypeID: 100, EditorAlias: "textbox"}}
	write(t, s, func() {
		s.UpdateDataTypesLocked([]int{100}, func(id int) *model.ContentType {
			if id == pageType.ID {
				return &fresh
			}
			return nil
		})
	})

	snap := s.CreateSnapshot()
	defer snap.Close()
	n, err := snap.Get(1)
	require.NoError(t, err)
	assert.Same(t, &fresh, n.ContentType())
}

func TestMirrorReceivesCommittedChanges(t *testing.T) {
	mirror := localdb.NewMemory(nil)
	s := newTestStore(t, withMirror(mirror))
	setKits(t, s, draftKit(1, -1, 0), draftKit(2, -1, 1))
	setKits(t, s, draftKit(10, 1, 0))

	n, err := mirror.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	write(t, s, func() { s.ClearLocked(1) })
	kits, err := localdb.Load(mirror)
	require.NoError(t, err)
	require.Len(t, kits, 1)
	assert.Equal(t, 2, kits[0].Node.ID)

	// a second store warm-starts from the mirror
	setKits(t, s, draftKit(20, 2, 0))
	warm := newTestStore(t, withMirror(mirror))
	write(t, warm, func() {
		count, ok, err := warm.LoadFromMirrorLocked()
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 2, count)
	})
	snap := warm.CreateSnapshot()
	defer snap.Close()
	assert.Equal(t, []int{2}, rootIDs(t, snap))
	assert.Equal(t, []int{20}, childIDs(t, snap, 2))
}

type failingMirror struct {
	*localdb.Memory
	rollbacks int
}

func (f *failingMirror) Commit() error {
	return errors.New("disk full")
}

func (f *failingMirror) Rollback() error {
	f.rollbacks++
	return f.Memory.Rollback()
}

func TestMirrorCommitFailureRollsBack(t *testing.T) {
	mirror := &failingMirror{Memory: localdb.NewMemory(nil)}
	s := newTestStore(t, withMirror(mirror))
	live := s.LiveGen()

	err := s.Update(context.Background(), func(context.Context) error {
		_, err := s.SetLocked(draftKit(1, -1, 0))
		return err
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 1, mirror.rollbacks)
	assert.Equal(t, live, s.LiveGen())
	assert.False(t, s.Locked())

	snap := s.CreateSnapshot()
	defer snap.Close()
	_, err = snap.Get(1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReleaseLocalDB(t *testing.T) {
	mirror := localdb.NewMemory(nil)
	s := newTestStore(t, withMirror(mirror))
	require.NoError(t, s.ReleaseLocalDB(context.Background()))

	_, err := mirror.Count()
	assert.ErrorIs(t, err, localdb.ErrClosed)

	// writes keep working without a mirror
	setKits(t, s, draftKit(1, -1, 0))
	write(t, s, func() { assert.False(t, s.HasMirrorLocked()) })
}

func TestTransactionMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewStoreMetrics(reg)
	s := newTestStore(t, withMetrics(m))
	setKits(t, s, draftKit(1, -1, 0))
	_ = s.Update(context.Background(), func(context.Context) error { return errors.New("abort") })

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TransactionsTotal.WithLabelValues("content", metrics.OutcomeCommit)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransactionsTotal.WithLabelValues("content", metrics.OutcomeRollback)))

	require.NoError(t, s.Collect(context.Background()))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CollectionsTotal.WithLabelValues("content")))
}
