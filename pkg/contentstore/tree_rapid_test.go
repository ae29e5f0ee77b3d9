package contentstore

import (
	"context"
	"io"
	"log/slog"
	"maps"
	"slices"
	"testing"

	"pgregory.net/rapid"

	"github.com/i5heu/snapstore/pkg/model"
)

const numNodes = 10

type placement struct {
	parent    int
	sortOrder int
}

// treeStateMachine applies random inserts, moves, reorders and clears and
// checks every snapshot, old ones included, against a parent/sort model.
type treeStateMachine struct {
	// Model state
	cur    map[int]placement
	pinned map[int]placement

	// SUT state
	s    *Store
	snap *Snapshot
}

func (sm *treeStateMachine) Init(t *rapid.T) {
	conf := DefaultConfig("content")
	conf.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	conf.DisableAutoCollect = true
	sm.s = New(conf)
	sm.cur = map[int]placement{}

	err := sm.s.Update(context.Background(), func(context.Context) error {
		sm.s.NewContentTypesLocked([]*model.ContentType{pageType})
		return nil
	})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
}

func (sm *treeStateMachine) Cleanup() {
	if sm.snap != nil {
		sm.snap.Close()
	}
	sm.s.Close()
}

// inSubtree reports whether id is root or one of its descendants.
func (sm *treeStateMachine) inSubtree(id, root int) bool {
	for id > 0 {
		if id == root {
			return true
		}
		id = sm.cur[id].parent
	}
	return false
}

func (sm *treeStateMachine) Set(t *rapid.T) {
	id := rapid.IntRange(1, numNodes).Draw(t, "id")
	candidates := []int{-1}
	for _, other := range slices.Sorted(maps.Keys(sm.cur)) {
		if !sm.inSubtree(other, id) {
			candidates = append(candidates, other)
		}
	}
	parent := rapid.SampledFrom(candidates).Draw(t, "parent")
	sortOrder := rapid.IntRange(0, 4).Draw(t, "sortOrder")

	err := sm.s.Update(context.Background(), func(context.Context) error {
		ok, err := sm.s.SetLocked(draftKit(id, parent, sortOrder))
		if err != nil {
			return err
		}
		if !ok {
			t.Fatalf("kit %d under %d rejected", id, parent)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("set %d: %v", id, err)
	}
	sm.cur[id] = placement{parent: parent, sortOrder: sortOrder}
}

func (sm *treeStateMachine) Clear(t *rapid.T) {
	id := rapid.IntRange(1, numNodes).Draw(t, "id")
	_, present := sm.cur[id]

	var cleared bool
	err := sm.s.Update(context.Background(), func(context.Context) error {
		cleared = sm.s.ClearLocked(id)
		return nil
	})
	if err != nil {
		t.Fatalf("clear %d: %v", id, err)
	}
	if cleared != present {
		t.Fatalf("clear %d returned %v, present %v", id, cleared, present)
	}

	for other := range maps.Clone(sm.cur) {
		if sm.inSubtree(other, id) {
			delete(sm.cur, other)
		}
	}
}

func (sm *treeStateMachine) Pin(t *rapid.T) {
	if sm.snap != nil {
		sm.snap.Close()
	}
	sm.snap = sm.s.CreateSnapshot()
	sm.pinned = maps.Clone(sm.cur)
}

func (sm *treeStateMachine) Collect(t *rapid.T) {
	if err := sm.s.Collect(context.Background()); err != nil {
		t.Fatalf("collect: %v", err)
	}
}

func (sm *treeStateMachine) Check(t *rapid.T) {
	snap := sm.s.CreateSnapshot()
	defer snap.Close()
	checkTree(t, snap, sm.cur)
	if sm.snap != nil {
		checkTree(t, sm.snap, sm.pinned)
	}
}

func checkTree(t *rapid.T, snap *Snapshot, want map[int]placement) {
	for id := 1; id <= numNodes; id++ {
		node, err := snap.Get(id)
		p, ok := want[id]
		if !ok {
			if err == nil {
				t.Fatalf("gen %d: node %d should be absent", snap.Gen(), id)
			}
			continue
		}
		if err != nil {
			t.Fatalf("gen %d: node %d: %v", snap.Gen(), id, err)
		}
		if node.ParentID != p.parent || node.SortOrder != p.sortOrder {
			t.Fatalf("gen %d: node %d at (%d, %d), want %+v", snap.Gen(), id, node.ParentID, node.SortOrder, p)
		}
	}

	parents := []int{-1}
	for id := range want {
		parents = append(parents, id)
	}
	for _, parent := range parents {
		var (
			children []*model.ContentNode
			first    int
			last     int
			err      error
		)
		if parent < 0 {
			children, err = snap.GetAtRoot()
			root := snap.store.root.Get(snap.Gen())
			first, last = root.FirstChildID, root.LastChildID
		} else {
			children, err = snap.Children(parent)
			node, _ := snap.Get(parent)
			first, last = node.FirstChildID, node.LastChildID
		}
		if err != nil {
			t.Fatalf("gen %d: children of %d: %v", snap.Gen(), parent, err)
		}

		expected := 0
		for _, p := range want {
			if p.parent == parent {
				expected++
			}
		}
		if len(children) != expected {
			t.Fatalf("gen %d: parent %d has %d children, want %d", snap.Gen(), parent, len(children), expected)
		}
		if expected == 0 {
			if first > 0 || last > 0 {
				t.Fatalf("gen %d: childless parent %d has pointers %d/%d", snap.Gen(), parent, first, last)
			}
			continue
		}
		if first != children[0].ID || last != children[len(children)-1].ID {
			t.Fatalf("gen %d: parent %d first/last %d/%d, list %v", snap.Gen(), parent, first, last, ids(children))
		}

		prev := model.NoID
		for i, c := range children {
			if c.ParentID != parent {
				t.Fatalf("gen %d: node %d listed under %d has parent %d", snap.Gen(), c.ID, parent, c.ParentID)
			}
			if c.PrevSiblingID != prev {
				t.Fatalf("gen %d: node %d prev %d, want %d", snap.Gen(), c.ID, c.PrevSiblingID, prev)
			}
			if i > 0 && children[i-1].SortOrder > c.SortOrder {
				t.Fatalf("gen %d: children of %d out of order: %v", snap.Gen(), parent, ids(children))
			}
			prev = c.ID
		}
	}
}

func TestTreeStateMachine(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		sm := &treeStateMachine{}
		sm.Init(t)
		defer sm.Cleanup()

		t.Repeat(map[string]func(*rapid.T){
			"Set":     sm.Set,
			"Clear":   sm.Clear,
			"Pin":     sm.Pin,
			"Collect": sm.Collect,
			"":        sm.Check,
		})
	})
}
