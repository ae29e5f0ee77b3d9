package contentstore

import (
	"github.com/google/uuid"

	"github.com/i5heu/snapstore/internal/generation"
	"github.com/i5heu/snapstore/internal/versioned"
	"github.com/i5heu/snapstore/pkg/model"
)

type nodeLink = versioned.Link[model.ContentNode]

// SetLocked inserts or replaces the node of kit and repairs the tree around
// it. It reports false, with nothing changed, when the kit fails validation.
func (s *Store) SetLocked(kit model.ContentNodeKit) (bool, error) { // A
	s.tracker.EnsureLocked("SetLocked")
	if kit.IsEmpty() {
		return false, ErrEmptyKit
	}
	if kit.Node.HasChildren() {
		return false, ErrKitHasChildren
	}

	live := s.tracker.LiveGen()
	kit = ownKit(kit)
	if !s.buildKit(kit, live) {
		return false, nil
	}

	node := kit.Node
	node.PrevSiblingID = model.NoID
	node.NextSiblingID = model.NoID
	s.stageKit(node.ID, kit)

	existing := s.nodes.Get(node.ID, live)
	if existing == nil {
		s.nodes.Set(node.ID, node, live)
		s.addTreeNodeLocked(node, live)
		s.setKeyLocked(node.UID, node.ID, live)
		return true, nil
	}

	node.FirstChildID = existing.FirstChildID
	node.LastChildID = existing.LastChildID

	moving := existing.ParentID != node.ParentID
	reorder := existing.SortOrder != node.SortOrder
	if moving || reorder {
		s.removeTreeNodeLocked(existing, live)
		s.nodes.Set(node.ID, node, live)
		s.addTreeNodeLocked(node, live)
	} else {
		node.PrevSiblingID = existing.PrevSiblingID
		node.NextSiblingID = existing.NextSiblingID
		s.nodes.Set(node.ID, node, live)
	}

	if existing.UID != node.UID {
		s.keys.Set(existing.UID, nil, live)
	}
	s.setKeyLocked(node.UID, node.ID, live)
	return true, nil
}

// ClearLocked removes the node id and all its descendants. It reports false
// when the node does not exist.
func (s *Store) ClearLocked(id int) bool {
	s.tracker.EnsureLocked("ClearLocked")
	live := s.tracker.LiveGen()
	return s.clearLocked(id, live)
}

func (s *Store) clearLocked(id int, live uint64) bool {
	node := s.nodes.Get(id, live)
	if node == nil {
		return false
	}
	s.clearBranchLocked(node, live)
	s.removeTreeNodeLocked(node, live)
	return true
}

// SetAllLocked replaces the whole tree with kits, which must be sorted by
// level, parent and sort order. It reports false if any kit was skipped.
func (s *Store) SetAllLocked(kits []model.ContentNodeKit) bool { // A
	s.tracker.EnsureLocked("SetAllLocked")
	live := s.tracker.LiveGen()

	s.clearAllLocked(live)
	s.stageClear()

	ok := true
	for _, kit := range kits {
		if !s.addKitLocked(kit, live) {
			ok = false
		}
	}
	return ok
}

// SetAllFastSortedLocked bulk-loads kits sorted by level, parent and sort
// order, wiring every node as the last child of its parent in one pass.
// fromSource tells whether the kits come from the authoritative source and
// must be written to the mirror.
func (s *Store) SetAllFastSortedLocked(kits []model.ContentNodeKit, fromSource bool) bool { // A
	s.tracker.EnsureLocked("SetAllFastSortedLocked")
	live := s.tracker.LiveGen()

	s.clearAllLocked(live)
	if fromSource {
		s.stageClear()
	}

	ok := true
	for _, kit := range kits {
		if kit.IsEmpty() {
			ok = false
			continue
		}
		kit = ownKit(kit)
		if !s.buildKit(kit, live) {
			ok = false
			continue
		}
		node := kit.Node
		node.ResetTree()

		parent := s.genCloneLocked(s.parentLinkLocked(node), live)
		if parent.FirstChildID > 0 {
			last := s.genCloneLocked(s.requireLinkLocked(parent.LastChildID, "last child"), live)
			last.NextSiblingID = node.ID
			node.PrevSiblingID = last.ID
		} else {
			parent.FirstChildID = node.ID
		}
		parent.LastChildID = node.ID

		s.nodes.Set(node.ID, node, live)
		s.setKeyLocked(node.UID, node.ID, live)
		if fromSource {
			s.stageKit(node.ID, kit)
		}
	}
	return ok
}

// SetBranchLocked replaces the subtree rooted at rootID with kits, sorted by
// level, parent and sort order. It reports false if any kit was skipped.
func (s *Store) SetBranchLocked(rootID int, kits []model.ContentNodeKit) bool { // A
	s.tracker.EnsureLocked("SetBranchLocked")
	live := s.tracker.LiveGen()

	s.clearLocked(rootID, live)

	ok := true
	for _, kit := range kits {
		if !s.addKitLocked(kit, live) {
			ok = false
		}
	}
	return ok
}

// addKitLocked inserts kit as a new node.
func (s *Store) addKitLocked(kit model.ContentNodeKit, live uint64) bool {
	if kit.IsEmpty() {
		return false
	}
	kit = ownKit(kit)
	if !s.buildKit(kit, live) {
		return false
	}
	node := kit.Node
	node.ResetTree()
	s.nodes.Set(node.ID, node, live)
	s.addTreeNodeLocked(node, live)
	s.setKeyLocked(node.UID, node.ID, live)
	s.stageKit(node.ID, kit)
	return true
}

// ownKit copies the kit node. The store only ever changes nodes it created.
func ownKit(kit model.ContentNodeKit) model.ContentNodeKit {
	kit.Node = kit.Node.Clone()
	return kit
}

func (s *Store) clearAllLocked(live uint64) {
	s.nodes.ClearAll(live)
	s.keys.ClearAll(live)

	root := s.root.Get(live).Clone()
	root.FirstChildID = model.NoID
	root.LastChildID = model.NoID
	s.root.Set(root, live)
}

// clearBranchLocked tombstones node and every descendant.
func (s *Store) clearBranchLocked(node *model.ContentNode, live uint64) { // A
	s.nodes.Set(node.ID, nil, live)
	s.keys.Set(node.UID, nil, live)
	s.stageKit(node.ID, model.ContentNodeKit{})

	id := node.FirstChildID
	for id > 0 {
		child := s.requireLinkLocked(id, "child").Value()
		s.clearBranchLocked(child, live)
		id = child.NextSiblingID
	}
}

func (s *Store) setKeyLocked(uid uuid.UUID, id int, live uint64) {
	if uid == uuid.Nil {
		return
	}
	if cur := s.keys.Get(uid, live); cur != nil && *cur == id {
		return
	}
	s.keys.Set(uid, &id, live)
}

// parentLinkLocked returns the link of node's parent, the root cell's head
// for root level nodes.
func (s *Store) parentLinkLocked(node *model.ContentNode) *nodeLink {
	if node.IsRootLevel() {
		return s.root.Head()
	}
	return s.requireLinkLocked(node.ParentID, "parent")
}

// requireLinkLocked returns the head link of id, which must hold a node.
func (s *Store) requireLinkLocked(id int, what string) *nodeLink {
	link := s.nodes.Head(id)
	if link == nil || link.Value() == nil {
		generation.Panicf("tree", "failed to get %s with id=%d", what, id)
	}
	return link
}

// genCloneLocked returns the node of link ready to be changed at the live
// generation. A node from an older generation is cloned and the clone is
// written at live, so snapshots pinned to the older generation keep the
// original.
func (s *Store) genCloneLocked(link *nodeLink, live uint64) *model.ContentNode { // A
	node := link.Value()
	if node == nil {
		generation.Panicf("tree", "cannot clone a removed node")
	}
	if link.Gen() == live {
		return node
	}
	clone := node.Clone()
	if link == s.root.Head() {
		s.root.Set(clone, live)
	} else {
		s.nodes.Set(clone.ID, clone, live)
	}
	return clone
}

// addTreeNodeLocked links node into its parent's child list in sort order.
// node must already be the live value of its id.
func (s *Store) addTreeNodeLocked(node *model.ContentNode, live uint64) { // A
	parent := s.genCloneLocked(s.parentLinkLocked(node), live)

	if parent.FirstChildID <= 0 {
		parent.FirstChildID = node.ID
		parent.LastChildID = node.ID
		node.PrevSiblingID = model.NoID
		node.NextSiblingID = model.NoID
		return
	}

	lastLink := s.requireLinkLocked(parent.LastChildID, "last child")
	if lastLink.Value().SortOrder <= node.SortOrder {
		last := s.genCloneLocked(lastLink, live)
		last.NextSiblingID = node.ID
		node.PrevSiblingID = last.ID
		node.NextSiblingID = model.NoID
		parent.LastChildID = node.ID
		return
	}

	firstLink := s.requireLinkLocked(parent.FirstChildID, "first child")
	if firstLink.Value().SortOrder > node.SortOrder {
		first := s.genCloneLocked(firstLink, live)
		first.PrevSiblingID = node.ID
		node.PrevSiblingID = model.NoID
		node.NextSiblingID = first.ID
		parent.FirstChildID = node.ID
		return
	}

	prevLink := firstLink
	for {
		prevID := prevLink.Value().NextSiblingID
		if prevID <= 0 {
			generation.Panicf("tree", "no more children under parent id=%d", parent.ID)
		}
		nextLink := s.requireLinkLocked(prevID, "next sibling")
		if nextLink.Value().SortOrder > node.SortOrder {
			prev := s.genCloneLocked(prevLink, live)
			next := s.genCloneLocked(nextLink, live)
			prev.NextSiblingID = node.ID
			next.PrevSiblingID = node.ID
			node.PrevSiblingID = prev.ID
			node.NextSiblingID = next.ID
			return
		}
		prevLink = nextLink
	}
}

// removeTreeNodeLocked unlinks node from its parent's child list. node
// itself is not changed.
func (s *Store) removeTreeNodeLocked(node *model.ContentNode, live uint64) { // A
	parentLink := s.parentLinkLocked(node)
	if p := parentLink.Value(); p.FirstChildID == node.ID || p.LastChildID == node.ID {
		parent := s.genCloneLocked(parentLink, live)
		if parent.FirstChildID == node.ID {
			parent.FirstChildID = node.NextSiblingID
		}
		if parent.LastChildID == node.ID {
			parent.LastChildID = node.PrevSiblingID
		}
	}

	if node.PrevSiblingID > 0 {
		prev := s.genCloneLocked(s.requireLinkLocked(node.PrevSiblingID, "previous sibling"), live)
		prev.NextSiblingID = node.NextSiblingID
	}
	if node.NextSiblingID > 0 {
		next := s.genCloneLocked(s.requireLinkLocked(node.NextSiblingID, "next sibling"), live)
		next.PrevSiblingID = node.PrevSiblingID
	}
}
