package contentstore

import (
	"slices"

	"github.com/i5heu/snapstore/pkg/model"
)

// setContentTypeLocked writes ct to the id, alias and key indexes.
func (s *Store) setContentTypeLocked(ct *model.ContentType, live uint64) { // A
	alias := model.NormalizeAlias(ct.Alias)
	if old := s.types.Get(ct.ID, live); old != nil {
		if oldAlias := model.NormalizeAlias(old.Alias); oldAlias != alias {
			s.aliases.Set(oldAlias, nil, live)
		}
		if old.Key != ct.Key {
			s.typeKeys.Set(old.Key, nil, live)
		}
	}
	s.types.Set(ct.ID, ct, live)
	s.aliases.Set(alias, ct, live)
	s.typeKeys.Set(ct.Key, ct, live)
}

func (s *Store) removeContentTypeLocked(id int, live uint64) {
	ct := s.types.Get(id, live)
	if ct == nil {
		return
	}
	s.types.Set(id, nil, live)
	s.aliases.Set(model.NormalizeAlias(ct.Alias), nil, live)
	s.typeKeys.Set(ct.Key, nil, live)
}

// NewContentTypesLocked adds types. Nodes are not touched.
func (s *Store) NewContentTypesLocked(types []*model.ContentType) {
	s.tracker.EnsureLocked("NewContentTypesLocked")
	live := s.tracker.LiveGen()
	for _, ct := range types {
		s.setContentTypeLocked(ct, live)
	}
}

// UpdateContentTypesLocked replaces types and rebuilds every node of those
// types against the new value.
func (s *Store) UpdateContentTypesLocked(types []*model.ContentType) { // A
	if len(types) == 0 {
		return
	}
	s.tracker.EnsureLocked("UpdateContentTypesLocked")
	live := s.tracker.LiveGen()

	index := make(map[int]*model.ContentType, len(types))
	for _, ct := range types {
		s.setContentTypeLocked(ct, live)
		index[ct.ID] = ct
	}

	for _, node := range s.liveNodes(live) {
		ct, ok := index[node.ContentTypeID()]
		if !ok {
			continue
		}
		rebuilt := node.WithContentType(ct)
		s.nodes.Set(rebuilt.ID, rebuilt, live)
		s.stageKit(rebuilt.ID, rebuilt.Kit())
	}
}

// SetAllContentTypesLocked replaces every type. Nodes are not rebuilt; the
// caller is expected to reload them in the same transaction.
func (s *Store) SetAllContentTypesLocked(types []*model.ContentType) {
	s.tracker.EnsureLocked("SetAllContentTypesLocked")
	live := s.tracker.LiveGen()

	s.types.ClearAll(live)
	s.aliases.ClearAll(live)
	s.typeKeys.ClearAll(live)
	for _, ct := range types {
		s.setContentTypeLocked(ct, live)
	}
}

// UpdateContentTypesWithKitsLocked removes the types removedIDs together
// with their nodes, replaces the refreshed types and reloads their nodes
// from kits. A node of a refreshed type that has no buildable kit is an
// orphan and is removed. It reports false if any kit was skipped.
func (s *Store) UpdateContentTypesWithKitsLocked(removedIDs []int, refreshed []*model.ContentType, kits []model.ContentNodeKit) bool { // A
	s.tracker.EnsureLocked("UpdateContentTypesWithKitsLocked")
	if len(removedIDs) == 0 && len(refreshed) == 0 && len(kits) == 0 {
		return true
	}
	live := s.tracker.LiveGen()

	refreshedIDs := make([]int, 0, len(refreshed))
	for _, ct := range refreshed {
		refreshedIDs = append(refreshedIDs, ct.ID)
	}

	var removedNodes, refreshedNodes []int
	for _, node := range s.liveNodes(live) {
		typeID := node.ContentTypeID()
		if slices.Contains(removedIDs, typeID) {
			removedNodes = append(removedNodes, node.ID)
		}
		if slices.Contains(refreshedIDs, typeID) {
			refreshedNodes = append(refreshedNodes, node.ID)
		}
	}

	for _, id := range removedNodes {
		s.clearLocked(id, live)
	}
	for _, id := range removedIDs {
		s.removeContentTypeLocked(id, live)
	}
	for _, ct := range refreshed {
		s.setContentTypeLocked(ct, live)
	}

	ok := true
	visited := make(map[int]bool, len(kits))
	for _, kit := range kits {
		if kit.IsEmpty() || !slices.Contains(refreshedIDs, kit.ContentTypeID) {
			continue
		}
		kit = ownKit(kit)
		if !s.buildKit(kit, live) {
			ok = false
			continue
		}

		node := kit.Node
		if existing := s.nodes.Get(node.ID, live); existing != nil {
			node.FirstChildID = existing.FirstChildID
			node.LastChildID = existing.LastChildID
			node.PrevSiblingID = existing.PrevSiblingID
			node.NextSiblingID = existing.NextSiblingID
			s.nodes.Set(node.ID, node, live)
		} else {
			node.ResetTree()
			s.nodes.Set(node.ID, node, live)
			s.addTreeNodeLocked(node, live)
			s.setKeyLocked(node.UID, node.ID, live)
		}
		visited[node.ID] = true
		s.stageKit(node.ID, kit)
	}

	for _, id := range refreshedNodes {
		if !visited[id] {
			s.clearLocked(id, live)
		}
	}
	return ok
}

// UpdateDataTypesLocked rebuilds the types that use any of dataTypeIDs, as
// returned by getContentType, and every node of those types. A type for
// which getContentType returns nil is left alone.
func (s *Store) UpdateDataTypesLocked(dataTypeIDs []int, getContentType func(id int) *model.ContentType) { // A
	s.tracker.EnsureLocked("UpdateDataTypesLocked")
	live := s.tracker.LiveGen()

	index := make(map[int]*model.ContentType)
	s.types.Range(live, func(id int, ct *model.ContentType) bool {
		if !ct.UsesDataType(dataTypeIDs...) {
			return true
		}
		if fresh := getContentType(id); fresh != nil {
			index[id] = fresh
		}
		return true
	})
	if len(index) == 0 {
		return
	}

	for _, ct := range index {
		s.setContentTypeLocked(ct, live)
	}
	for _, node := range s.liveNodes(live) {
		ct, ok := index[node.ContentTypeID()]
		if !ok {
			continue
		}
		rebuilt := node.WithContentType(ct)
		s.nodes.Set(rebuilt.ID, rebuilt, live)
		s.stageKit(rebuilt.ID, rebuilt.Kit())
	}
}

// liveNodes lists the nodes visible at live, ordered by id.
func (s *Store) liveNodes(live uint64) []*model.ContentNode {
	var nodes []*model.ContentNode
	s.nodes.Range(live, func(_ int, node *model.ContentNode) bool {
		nodes = append(nodes, node)
		return true
	})
	slices.SortFunc(nodes, func(a, b *model.ContentNode) int { return a.ID - b.ID })
	return nodes
}
