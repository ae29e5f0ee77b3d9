package contentstore

import (
	"slices"

	"github.com/google/uuid"

	"github.com/i5heu/snapstore/internal/generation"
	"github.com/i5heu/snapstore/pkg/model"
)

// Snapshot is a read view of a Store pinned to one generation. Reads never
// block and return the same results for the snapshot's lifetime. A snapshot
// must be closed; every read after Close fails with ErrSnapshotDisposed.
type Snapshot struct {
	store *Store
	ref   *generation.Ref
	gen   uint64
}

// Gen returns the pinned generation.
func (s *Snapshot) Gen() uint64 { return s.gen }

// Close releases the pinned generation. It is safe to call more than once.
func (s *Snapshot) Close() error {
	s.ref.Release()
	return nil
}

func (s *Snapshot) check() error {
	if s.ref.Released() {
		return ErrSnapshotDisposed
	}
	return nil
}

// Get returns the node id.
func (s *Snapshot) Get(id int) (*model.ContentNode, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	node := s.store.nodes.Get(id, s.gen)
	if node == nil {
		return nil, ErrNotFound
	}
	return node, nil
}

// GetByKey returns the node with the given uid.
func (s *Snapshot) GetByKey(uid uuid.UUID) (*model.ContentNode, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	id := s.store.keys.Get(uid, s.gen)
	if id == nil {
		return nil, ErrNotFound
	}
	node := s.store.nodes.Get(*id, s.gen)
	if node == nil {
		return nil, ErrNotFound
	}
	return node, nil
}

// GetAtRoot returns the root level nodes in sibling order.
func (s *Snapshot) GetAtRoot() ([]*model.ContentNode, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	root := s.store.root.Get(s.gen)
	if root == nil {
		return nil, nil
	}
	return s.siblings(root.FirstChildID), nil
}

// Children returns the children of id in sibling order.
func (s *Snapshot) Children(id int) ([]*model.ContentNode, error) {
	parent, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	return s.siblings(parent.FirstChildID), nil
}

// Parent returns the parent of node, or nil for a root level node.
func (s *Snapshot) Parent(node *model.ContentNode) (*model.ContentNode, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if node.IsRootLevel() {
		return nil, nil
	}
	return s.Get(node.ParentID)
}

func (s *Snapshot) siblings(id int) []*model.ContentNode {
	var out []*model.ContentNode
	for id > 0 {
		node := s.store.nodes.Get(id, s.gen)
		if node == nil {
			generation.Panicf("snapshot", "broken sibling chain at id=%d gen=%d", id, s.gen)
		}
		out = append(out, node)
		id = node.NextSiblingID
	}
	return out
}

// GetAll returns every node, ordered by id.
func (s *Snapshot) GetAll() ([]*model.ContentNode, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	var nodes []*model.ContentNode
	s.store.nodes.Range(s.gen, func(_ int, node *model.ContentNode) bool {
		nodes = append(nodes, node)
		return true
	})
	slices.SortFunc(nodes, func(a, b *model.ContentNode) int { return a.ID - b.ID })
	return nodes, nil
}

// IsEmpty reports whether the root has no children.
func (s *Snapshot) IsEmpty() (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}
	root := s.store.root.Get(s.gen)
	return root == nil || root.FirstChildID <= 0, nil
}

// ContentType returns the content type id.
func (s *Snapshot) ContentType(id int) (*model.ContentType, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	ct := s.store.types.Get(id, s.gen)
	if ct == nil {
		return nil, ErrNotFound
	}
	return ct, nil
}

// ContentTypeByAlias returns the content type with the given alias, compared
// case-insensitively.
func (s *Snapshot) ContentTypeByAlias(alias string) (*model.ContentType, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	ct := s.store.aliases.Get(model.NormalizeAlias(alias), s.gen)
	if ct == nil {
		return nil, ErrNotFound
	}
	return ct, nil
}

// ContentTypeByKey returns the content type with the given key.
func (s *Snapshot) ContentTypeByKey(key uuid.UUID) (*model.ContentType, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	ct := s.store.typeKeys.Get(key, s.gen)
	if ct == nil {
		return nil, ErrNotFound
	}
	return ct, nil
}
