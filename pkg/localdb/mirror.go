// Package localdb implements the local persistent mirror of a content store:
// an ordered id to kit store that lets a process warm-start without asking
// the authoritative database for every node.
//
// Writes are staged. Set, Remove and Clear only become visible to Ascend and
// Count after Commit; Rollback discards them. Get sees staged writes.
package localdb

import (
	"errors"
	"slices"

	"github.com/i5heu/snapstore/pkg/model"
)

var (
	ErrClosed = errors.New("localdb: mirror closed")
)

// Mirror is the capability set a content store needs from its local mirror.
type Mirror interface {
	Get(id int) (model.ContentNodeKit, bool, error)
	Set(id int, kit model.ContentNodeKit) error
	Remove(id int) error
	// Ascend calls fn for every committed kit in ascending id order until
	// fn returns false.
	Ascend(fn func(id int, kit model.ContentNodeKit) bool) error
	Count() (int, error)
	// Clear stages the removal of every kit.
	Clear() error
	Commit() error
	Rollback() error
	// Drop closes the mirror and deletes its storage.
	Drop() error
	Close() error
}

// staged holds the writes of the open unit of work. A nil value removes the
// id.
type staged struct {
	clear bool
	ops   map[int][]byte
}

func (s *staged) set(id int, v []byte) {
	if s.ops == nil {
		s.ops = make(map[int][]byte)
	}
	s.ops[id] = v
}

func (s *staged) empty() bool {
	return !s.clear && len(s.ops) == 0
}

func (s *staged) reset() {
	s.clear = false
	s.ops = nil
}

// lookup reports the staged state of id: found tells whether the staged
// writes decide it, v is nil for a removal.
func (s *staged) lookup(id int) (v []byte, found bool) {
	if v, ok := s.ops[id]; ok {
		return v, true
	}
	if s.clear {
		return nil, true
	}
	return nil, false
}

// sortedIDs returns the staged ids in ascending order.
func (s *staged) sortedIDs() []int {
	ids := make([]int, 0, len(s.ops))
	for id := range s.ops {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Load reads every committed kit of m, sorted the way bulk loads expect.
func Load(m Mirror) ([]model.ContentNodeKit, error) {
	var kits []model.ContentNodeKit
	err := m.Ascend(func(_ int, kit model.ContentNodeKit) bool {
		kits = append(kits, kit)
		return true
	})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(kits, model.CompareKits)
	return kits, nil
}
