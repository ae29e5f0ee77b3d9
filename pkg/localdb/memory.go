package localdb

import (
	"sync"

	"github.com/tidwall/btree"

	"github.com/i5heu/snapstore/pkg/model"
)

// Memory is a Mirror held in an ordered in-memory tree. It is used when no
// local path is configured and by tests.
type Memory struct {
	mu      sync.Mutex
	ser     Serializer
	tree    *btree.Map[int, []byte]
	pending staged
	closed  bool
}

// NewMemory returns an empty in-memory mirror. A nil serializer selects
// KitSerializer.
func NewMemory(ser Serializer) *Memory {
	if ser == nil {
		ser = KitSerializer{}
	}
	return &Memory{
		ser:  ser,
		tree: btree.NewMap[int, []byte](0),
	}
}

func (m *Memory) Get(id int) (model.ContentNodeKit, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return model.ContentNodeKit{}, false, ErrClosed
	}

	v, found := m.pending.lookup(id)
	if !found {
		v, found = m.tree.Get(id)
	}
	if v == nil || !found {
		return model.ContentNodeKit{}, false, nil
	}
	kit, err := unmarshal(m.ser, v)
	if err != nil {
		return model.ContentNodeKit{}, false, err
	}
	return kit, true, nil
}

func (m *Memory) Set(id int, kit model.ContentNodeKit) error {
	v, err := marshal(m.ser, kit)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.pending.set(id, v)
	return nil
}

func (m *Memory) Remove(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.pending.set(id, nil)
	return nil
}

func (m *Memory) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.pending.clear = true
	m.pending.ops = nil
	return nil
}

func (m *Memory) Ascend(fn func(id int, kit model.ContentNodeKit) bool) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	tree := m.tree.Copy()
	m.mu.Unlock()

	var err error
	tree.Scan(func(id int, v []byte) bool {
		var kit model.ContentNodeKit
		kit, err = unmarshal(m.ser, v)
		if err != nil {
			return false
		}
		return fn(id, kit)
	})
	return err
}

func (m *Memory) Count() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	return m.tree.Len(), nil
}

func (m *Memory) Commit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.pending.clear {
		m.tree = btree.NewMap[int, []byte](0)
	}
	for _, id := range m.pending.sortedIDs() {
		if v := m.pending.ops[id]; v != nil {
			m.tree.Set(id, v)
		} else {
			m.tree.Delete(id)
		}
	}
	m.pending.reset()
	return nil
}

func (m *Memory) Rollback() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending.reset()
	return nil
}

func (m *Memory) Drop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tree = btree.NewMap[int, []byte](0)
	m.pending.reset()
	m.closed = true
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
