package localdb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/i5heu/snapstore/pkg/model"
)

var (
	kitPrefix = []byte("kit/")
	dirtyKey  = []byte("meta/dirty")
)

// BadgerConfig configures a badger backed mirror.
type BadgerConfig struct {
	// Path is the database directory. It is ignored when InMemory is set.
	Path string
	// InMemory keeps the database in memory only.
	InMemory bool
	// MinimumFreeGB is checked against the file system holding Path on open.
	MinimumFreeGB uint
	// SyncWrites makes every commit durable before it returns.
	SyncWrites bool
	// Serializer encodes the stored kits. Nil selects KitSerializer.
	Serializer Serializer
	// Logger receives badger and mirror messages. Nil logs warnings to stderr.
	Logger *logrus.Logger
}

// Badger is a Mirror stored in a badger database. Commit writes the staged
// changes in one batch under a dirty marker; a mirror found dirty on open is
// emptied so that it is reloaded from the authoritative source.
type Badger struct {
	mu      sync.Mutex
	db      *badger.DB
	ser     Serializer
	log     *logrus.Logger
	path    string
	pending staged
	closed  bool
	// broken is set when a commit failed after the dirty marker was written.
	// The marker then stays until a commit rewrites the whole mirror.
	broken bool
}

func defaultLogrus() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.WarnLevel)
	return l
}

// OpenBadger opens or creates the mirror described by conf.
func OpenBadger(conf BadgerConfig) (*Badger, error) { // A
	log := conf.Logger
	if log == nil {
		log = defaultLogrus()
	}
	ser := conf.Serializer
	if ser == nil {
		ser = KitSerializer{}
	}

	var opts badger.Options
	if conf.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if conf.Path == "" {
			return nil, errors.New("localdb: badger path is empty")
		}
		if err := os.MkdirAll(conf.Path, 0o755); err != nil {
			return nil, fmt.Errorf("localdb: create %s: %w", conf.Path, err)
		}
		if err := checkFreeSpace(conf.Path, conf.MinimumFreeGB); err != nil {
			return nil, err
		}
		opts = badger.DefaultOptions(conf.Path)
		opts.ValueLogFileSize = 1024 * 1024 * 100
	}
	opts.Logger = log
	opts.SyncWrites = conf.SyncWrites

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("localdb: open badger: %w", err)
	}

	b := &Badger{db: db, ser: ser, log: log}
	if !conf.InMemory {
		b.path = conf.Path
	}
	if err := b.recoverDirty(); err != nil {
		db.Close()
		return nil, err
	}
	if b.path != "" {
		logDiskUsage(log, b.path)
	}
	return b, nil
}

// recoverDirty empties a mirror whose last commit did not finish.
func (b *Badger) recoverDirty() error {
	dirty, err := b.dirty()
	if err != nil || !dirty {
		return err
	}

	b.log.WithFields(logrus.Fields{
		"path": b.path,
	}).Warn("Local mirror was left dirty by an interrupted commit, dropping its content")
	if err := b.db.DropPrefix(kitPrefix); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(dirtyKey)
	})
}

// kitKey orders ids numerically, negative ids first.
func kitKey(id int) []byte {
	key := make([]byte, len(kitPrefix)+8)
	copy(key, kitPrefix)
	binary.BigEndian.PutUint64(key[len(kitPrefix):], uint64(int64(id))^(1<<63))
	return key
}

func idFromKey(key []byte) int {
	return int(int64(binary.BigEndian.Uint64(key[len(kitPrefix):]) ^ (1 << 63)))
}

func (b *Badger) Get(id int) (model.ContentNodeKit, bool, error) { // A
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return model.ContentNodeKit{}, false, ErrClosed
	}
	v, found := b.pending.lookup(id)
	b.mu.Unlock()

	if !found {
		err := b.db.View(func(txn *badger.Txn) error {
			item, err := txn.Get(kitKey(id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			v, err = item.ValueCopy(nil)
			return err
		})
		if err != nil {
			return model.ContentNodeKit{}, false, err
		}
	}
	if v == nil {
		return model.ContentNodeKit{}, false, nil
	}
	kit, err := unmarshal(b.ser, v)
	if err != nil {
		return model.ContentNodeKit{}, false, err
	}
	return kit, true, nil
}

func (b *Badger) Set(id int, kit model.ContentNodeKit) error {
	v, err := marshal(b.ser, kit)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.pending.set(id, v)
	return nil
}

func (b *Badger) Remove(id int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.pending.set(id, nil)
	return nil
}

func (b *Badger) Clear() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.pending.clear = true
	b.pending.ops = nil
	return nil
}

func (b *Badger) Ascend(fn func(id int, kit model.ContentNodeKit) bool) error { // A
	if b.isClosed() {
		return ErrClosed
	}
	return b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(kitPrefix); it.ValidForPrefix(kitPrefix); it.Next() {
			item := it.Item()
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			kit, err := unmarshal(b.ser, v)
			if err != nil {
				return err
			}
			if !fn(idFromKey(item.Key()), kit) {
				return nil
			}
		}
		return nil
	})
}

func (b *Badger) Count() (int, error) {
	if b.isClosed() {
		return 0, ErrClosed
	}
	count := 0
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(kitPrefix); it.ValidForPrefix(kitPrefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// Commit writes the staged changes. The dirty marker brackets the write so
// that a crash in between is detected on the next open. A failed write
// leaves the mirror dirty; it only becomes clean again when a later commit
// clears and rewrites it.
func (b *Badger) Commit() error { // A
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if b.pending.empty() {
		return nil
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(dirtyKey, []byte{1})
	})
	if err != nil {
		return err
	}

	if err := writeStaged(b); err != nil {
		b.broken = true
		b.log.WithFields(logrus.Fields{
			"path":  b.path,
			"error": err,
		}).Error("Local mirror commit failed, keeping it dirty")
		return err
	}
	if b.pending.clear {
		b.broken = false
	}
	if b.broken {
		b.log.WithFields(logrus.Fields{
			"path": b.path,
		}).Warn("Local mirror stays dirty after an earlier failed commit")
		b.pending.reset()
		return nil
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(dirtyKey)
	})
	if err != nil {
		return err
	}

	b.log.WithFields(logrus.Fields{
		"changes": len(b.pending.ops),
		"cleared": b.pending.clear,
	}).Debug("Committed local mirror")
	b.pending.reset()
	return nil
}

// writeStaged applies the staged changes. Tests replace it to fail a
// commit partway.
var writeStaged = func(b *Badger) error { // A
	if b.pending.clear {
		if err := b.db.DropPrefix(kitPrefix); err != nil {
			return err
		}
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, id := range b.pending.sortedIDs() {
		var err error
		if v := b.pending.ops[id]; v != nil {
			err = wb.Set(kitKey(id), v)
		} else {
			err = wb.Delete(kitKey(id))
		}
		if err != nil {
			return err
		}
	}
	return wb.Flush()
}

// Dirty reports whether the mirror is marked as not matching its source.
func (b *Badger) Dirty() (bool, error) {
	if b.isClosed() {
		return false, ErrClosed
	}
	return b.dirty()
}

func (b *Badger) dirty() (bool, error) {
	dirty := false
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(dirtyKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		dirty = true
		return nil
	})
	return dirty, err
}

func (b *Badger) Rollback() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending.reset()
	return nil
}

func (b *Badger) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.pending.reset()
	return b.db.Close()
}

// Drop closes the database and removes its directory.
func (b *Badger) Drop() error {
	if err := b.Close(); err != nil {
		return err
	}
	if b.path == "" {
		return nil
	}
	b.log.WithFields(logrus.Fields{
		"path": b.path,
	}).Info("Dropping local mirror")
	return os.RemoveAll(b.path)
}

func (b *Badger) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
