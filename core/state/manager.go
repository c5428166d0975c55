package state

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"

	"recycler/storage"
)

const kvPrefix = "kv/"

// Manager layers a journaled write cache over a Database. Every mutation made
// through the manager is recorded so that callers can take a snapshot before a
// multi-step operation and revert to it if any step fails. Nothing reaches the
// underlying database until Commit is called.
//
// A Manager is not safe for concurrent use; callers serialise access.
type Manager struct {
	db storage.Database

	dirty          map[string]dirtyValue
	journal        []journalEntry
	validRevisions []revision
	nextRevisionID int
}

type dirtyValue struct {
	value   []byte
	deleted bool
}

type journalEntry struct {
	key     string
	prev    dirtyValue
	existed bool
}

type revision struct {
	id           int
	journalIndex int
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, dirty: make(map[string]dirtyValue)}
}

func kvKey(key []byte) []byte {
	out := make([]byte, 0, len(kvPrefix)+len(key))
	out = append(out, kvPrefix...)
	return append(out, key...)
}

func (m *Manager) read(key []byte) ([]byte, error) {
	if entry, ok := m.dirty[string(key)]; ok {
		if entry.deleted {
			return nil, nil
		}
		return entry.value, nil
	}
	if m.db == nil {
		return nil, fmt.Errorf("state: database not configured")
	}
	value, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (m *Manager) write(key []byte, value []byte, deleted bool) {
	k := string(key)
	prev, existed := m.dirty[k]
	m.journal = append(m.journal, journalEntry{key: k, prev: prev, existed: existed})
	m.dirty[k] = dirtyValue{value: append([]byte(nil), value...), deleted: deleted}
}

// Snapshot returns an identifier for the current revision of the state.
func (m *Manager) Snapshot() int {
	id := m.nextRevisionID
	m.nextRevisionID++
	m.validRevisions = append(m.validRevisions, revision{id: id, journalIndex: len(m.journal)})
	return id
}

// RevertToSnapshot undoes every write made since the given snapshot was taken.
func (m *Manager) RevertToSnapshot(id int) {
	idx := sort.Search(len(m.validRevisions), func(i int) bool {
		return m.validRevisions[i].id >= id
	})
	if idx == len(m.validRevisions) || m.validRevisions[idx].id != id {
		panic(fmt.Errorf("state: revision id %v cannot be reverted", id))
	}
	target := m.validRevisions[idx].journalIndex
	for i := len(m.journal) - 1; i >= target; i-- {
		entry := m.journal[i]
		if entry.existed {
			m.dirty[entry.key] = entry.prev
		} else {
			delete(m.dirty, entry.key)
		}
	}
	m.journal = m.journal[:target]
	m.validRevisions = m.validRevisions[:idx]
}

// Dirty reports whether uncommitted writes are pending.
func (m *Manager) Dirty() bool {
	return len(m.dirty) > 0
}

// Commit flushes the pending writes to the database in a single batch and
// clears the journal. Outstanding snapshots are invalidated.
func (m *Manager) Commit() error {
	if len(m.dirty) == 0 {
		m.resetJournal()
		return nil
	}
	if m.db == nil {
		return fmt.Errorf("state: database not configured")
	}
	keys := make([]string, 0, len(m.dirty))
	for k := range m.dirty {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	batch := m.db.NewBatch()
	for _, k := range keys {
		entry := m.dirty[k]
		if entry.deleted {
			batch.Delete([]byte(k))
			continue
		}
		batch.Put([]byte(k), entry.value)
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	m.dirty = make(map[string]dirtyValue)
	m.resetJournal()
	return nil
}

// Discard drops every uncommitted write.
func (m *Manager) Discard() {
	m.dirty = make(map[string]dirtyValue)
	m.resetJournal()
}

func (m *Manager) resetJournal() {
	m.journal = nil
	m.validRevisions = nil
}

// KVPut stores the RLP encoding of value under the supplied key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.write(kvKey(key), encoded, false)
	return nil
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.read(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes the value stored under key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	m.write(kvKey(key), nil, true)
	return nil
}

// KVAppend appends the provided value to the RLP-encoded byte slice list stored
// under the supplied key. Duplicate values are ignored to keep the index
// deterministic.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	hashed := kvKey(key)
	data, err := m.read(hashed)
	if err != nil {
		return err
	}
	var list [][]byte
	if len(data) > 0 {
		if err := rlp.DecodeBytes(data, &list); err != nil {
			return err
		}
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	encoded, err := rlp.EncodeToBytes(list)
	if err != nil {
		return err
	}
	m.write(hashed, encoded, false)
	return nil
}

// KVGetList decodes the list stored under key into out, which must point to a
// slice. Missing keys yield an empty slice.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.read(kvKey(key))
	if err != nil {
		return err
	}
	if len(data) == 0 {
		val := reflect.ValueOf(out)
		if val.Kind() != reflect.Ptr || val.IsNil() {
			return fmt.Errorf("kv: destination must be a non-nil pointer")
		}
		elem := val.Elem()
		if elem.Kind() != reflect.Slice {
			return fmt.Errorf("kv: destination must point to a slice")
		}
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
		return nil
	}
	return rlp.DecodeBytes(data, out)
}
