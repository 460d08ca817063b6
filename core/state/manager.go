package state

import (
	"encoding/binary"
	"errors"
	"fmt"
	"reflect"
	"sort"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"lukechampine.com/blake3"

	"tranchelend/storage"
)

// Manager is a write-back key/value cache over a storage.Database. Writes are
// journaled so callers can take nested snapshots and revert them; nothing
// reaches the database until Commit.
type Manager struct {
	db        storage.Database
	dirty     map[string]dirtyValue
	journal   []journalEntry
	revisions []int
}

type dirtyValue struct {
	value   []byte
	deleted bool
}

// journalEntry records the dirty slot a write replaced.
type journalEntry struct {
	key     string
	prev    dirtyValue
	hadPrev bool
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, dirty: make(map[string]dirtyValue)}
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func (m *Manager) set(hashed []byte, value dirtyValue) {
	k := string(hashed)
	prev, ok := m.dirty[k]
	m.journal = append(m.journal, journalEntry{key: k, prev: prev, hadPrev: ok})
	m.dirty[k] = value
}

func (m *Manager) get(hashed []byte) ([]byte, error) {
	if v, ok := m.dirty[string(hashed)]; ok {
		if v.deleted {
			return nil, nil
		}
		return v.value, nil
	}
	data, err := m.db.Get(hashed)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return data, err
}

// KVPut stores the RLP encoding of value under key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.set(kvKey(key), dirtyValue{value: encoded})
	return nil
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.get(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if val := reflect.ValueOf(out); val.Kind() != reflect.Ptr || val.IsNil() {
		return false, fmt.Errorf("kv: destination must be a non-nil pointer")
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes key. Deleting a missing key is a no-op.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	m.set(kvKey(key), dirtyValue{deleted: true})
	return nil
}

// Snapshot returns an identifier for the current revision of the state.
func (m *Manager) Snapshot() int {
	id := len(m.revisions)
	m.revisions = append(m.revisions, len(m.journal))
	return id
}

// RevertToSnapshot discards every write made since the snapshot was taken,
// including nested snapshots opened afterwards.
func (m *Manager) RevertToSnapshot(id int) {
	if id < 0 || id >= len(m.revisions) {
		panic(fmt.Errorf("state: revision id %d cannot be reverted", id))
	}
	mark := m.revisions[id]
	for i := len(m.journal) - 1; i >= mark; i-- {
		entry := m.journal[i]
		if entry.hadPrev {
			m.dirty[entry.key] = entry.prev
		} else {
			delete(m.dirty, entry.key)
		}
	}
	m.journal = m.journal[:mark]
	m.revisions = m.revisions[:id]
}

// Commit flushes every pending write to the database in one batch and clears
// the journal. Open snapshots are invalidated.
func (m *Manager) Commit() error {
	if len(m.dirty) == 0 {
		m.journal = m.journal[:0]
		m.revisions = m.revisions[:0]
		return nil
	}
	keys := m.sortedDirtyKeys()
	batch := make([]storage.Mutation, 0, len(keys))
	for _, k := range keys {
		v := m.dirty[k]
		batch = append(batch, storage.Mutation{Key: []byte(k), Value: v.value, Delete: v.deleted})
	}
	if err := m.db.Write(batch); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	m.dirty = make(map[string]dirtyValue)
	m.journal = m.journal[:0]
	m.revisions = m.revisions[:0]
	return nil
}

// Pending reports the number of keys written since the last commit.
func (m *Manager) Pending() int {
	return len(m.dirty)
}

func (m *Manager) sortedDirtyKeys() []string {
	keys := make([]string, 0, len(m.dirty))
	for k := range m.dirty {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Digest hashes the visible state (committed entries overlaid with pending
// writes) in key order. Two managers holding the same entries produce the same
// digest regardless of how the writes were batched.
func (m *Manager) Digest() ([]byte, error) {
	entries := make(map[string][]byte)
	if err := m.db.Iterate(nil, func(key, value []byte) error {
		entries[string(key)] = value
		return nil
	}); err != nil {
		return nil, err
	}
	for k, v := range m.dirty {
		if v.deleted {
			delete(entries, k)
			continue
		}
		entries[k] = v.value
	}
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := blake3.New(32, nil)
	var lenBuf [8]byte
	for _, k := range keys {
		for _, part := range [][]byte{[]byte(k), entries[k]} {
			binary.BigEndian.PutUint64(lenBuf[:], uint64(len(part)))
			h.Write(lenBuf[:])
			h.Write(part)
		}
	}
	return h.Sum(nil), nil
}
