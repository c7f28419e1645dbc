package state

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"

	"zkbounty/storage"
)

var errTxClosed = errors.New("state: transaction already closed")

// Manager owns the durable ledger state. All mutations go through a Tx so an
// operation either lands as a single storage batch or not at all.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// Begin opens a write overlay on top of the database. Reads through the
// transaction observe its own pending writes.
func (m *Manager) Begin() *Tx {
	return &Tx{db: m.db, pending: make(map[string]pendingWrite)}
}

// View runs fn against a transaction that is always discarded.
func (m *Manager) View(fn func(tx *Tx) error) error {
	tx := m.Begin()
	defer tx.Discard()
	return fn(tx)
}

type pendingWrite struct {
	value   []byte
	deleted bool
}

// Tx buffers writes until Commit. It is not safe for concurrent use; the
// dispatcher serializes operations before opening one.
type Tx struct {
	db      storage.Database
	pending map[string]pendingWrite
	closed  bool
}

func (tx *Tx) get(key []byte) ([]byte, bool, error) {
	if tx.closed {
		return nil, false, errTxClosed
	}
	if w, ok := tx.pending[string(key)]; ok {
		if w.deleted {
			return nil, false, nil
		}
		return w.value, true, nil
	}
	value, err := tx.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (tx *Tx) put(key, value []byte) error {
	if tx.closed {
		return errTxClosed
	}
	tx.pending[string(key)] = pendingWrite{value: append([]byte(nil), value...)}
	return nil
}

func (tx *Tx) delete(key []byte) error {
	if tx.closed {
		return errTxClosed
	}
	tx.pending[string(key)] = pendingWrite{deleted: true}
	return nil
}

// KVPut RLP-encodes value and stores it under key.
func (tx *Tx) KVPut(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return tx.put(key, encoded)
}

// KVGet decodes the value stored under key into out. The boolean reports
// whether the key exists.
func (tx *Tx) KVGet(key []byte, out interface{}) (bool, error) {
	if out == nil {
		return false, fmt.Errorf("kv get: output must not be nil")
	}
	if reflect.ValueOf(out).Kind() != reflect.Ptr {
		return false, fmt.Errorf("kv get: output must be a pointer")
	}
	data, ok, err := tx.get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("kv get %q: %w", key, err)
	}
	return true, nil
}

// KVDelete removes key.
func (tx *Tx) KVDelete(key []byte) error {
	return tx.delete(key)
}

// Dirty returns the number of keys touched by the transaction.
func (tx *Tx) Dirty() int { return len(tx.pending) }

// Commit writes every pending change in one batch. Keys are applied in sorted
// order so identical transactions produce identical batches.
func (tx *Tx) Commit() error {
	if tx.closed {
		return errTxClosed
	}
	tx.closed = true
	if len(tx.pending) == 0 {
		return nil
	}
	keys := make([][]byte, 0, len(tx.pending))
	for k := range tx.pending {
		keys = append(keys, []byte(k))
	}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i], keys[j]) < 0 })
	batch := tx.db.NewBatch()
	for _, k := range keys {
		w := tx.pending[string(k)]
		if w.deleted {
			batch.Delete(k)
			continue
		}
		batch.Put(k, w.value)
	}
	tx.pending = nil
	if err := batch.Write(); err != nil {
		return fmt.Errorf("state: commit %d keys: %w", len(keys), err)
	}
	return nil
}

// Discard drops every pending change. It is safe to call after Commit.
func (tx *Tx) Discard() {
	tx.closed = true
	tx.pending = nil
}
