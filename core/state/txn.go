package state

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"escrowledger/storage"
)

// Txn buffers writes against a Manager. Commit applies the whole set as a
// single storage batch; Discard drops it.
type Txn struct {
	manager *Manager
	writes  map[string][]byte
	deleted map[string]struct{}
	closed  bool
}

// KVGet reads through the overlay into committed state.
func (t *Txn) KVGet(key []byte, out interface{}) (bool, error) {
	if t.closed {
		return false, ErrTxnClosed
	}
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	k := string(key)
	if _, gone := t.deleted[k]; gone {
		return false, nil
	}
	if data, ok := t.writes[k]; ok {
		return decodeInto(data, out)
	}
	data, err := t.manager.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return decodeInto(data, out)
}

// KVPut stages an RLP encoded value.
func (t *Txn) KVPut(key []byte, value interface{}) error {
	if t.closed {
		return ErrTxnClosed
	}
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	k := string(key)
	delete(t.deleted, k)
	t.writes[k] = encoded
	return nil
}

// KVDelete stages a deletion.
func (t *Txn) KVDelete(key []byte) error {
	if t.closed {
		return ErrTxnClosed
	}
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	k := string(key)
	delete(t.writes, k)
	t.deleted[k] = struct{}{}
	return nil
}

// Pending reports the number of staged mutations.
func (t *Txn) Pending() int {
	return len(t.writes) + len(t.deleted)
}

// Commit writes every staged mutation in one batch and closes the
// transaction.
func (t *Txn) Commit() error {
	if t.closed {
		return ErrTxnClosed
	}
	t.closed = true
	if t.Pending() == 0 {
		return nil
	}
	batch := t.manager.db.NewBatch()
	for k, v := range t.writes {
		batch.Put([]byte(k), v)
	}
	for k := range t.deleted {
		batch.Delete([]byte(k))
	}
	return batch.Write()
}

// Discard drops staged mutations. Calling Discard after Commit is a no-op so
// callers can defer it unconditionally.
func (t *Txn) Discard() {
	if t.closed {
		return
	}
	t.closed = true
	t.writes = nil
	t.deleted = nil
}
