package state

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"escrowledger/storage"
)

// ErrTxnClosed is returned when a transaction is used after Commit or Discard.
var ErrTxnClosed = errors.New("state: transaction closed")

// KV is the narrow read/write surface shared by the manager and its
// transactions. Values are RLP encoded.
type KV interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

// Manager provides RLP encoded key/value access on top of a storage backend.
// Mutations that must land together go through Begin.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// Database exposes the underlying storage backend.
func (m *Manager) Database() storage.Database {
	if m == nil {
		return nil
	}
	return m.db
}

// KVPut stores the provided value under the supplied key using RLP
// encoding. The write is applied immediately.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.db.Put(key, encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return decodeInto(data, out)
}

// KVDelete removes the key from state. Deleting an absent key is a no-op.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return m.db.Delete(key)
}

// Begin opens a write overlay. Reads observe the overlay first and fall back
// to committed state; nothing reaches the database until Commit.
func (m *Manager) Begin() *Txn {
	return &Txn{
		manager: m,
		writes:  make(map[string][]byte),
		deleted: make(map[string]struct{}),
	}
}

func decodeInto(data []byte, out interface{}) (bool, error) {
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

// LoadBigInt reads an amount stored under key, returning zero when absent.
func LoadBigInt(kv KV, key []byte) (*big.Int, error) {
	value := new(big.Int)
	ok, err := kv.KVGet(key, value)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return value, nil
}

// StoreBigInt persists a non-negative amount. Zero amounts delete the key so
// drained entries do not linger in state.
func StoreBigInt(kv KV, key []byte, value *big.Int) error {
	if value == nil || value.Sign() == 0 {
		return kv.KVDelete(key)
	}
	if value.Sign() < 0 {
		return fmt.Errorf("kv: negative amount for %s", string(key))
	}
	return kv.KVPut(key, value)
}
