package pebbledb

import (
	"encoding/binary"
	"fmt"
	"log"
	"path/filepath"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
	"github.com/qubic/go-offchain-worker/entities"
)

const (
	lastProcessedBlockKey = 0x00
	stateKeyPrefix        = 0x01
)

// LedgerStore persists the ledger state written by the runtime and the last produced block.
type LedgerStore struct {
	db *pebble.DB
}

func NewLedgerStore(storeDir string) (*LedgerStore, error) {
	db, err := pebble.Open(filepath.Join(storeDir, "ledger-state"), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("opening pebble db: %v", err)
	}

	return &LedgerStore{db: db}, nil
}

func (ls *LedgerStore) Read(key string) ([]byte, error) {
	value, err := get(ls.db, stateKey(key))
	if err != nil {
		return nil, errors.Wrapf(err, "reading state key [%s]", key)
	}
	return value, nil
}

// WriteBatch commits all values atomically in a single synced batch.
func (ls *LedgerStore) WriteBatch(values map[string][]byte) error {
	batch := ls.db.NewBatch()
	defer batch.Close()

	for key, value := range values {
		err := batch.Set(stateKey(key), value, nil)
		if err != nil {
			return errors.Wrapf(err, "setting state key [%s] in batch", key)
		}
	}
	err := batch.Commit(pebble.Sync)
	if err != nil {
		return errors.Wrapf(err, "committing batch of [%d] state keys", len(values))
	}
	return nil
}

func (ls *LedgerStore) SetLastProcessedBlock(block uint64) error {
	key := []byte{lastProcessedBlockKey}
	var value []byte
	value = binary.BigEndian.AppendUint64(value, block)

	err := ls.db.Set(key, value, pebble.Sync)
	if err != nil {
		return errors.Wrapf(err, "setting last processed block to [%d]", block)
	}
	return nil
}

func (ls *LedgerStore) GetLastProcessedBlock() (uint64, error) {
	value, err := get(ls.db, []byte{lastProcessedBlockKey})
	if errors.Is(err, entities.ErrNotFound) {
		log.Printf("[WARN] last processed block not found.")
		return 0, err
	}
	if err != nil {
		return 0, errors.Wrap(err, "getting last processed block")
	}
	if len(value) != 8 {
		return 0, errors.Errorf("invalid last processed block value of length [%d]", len(value))
	}
	return binary.BigEndian.Uint64(value), nil
}

func (ls *LedgerStore) Close() error {
	return ls.db.Close()
}

func stateKey(key string) []byte {
	return append([]byte{stateKeyPrefix}, key...)
}

// get returns a copy of the value, since pebble only guarantees it until the closer is closed.
func get(db *pebble.DB, key []byte) ([]byte, error) {
	value, closer, err := db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, entities.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := closer.Close(); err != nil {
			log.Printf("[ERROR] closing db get: %v", err)
		}
	}()

	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}
