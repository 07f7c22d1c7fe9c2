package pebbledb

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
	"github.com/qubic/go-offchain-worker/entities"
)

type BlockNumberProvider interface {
	CurrentBlock() uint64
}

// OffchainStore is node local durable storage for worker invocations. It holds cache entries and
// locks, both of which expire only after their block and their time deadline have passed.
type OffchainStore struct {
	db     *pebble.DB
	blocks BlockNumberProvider
	now    func() time.Time
	mutex  sync.Mutex // serializes read-check-write of locks
}

func NewOffchainStore(storeDir string, blocks BlockNumberProvider) (*OffchainStore, error) {
	db, err := pebble.Open(filepath.Join(storeDir, "offchain-storage"), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("opening pebble db: %v", err)
	}

	return &OffchainStore{
		db:     db,
		blocks: blocks,
		now:    time.Now,
	}, nil
}

func (s *OffchainStore) Get(_ context.Context, key string) ([]byte, error) {
	entry, err := s.load(key)
	if errors.Is(err, entities.ErrNotFound) {
		return nil, entities.ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	if entry.Deadline.HasExpired(s.blocks.CurrentBlock(), s.now()) {
		return nil, entities.ErrCacheMiss
	}
	return entry.Value, nil
}

func (s *OffchainStore) Set(_ context.Context, key string, value []byte, ttl entities.TTL) error {
	entry := entities.CacheEntry{
		Value:    value,
		Deadline: entities.NewDeadline(s.blocks.CurrentBlock(), s.now(), ttl),
	}
	return s.store(key, entry)
}

// TryLock claims the key unless a holder with an unexpired deadline exists.
func (s *OffchainStore) TryLock(_ context.Context, key string, ttl entities.TTL) (*entities.Guard, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	currentBlock := s.blocks.CurrentBlock()
	now := s.now()

	existing, err := s.load(key)
	if err != nil && !errors.Is(err, entities.ErrNotFound) {
		return nil, err
	}
	if err == nil && !existing.Deadline.HasExpired(currentBlock, now) {
		return nil, errors.Wrapf(entities.ErrAlreadyHeld, "key [%s] until block [%d]", key, existing.Deadline.Block)
	}

	deadline := entities.NewDeadline(currentBlock, now, ttl)
	err = s.store(key, entities.CacheEntry{Deadline: deadline})
	if err != nil {
		return nil, errors.Wrapf(err, "storing lock [%s]", key)
	}
	return &entities.Guard{Key: key, Deadline: deadline}, nil
}

func (s *OffchainStore) Close() error {
	return s.db.Close()
}

func (s *OffchainStore) load(key string) (entities.CacheEntry, error) {
	value, err := get(s.db, []byte(key))
	if err != nil {
		if errors.Is(err, entities.ErrNotFound) {
			return entities.CacheEntry{}, err
		}
		return entities.CacheEntry{}, errors.Wrapf(err, "getting value for key [%s]", key)
	}
	return entities.UnmarshalCacheEntry(value)
}

func (s *OffchainStore) store(key string, entry entities.CacheEntry) error {
	value, err := entry.Marshal()
	if err != nil {
		return err
	}
	err = s.db.Set([]byte(key), value, pebble.Sync)
	if err != nil {
		return errors.Wrapf(err, "setting key [%s]", key)
	}
	return nil
}
