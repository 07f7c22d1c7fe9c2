package redis

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/qubic/go-offchain-worker/entities"
	"github.com/redis/go-redis/v9"
)

type BlockNumberProvider interface {
	CurrentBlock() uint64
}

// Cache is a durable cache and lock shared by every process connected to the same redis. Entries
// carry their own block and time deadline, no native redis expiry is set because the block
// deadline may outlive the time deadline.
type Cache struct {
	rdb    redis.UniversalClient
	blocks BlockNumberProvider
	now    func() time.Time
}

func NewCache(rdb redis.UniversalClient, blocks BlockNumberProvider) *Cache {
	return &Cache{
		rdb:    rdb,
		blocks: blocks,
		now:    time.Now,
	}
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, entities.ErrCacheMiss
	}
	if err != nil {
		return nil, errors.Wrapf(err, "getting key [%s]", key)
	}

	entry, err := entities.UnmarshalCacheEntry(value)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding key [%s]", key)
	}
	if entry.Deadline.HasExpired(c.blocks.CurrentBlock(), c.now()) {
		return nil, entities.ErrCacheMiss
	}
	return entry.Value, nil
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl entities.TTL) error {
	entry := entities.CacheEntry{
		Value:    value,
		Deadline: entities.NewDeadline(c.blocks.CurrentBlock(), c.now(), ttl),
	}
	data, err := entry.Marshal()
	if err != nil {
		return err
	}
	err = c.rdb.Set(ctx, key, data, 0).Err()
	if err != nil {
		return errors.Wrapf(err, "setting key [%s]", key)
	}
	return nil
}

// TryLock claims the key in an optimistic transaction. A concurrent writer aborts the transaction
// and is reported as a held lock.
func (c *Cache) TryLock(ctx context.Context, key string, ttl entities.TTL) (*entities.Guard, error) {
	var guard *entities.Guard

	claim := func(tx *redis.Tx) error {
		currentBlock := c.blocks.CurrentBlock()
		now := c.now()

		value, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return errors.Wrapf(err, "getting lock [%s]", key)
		}
		if err == nil {
			existing, err := entities.UnmarshalCacheEntry(value)
			if err != nil {
				return errors.Wrapf(err, "decoding lock [%s]", key)
			}
			if !existing.Deadline.HasExpired(currentBlock, now) {
				return errors.Wrapf(entities.ErrAlreadyHeld, "key [%s] until block [%d]", key, existing.Deadline.Block)
			}
		}

		deadline := entities.NewDeadline(currentBlock, now, ttl)
		data, err := entities.CacheEntry{Deadline: deadline}.Marshal()
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		if err != nil {
			return err
		}
		guard = &entities.Guard{Key: key, Deadline: deadline}
		return nil
	}

	err := c.rdb.Watch(ctx, claim, key)
	if errors.Is(err, redis.TxFailedErr) {
		return nil, errors.Wrapf(entities.ErrAlreadyHeld, "key [%s] claimed concurrently", key)
	}
	if err != nil {
		return nil, err
	}
	return guard, nil
}
