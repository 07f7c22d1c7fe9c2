package entities

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// TTL is an expiry expressed both in blocks and in wall clock time.
type TTL struct {
	Blocks uint64
	Time   time.Duration
}

type Deadline struct {
	Block uint64    `json:"block"`
	Time  time.Time `json:"time"`
}

func NewDeadline(currentBlock uint64, now time.Time, ttl TTL) Deadline {
	return Deadline{
		Block: currentBlock + ttl.Blocks,
		Time:  now.Add(ttl.Time),
	}
}

// HasExpired reports whether both the block and the time deadline have passed.
func (d Deadline) HasExpired(currentBlock uint64, now time.Time) bool {
	return currentBlock > d.Block && now.After(d.Time)
}

// CacheEntry is the envelope persisted for cache values and locks. Locks carry no value.
type CacheEntry struct {
	Value    []byte   `json:"value,omitempty"`
	Deadline Deadline `json:"deadline"`
}

func (e CacheEntry) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(err, "marshalling cache entry")
	}
	return data, nil
}

func UnmarshalCacheEntry(data []byte) (CacheEntry, error) {
	var entry CacheEntry
	err := json.Unmarshal(data, &entry)
	if err != nil {
		return CacheEntry{}, errors.Wrap(err, "unmarshalling cache entry")
	}
	return entry, nil
}

// Guard proves ownership of a lock until its deadline has expired. There is no unlock.
type Guard struct {
	Key      string
	Deadline Deadline
}
