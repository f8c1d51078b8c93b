package cache

import (
	"bytes"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spaolacci/murmur3"
)

// DefaultShards is the number of lock stripes used when CacheConfig.Shards is zero.
const DefaultShards = 16

type item struct {
	value  []byte
	expiry time.Time
}

// expired reports whether the item is logically absent at now.
// A zero expiry never expires.
func (it item) expired(now time.Time) bool {
	return !it.expiry.IsZero() && !now.Before(it.expiry)
}

type shard struct {
	mu    sync.Mutex
	items map[string]item
}

// Cache is a concurrency-safe key-value store with lazy expiration.
//
// Keys are spread across independently locked shards by MurmurHash3, so
// operations on different keys rarely contend. Expired entries are only
// removed when they are read.
type Cache struct {
	shards  []*shard
	mask    uint32
	now     func() time.Time
	expired atomic.Uint64
}

type CacheConfig struct {
	// Number of lock stripes, rounded up to a power of two.
	Shards int
	// Clock used for expiry decisions. Defaults to time.Now.
	Now func() time.Time
}

func NewCache(cfg CacheConfig) *Cache {
	count := nextPowerOfTwo(cfg.Shards)

	if cfg.Shards <= 0 {
		count = DefaultShards
	}

	now := cfg.Now

	if now == nil {
		now = time.Now
	}

	ch := &Cache{
		shards: make([]*shard, count),
		mask:   uint32(count - 1),
		now:    now,
	}

	for i := range ch.shards {
		ch.shards[i] = &shard{items: map[string]item{}}
	}

	return ch
}

func (ch *Cache) shardFor(key string) *shard {
	return ch.shards[murmur3.Sum32([]byte(key))&ch.mask]
}

// Get returns the value stored under key. An expired entry is deleted and
// reported as missing.
func (ch *Cache) Get(key string) ([]byte, bool) {
	s := ch.shardFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[key]

	if !ok {
		return nil, false
	}

	if it.expired(ch.now()) {
		delete(s.items, key)
		ch.expired.Add(1)
		return nil, false
	}

	return bytes.Clone(it.value), true
}

// Set stores value under key, replacing any previous entry. A positive ttl
// makes the entry expire ttl after now; otherwise it never expires.
func (ch *Cache) Set(key string, value []byte, ttl time.Duration) {
	var expiry time.Time

	if ttl > 0 {
		expiry = ch.now().Add(ttl)
	}

	ch.put(key, value, expiry)
}

// Restore stores value with an absolute expiry, as read from a snapshot.
// Entries that are already expired are dropped and Restore returns false.
func (ch *Cache) Restore(key string, value []byte, expiry time.Time) bool {
	if (item{expiry: expiry}).expired(ch.now()) {
		return false
	}

	ch.put(key, value, expiry)

	return true
}

func (ch *Cache) put(key string, value []byte, expiry time.Time) {
	s := ch.shardFor(key)
	it := item{value: bytes.Clone(value), expiry: expiry}

	if it.value == nil {
		it.value = []byte{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[key] = it
}

// Len returns the number of stored entries, including expired entries that
// have not been read since they expired.
func (ch *Cache) Len() int {
	total := 0

	for _, s := range ch.shards {
		s.mu.Lock()
		total += len(s.items)
		s.mu.Unlock()
	}

	return total
}

// Expired returns how many entries have been removed on access because
// their expiry had passed.
func (ch *Cache) Expired() uint64 {
	return ch.expired.Load()
}

func nextPowerOfTwo(n int) int {
	p := 1

	for p < n {
		p <<= 1
	}

	return p
}
