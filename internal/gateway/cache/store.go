package cache

import (
	"container/list"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/taskmesh/gateway/internal/config"
)

const shardCount = 16

// Entry is one cached response. Body and Header are treated as immutable
// once stored; callers must not mutate what Get returns.
type Entry struct {
	Key      string
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
	TTL      time.Duration
}

// expired reports whether the entry's TTL has elapsed at now.
func (e *Entry) expired(now time.Time) bool {
	return now.After(e.StoredAt.Add(e.TTL))
}

// cacheShard owns a disjoint slice of the key space. Each shard bounds its
// own entry count and evicts in its own insertion order; the shard caps sum
// to the configured ceiling, so the global bound holds while keeping shards
// free of cross-shard coordination.
type cacheShard struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // *Entry values, front = oldest inserted
	maxSize int
}

// Stats captures cache activity counters for observability surfaces.
type Stats struct {
	Hits          int64
	Misses        int64
	Stores        int64
	Evictions     int64
	Expirations   int64
	Invalidations int64
	Entries       int
}

// Store is a sharded in-memory response cache with passive TTL expiry and
// per-shard FIFO eviction. Expired entries are detected and removed on the
// read path; no background scavenger runs.
type Store struct {
	shards     [shardCount]*cacheShard
	defaultTTL time.Duration

	hits          atomic.Int64
	misses        atomic.Int64
	stores        atomic.Int64
	evictions     atomic.Int64
	expirations   atomic.Int64
	invalidations atomic.Int64
}

// NewStore builds a cache sized and timed per cfg. The configured ceiling is
// distributed evenly across shards, each shard holding at least one entry.
func NewStore(cfg config.CacheConfig) *Store {
	perShard := cfg.MaxEntries / shardCount
	if perShard < 1 {
		perShard = 1
	}
	s := &Store{defaultTTL: cfg.DefaultTTL}
	for i := range s.shards {
		s.shards[i] = &cacheShard{
			entries: make(map[string]*list.Element),
			order:   list.New(),
			maxSize: perShard,
		}
	}
	return s
}

func (s *Store) shardFor(key string) *cacheShard {
	var hash uint32
	for i := 0; i < len(key); i++ {
		hash = hash*31 + uint32(key[i])
	}
	return s.shards[hash%shardCount]
}

// Get returns the entry for key if present and fresh. An expired entry
// counts as a miss and is removed in the same step, so stale responses are
// never served and dead entries do not linger until eviction pressure.
func (s *Store) Get(key string) (*Entry, bool) {
	shard := s.shardFor(key)

	shard.mu.Lock()
	elem, ok := shard.entries[key]
	if !ok {
		shard.mu.Unlock()
		s.misses.Add(1)
		return nil, false
	}
	entry := elem.Value.(*Entry)
	if entry.expired(time.Now()) {
		delete(shard.entries, key)
		shard.order.Remove(elem)
		shard.mu.Unlock()
		s.expirations.Add(1)
		s.misses.Add(1)
		return nil, false
	}
	shard.mu.Unlock()

	s.hits.Add(1)
	return entry, true
}

// Put stores entry under entry.Key, replacing any previous value. A replaced
// key is treated as newly inserted for eviction ordering. When the shard is
// full the oldest-inserted entry is evicted to admit the new one.
func (s *Store) Put(entry *Entry) {
	if entry.TTL <= 0 {
		entry.TTL = s.defaultTTL
	}
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now()
	}
	shard := s.shardFor(entry.Key)

	shard.mu.Lock()
	if elem, ok := shard.entries[entry.Key]; ok {
		elem.Value = entry
		shard.order.MoveToBack(elem)
		shard.mu.Unlock()
		s.stores.Add(1)
		return
	}
	if shard.order.Len() >= shard.maxSize {
		oldest := shard.order.Front()
		if oldest != nil {
			delete(shard.entries, oldest.Value.(*Entry).Key)
			shard.order.Remove(oldest)
			s.evictions.Add(1)
		}
	}
	shard.entries[entry.Key] = shard.order.PushBack(entry)
	shard.mu.Unlock()

	s.stores.Add(1)
}

// Invalidate removes entries matching pattern and returns how many were
// dropped. A pattern ending in '*' removes every key with the preceding
// prefix; any other pattern removes at most the one exact key. Unmatched
// patterns are a no-op, not an error.
func (s *Store) Invalidate(pattern string) int {
	removed := 0
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		for _, shard := range s.shards {
			shard.mu.Lock()
			for key, elem := range shard.entries {
				if strings.HasPrefix(key, prefix) {
					delete(shard.entries, key)
					shard.order.Remove(elem)
					removed++
				}
			}
			shard.mu.Unlock()
		}
	} else {
		shard := s.shardFor(pattern)
		shard.mu.Lock()
		if elem, ok := shard.entries[pattern]; ok {
			delete(shard.entries, pattern)
			shard.order.Remove(elem)
			removed++
		}
		shard.mu.Unlock()
	}
	if removed > 0 {
		s.invalidations.Add(int64(removed))
	}
	return removed
}

// Len reports the number of live entries across all shards, including any
// that expired but have not been touched since.
func (s *Store) Len() int {
	total := 0
	for _, shard := range s.shards {
		shard.mu.Lock()
		total += len(shard.entries)
		shard.mu.Unlock()
	}
	return total
}

// GetStats snapshots the activity counters.
func (s *Store) GetStats() Stats {
	return Stats{
		Hits:          s.hits.Load(),
		Misses:        s.misses.Load(),
		Stores:        s.stores.Load(),
		Evictions:     s.evictions.Load(),
		Expirations:   s.expirations.Load(),
		Invalidations: s.invalidations.Load(),
		Entries:       s.Len(),
	}
}
