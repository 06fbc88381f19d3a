package auth

import (
	"sync"
	"time"
)

const revocationShardCount = 16

// Entries are swept opportunistically once a shard grows past this size;
// sweeping removes records older than the maximum credential lifetime, whose
// tokens have necessarily expired on their own.
const revocationSweepThreshold = 512

// RevocationSet is the in-process set of revoked token ids (jti). Presence
// means the credential carrying that id is rejected regardless of signature
// validity or expiry. Records are added by explicit revoke operations
// (logout, admin suspension) delivered through the identity authority; they
// are never removed by anything other than the lifetime-bound sweep.
//
// The set is sharded so concurrent verifications on unrelated tokens do not
// contend.
type RevocationSet struct {
	shards      [revocationShardCount]*revocationShard
	maxLifetime time.Duration
}

type revocationShard struct {
	mu      sync.RWMutex
	entries map[string]time.Time // token id -> revoked at
}

// NewRevocationSet builds an empty set. maxLifetime is the longest possible
// credential lifetime; records older than it are droppable because checking
// them is moot once the token itself has expired.
func NewRevocationSet(maxLifetime time.Duration) *RevocationSet {
	s := &RevocationSet{maxLifetime: maxLifetime}
	for i := range s.shards {
		s.shards[i] = &revocationShard{entries: make(map[string]time.Time)}
	}
	return s
}

// Revoke records a token id as revoked.
func (s *RevocationSet) Revoke(tokenID string) {
	if tokenID == "" {
		return
	}
	shard := s.shardFor(tokenID)
	shard.mu.Lock()
	shard.entries[tokenID] = time.Now()
	if len(shard.entries) > revocationSweepThreshold {
		shard.sweep(s.maxLifetime)
	}
	shard.mu.Unlock()
}

// IsRevoked reports whether the token id has been revoked.
func (s *RevocationSet) IsRevoked(tokenID string) bool {
	if tokenID == "" {
		return false
	}
	shard := s.shardFor(tokenID)
	shard.mu.RLock()
	revokedAt, ok := shard.entries[tokenID]
	shard.mu.RUnlock()
	if !ok {
		return false
	}
	// A record past the maximum credential lifetime refers to a token that
	// has expired on its own; it reads as absent and is reclaimed by the
	// next sweep.
	return time.Since(revokedAt) <= s.maxLifetime
}

// Len returns the number of live revocation records.
func (s *RevocationSet) Len() int {
	n := 0
	for _, shard := range s.shards {
		shard.mu.RLock()
		n += len(shard.entries)
		shard.mu.RUnlock()
	}
	return n
}

func (s *RevocationSet) shardFor(key string) *revocationShard {
	hash := uint32(0)
	for _, b := range []byte(key) {
		hash = hash*31 + uint32(b)
	}
	return s.shards[hash%revocationShardCount]
}

// sweep removes lifetime-expired records. Caller holds the write lock.
func (sh *revocationShard) sweep(maxLifetime time.Duration) {
	cutoff := time.Now().Add(-maxLifetime)
	for id, revokedAt := range sh.entries {
		if revokedAt.Before(cutoff) {
			delete(sh.entries, id)
		}
	}
}
