// Package reputation tracks per-identity suspicion and escalates
// repeat offenders into a permanent block set. Promotion is
// irreversible except through an explicit administrative whitelist.
package reputation

import (
	"sync"
	"sync/atomic"
	"time"
)

const defaultThreshold = 3

// SuspicionRecord accumulates detected-attack events for one identity.
// Counts are monotonically non-decreasing until the identity is
// whitelisted.
type SuspicionRecord struct {
	Count         int       `json:"count"`
	FirstSeen     time.Time `json:"first_seen"`
	LastSeen      time.Time `json:"last_seen"`
	LastCategory  string    `json:"last_category"`
	LastPatternID string    `json:"last_pattern_id"`
}

type blockEntry struct {
	Reason    string    `json:"reason"`
	BlockedAt time.Time `json:"blocked_at"`
}

// Config holds tracker settings.
type Config struct {
	// Threshold is the suspicion count that triggers promotion into
	// the block set. 0 means the default of 3.
	Threshold int
}

// Tracker owns the suspicion records and the blocked/whitelist sets.
// Suspicion updates are serialized per identity on a sharded map;
// the membership sets share one read-mostly lock. The two are never
// held together.
type Tracker struct {
	records *shardedRecords

	setsMu    sync.RWMutex
	blocked   map[string]blockEntry
	whitelist map[string]struct{}
	threshold int

	recorded   atomic.Int64
	promotions atomic.Int64
	blockHits  atomic.Int64
}

// NewTracker creates a Tracker.
func NewTracker(cfg Config) *Tracker {
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	return &Tracker{
		records:   newShardedRecords(),
		blocked:   make(map[string]blockEntry),
		whitelist: make(map[string]struct{}),
		threshold: threshold,
	}
}

// IsBlocked is a cheap set-membership query, consulted first in the
// pipeline.
func (t *Tracker) IsBlocked(identity string) bool {
	t.setsMu.RLock()
	_, blocked := t.blocked[identity]
	t.setsMu.RUnlock()
	if blocked {
		t.blockHits.Add(1)
	}
	return blocked
}

// RecordSuspicion increments the identity's record and promotes it
// into the block set once the threshold is reached. Whitelisted
// identities are counted but never auto-promoted.
func (t *Tracker) RecordSuspicion(identity, category, patternID string) (count int, promoted bool) {
	t.recorded.Add(1)
	now := time.Now()

	s := t.records.getShard(identity)
	s.mu.Lock()
	rec, ok := s.items[identity]
	if !ok {
		rec = &SuspicionRecord{FirstSeen: now}
		s.items[identity] = rec
	}
	rec.Count++
	rec.LastSeen = now
	rec.LastCategory = category
	rec.LastPatternID = patternID
	count = rec.Count
	s.mu.Unlock()

	if count < t.threshold {
		return count, false
	}

	t.setsMu.Lock()
	defer t.setsMu.Unlock()
	if _, whitelisted := t.whitelist[identity]; whitelisted {
		return count, false
	}
	if _, alreadyBlocked := t.blocked[identity]; alreadyBlocked {
		return count, false
	}
	t.blocked[identity] = blockEntry{
		Reason:    "suspicion threshold reached: " + category,
		BlockedAt: now,
	}
	t.promotions.Add(1)
	return count, true
}

// Block adds an identity to the block set immediately (administrative).
func (t *Tracker) Block(identity, reason string) {
	t.setsMu.Lock()
	defer t.setsMu.Unlock()
	delete(t.whitelist, identity)
	t.blocked[identity] = blockEntry{Reason: reason, BlockedAt: time.Now()}
}

// Whitelist removes an identity from the block set, zeroes its
// suspicion record and shields it from automatic re-promotion until
// Unwhitelist is called.
func (t *Tracker) Whitelist(identity string) {
	t.setsMu.Lock()
	delete(t.blocked, identity)
	t.whitelist[identity] = struct{}{}
	t.setsMu.Unlock()

	s := t.records.getShard(identity)
	s.mu.Lock()
	delete(s.items, identity)
	s.mu.Unlock()
}

// Unwhitelist removes the administrative shield from an identity.
func (t *Tracker) Unwhitelist(identity string) {
	t.setsMu.Lock()
	defer t.setsMu.Unlock()
	delete(t.whitelist, identity)
}

// SuspicionCount returns the current count for an identity (0 if none).
func (t *Tracker) SuspicionCount(identity string) int {
	s := t.records.getShard(identity)
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.items[identity]; ok {
		return rec.Count
	}
	return 0
}

// Snapshot is the admin representation of tracker state.
type Snapshot struct {
	BlockedCount    int              `json:"blocked_count"`
	SuspiciousCount int              `json:"suspicious_count"`
	WhitelistCount  int              `json:"whitelist_count"`
	Threshold       int              `json:"threshold"`
	Metrics         map[string]int64 `json:"metrics"`
}

// Status returns the admin snapshot.
func (t *Tracker) Status() Snapshot {
	t.setsMu.RLock()
	blockedCount := len(t.blocked)
	whitelistCount := len(t.whitelist)
	t.setsMu.RUnlock()

	return Snapshot{
		BlockedCount:    blockedCount,
		SuspiciousCount: t.records.len(),
		WhitelistCount:  whitelistCount,
		Threshold:       t.threshold,
		Metrics: map[string]int64{
			"recorded":   t.recorded.Load(),
			"promotions": t.promotions.Load(),
			"block_hits": t.blockHits.Load(),
		},
	}
}

// BlockedIdentities returns the blocked set with reasons, for the
// admin API.
func (t *Tracker) BlockedIdentities() map[string]string {
	t.setsMu.RLock()
	defer t.setsMu.RUnlock()
	out := make(map[string]string, len(t.blocked))
	for id, entry := range t.blocked {
		out[id] = entry.Reason
	}
	return out
}
