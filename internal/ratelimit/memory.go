package ratelimit

import (
	"context"
	"time"
)

// bucket is the per-(category, identity) window state. Guarded by its
// shard lock.
type bucket struct {
	points       int
	windowStart  time.Time
	blockedUntil time.Time
	lastSeen     time.Time
}

// MemoryStore keeps buckets in a sharded in-process map.
type MemoryStore struct {
	buckets *shardedMap[*bucket]
	done    chan struct{}
	nowFn   func() time.Time
}

// NewMemoryStore creates a MemoryStore and starts its cleanup loop.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		buckets: newShardedMap[*bucket](),
		done:    make(chan struct{}),
		nowFn:   time.Now,
	}
	go s.cleanup(5 * time.Minute)
	return s
}

// Consume implements Store.
func (s *MemoryStore) Consume(_ context.Context, key string, limit CategoryLimit) (Outcome, error) {
	now := s.nowFn()

	sh := s.buckets.getShard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	b, ok := sh.items[key]
	if !ok {
		b = &bucket{windowStart: now}
		sh.items[key] = b
	}
	b.lastSeen = now

	// Sticky block takes precedence over window accounting.
	if !b.blockedUntil.IsZero() {
		if now.Before(b.blockedUntil) {
			return Outcome{RetryAfter: b.blockedUntil.Sub(now)}, nil
		}
		// Block expired; start fresh.
		b.blockedUntil = time.Time{}
		b.points = 0
		b.windowStart = now
	}

	if now.Sub(b.windowStart) > limit.Window {
		b.points = 0
		b.windowStart = now
	}

	b.points++
	if b.points > limit.Limit {
		b.blockedUntil = now.Add(limit.BlockDuration)
		return Outcome{RetryAfter: limit.BlockDuration}, nil
	}

	return Outcome{Allowed: true, Remaining: limit.Limit - b.points}, nil
}

// Close stops the cleanup loop.
func (s *MemoryStore) Close() error {
	close(s.done)
	return nil
}

// Len returns the live bucket count.
func (s *MemoryStore) Len() int {
	return s.buckets.len()
}

// cleanup evicts buckets with no recent activity. Blocked buckets are
// kept until the block expires regardless of idleness.
func (s *MemoryStore) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.evictIdle(s.nowFn())
		}
	}
}

func (s *MemoryStore) evictIdle(now time.Time) {
	s.buckets.deleteFunc(func(_ string, b *bucket) bool {
		if now.Before(b.blockedUntil) {
			return false
		}
		return now.Sub(b.lastSeen) > 2*time.Hour
	})
}
