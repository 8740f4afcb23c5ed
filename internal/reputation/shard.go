package reputation

import (
	"hash/fnv"
	"sync"
)

const numShards = 64

// shard is a single partition of the sharded record map.
type shard struct {
	mu    sync.Mutex
	items map[string]*SuspicionRecord
}

// shardedRecords splits the suspicion records into fixed shards so
// that different identities never contend on one lock.
type shardedRecords struct {
	shards [numShards]shard
}

func newShardedRecords() *shardedRecords {
	var m shardedRecords
	for i := range m.shards {
		m.shards[i].items = make(map[string]*SuspicionRecord)
	}
	return &m
}

func (m *shardedRecords) getShard(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &m.shards[h.Sum32()%numShards]
}

// len returns the total entry count across shards.
func (m *shardedRecords) len() int {
	n := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		n += len(s.items)
		s.mu.Unlock()
	}
	return n
}
