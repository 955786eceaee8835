package sharding

import "github.com/cespare/xxhash/v2"

type ShardRouter struct {
	ShardCount int // Number of shards
}

func NewShardRouter(shardCount int) *ShardRouter {
	if shardCount < 1 {
		shardCount = 1
	}
	return &ShardRouter{ShardCount: shardCount}
}

// GetShard hashes a string key (user id, order id) to a shard index.
func (r *ShardRouter) GetShard(key string) int {
	if r.ShardCount == 1 {
		return 0
	}
	return int(xxhash.Sum64String(key) % uint64(r.ShardCount))
}
