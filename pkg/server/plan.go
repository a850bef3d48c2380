package server

import (
	"github.com/infinivision/shardledger/pkg/meta"
)

// KeyRouter returns the shard owning a key
type KeyRouter interface {
	ShardForKey(key []byte) (meta.ShardID, bool)
}

// PlanLocks routes every key to its shard, returns the keys by shard and
// the shards in ascending order
func PlanLocks(router KeyRouter, keys [][]byte) (map[meta.ShardID][][]byte, []meta.ShardID, error) {
	plan := make(map[meta.ShardID][][]byte)
	for _, key := range keys {
		id, ok := router.ShardForKey(key)
		if !ok {
			return nil, nil, meta.Errorf(meta.ErrShardNotFound, "no shard owns key %x", key)
		}
		plan[id] = append(plan[id], key)
	}

	shards := make([]meta.ShardID, 0, len(plan))
	for id, value := range plan {
		plan[id] = meta.NormalizeKeys(value)
		shards = append(shards, id)
	}
	return plan, meta.NormalizeShardIDs(shards), nil
}
