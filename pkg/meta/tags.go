package meta

import (
	"fmt"
)

// TagTransaction returns a log tag of a cross shard transaction
func TagTransaction(id TransactionID, action string) string {
	return fmt.Sprintf("TX[%s]-%s", id.Short(), action)
}

// TagShard returns a log tag of a shard
func TagShard(id ShardID, action string) string {
	return fmt.Sprintf("[shard-%d]-%s", id, action)
}

// TagEpoch returns a log tag of an epoch
func TagEpoch(id EpochID, action string) string {
	return fmt.Sprintf("[epoch-%d]-%s", id, action)
}

// BlockShardFields the shard related fields of a block header
type BlockShardFields struct {
	EpochID           EpochID `json:"epoch_id"`
	ShardRegistryRoot string  `json:"shard_registry_root"`
	ShardID           ShardID `json:"shard_id"`
	ShardStateRoot    string  `json:"shard_state_root"`
}
