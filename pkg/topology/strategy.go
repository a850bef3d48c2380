package topology

import (
	"github.com/infinivision/shardledger/pkg/meta"
)

// AssignmentStrategy deals validators over shards
type AssignmentStrategy interface {
	// Name returns the strategy name
	Name() string
	// Assign returns the ordered validators of every shard, every shard gets at least one
	Assign(epoch meta.EpochID, shards []meta.ShardID, validators []meta.PublicKey) (map[meta.ShardID][]meta.PublicKey, error)
}

type roundRobinStrategy struct{}

// NewRoundRobinStrategy returns a strategy dealing validators round robin
// in shard id order
func NewRoundRobinStrategy() AssignmentStrategy {
	return roundRobinStrategy{}
}

func (roundRobinStrategy) Name() string {
	return "round-robin"
}

func (roundRobinStrategy) Assign(epoch meta.EpochID, shards []meta.ShardID, validators []meta.PublicKey) (map[meta.ShardID][]meta.PublicKey, error) {
	if len(shards) == 0 {
		return nil, meta.ErrZeroShards
	}

	ordered, err := canonicalValidators(validators)
	if err != nil {
		return nil, err
	}

	return roundRobin(meta.NormalizeShardIDs(shards), ordered), nil
}

type slashingAwareStrategy struct {
	slashed func(meta.PublicKey) bool
}

// NewSlashingAwareStrategy returns a round robin strategy that skips slashed
// validators. If every validator is slashed the full set is used, so that no
// shard is left without a validator.
func NewSlashingAwareStrategy(slashed func(meta.PublicKey) bool) AssignmentStrategy {
	return &slashingAwareStrategy{slashed: slashed}
}

func (s *slashingAwareStrategy) Name() string {
	return "slashing-aware"
}

func (s *slashingAwareStrategy) Assign(epoch meta.EpochID, shards []meta.ShardID, validators []meta.PublicKey) (map[meta.ShardID][]meta.PublicKey, error) {
	if len(shards) == 0 {
		return nil, meta.ErrZeroShards
	}

	ordered, err := canonicalValidators(validators)
	if err != nil {
		return nil, err
	}

	pool := make([]meta.PublicKey, 0, len(ordered))
	for _, v := range ordered {
		if s.slashed == nil || !s.slashed(v) {
			pool = append(pool, v)
		}
	}
	if len(pool) == 0 {
		pool = ordered
	}

	return roundRobin(meta.NormalizeShardIDs(shards), pool), nil
}

// roundRobin deals max(len(shards), len(validators)) slots, slot k goes to
// shard k%len(shards) with validator k%len(validators).
func roundRobin(shards []meta.ShardID, validators []meta.PublicKey) map[meta.ShardID][]meta.PublicKey {
	slots := len(shards)
	if len(validators) > slots {
		slots = len(validators)
	}

	value := make(map[meta.ShardID][]meta.PublicKey, len(shards))
	for k := 0; k < slots; k++ {
		id := shards[k%len(shards)]
		value[id] = append(value[id], validators[k%len(validators)])
	}
	return value
}
