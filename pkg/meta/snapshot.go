package meta

import (
	"sort"

	"github.com/fagongzi/util/json"
)

// CoordinatorStateSnapshot an immutable point in time copy of a coordinator,
// used for recovery and for cross node determinism checks.
type CoordinatorStateSnapshot struct {
	Transaction      CrossShardTransaction `json:"tx"`
	CoordinatorShard ShardID               `json:"coordinator"`
	Phase            CoordinatorPhase      `json:"phase"`
	Votes            []PrepareVote         `json:"votes"`
	Receipts         []CrossShardReceipt   `json:"receipts"`
	Status           TransactionStatus     `json:"status"`
	AbortReason      string                `json:"reason,omitempty"`
	RegisteredHeight uint64                `json:"registered_height"`
	TimeoutHeight    uint64                `json:"timeout_height"`
	RegisteredEpoch  EpochID               `json:"registered_epoch"`
	Locks            []LockedKeys          `json:"locks,omitempty"`
}

// LockedKeys the keys a transaction locks on one shard
type LockedKeys struct {
	ShardID ShardID  `json:"shard"`
	Keys    [][]byte `json:"keys"`
}

// NewLockedKeys returns the lock plan ordered by shard, keys normalized
func NewLockedKeys(plan map[ShardID][][]byte) []LockedKeys {
	var value []LockedKeys
	for id, keys := range plan {
		value = append(value, LockedKeys{ShardID: id, Keys: NormalizeKeys(keys)})
	}
	sort.Slice(value, func(i, j int) bool { return value[i].ShardID < value[j].ShardID })
	return value
}

// NewSnapshot returns a snapshot with votes and receipts ordered by shard
func NewSnapshot(tx CrossShardTransaction, phase CoordinatorPhase, lifecycle CrossShardTransactionLifecycle,
	registeredHeight, timeoutHeight uint64, registeredEpoch EpochID) CoordinatorStateSnapshot {
	s := CoordinatorStateSnapshot{
		Transaction:      tx.Clone(),
		CoordinatorShard: tx.CoordinatorShard(),
		Phase:            phase,
		Status:           lifecycle.Status,
		AbortReason:      lifecycle.AbortReason,
		RegisteredHeight: registeredHeight,
		TimeoutHeight:    timeoutHeight,
		RegisteredEpoch:  registeredEpoch,
	}

	for _, v := range lifecycle.PrepareVotes {
		s.Votes = append(s.Votes, v)
	}
	sort.Slice(s.Votes, func(i, j int) bool { return s.Votes[i].ShardID < s.Votes[j].ShardID })

	for _, r := range lifecycle.Receipts {
		s.Receipts = append(s.Receipts, r)
	}
	sort.Slice(s.Receipts, func(i, j int) bool { return s.Receipts[i].ShardID < s.Receipts[j].ShardID })

	return s
}

// Vote returns the recorded vote of the shard
func (s *CoordinatorStateSnapshot) Vote(id ShardID) (PrepareVote, bool) {
	for _, v := range s.Votes {
		if v.ShardID == id {
			return v, true
		}
	}

	return PrepareVote{}, false
}

// Receipt returns the recorded receipt of the shard
func (s *CoordinatorStateSnapshot) Receipt(id ShardID) (CrossShardReceipt, bool) {
	for _, r := range s.Receipts {
		if r.ShardID == id {
			return r, true
		}
	}

	return CrossShardReceipt{}, false
}

// LockPlan returns the locked keys by shard
func (s *CoordinatorStateSnapshot) LockPlan() map[ShardID][][]byte {
	value := make(map[ShardID][][]byte, len(s.Locks))
	for _, l := range s.Locks {
		value[l.ShardID] = NormalizeKeys(l.Keys)
	}
	return value
}

// Lifecycle rebuilds the lifecycle maps
func (s *CoordinatorStateSnapshot) Lifecycle() CrossShardTransactionLifecycle {
	value := NewLifecycle()
	value.Status = s.Status
	value.AbortReason = s.AbortReason
	for _, v := range s.Votes {
		value.PrepareVotes[v.ShardID] = v
	}
	for _, r := range s.Receipts {
		value.Receipts[r.ShardID] = r
	}
	return value
}

// Digest returns a fingerprint of the snapshot, two honest nodes that saw the
// same inputs produce the same digest.
func (s *CoordinatorStateSnapshot) Digest() Digest {
	return HashParts([]byte("coordinator-snapshot"), json.MustMarshal(s))
}
