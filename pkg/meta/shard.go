package meta

import (
	"bytes"
)

// ShardStatus shard lifecycle status
type ShardStatus byte

var (
	// ShardActive accepts transactions
	ShardActive = ShardStatus(0)
	// ShardSplitting is being split at the next epoch
	ShardSplitting = ShardStatus(1)
	// ShardMerging is being merged at the next epoch
	ShardMerging = ShardStatus(2)
	// ShardSuspended does not accept transactions
	ShardSuspended = ShardStatus(3)
)

// Name returns name of the status
func (s ShardStatus) Name() string {
	switch s {
	case ShardActive:
		return "active"
	case ShardSplitting:
		return "splitting"
	case ShardMerging:
		return "merging"
	case ShardSuspended:
		return "suspended"
	default:
		return "unknown"
	}
}

// Keyspace is the half open key range [Start, End) owned by a shard.
// An empty Start is the smallest key, an empty End is unbounded.
type Keyspace struct {
	Start []byte `json:"s"`
	End   []byte `json:"e"`
}

// Unbounded returns true if the range has no upper bound
func (k Keyspace) Unbounded() bool {
	return len(k.End) == 0
}

// Contains returns true if the key is inside the range
func (k Keyspace) Contains(key []byte) bool {
	if bytes.Compare(key, k.Start) < 0 {
		return false
	}

	return k.Unbounded() || bytes.Compare(key, k.End) < 0
}

// Adjacent returns true if next starts where k ends
func (k Keyspace) Adjacent(next Keyspace) bool {
	return !k.Unbounded() && bytes.Equal(k.End, next.Start)
}

// StrictlyInside returns true if key splits the range into two non empty parts
func (k Keyspace) StrictlyInside(key []byte) bool {
	return bytes.Compare(key, k.Start) > 0 && k.Contains(key)
}

func (k Keyspace) clone() Keyspace {
	return Keyspace{
		Start: cloneBytes(k.Start),
		End:   cloneBytes(k.End),
	}
}

// ValidatorAssignment the validators of a shard during one epoch
type ValidatorAssignment struct {
	ShardID               ShardID     `json:"shard"`
	EpochID               EpochID     `json:"epoch"`
	Validators            []PublicKey `json:"validators"`
	ProposerRotationIndex uint64      `json:"rotation"`
}

// Proposer returns the block proposer at height, rotated per block
func (a ValidatorAssignment) Proposer(height uint64) PublicKey {
	if len(a.Validators) == 0 {
		return nil
	}

	n := uint64(len(a.Validators))
	return a.Validators[(a.ProposerRotationIndex%n+height%n)%n]
}

// Contains returns true if the key is one of the validators
func (a ValidatorAssignment) Contains(key PublicKey) bool {
	for _, v := range a.Validators {
		if v.Equal(key) {
			return true
		}
	}

	return false
}

func (a ValidatorAssignment) clone() ValidatorAssignment {
	value := a
	value.Validators = make([]PublicKey, len(a.Validators))
	for i, v := range a.Validators {
		value.Validators[i] = PublicKey(cloneBytes(v))
	}
	return value
}

// Shard a partition of the key space
type Shard struct {
	ID                  ShardID             `json:"id"`
	Status              ShardStatus         `json:"status"`
	EpochID             EpochID             `json:"epoch"`
	Validators          ValidatorAssignment `json:"validators"`
	StateRoot           StateRoot           `json:"root"`
	Keyspace            Keyspace            `json:"keyspace"`
	PendingTransactions []TransactionID     `json:"pending,omitempty"`
	CommittedTxCount    uint64              `json:"committed"`
}

// CommitTransactions replaces the state root and clears the pending queue
func (s *Shard) CommitTransactions(root StateRoot, committed uint64) {
	s.StateRoot = root
	s.PendingTransactions = nil
	s.CommittedTxCount += committed
}

// Clone returns a deep copy
func (s *Shard) Clone() *Shard {
	value := *s
	value.Validators = s.Validators.clone()
	value.Keyspace = s.Keyspace.clone()
	if len(s.PendingTransactions) > 0 {
		value.PendingTransactions = make([]TransactionID, len(s.PendingTransactions))
		copy(value.PendingTransactions, s.PendingTransactions)
	}
	return &value
}

func cloneBytes(value []byte) []byte {
	if value == nil {
		return nil
	}

	data := make([]byte, len(value))
	copy(data, value)
	return data
}
