package lock

import (
	"github.com/infinivision/shardledger/pkg/meta"
)

// ShardLockManager holds the state locks of exactly one shard. Every method
// is serialized with respect to the shard.
type ShardLockManager interface {
	// ShardID returns the owning shard
	ShardID() meta.ShardID
	// Epoch returns the epoch used to stamp and expire locks
	Epoch() meta.EpochID
	// CheckKeys returns a conflict error if any key is held, without side effect
	CheckKeys(keys [][]byte) error
	// AcquireLock locks every key for the transaction, or none of them
	AcquireLock(id meta.StateLockID, tx meta.TransactionID, keys [][]byte) error
	// MarkPreparing marks a held lock as preparing
	MarkPreparing(id meta.StateLockID) error
	// ReleaseLock releases a held lock, releasing twice is an error
	ReleaseLock(id meta.StateLockID) error
	// Lock returns a copy of the lock
	Lock(id meta.StateLockID) (meta.StateLock, bool)
	// LocksOf returns copies of the held locks of the transaction
	LocksOf(tx meta.TransactionID) []meta.StateLock
	// Locks returns copies of every lock record, ordered by id
	Locks() []meta.StateLock
	// HeldCount returns the number of held locks
	HeldCount() int
	// AdvanceEpoch moves to the epoch and releases the expired locks
	AdvanceEpoch(epoch meta.EpochID) []meta.StateLock
	// CleanupExpiredLocks releases every expired lock and returns them
	CleanupExpiredLocks() []meta.StateLock
	// VerifyConsistency checks the key index against the lock records
	VerifyConsistency() error
}
