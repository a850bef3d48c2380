package meta

import (
	"bytes"
	"sort"
)

// LockStatus state lock status
type LockStatus byte

var (
	// LockActive the lock is held
	LockActive = LockStatus(0)
	// LockPreparing the lock is held and the transaction is committing
	LockPreparing = LockStatus(1)
	// LockReleasing the lock is being released
	LockReleasing = LockStatus(2)
	// LockReleased the lock no longer excludes anything
	LockReleased = LockStatus(3)
)

// Name returns name of the status
func (s LockStatus) Name() string {
	switch s {
	case LockActive:
		return "active"
	case LockPreparing:
		return "preparing"
	case LockReleasing:
		return "releasing"
	case LockReleased:
		return "released"
	default:
		return "unknown"
	}
}

// Held returns true if the lock excludes its keys
func (s LockStatus) Held() bool {
	return s == LockActive || s == LockPreparing
}

// StateLock a time bounded exclusive claim on state keys of one shard
type StateLock struct {
	LockID        StateLockID   `json:"id"`
	TransactionID TransactionID `json:"tx"`
	LockedKeys    [][]byte      `json:"keys"`
	AcquiredEpoch EpochID       `json:"epoch"`
	MaxHoldEpochs uint64        `json:"max_hold"`
	Status        LockStatus    `json:"status"`
}

// IsExpired returns true once the lock was held for max hold epochs
func (l *StateLock) IsExpired(current EpochID) bool {
	if current < l.AcquiredEpoch {
		return false
	}

	return uint64(current-l.AcquiredEpoch) >= l.MaxHoldEpochs
}

// HasKey returns true if the key is part of the lock
func (l *StateLock) HasKey(key []byte) bool {
	i := sort.Search(len(l.LockedKeys), func(i int) bool {
		return bytes.Compare(l.LockedKeys[i], key) >= 0
	})

	return i < len(l.LockedKeys) && bytes.Equal(l.LockedKeys[i], key)
}

// NormalizeKeys returns a sorted copy of the keys without duplicates
func NormalizeKeys(keys [][]byte) [][]byte {
	value := make([][]byte, 0, len(keys))
	for _, k := range keys {
		value = append(value, cloneBytes(k))
	}
	sort.Slice(value, func(i, j int) bool { return bytes.Compare(value[i], value[j]) < 0 })

	n := 0
	for i := range value {
		if n > 0 && bytes.Equal(value[i], value[n-1]) {
			continue
		}
		value[n] = value[i]
		n++
	}

	return value[:n]
}
