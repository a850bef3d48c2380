package meta

import (
	"errors"
	"fmt"
)

// topology construction errors
var (
	// ErrZeroShards ZeroShards err
	ErrZeroShards = newError(1, "shard count must be positive")
	// ErrZeroValidators ZeroValidators err
	ErrZeroValidators = newError(2, "validator set is empty")
	// ErrDuplicateValidator DuplicateValidator err
	ErrDuplicateValidator = newError(3, "duplicate validator key")
	// ErrTooManyShards TooManyShards err
	ErrTooManyShards = newError(4, "too many shards for the key prefix space")
	// ErrShardNotFound ShardNotFound err
	ErrShardNotFound = newError(5, "shard not found")
	// ErrShardNotActive ShardNotActive err
	ErrShardNotActive = newError(6, "shard is not active")
	// ErrNonAdjacentMerge NonAdjacentMerge err
	ErrNonAdjacentMerge = newError(7, "merge of non adjacent shards")
	// ErrOverlappingSplit OverlappingSplit err
	ErrOverlappingSplit = newError(8, "split point outside the shard keyspace")
	// ErrShardChangedTwice ShardChangedTwice err
	ErrShardChangedTwice = newError(9, "shard affected by more than one change")
	// ErrInvalidRegistry InvalidRegistry err
	ErrInvalidRegistry = newError(10, "invalid shard registry")
)

// epoch binding errors
var (
	// ErrEpochMismatch EpochMismatch err
	ErrEpochMismatch = newError(20, "epoch mismatch")
	// ErrProtocolVersionMismatch ProtocolVersionMismatch err
	ErrProtocolVersionMismatch = newError(21, "protocol version mismatch")
	// ErrNoPendingTopology NoPendingTopology err
	ErrNoPendingTopology = newError(22, "no staged topology")
	// ErrRegistryRootMismatch RegistryRootMismatch err
	ErrRegistryRootMismatch = newError(23, "registry root mismatch")
)

// lock errors
var (
	// ErrLockConflict LockConflict err
	ErrLockConflict = newError(30, "state key already locked")
	// ErrLockExists LockExists err
	ErrLockExists = newError(31, "lock id already in use")
	// ErrLockNotFound LockNotFound err
	ErrLockNotFound = newError(32, "lock not found")
	// ErrLockAlreadyReleased LockAlreadyReleased err
	ErrLockAlreadyReleased = newError(33, "lock already released")
	// ErrLockInconsistent LockInconsistent err
	ErrLockInconsistent = newError(34, "lock index inconsistent")
	// ErrTransactionLocksHeld TransactionLocksHeld err
	ErrTransactionLocksHeld = newError(35, "transaction already holds locks")
	// ErrUnknownLockShard UnknownLockShard err
	ErrUnknownLockShard = newError(36, "no lock manager for shard")
	// ErrLockLost LockLost err
	ErrLockLost = newError(37, "transaction no longer holds its lock")
)

// vote and protocol errors
var (
	// ErrForeignTransaction ForeignTransaction err
	ErrForeignTransaction = newError(40, "vote for a foreign transaction")
	// ErrShardNotInvolved ShardNotInvolved err
	ErrShardNotInvolved = newError(41, "shard not involved in transaction")
	// ErrInvalidSignature InvalidSignature err
	ErrInvalidSignature = newError(42, "invalid vote signature")
	// ErrDuplicateVote DuplicateVote err
	ErrDuplicateVote = newError(43, "shard already voted")
	// ErrInvalidPhase InvalidPhase err
	ErrInvalidPhase = newError(44, "operation not allowed in current phase")
	// ErrUnknownValidator UnknownValidator err
	ErrUnknownValidator = newError(45, "signer is not a validator of the shard")
	// ErrTransactionExists TransactionExists err
	ErrTransactionExists = newError(46, "transaction already registered")
	// ErrTransactionNotFound TransactionNotFound err
	ErrTransactionNotFound = newError(47, "transaction not found")
	// ErrInvalidTransaction InvalidTransaction err
	ErrInvalidTransaction = newError(48, "invalid transaction")
	// ErrHeightRegression HeightRegression err
	ErrHeightRegression = newError(49, "block height regression")
	// ErrTransactionExpired TransactionExpired err
	ErrTransactionExpired = newError(50, "transaction already expired")
)

// commit integrity errors
var (
	// ErrMissingReceipt MissingReceipt err
	ErrMissingReceipt = newError(60, "missing receipt")
	// ErrReceiptNotCommitted ReceiptNotCommitted err
	ErrReceiptNotCommitted = newError(61, "receipt not committed")
	// ErrUnexpectedReceipt UnexpectedReceipt err
	ErrUnexpectedReceipt = newError(62, "receipt from a shard outside the transaction")
)

// recovery errors
var (
	// ErrSnapshotInconsistent SnapshotInconsistent err
	ErrSnapshotInconsistent = newError(70, "coordinator snapshot inconsistent")
	// ErrRecoveryGivenUp RecoveryGivenUp err
	ErrRecoveryGivenUp = newError(71, "recovery attempts exhausted")
)

// ErrStopped the component is stopped
var ErrStopped = errors.New("stopped")

// Error error
type Error struct {
	Code byte
	msg  string
}

func newError(code byte, msg string) *Error {
	return &Error{
		Code: code,
		msg:  msg,
	}
}

// Error error
func (err *Error) Error() string {
	return fmt.Sprintf("error code %d: %s", err.Code, err.msg)
}

// DetailError is a coded error with context
type DetailError struct {
	Base   *Error
	Detail string
}

// Errorf returns the base error with the formatted detail attached
func Errorf(base *Error, format string, args ...interface{}) error {
	return &DetailError{
		Base:   base,
		Detail: fmt.Sprintf(format, args...),
	}
}

// Error error
func (err *DetailError) Error() string {
	return fmt.Sprintf("%s, %s", err.Base.Error(), err.Detail)
}

// Unwrap returns the coded error
func (err *DetailError) Unwrap() error {
	return err.Base
}

// IsError returns true if err is, or wraps, the coded error
func IsError(err error, base *Error) bool {
	return errors.Is(err, base)
}
