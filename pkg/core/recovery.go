package core

import (
	"github.com/infinivision/shardledger/pkg/meta"
	"github.com/infinivision/shardledger/pkg/sign"
)

// DefaultMaxRecoveryAttempts attempts before a recovery gives up
const DefaultMaxRecoveryAttempts = 5

// RecoveryReason why a coordinator is recovered
type RecoveryReason byte

var (
	// CoordinatorCrash the node restarted
	CoordinatorCrash = RecoveryReason(0)
	// NetworkPartition votes or receipts were lost
	NetworkPartition = RecoveryReason(1)
	// ByzantineBehavior a shard reported inconsistent data
	ByzantineBehavior = RecoveryReason(2)
)

// Name returns name of the reason
func (r RecoveryReason) Name() string {
	switch r {
	case CoordinatorCrash:
		return "coordinator_crash"
	case NetworkPartition:
		return "network_partition"
	case ByzantineBehavior:
		return "byzantine_behavior"
	default:
		return "unknown"
	}
}

// RecoveryOrchestrator rebuilds a coordinator from its last snapshot. Every
// attempt builds a new coordinator, the snapshot is never mutated.
type RecoveryOrchestrator struct {
	snapshot    meta.CoordinatorStateSnapshot
	reason      RecoveryReason
	attempts    int
	maxAttempts int
	lastErr     error
}

// NewRecoveryOrchestrator returns a orchestrator
func NewRecoveryOrchestrator(snapshot meta.CoordinatorStateSnapshot, reason RecoveryReason, maxAttempts int) *RecoveryOrchestrator {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxRecoveryAttempts
	}

	return &RecoveryOrchestrator{
		snapshot:    snapshot,
		reason:      reason,
		maxAttempts: maxAttempts,
	}
}

// Snapshot returns the snapshot the recovery starts from
func (r *RecoveryOrchestrator) Snapshot() meta.CoordinatorStateSnapshot {
	return r.snapshot
}

// Reason returns the recovery reason
func (r *RecoveryOrchestrator) Reason() RecoveryReason {
	return r.reason
}

// Attempts returns the attempts made
func (r *RecoveryOrchestrator) Attempts() int {
	return r.attempts
}

// LastError returns the error of the last failed attempt
func (r *RecoveryOrchestrator) LastError() error {
	return r.lastErr
}

// ShouldGiveUp returns true once every attempt is used
func (r *RecoveryOrchestrator) ShouldGiveUp() bool {
	return r.attempts >= r.maxAttempts
}

// Attempt rebuilds a coordinator, each call uses one attempt
func (r *RecoveryOrchestrator) Attempt(verifier sign.Verifier, assignments AssignmentSource) (*TwoPhaseCommitCoordinator, error) {
	if r.ShouldGiveUp() {
		return nil, meta.Errorf(meta.ErrRecoveryGivenUp, "%d attempts, last error %v", r.attempts, r.lastErr)
	}

	r.attempts++
	c, err := RestoreCoordinator(r.snapshot, verifier, assignments)
	if err != nil {
		r.lastErr = err
		return nil, err
	}

	return c, nil
}

// Fail records a failure after a successful rebuild, e.g. the locks could not be taken again
func (r *RecoveryOrchestrator) Fail(err error) {
	r.lastErr = err
}

// abortedSnapshot returns the snapshot terminated with the status, used
// when no coordinator can be rebuilt
func (r *RecoveryOrchestrator) abortedSnapshot(status meta.TransactionStatus, reason string) meta.CoordinatorStateSnapshot {
	value := r.snapshot
	value.Transaction = r.snapshot.Transaction.Clone()
	value.Phase = meta.Terminal
	value.Status = status
	value.AbortReason = reason
	return value
}
