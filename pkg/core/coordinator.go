package core

import (
	"fmt"

	"github.com/infinivision/shardledger/pkg/meta"
	"github.com/infinivision/shardledger/pkg/sign"
)

// DecisionKind result kind of evaluating the prepare votes
type DecisionKind byte

var (
	// AwaitingPrepareVotes not every involved shard voted yet
	AwaitingPrepareVotes = DecisionKind(0)
	// CommitTransaction every involved shard voted to commit
	CommitTransaction = DecisionKind(1)
	// AbortTransaction at least one shard voted to abort
	AbortTransaction = DecisionKind(2)
)

// Name returns name of the decision
func (k DecisionKind) Name() string {
	switch k {
	case AwaitingPrepareVotes:
		return "awaiting"
	case CommitTransaction:
		return "commit"
	case AbortTransaction:
		return "abort"
	default:
		return "unknown"
	}
}

// Decision the outcome of evaluating the prepare votes
type Decision struct {
	Kind   DecisionKind
	Reason string
}

// AssignmentSource returns the validator assignment a vote is verified against
type AssignmentSource interface {
	Assignment(id meta.ShardID) (meta.ValidatorAssignment, bool)
}

// TwoPhaseCommitCoordinator drives one cross shard transaction through
// prepare and commit, or abort. It is not safe for concurrent use, the
// CoordinatorManager serializes every call.
type TwoPhaseCommitCoordinator struct {
	tx        meta.CrossShardTransaction
	phase     meta.CoordinatorPhase
	lifecycle meta.CrossShardTransactionLifecycle
	locks     []meta.LockedKeys

	registeredHeight uint64
	timeoutHeight    uint64
	registeredEpoch  meta.EpochID

	verifier    sign.Verifier
	assignments AssignmentSource
}

// NewTwoPhaseCommitCoordinator returns a coordinator in preparing phase
func NewTwoPhaseCommitCoordinator(tx meta.CrossShardTransaction, registeredHeight, timeoutHeight uint64,
	registeredEpoch meta.EpochID, verifier sign.Verifier, assignments AssignmentSource) *TwoPhaseCommitCoordinator {
	return &TwoPhaseCommitCoordinator{
		tx:               tx.Clone(),
		phase:            meta.PreparingPhase,
		lifecycle:        meta.NewLifecycle(),
		registeredHeight: registeredHeight,
		timeoutHeight:    timeoutHeight,
		registeredEpoch:  registeredEpoch,
		verifier:         verifier,
		assignments:      assignments,
	}
}

// RestoreCoordinator rebuilds a new coordinator from a snapshot, the
// snapshot is checked for internal consistency and every vote is verified
// again.
func RestoreCoordinator(snapshot meta.CoordinatorStateSnapshot, verifier sign.Verifier, assignments AssignmentSource) (*TwoPhaseCommitCoordinator, error) {
	c := NewTwoPhaseCommitCoordinator(snapshot.Transaction,
		snapshot.RegisteredHeight,
		snapshot.TimeoutHeight,
		snapshot.RegisteredEpoch,
		verifier,
		assignments)
	c.phase = snapshot.Phase
	c.lifecycle = snapshot.Lifecycle()
	c.locks = snapshot.Locks

	if err := c.checkRestored(&snapshot); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *TwoPhaseCommitCoordinator) checkRestored(snapshot *meta.CoordinatorStateSnapshot) error {
	if err := c.tx.Validate(); err != nil {
		return meta.Errorf(meta.ErrSnapshotInconsistent, "%v", err)
	}

	if snapshot.CoordinatorShard != c.tx.CoordinatorShard() {
		return meta.Errorf(meta.ErrSnapshotInconsistent, "coordinator shard %d, expect %d",
			snapshot.CoordinatorShard, c.tx.CoordinatorShard())
	}

	if c.timeoutHeight <= c.registeredHeight {
		return meta.Errorf(meta.ErrSnapshotInconsistent, "timeout height %d not after register height %d",
			c.timeoutHeight, c.registeredHeight)
	}

	if len(c.lifecycle.PrepareVotes) != len(snapshot.Votes) {
		return meta.Errorf(meta.ErrSnapshotInconsistent, "repeated votes")
	}
	for _, v := range snapshot.Votes {
		vote := v
		if err := c.VerifyVote(&vote); err != nil {
			return meta.Errorf(meta.ErrSnapshotInconsistent, "%v", err)
		}
	}

	for _, r := range snapshot.Receipts {
		if r.TransactionID != c.tx.ID || !c.tx.Involves(r.ShardID) {
			return meta.Errorf(meta.ErrSnapshotInconsistent, "foreign receipt of shard %d", r.ShardID)
		}
	}

	decision := c.evaluate()
	status := c.lifecycle.Status
	consistent := false
	switch c.phase {
	case meta.PreparingPhase:
		consistent = status == meta.TxPending && decision.Kind == AwaitingPrepareVotes
	case meta.ReadyToCommit:
		consistent = status == meta.TxPrepared && decision.Kind == CommitTransaction
	case meta.CommittingPhase:
		consistent = status == meta.TxCommitting && decision.Kind == CommitTransaction
	case meta.Aborting:
		consistent = status == meta.TxPending && decision.Kind == AbortTransaction
	case meta.Terminal:
		consistent = status.Terminal()
		if status == meta.TxCommitted {
			consistent = consistent && c.checkReceipts(snapshot.Receipts) == nil
		}
	}

	if !consistent {
		return meta.Errorf(meta.ErrSnapshotInconsistent, "phase %s with status %s and decision %s",
			c.phase.Name(), status.Name(), decision.Kind.Name())
	}

	return nil
}

// Transaction returns the transaction
func (c *TwoPhaseCommitCoordinator) Transaction() meta.CrossShardTransaction {
	return c.tx.Clone()
}

// ID returns the transaction id
func (c *TwoPhaseCommitCoordinator) ID() meta.TransactionID {
	return c.tx.ID
}

// CoordinatorShard returns the smallest involved shard
func (c *TwoPhaseCommitCoordinator) CoordinatorShard() meta.ShardID {
	return c.tx.CoordinatorShard()
}

// Phase returns the current phase
func (c *TwoPhaseCommitCoordinator) Phase() meta.CoordinatorPhase {
	return c.phase
}

// Status returns the lifecycle status
func (c *TwoPhaseCommitCoordinator) Status() meta.TransactionStatus {
	return c.lifecycle.Status
}

// IsTerminal returns true if nothing is left to do
func (c *TwoPhaseCommitCoordinator) IsTerminal() bool {
	return c.phase == meta.Terminal
}

// TimeoutHeight returns the block height at which the transaction is force aborted
func (c *TwoPhaseCommitCoordinator) TimeoutHeight() uint64 {
	return c.timeoutHeight
}

// RegisteredHeight returns the block height of registration
func (c *TwoPhaseCommitCoordinator) RegisteredHeight() uint64 {
	return c.registeredHeight
}

// Vote returns the recorded vote of the shard
func (c *TwoPhaseCommitCoordinator) Vote(id meta.ShardID) (meta.PrepareVote, bool) {
	v, ok := c.lifecycle.PrepareVotes[id]
	return v, ok
}

// VerifyVote checks the vote belongs to this transaction and is signed by
// a validator of the shard's current assignment.
func (c *TwoPhaseCommitCoordinator) VerifyVote(vote *meta.PrepareVote) error {
	if vote.TransactionID != c.tx.ID {
		return meta.Errorf(meta.ErrForeignTransaction, "vote for %s, coordinator of %s",
			vote.TransactionID.Short(), c.tx.ID.Short())
	}

	if !c.tx.Involves(vote.ShardID) {
		return meta.Errorf(meta.ErrShardNotInvolved, "shard %d", vote.ShardID)
	}

	assignment, ok := c.assignments.Assignment(vote.ShardID)
	if !ok || !assignment.Contains(vote.Signer) {
		return meta.Errorf(meta.ErrUnknownValidator, "signer %s of shard %d",
			vote.Signer.String(), vote.ShardID)
	}

	if !sign.VerifyVote(c.verifier, vote) {
		return meta.Errorf(meta.ErrInvalidSignature, "shard %d signer %s",
			vote.ShardID, vote.Signer.String())
	}

	return nil
}

// ReceivePrepareVote records a verified vote, once per shard, and evaluates
// the votes recorded so far.
func (c *TwoPhaseCommitCoordinator) ReceivePrepareVote(vote meta.PrepareVote) (Decision, error) {
	if err := c.VerifyVote(&vote); err != nil {
		return Decision{}, err
	}

	if c.phase != meta.PreparingPhase {
		return Decision{}, meta.Errorf(meta.ErrInvalidPhase, "vote of shard %d in phase %s",
			vote.ShardID, c.phase.Name())
	}

	if _, ok := c.lifecycle.PrepareVotes[vote.ShardID]; ok {
		return Decision{}, meta.Errorf(meta.ErrDuplicateVote, "shard %d", vote.ShardID)
	}

	vote.Signer = meta.PublicKey(append([]byte(nil), vote.Signer...))
	vote.Signature = append([]byte(nil), vote.Signature...)
	c.lifecycle.PrepareVotes[vote.ShardID] = vote
	return c.EvaluatePrepareResponses(), nil
}

// EvaluatePrepareResponses returns the decision of the recorded votes and
// moves to ReadyToCommit or Aborting once it is known. The result does not
// depend on vote arrival order.
func (c *TwoPhaseCommitCoordinator) EvaluatePrepareResponses() Decision {
	decision := c.evaluate()
	if c.phase != meta.PreparingPhase {
		return decision
	}

	switch decision.Kind {
	case CommitTransaction:
		c.phase = meta.ReadyToCommit
		c.lifecycle.Status = meta.TxPrepared
	case AbortTransaction:
		c.phase = meta.Aborting
	}

	return decision
}

func (c *TwoPhaseCommitCoordinator) evaluate() Decision {
	// the smallest rejecting shard names the reason, whatever the arrival order
	for _, id := range c.tx.InvolvedShards {
		if v, ok := c.lifecycle.PrepareVotes[id]; ok && !v.CanCommit {
			return Decision{
				Kind:   AbortTransaction,
				Reason: fmt.Sprintf("shard %d voted abort", id),
			}
		}
	}

	for _, id := range c.tx.InvolvedShards {
		if _, ok := c.lifecycle.PrepareVotes[id]; !ok {
			return Decision{Kind: AwaitingPrepareVotes}
		}
	}

	return Decision{Kind: CommitTransaction}
}

// ExecuteCommit moves from ReadyToCommit to CommittingPhase
func (c *TwoPhaseCommitCoordinator) ExecuteCommit() error {
	if c.phase != meta.ReadyToCommit {
		return meta.Errorf(meta.ErrInvalidPhase, "commit in phase %s", c.phase.Name())
	}

	c.phase = meta.CommittingPhase
	c.lifecycle.Status = meta.TxCommitting
	return nil
}

// FinalizeCommit requires a committed receipt of every involved shard. On
// error the coordinator stays in CommittingPhase.
func (c *TwoPhaseCommitCoordinator) FinalizeCommit(receipts []meta.CrossShardReceipt) error {
	if c.phase != meta.CommittingPhase {
		return meta.Errorf(meta.ErrInvalidPhase, "finalize in phase %s", c.phase.Name())
	}

	if err := c.checkReceipts(receipts); err != nil {
		return err
	}

	for _, r := range receipts {
		c.lifecycle.Receipts[r.ShardID] = r
	}
	c.phase = meta.Terminal
	c.lifecycle.Status = meta.TxCommitted
	return nil
}

func (c *TwoPhaseCommitCoordinator) checkReceipts(receipts []meta.CrossShardReceipt) error {
	byShard := make(map[meta.ShardID]meta.CrossShardReceipt, len(receipts))
	for _, r := range receipts {
		if r.TransactionID != c.tx.ID {
			return meta.Errorf(meta.ErrForeignTransaction, "receipt for %s of shard %d",
				r.TransactionID.Short(), r.ShardID)
		}
		if !c.tx.Involves(r.ShardID) {
			return meta.Errorf(meta.ErrUnexpectedReceipt, "shard %d", r.ShardID)
		}
		byShard[r.ShardID] = r
	}

	for _, id := range c.tx.InvolvedShards {
		r, ok := byShard[id]
		if !ok {
			return meta.Errorf(meta.ErrMissingReceipt, "shard %d", id)
		}
		if r.Status != meta.ReceiptCommitted {
			return meta.Errorf(meta.ErrReceiptNotCommitted, "shard %d reported %s", id, r.Status.Name())
		}
	}

	return nil
}

// ExecuteAbort aborts the transaction from any non terminal phase, lock
// release is left to the caller.
func (c *TwoPhaseCommitCoordinator) ExecuteAbort(reason string) error {
	return c.abortWith(meta.TxAbortedPrepare, reason)
}

func (c *TwoPhaseCommitCoordinator) abortWith(status meta.TransactionStatus, reason string) error {
	if c.phase == meta.Terminal {
		return meta.Errorf(meta.ErrInvalidPhase, "abort in phase %s", c.phase.Name())
	}

	c.phase = meta.Terminal
	c.lifecycle.Status = status
	c.lifecycle.AbortReason = reason
	return nil
}

// Snapshot returns an immutable copy of the coordinator state
func (c *TwoPhaseCommitCoordinator) Snapshot() meta.CoordinatorStateSnapshot {
	s := meta.NewSnapshot(c.tx, c.phase, c.lifecycle, c.registeredHeight, c.timeoutHeight, c.registeredEpoch)
	s.Locks = c.locks
	return s
}
