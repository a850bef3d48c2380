package meta

import (
	"encoding/binary"
)

// CrossShardTransaction a transaction touching keys of more than one shard
type CrossShardTransaction struct {
	ID             TransactionID `json:"id"`
	InvolvedShards []ShardID     `json:"shards"`
	TimeoutEpoch   EpochID       `json:"timeout_epoch"`
	Payload        []byte        `json:"payload"`
	Nonce          uint64        `json:"nonce"`
}

// NewCrossShardTransaction returns a transaction with its content addressed id
func NewCrossShardTransaction(payload []byte, nonce uint64, timeoutEpoch EpochID, shards ...ShardID) CrossShardTransaction {
	return CrossShardTransaction{
		ID:             NewTransactionID(payload, nonce),
		InvolvedShards: NormalizeShardIDs(shards),
		TimeoutEpoch:   timeoutEpoch,
		Payload:        cloneBytes(payload),
		Nonce:          nonce,
	}
}

// CoordinatorShard returns the smallest involved shard, no election involved
func (tx *CrossShardTransaction) CoordinatorShard() ShardID {
	if len(tx.InvolvedShards) == 0 {
		return 0
	}

	return tx.InvolvedShards[0]
}

// Involves returns true if the shard takes part in the transaction
func (tx *CrossShardTransaction) Involves(id ShardID) bool {
	for _, s := range tx.InvolvedShards {
		if s == id {
			return true
		}
	}

	return false
}

// Validate checks the id matches the content and the shard set is usable
func (tx *CrossShardTransaction) Validate() error {
	if len(tx.InvolvedShards) == 0 {
		return Errorf(ErrInvalidTransaction, "%s has no involved shard", tx.ID.Short())
	}

	for i := 1; i < len(tx.InvolvedShards); i++ {
		if tx.InvolvedShards[i] <= tx.InvolvedShards[i-1] {
			return Errorf(ErrInvalidTransaction, "%s involved shards not sorted or repeated", tx.ID.Short())
		}
	}

	if id := NewTransactionID(tx.Payload, tx.Nonce); id != tx.ID {
		return Errorf(ErrInvalidTransaction, "id %s does not match content %s", tx.ID.Short(), id.Short())
	}

	return nil
}

// Clone returns a deep copy
func (tx CrossShardTransaction) Clone() CrossShardTransaction {
	value := tx
	value.InvolvedShards = make([]ShardID, len(tx.InvolvedShards))
	copy(value.InvolvedShards, tx.InvolvedShards)
	value.Payload = cloneBytes(tx.Payload)
	return value
}

// PrepareVote a shard's signed attestation that it can or cannot commit
type PrepareVote struct {
	TransactionID TransactionID `json:"tx"`
	ShardID       ShardID       `json:"shard"`
	CanCommit     bool          `json:"commit"`
	Signer        PublicKey     `json:"signer"`
	Signature     []byte        `json:"sig"`
}

// SigningBytes returns the bytes covered by the signature
func (v *PrepareVote) SigningBytes() []byte {
	buf := make([]byte, 0, len("prepare-vote")+HashSize+9)
	buf = append(buf, "prepare-vote"...)
	buf = append(buf, v.TransactionID[:]...)
	var shard [8]byte
	binary.BigEndian.PutUint64(shard[:], uint64(v.ShardID))
	buf = append(buf, shard[:]...)
	if v.CanCommit {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

// ReceiptStatus a shard's outcome for a transaction
type ReceiptStatus byte

var (
	// ReceiptCommitted the shard applied the transaction
	ReceiptCommitted = ReceiptStatus(0)
	// ReceiptAborted the shard discarded the transaction
	ReceiptAborted = ReceiptStatus(1)
	// ReceiptFailed the shard failed to apply the transaction
	ReceiptFailed = ReceiptStatus(2)
)

// Name returns name of the status
func (s ReceiptStatus) Name() string {
	switch s {
	case ReceiptCommitted:
		return "committed"
	case ReceiptAborted:
		return "aborted"
	case ReceiptFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// CrossShardReceipt the outcome a shard reports after phase two
type CrossShardReceipt struct {
	TransactionID TransactionID `json:"tx"`
	ShardID       ShardID       `json:"shard"`
	Status        ReceiptStatus `json:"status"`
	StateRoot     StateRoot     `json:"root"`
	Height        uint64        `json:"height"`
}

// TransactionStatus the lifecycle status of a cross shard transaction
type TransactionStatus byte

var (
	// TxPending waiting for prepare votes
	TxPending = TransactionStatus(0)
	// TxPrepared all shards voted to commit
	TxPrepared = TransactionStatus(1)
	// TxCommitting commit decided, waiting for receipts
	TxCommitting = TransactionStatus(2)
	// TxCommitted Finally: every involved shard applied the transaction
	TxCommitted = TransactionStatus(3)
	// TxAbortedPrepare Finally: aborted in phase one
	TxAbortedPrepare = TransactionStatus(4)
	// TxAbortedTimeout Finally: aborted since the timeout height passed
	TxAbortedTimeout = TransactionStatus(5)
	// TxAbortedEpochBoundary Finally: aborted since the timeout epoch passed
	TxAbortedEpochBoundary = TransactionStatus(6)
)

// Name returns name of the status
func (s TransactionStatus) Name() string {
	switch s {
	case TxPending:
		return "pending"
	case TxPrepared:
		return "prepared"
	case TxCommitting:
		return "committing"
	case TxCommitted:
		return "committed"
	case TxAbortedPrepare:
		return "aborted_prepare"
	case TxAbortedTimeout:
		return "aborted_timeout"
	case TxAbortedEpochBoundary:
		return "aborted_epoch_boundary"
	default:
		return "unknown"
	}
}

// Terminal returns true if the status will not change any more
func (s TransactionStatus) Terminal() bool {
	return s == TxCommitted || s.Aborted()
}

// Aborted returns true for every aborted status
func (s TransactionStatus) Aborted() bool {
	switch s {
	case TxAbortedPrepare, TxAbortedTimeout, TxAbortedEpochBoundary:
		return true
	default:
		return false
	}
}

// CoordinatorPhase the two phase commit coordinator state
type CoordinatorPhase byte

var (
	// PreparingPhase collecting prepare votes
	PreparingPhase = CoordinatorPhase(0)
	// ReadyToCommit every shard voted to commit
	ReadyToCommit = CoordinatorPhase(1)
	// CommittingPhase commit executed, waiting for receipts
	CommittingPhase = CoordinatorPhase(2)
	// Aborting abort decided
	Aborting = CoordinatorPhase(3)
	// Terminal nothing left to do
	Terminal = CoordinatorPhase(4)
)

// Name returns name of the phase
func (p CoordinatorPhase) Name() string {
	switch p {
	case PreparingPhase:
		return "preparing"
	case ReadyToCommit:
		return "ready_to_commit"
	case CommittingPhase:
		return "committing"
	case Aborting:
		return "aborting"
	case Terminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// CrossShardTransactionLifecycle per transaction aggregation of votes and receipts
type CrossShardTransactionLifecycle struct {
	PrepareVotes map[ShardID]PrepareVote       `json:"votes"`
	Receipts     map[ShardID]CrossShardReceipt `json:"receipts"`
	Status       TransactionStatus             `json:"status"`
	AbortReason  string                        `json:"reason,omitempty"`
}

// NewLifecycle returns an empty pending lifecycle
func NewLifecycle() CrossShardTransactionLifecycle {
	return CrossShardTransactionLifecycle{
		PrepareVotes: make(map[ShardID]PrepareVote),
		Receipts:     make(map[ShardID]CrossShardReceipt),
		Status:       TxPending,
	}
}
