package meta

import (
	"encoding/binary"
)

// EvidenceKind kind of byzantine evidence
type EvidenceKind byte

var (
	// EvidenceVoteReceiptMismatch the vote contradicts the shard's own receipt
	EvidenceVoteReceiptMismatch = EvidenceKind(0)
	// EvidenceEquivocation the shard cast two different votes
	EvidenceEquivocation = EvidenceKind(1)
)

// Name returns name of the kind
func (k EvidenceKind) Name() string {
	switch k {
	case EvidenceVoteReceiptMismatch:
		return "vote_receipt_mismatch"
	case EvidenceEquivocation:
		return "equivocation"
	default:
		return "unknown"
	}
}

// ByzantineEvidence proof that a shard reported inconsistent votes and outcomes,
// handed to the slashing engine.
type ByzantineEvidence struct {
	Kind             EvidenceKind       `json:"kind"`
	TransactionID    TransactionID      `json:"tx"`
	ShardID          ShardID            `json:"shard"`
	Vote             PrepareVote        `json:"vote"`
	ConflictingVote  *PrepareVote       `json:"conflicting_vote,omitempty"`
	Receipt          *CrossShardReceipt `json:"receipt,omitempty"`
	DetectedAtHeight uint64             `json:"height"`
}

// ID returns a stable identifier of the evidence
func (e *ByzantineEvidence) ID() Digest {
	var shard [8]byte
	binary.BigEndian.PutUint64(shard[:], uint64(e.ShardID))

	return HashParts([]byte(e.Kind.Name()), e.TransactionID[:], shard[:], e.Vote.Signer)
}
