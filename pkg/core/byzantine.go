package core

import (
	"sync"

	"github.com/fagongzi/log"
	"github.com/infinivision/shardledger/pkg/meta"
)

// EvidenceSink receives byzantine evidence, e.g. a slashing engine
type EvidenceSink interface {
	HandleEvidence(evidence meta.ByzantineEvidence)
}

// ByzantineFailureDetector compares what a shard voted with what it later
// reported. It produces evidence only.
type ByzantineFailureDetector struct {
	sync.Mutex

	sink     EvidenceSink
	evidence []meta.ByzantineEvidence
	seen     map[meta.Digest]struct{}
}

// NewByzantineFailureDetector returns a detector, sink may be nil
func NewByzantineFailureDetector(sink EvidenceSink) *ByzantineFailureDetector {
	return &ByzantineFailureDetector{
		sink: sink,
		seen: make(map[meta.Digest]struct{}),
	}
}

// DetectPrepareVoteViolation checks every receipt against the vote of the
// same shard in the snapshot. A commit vote with a non committed receipt,
// or an abort vote with a committed receipt, is evidence. Receipts default
// to the ones recorded in the snapshot.
func (d *ByzantineFailureDetector) DetectPrepareVoteViolation(snapshot *meta.CoordinatorStateSnapshot,
	receipts []meta.CrossShardReceipt, height uint64) []meta.ByzantineEvidence {
	if receipts == nil {
		receipts = snapshot.Receipts
	}

	var found []meta.ByzantineEvidence
	for _, r := range receipts {
		if r.TransactionID != snapshot.Transaction.ID {
			continue
		}

		vote, ok := snapshot.Vote(r.ShardID)
		if !ok {
			continue
		}

		committed := r.Status == meta.ReceiptCommitted
		if vote.CanCommit == committed {
			continue
		}

		receipt := r
		e := meta.ByzantineEvidence{
			Kind:             meta.EvidenceVoteReceiptMismatch,
			TransactionID:    snapshot.Transaction.ID,
			ShardID:          r.ShardID,
			Vote:             vote,
			Receipt:          &receipt,
			DetectedAtHeight: height,
		}
		if d.add(e) {
			found = append(found, e)
		}
	}

	return found
}

// RecordEquivocation records two different votes of the same shard
func (d *ByzantineFailureDetector) RecordEquivocation(first, second meta.PrepareVote, height uint64) (meta.ByzantineEvidence, bool) {
	if first.TransactionID != second.TransactionID ||
		first.ShardID != second.ShardID ||
		first.CanCommit == second.CanCommit {
		return meta.ByzantineEvidence{}, false
	}

	conflicting := second
	e := meta.ByzantineEvidence{
		Kind:             meta.EvidenceEquivocation,
		TransactionID:    first.TransactionID,
		ShardID:          first.ShardID,
		Vote:             first,
		ConflictingVote:  &conflicting,
		DetectedAtHeight: height,
	}
	return e, d.add(e)
}

func (d *ByzantineFailureDetector) add(e meta.ByzantineEvidence) bool {
	d.Lock()
	id := e.ID()
	if _, ok := d.seen[id]; ok {
		d.Unlock()
		return false
	}
	d.seen[id] = struct{}{}
	d.evidence = append(d.evidence, e)
	d.Unlock()

	log.Warnf("%s: shard %d %s, signer %s",
		meta.TagTransaction(e.TransactionID, "byzantine"),
		e.ShardID,
		e.Kind.Name(),
		e.Vote.Signer.String())

	if d.sink != nil {
		d.sink.HandleEvidence(e)
	}
	return true
}

// Evidence returns the evidence collected so far
func (d *ByzantineFailureDetector) Evidence() []meta.ByzantineEvidence {
	d.Lock()
	defer d.Unlock()

	value := make([]meta.ByzantineEvidence, len(d.evidence))
	copy(value, d.evidence)
	return value
}

// Drain returns and forgets the collected evidence, duplicates stay suppressed
func (d *ByzantineFailureDetector) Drain() []meta.ByzantineEvidence {
	d.Lock()
	defer d.Unlock()

	value := d.evidence
	d.evidence = nil
	return value
}

// Len returns the number of collected evidence
func (d *ByzantineFailureDetector) Len() int {
	d.Lock()
	defer d.Unlock()

	return len(d.evidence)
}
