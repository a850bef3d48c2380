package advisor

import (
	"math"

	"github.com/fagongzi/log"
	"github.com/infinivision/shardledger/pkg/meta"
)

// Bounded wraps an advisor, clamps every output and turns a panic into the
// neutral answer.
type Bounded struct {
	target     Advisor
	minTimeout uint64
	maxTimeout uint64
}

// NewBounded returns a bounded advisor, suggested timeouts are clamped to [minTimeout, maxTimeout]
func NewBounded(target Advisor, minTimeout, maxTimeout uint64) *Bounded {
	if target == nil {
		target = Noop()
	}
	if minTimeout == 0 {
		minTimeout = 1
	}
	if maxTimeout < minTimeout {
		maxTimeout = minTimeout
	}

	return &Bounded{
		target:     target,
		minTimeout: minTimeout,
		maxTimeout: maxTimeout,
	}
}

// AnalyzeTransaction returns clamped scores
func (b *Bounded) AnalyzeTransaction(tx *meta.CrossShardTransaction) (value Analysis) {
	defer b.recover(tx, "analyze", func() { value = Analysis{} })

	value = b.target.AnalyzeTransaction(tx)
	value.Complexity = clampScore(value.Complexity)
	value.ConflictRisk = clampScore(value.ConflictRisk)
	return value
}

// PredictConflicts returns a clamped probability
func (b *Bounded) PredictConflicts(tx *meta.CrossShardTransaction, active []meta.TransactionID) (value float64) {
	defer b.recover(tx, "predict", func() { value = 0 })

	return clampScore(b.target.PredictConflicts(tx, active))
}

// SuggestTimeout returns a timeout inside the configured bounds
func (b *Bounded) SuggestTimeout(tx *meta.CrossShardTransaction, defaultBlocks uint64) (value uint64) {
	defaultBlocks = b.clampTimeout(defaultBlocks)
	defer b.recover(tx, "timeout", func() { value = defaultBlocks })

	return b.clampTimeout(b.target.SuggestTimeout(tx, defaultBlocks))
}

func (b *Bounded) clampTimeout(value uint64) uint64 {
	if value < b.minTimeout {
		return b.minTimeout
	}
	if value > b.maxTimeout {
		return b.maxTimeout
	}
	return value
}

func (b *Bounded) recover(tx *meta.CrossShardTransaction, action string, fallback func()) {
	if err := recover(); err != nil {
		log.Warnf("%s: advisor failed with %+v, ignored",
			meta.TagTransaction(tx.ID, action),
			err)
		fallback()
	}
}

func clampScore(value float64) float64 {
	if math.IsNaN(value) || value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}
