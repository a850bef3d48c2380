package advisor

import (
	"github.com/infinivision/shardledger/pkg/meta"
)

// Analysis advisory scores of a transaction, every score is in [0, 1]
type Analysis struct {
	Complexity   float64
	ConflictRisk float64
}

// Advisor optional optimization hints. Outputs only tune timeouts and
// lock ordering, they never decide commit or abort.
type Advisor interface {
	// AnalyzeTransaction scores the transaction
	AnalyzeTransaction(tx *meta.CrossShardTransaction) Analysis
	// PredictConflicts returns the probability that tx conflicts with one of the active transactions
	PredictConflicts(tx *meta.CrossShardTransaction, active []meta.TransactionID) float64
	// SuggestTimeout returns a timeout in blocks, defaultBlocks if there is no better idea
	SuggestTimeout(tx *meta.CrossShardTransaction, defaultBlocks uint64) uint64
}

// Noop returns the default advisor without any opinion
func Noop() Advisor {
	return noop{}
}

type noop struct{}

func (noop) AnalyzeTransaction(tx *meta.CrossShardTransaction) Analysis {
	return Analysis{}
}

func (noop) PredictConflicts(tx *meta.CrossShardTransaction, active []meta.TransactionID) float64 {
	return 0
}

func (noop) SuggestTimeout(tx *meta.CrossShardTransaction, defaultBlocks uint64) uint64 {
	return defaultBlocks
}
