package core

import (
	"github.com/infinivision/shardledger/pkg/meta"
	"github.com/infinivision/shardledger/pkg/metrics"
)

type metricsListener struct {
	m *CoordinatorManager
}

func (l *metricsListener) OnEvent(e event) {
	switch e.eventType {
	case registerTx:
		c := e.data.(*TwoPhaseCommitCoordinator)
		metrics.ActionTxCounter.WithLabelValues(metrics.ShardLabel(uint64(c.CoordinatorShard())),
			metrics.ActionRegister,
			metrics.StatusSucceed).Inc()
		metrics.ActiveTxGauge.Set(float64(l.m.doActiveCount()))
	case registerTxFailed:
		l.failed(e, metrics.ActionRegister)
	case voteTx:
		vote := e.data.(meta.PrepareVote)
		metrics.ActionTxCounter.WithLabelValues(metrics.ShardLabel(uint64(vote.ShardID)),
			metrics.ActionVote,
			metrics.StatusSucceed).Inc()
	case voteTxFailed:
		l.failed(e, metrics.ActionVote)
	case commitTx:
		c := e.data.(*TwoPhaseCommitCoordinator)
		metrics.ActionTxCounter.WithLabelValues(metrics.ShardLabel(uint64(c.CoordinatorShard())),
			metrics.ActionCommit,
			metrics.StatusSucceed).Inc()
	case finalizeTx:
		c := e.data.(*TwoPhaseCommitCoordinator)
		metrics.ActionTxCounter.WithLabelValues(metrics.ShardLabel(uint64(c.CoordinatorShard())),
			metrics.ActionFinalize,
			metrics.StatusSucceed).Inc()
	case finalizeTxFailed:
		l.failed(e, metrics.ActionFinalize)
	case abortTx:
		s := e.data.(abortEvent).snapshot
		metrics.ActionTxCounter.WithLabelValues(metrics.ShardLabel(uint64(s.CoordinatorShard)),
			metrics.ActionAbort,
			metrics.StatusSucceed).Inc()
		metrics.AbortTxCounter.WithLabelValues(abortReasonLabel(s.Status)).Inc()
	case recoverTx:
		c := e.data.(*TwoPhaseCommitCoordinator)
		metrics.ActionTxCounter.WithLabelValues(metrics.ShardLabel(uint64(c.CoordinatorShard())),
			metrics.ActionRecover,
			metrics.StatusSucceed).Inc()
	case recoverTxFailed:
		l.failed(e, metrics.ActionRecover)
	case completeTx:
		s := e.data.(meta.CoordinatorStateSnapshot)
		metrics.ActiveTxGauge.Set(float64(l.m.doActiveCount()))
		if l.m.height >= s.RegisteredHeight {
			metrics.TxHeightsHistogram.WithLabelValues(s.Status.Name()).
				Observe(float64(l.m.height - s.RegisteredHeight))
		}
	case evidenceFound:
		evidence := e.data.(meta.ByzantineEvidence)
		metrics.EvidenceCounter.WithLabelValues(evidence.Kind.Name()).Inc()
	}
}

func (l *metricsListener) failed(e event, action string) {
	failed := e.data.(failedEvent)
	metrics.ActionTxCounter.WithLabelValues(metrics.ShardLabel(uint64(failed.shard)),
		action,
		metrics.StatusFailed).Inc()
}

func abortReasonLabel(status meta.TransactionStatus) string {
	switch status {
	case meta.TxAbortedTimeout:
		return metrics.ReasonTimeout
	case meta.TxAbortedEpochBoundary:
		return metrics.ReasonEpoch
	default:
		return metrics.ReasonPrepare
	}
}
