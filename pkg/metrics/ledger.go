package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ActionTxCounter action on cross shard transactions
	ActionTxCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shardledger",
			Subsystem: "tx",
			Name:      "action_total",
			Help:      "Total number of cross shard transaction actions made.",
		}, []string{"shard", "action", "status"})

	// AbortTxCounter aborted cross shard transactions by reason
	AbortTxCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shardledger",
			Subsystem: "tx",
			Name:      "abort_total",
			Help:      "Total number of aborted cross shard transactions.",
		}, []string{"reason"})

	// ActiveTxGauge active cross shard transactions
	ActiveTxGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "shardledger",
			Subsystem: "tx",
			Name:      "active_total",
			Help:      "Total number of active cross shard transactions.",
		})

	// TxHeightsHistogram blocks between register and terminal status
	TxHeightsHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "shardledger",
			Subsystem: "tx",
			Name:      "duration_blocks",
			Help:      "Bucketed histogram of cross shard transaction duration in blocks.",
			Buckets:   prometheus.ExponentialBuckets(1, 2.0, 12),
		}, []string{"status"})

	// ActionLockCounter action on state locks
	ActionLockCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shardledger",
			Subsystem: "lock",
			Name:      "action_total",
			Help:      "Total number of state lock actions made.",
		}, []string{"shard", "action", "status"})

	// HeldLockGauge held state locks
	HeldLockGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "shardledger",
			Subsystem: "lock",
			Name:      "held_total",
			Help:      "Total number of held state locks.",
		}, []string{"shard"})

	// EvidenceCounter byzantine evidence produced
	EvidenceCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shardledger",
			Subsystem: "byzantine",
			Name:      "evidence_total",
			Help:      "Total number of byzantine evidence produced.",
		}, []string{"kind"})
)
