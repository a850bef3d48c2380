package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	prometheus.Register(ActionTxCounter)
	prometheus.Register(AbortTxCounter)
	prometheus.Register(ActiveTxGauge)
	prometheus.Register(TxHeightsHistogram)

	prometheus.Register(ActionLockCounter)
	prometheus.Register(HeldLockGauge)

	prometheus.Register(ShardGauge)
	prometheus.Register(EpochGauge)
	prometheus.Register(EvidenceCounter)

	prometheus.Register(CommandCounter)
	prometheus.Register(CommandDurationHistogram)
}
