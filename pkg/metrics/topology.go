package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ShardGauge shard count
	ShardGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "shardledger",
			Subsystem: "topology",
			Name:      "shard_total",
			Help:      "Total number of shards in the current epoch.",
		}, []string{"status"})

	// EpochGauge current epoch
	EpochGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "shardledger",
			Subsystem: "topology",
			Name:      "epoch",
			Help:      "Current epoch.",
		})
)
