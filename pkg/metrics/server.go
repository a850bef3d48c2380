package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// CommandCounter commands handled by the node event loop
	CommandCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shardledger",
			Subsystem: "server",
			Name:      "command_total",
			Help:      "Total number of commands handled by the node.",
		}, []string{"cmd", "status"})

	// CommandDurationHistogram command processing duration
	CommandDurationHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "shardledger",
			Subsystem: "server",
			Name:      "command_duration_seconds",
			Help:      "Bucketed histogram of command processing duration.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2.0, 20),
		}, []string{"cmd"})
)
