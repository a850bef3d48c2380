package metrics

import (
	"strconv"
	"time"

	"github.com/fagongzi/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// MetricConfig is the metric configuration.
type MetricConfig struct {
	PushJob      string        `json:"job"`
	PushAddress  string        `json:"address"`
	PushInterval time.Duration `json:"interval"`
}

// ShardLabel returns the label value of a shard
func ShardLabel(id uint64) string {
	return strconv.FormatUint(id, 10)
}

// prometheusPushClient pushs metrics to Prometheus Pushgateway.
func prometheusPushClient(job, addr string, interval time.Duration, stopC chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopC:
			log.Infof("prometheus push client stopped")
			return
		case <-ticker.C:
			err := push.FromGatherer(
				job, push.HostnameGroupingKey(),
				addr,
				prometheus.DefaultGatherer,
			)
			if err != nil {
				log.Errorf("push metrics to prometheus pushgateway failed with %+v", err)
			}
		}
	}
}

// Push metircs in background, close the returned channel to stop pushing.
func Push(cfg *MetricConfig) chan struct{} {
	stopC := make(chan struct{})
	if cfg.PushInterval == 0 || len(cfg.PushAddress) == 0 {
		log.Infof("disable prometheus push client")
		return stopC
	}

	log.Info("start prometheus push client")
	go prometheusPushClient(cfg.PushJob, cfg.PushAddress, cfg.PushInterval, stopC)
	return stopC
}
