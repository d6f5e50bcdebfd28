package controller

import "github.com/prometheus/client_golang/prometheus"

// metricsSet is the Prometheus side of the per-second metrics publish:
// pull-based (scraped via /metrics when a collector is attached)
// alongside the push-based Snapshot sent to subscribe(metrics_sink).
type metricsSet struct {
	queueDepth     prometheus.Gauge
	activeWorkers  prometheus.Gauge
	bytesPerSecond prometheus.Gauge
	filesDone      prometheus.Gauge
	filesFailed    prometheus.Gauge
	filesPending   prometheus.Gauge
}

func newMetricsSet(reg prometheus.Registerer) *metricsSet {
	m := &metricsSet{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "grabia_queue_depth", Help: "Files queued but not yet dispatched to a worker.",
		}),
		activeWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "grabia_active_workers", Help: "Current live worker count.",
		}),
		bytesPerSecond: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "grabia_bytes_per_second", Help: "Rolling one-second throughput.",
		}),
		filesDone: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "grabia_files_done", Help: "Files completed for the running job.",
		}),
		filesFailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "grabia_files_failed", Help: "Files terminally failed for the running job.",
		}),
		filesPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "grabia_files_pending", Help: "Files not yet claimed for the running job.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.queueDepth, m.activeWorkers, m.bytesPerSecond, m.filesDone, m.filesFailed, m.filesPending)
	}
	return m
}

func (m *metricsSet) observe(s Snapshot, queueDepth, activeWorkers int) {
	m.queueDepth.Set(float64(queueDepth))
	m.activeWorkers.Set(float64(activeWorkers))
	m.bytesPerSecond.Set(s.BytesPerSecond)
	m.filesDone.Set(float64(s.Done))
	m.filesFailed.Set(float64(s.Failed))
	m.filesPending.Set(float64(s.Pending))
}
