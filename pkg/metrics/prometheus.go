package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain repository.Metrics using Prometheus.
type Recorder struct {
	alertsReceived   *prometheus.CounterVec
	jobsEnqueued     *prometheus.CounterVec
	jobsClaimed      prometheus.Counter
	jobsAcked        prometheus.Counter
	jobsNacked       *prometheus.CounterVec
	jobsDeadLettered prometheus.Counter
	dispatchLatency  *prometheus.HistogramVec
	fencingConflicts prometheus.Counter
	queueDepth       prometheus.Gauge
	nodeRuns         *prometheus.CounterVec
	errorsTotal      *prometheus.CounterVec
}

// New creates a Prometheus metrics recorder for the relay pipeline.
func New() *Recorder {
	return &Recorder{
		alertsReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sigrelay_alerts_received_total",
				Help: "Inbound webhook alerts by source and intake result",
			},
			[]string{"source", "result"},
		),
		jobsEnqueued: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sigrelay_jobs_enqueued_total",
				Help: "Execution jobs enqueued by partition key",
			},
			[]string{"partition"},
		),
		jobsClaimed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sigrelay_jobs_claimed_total",
				Help: "Job leases granted to workers",
			},
		),
		jobsAcked: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sigrelay_jobs_acked_total",
				Help: "Jobs acknowledged after processing",
			},
		),
		jobsNacked: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sigrelay_jobs_nacked_total",
				Help: "Jobs returned for retry by reason",
			},
			[]string{"reason"},
		),
		jobsDeadLettered: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sigrelay_jobs_dead_lettered_total",
				Help: "Jobs dead-lettered after exhausting the retry budget",
			},
		),
		dispatchLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sigrelay_dispatch_duration_seconds",
				Help:    "Broker order placement latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"broker"},
		),
		fencingConflicts: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sigrelay_fencing_conflicts_total",
				Help: "Writebacks discarded because the lease token was stale",
			},
		),
		queueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "sigrelay_queue_depth",
				Help: "Jobs currently pending or leased",
			},
		),
		nodeRuns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sigrelay_node_runs_total",
				Help: "Scheduler node ticks by node and terminal state",
			},
			[]string{"node", "state"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sigrelay_errors_total",
				Help: "Internal errors by kind",
			},
			[]string{"kind"},
		),
	}
}

func (r *Recorder) RecordAlertReceived(source, result string) {
	r.alertsReceived.WithLabelValues(source, result).Inc()
}

func (r *Recorder) RecordJobEnqueued(partition string) {
	r.jobsEnqueued.WithLabelValues(partition).Inc()
}

func (r *Recorder) RecordJobClaimed() { r.jobsClaimed.Inc() }

func (r *Recorder) RecordJobAcked() { r.jobsAcked.Inc() }

func (r *Recorder) RecordJobNacked(reason string) {
	r.jobsNacked.WithLabelValues(reason).Inc()
}

func (r *Recorder) RecordJobDeadLettered() { r.jobsDeadLettered.Inc() }

func (r *Recorder) RecordDispatchLatency(broker string, seconds float64) {
	r.dispatchLatency.WithLabelValues(broker).Observe(seconds)
}

func (r *Recorder) RecordFencingConflict() { r.fencingConflicts.Inc() }

func (r *Recorder) RecordQueueDepth(n int) { r.queueDepth.Set(float64(n)) }

func (r *Recorder) RecordNodeRun(nodeID, state string) {
	r.nodeRuns.WithLabelValues(nodeID, state).Inc()
}

func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}
