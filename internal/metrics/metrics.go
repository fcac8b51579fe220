package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "payg"

// Outcome labels for JobsProcessed.
const (
	OutcomeCompleted = "completed"
	OutcomeRetried   = "retried"
	OutcomeDead      = "dead"
)

// Collectors groups the worker and queue metrics.
type Collectors struct {
	JobsProcessed *prometheus.CounterVec
	JobsInFlight  prometheus.Gauge
	JobDuration   *prometheus.HistogramVec
	ClaimErrors   prometheus.Counter
	JobsCreated   *prometheus.CounterVec
	QueueDepth    *prometheus.GaugeVec
}

// New registers the collectors with reg. Collectors already registered are reused,
// so several workers in one process share the same series.
func New(reg prometheus.Registerer) *Collectors {
	registerOrExisting := func(coll prometheus.Collector) prometheus.Collector {
		if err := reg.Register(coll); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				return are.ExistingCollector
			}
			panic(err)
		}
		return coll
	}

	return &Collectors{
		JobsProcessed: registerOrExisting(prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "worker",
				Name:      "jobs_processed_total",
				Help:      "Jobs processed by the worker, by type and outcome.",
			},
			[]string{"job_type", "outcome"},
		)).(*prometheus.CounterVec),
		JobsInFlight: registerOrExisting(prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "worker",
				Name:      "jobs_in_flight",
				Help:      "Handlers currently running.",
			},
		)).(prometheus.Gauge),
		JobDuration: registerOrExisting(prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "worker",
				Name:      "job_duration_seconds",
				Help:      "Handler run time in seconds.",
				Buckets:   []float64{.05, .1, .5, 1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"job_type"},
		)).(*prometheus.HistogramVec),
		ClaimErrors: registerOrExisting(prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "worker",
				Name:      "claim_errors_total",
				Help:      "Errors returned while claiming a job.",
			},
		)).(prometheus.Counter),
		JobsCreated: registerOrExisting(prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "jobs_created_total",
				Help:      "Jobs inserted into the queue, by type.",
			},
			[]string{"job_type"},
		)).(*prometheus.CounterVec),
		QueueDepth: registerOrExisting(prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "jobs",
				Help:      "Jobs in the store, by status, as of the last stats call.",
			},
			[]string{"status"},
		)).(*prometheus.GaugeVec),
	}
}

// NewNop returns collectors bound to a private registry.
func NewNop() *Collectors {
	return New(prometheus.NewRegistry())
}
