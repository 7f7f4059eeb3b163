package stats

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// promCollectors bundles the Prometheus metrics that mirror Stats' own
// counters, following the teacher pack's promauto-at-construction pattern
// (see ManuGH-xg2g/internal/metrics/business.go) rather than package-level
// globals, so multiple Stats instances (as in tests) don't collide on
// registration.
type promCollectors struct {
	registry *prometheus.Registry

	clientsTotal  prometheus.Counter
	clientsActive prometheus.Gauge

	jobsTotal      prometheus.Counter
	jobsActive     prometheus.Gauge
	jobsQueueDepth prometheus.Gauge
	jobsCompleted  prometheus.Counter
	jobsFailed     prometheus.Counter
	jobsCancelled  prometheus.Counter
	jobsTimedOut   prometheus.Counter

	bytesReceived prometheus.Counter
	bytesSent     prometheus.Counter

	jobDurationSeconds     prometheus.Histogram
	compileDurationSeconds prometheus.Histogram
	executeDurationSeconds prometheus.Histogram
}

func newPromCollectors() *promCollectors {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &promCollectors{
		registry: reg,
		clientsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "ccexec_clients_total",
			Help: "Total number of client sessions accepted since startup.",
		}),
		clientsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ccexec_clients_active",
			Help: "Number of currently connected client sessions.",
		}),
		jobsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "ccexec_jobs_total",
			Help: "Total number of jobs queued since startup.",
		}),
		jobsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ccexec_jobs_active",
			Help: "Number of jobs currently compiling or running.",
		}),
		jobsQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ccexec_jobs_queue_depth",
			Help: "Number of jobs waiting to be dispatched.",
		}),
		jobsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "ccexec_jobs_completed_total",
			Help: "Total number of jobs that completed successfully.",
		}),
		jobsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "ccexec_jobs_failed_total",
			Help: "Total number of jobs that failed to compile or execute.",
		}),
		jobsCancelled: factory.NewCounter(prometheus.CounterOpts{
			Name: "ccexec_jobs_cancelled_total",
			Help: "Total number of jobs cancelled before completion.",
		}),
		jobsTimedOut: factory.NewCounter(prometheus.CounterOpts{
			Name: "ccexec_jobs_timed_out_total",
			Help: "Total number of jobs killed for exceeding their wall-clock budget.",
		}),
		bytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "ccexec_bytes_received_total",
			Help: "Total bytes received from clients (uploads and requests).",
		}),
		bytesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "ccexec_bytes_sent_total",
			Help: "Total bytes sent to clients (responses and results).",
		}),
		jobDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ccexec_job_duration_seconds",
			Help:    "Wall-clock time from job dequeue to terminal state.",
			Buckets: prometheus.DefBuckets,
		}),
		compileDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ccexec_compile_duration_seconds",
			Help:    "Wall-clock time spent in the compile phase.",
			Buckets: prometheus.DefBuckets,
		}),
		executeDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ccexec_execute_duration_seconds",
			Help:    "Wall-clock time spent in the execute phase.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Registry exposes the underlying Prometheus registry so the runtime shell
// can mount it behind promhttp.HandlerFor on the loopback metrics listener.
func (s *Stats) Registry() *prometheus.Registry {
	return s.prom.registry
}
