package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pipeline's Prometheus instrumentation.
type Metrics struct {
	JobRuns     *prometheus.CounterVec
	JobFailures *prometheus.CounterVec
	JobSkips    *prometheus.CounterVec
	JobDuration *prometheus.HistogramVec

	ServersSynced   *prometheus.GaugeVec
	SyncFailures    *prometheus.CounterVec
	AgentReports    prometheus.Counter
	AgentRejections prometheus.Counter

	PendingRecommendations prometheus.Gauge
	PendingSavingsEUR      prometheus.Gauge
}

// NewMetrics registers pipeline metrics on the given registerer. The daemon
// passes prometheus.DefaultRegisterer so promhttp serves them; tests pass a
// fresh registry to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		JobRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_job_runs_total",
			Help: "Completed scheduler job runs by job name",
		}, []string{"job"}),
		JobFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_job_failures_total",
			Help: "Failed scheduler job runs by job name",
		}, []string{"job"}),
		JobSkips: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_job_skips_total",
			Help: "Job triggers skipped because the previous run was still active",
		}, []string{"job"}),
		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipeline_job_duration_seconds",
			Help:    "Scheduler job run duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),

		ServersSynced: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pipeline_servers_synced",
			Help: "Servers synced in the last collection run by source",
		}, []string{"source"}),
		SyncFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_sync_failures_total",
			Help: "Per-server sync failures by source",
		}, []string{"source"}),
		AgentReports: factory.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_agent_reports_total",
			Help: "Accepted agent reports",
		}),
		AgentRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_agent_rejections_total",
			Help: "Agent reports rejected for bad credentials or payload",
		}),

		PendingRecommendations: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pipeline_pending_recommendations",
			Help: "Pending recommendations after the last recommender run",
		}),
		PendingSavingsEUR: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pipeline_pending_savings_eur",
			Help: "Total monthly savings across pending recommendations",
		}),
	}
}
