package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		sweepRunsTotal,
		sweepDurationSeconds,
		sweepWarningsSentTotal,
		sweepDisabledTotal,
		sweepDeletedTotal,
		sweepFailuresTotal,
	)
}

var (
	sweepRunsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sweep_runs_total",
			Help: "Total number of completed expiry sweeps.",
		},
	)

	sweepDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sweep_duration_seconds",
			Help:    "Expiry sweep duration distribution.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		},
	)

	sweepWarningsSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sweep_warnings_sent_total",
			Help: "Total number of expiry warnings sent.",
		},
	)

	sweepDisabledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sweep_bindings_disabled_total",
			Help: "Total number of bindings disabled on expiry.",
		},
	)

	sweepDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sweep_bindings_deleted_total",
			Help: "Total number of bindings deleted after the grace period.",
		},
	)

	sweepFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sweep_failures_total",
			Help: "Total number of per-binding sweep failures (retried next run).",
		},
	)
)

func ObserveSweep(durationSeconds float64, warned, disabled, deleted, failed int) {
	sweepRunsTotal.Inc()
	sweepDurationSeconds.Observe(durationSeconds)
	sweepWarningsSentTotal.Add(float64(warned))
	sweepDisabledTotal.Add(float64(disabled))
	sweepDeletedTotal.Add(float64(deleted))
	sweepFailuresTotal.Add(float64(failed))
}
