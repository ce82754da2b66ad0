package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(jobsSubmittedTotal, jobsFinishedTotal, pollFetchesTotal, pollFetchLatency, pollersActive, historyRefreshTotal, workspacesEvictedTotal)
}

var (
	jobsSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge3d_jobs_submitted_total",
			Help: "Generation jobs accepted by the generation API, by kind.",
		},
		[]string{"kind"}, // 'text-to-3d', 'image-to-3d'
	)

	jobsFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge3d_jobs_finished_total",
			Help: "Jobs observed reaching a terminal state, by status.",
		},
		[]string{"status"},
	)

	pollFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge3d_poll_fetches_total",
			Help: "Status fetches issued by pollers, by outcome.",
		},
		[]string{"outcome"}, // 'ok', 'error', 'not_found'
	)

	pollFetchLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "forge3d_poll_fetch_latency_ms",
			Help:    "Status fetch latency in milliseconds.",
			Buckets: []float64{10, 25, 50, 100, 200, 400, 800, 1600, 3000, 5000},
		},
	)

	pollersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "forge3d_pollers_active",
			Help: "Polling loops currently running.",
		},
	)

	historyRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge3d_history_refresh_total",
			Help: "History fetches from the bookkeeping backend, by source.",
		},
		[]string{"source"}, // 'backend', 'mirror', 'error'
	)

	workspacesEvictedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "forge3d_workspaces_evicted_total",
			Help: "Workspaces dropped after sitting idle.",
		},
	)
)

func IncJobSubmitted(kind string) {
	jobsSubmittedTotal.WithLabelValues(norm(kind)).Inc()
}

func IncJobFinished(status string) {
	jobsFinishedTotal.WithLabelValues(norm(status)).Inc()
}

func ObservePollFetch(outcome string, latencyMs int64) {
	pollFetchesTotal.WithLabelValues(norm(outcome)).Inc()
	pollFetchLatency.Observe(float64(latencyMs))
}

func PollerStarted() { pollersActive.Inc() }
func PollerStopped() { pollersActive.Dec() }

func IncHistoryRefresh(source string) {
	historyRefreshTotal.WithLabelValues(norm(source)).Inc()
}

func IncWorkspaceEvicted() { workspacesEvictedTotal.Inc() }
