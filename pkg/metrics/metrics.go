package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ScreeningsTotal counts completed screenings by resulting risk level
var ScreeningsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "amlscreen_screenings_total",
		Help: "Total number of completed screenings by risk level",
	},
	[]string{"level"},
)

// ScreeningLatency records end-to-end screening latency
var ScreeningLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "amlscreen_screening_latency_seconds",
		Help:    "Latency in seconds of a full screening run",
		Buckets: prometheus.DefBuckets,
	},
)

// Per-source screener metrics
var (
	SourceLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "amlscreen_source_latency_seconds",
			Help:    "Latency in seconds of a single screener call",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"source"},
	)

	SourceFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amlscreen_source_failures_total",
			Help: "Number of screener calls that failed or timed out",
		},
		[]string{"source"},
	)

	ListEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "amlscreen_reference_list_entries",
			Help: "Number of entries in the active reference list snapshot",
		},
		[]string{"list"},
	)
)

// Recorder metrics
var (
	AlertsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amlscreen_alerts_created_total",
			Help: "Number of alerts opened by type",
		},
		[]string{"type"},
	)

	PersistenceRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amlscreen_persistence_retries_total",
			Help: "Number of asynchronous persistence retry attempts by outcome",
		},
		[]string{"outcome"},
	)
)

// JobRuns counts scheduled job runs by job and outcome
var JobRuns = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "amlscreen_scheduled_job_runs_total",
		Help: "Number of scheduled job runs by job and outcome",
	},
	[]string{"job", "outcome"},
)

func init() {
	prometheus.MustRegister(ScreeningsTotal, ScreeningLatency)
	prometheus.MustRegister(SourceLatency, SourceFailures, ListEntries)
	prometheus.MustRegister(AlertsCreated, PersistenceRetries)
	prometheus.MustRegister(JobRuns)
}
