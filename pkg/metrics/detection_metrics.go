package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// DetectionRequestsTotal tracks every request that went through Detect
	DetectionRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_detection_requests_total",
			Help: "Total number of requests evaluated by the detection engine",
		},
		[]string{"risk_band", "is_bot", "early_exit"},
	)

	// DetectionDuration tracks end-to-end detection latency
	DetectionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bot_detection_duration_seconds",
			Help:    "Duration of full request detection in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"early_exit"},
	)

	// DetectorContributionsTotal tracks contributions per detector
	DetectorContributionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_detector_contributions_total",
			Help: "Total number of contributions produced, per detector",
		},
		[]string{"detector"},
	)

	// DetectorFailuresTotal tracks failed/timed-out detectors
	DetectorFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_detector_failures_total",
			Help: "Total number of detector failures (timeout, cancellation, panic)",
		},
		[]string{"detector"},
	)

	// PolicyActionsTotal tracks terminal actions chosen per policy evaluation
	PolicyActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_policy_actions_total",
			Help: "Total number of terminal actions emitted by policy evaluation",
		},
		[]string{"action"},
	)

	// ClusterRunsTotal tracks background clustering runs
	ClusterRunsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_cluster_runs_total",
			Help: "Total number of background clustering runs",
		},
	)

	// ClusterRunDuration tracks clustering pass latency
	ClusterRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bot_cluster_run_duration_seconds",
			Help:    "Duration of one background clustering pass in seconds",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 60},
		},
	)

	// ClustersDiscovered tracks the size of the last published snapshot
	ClustersDiscovered = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bot_clusters_discovered",
			Help: "Number of clusters in the last published snapshot, by type",
		},
		[]string{"cluster_type"},
	)

	// SignaturesTracked tracks the signature coordinator's live population
	SignaturesTracked = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_signatures_tracked",
			Help: "Current number of signatures with live behavior history",
		},
	)

	// TelemetrySinkErrorsTotal tracks best-effort sink write failures
	TelemetrySinkErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_telemetry_sink_errors_total",
			Help: "Total number of telemetry sink write failures",
		},
		[]string{"sink"},
	)
)

func registerDetectionMetrics() {
	// Helper function to register metrics, ignoring AlreadyRegisteredError
	register := func(c prometheus.Collector) {
		if err := prometheus.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				// Only panic for non-AlreadyRegisteredError errors
				panic(err)
			}
		}
	}

	register(DetectionRequestsTotal)
	register(DetectionDuration)
	register(DetectorContributionsTotal)
	register(DetectorFailuresTotal)
	register(PolicyActionsTotal)
	register(ClusterRunsTotal)
	register(ClusterRunDuration)
	register(ClustersDiscovered)
	register(SignaturesTracked)
	register(TelemetrySinkErrorsTotal)
}

func init() {
	// Register detection metrics with Prometheus
	registerDetectionMetrics()
}
