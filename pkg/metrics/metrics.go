package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Lifecycle counters.
	ColdStartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "zeta_cold_starts_total",
			Help: "Total number of cold container starts",
		},
	)

	WarmStartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "zeta_warm_starts_total",
			Help: "Total number of warm container reuses",
		},
	)

	StartTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "zeta_start_timeouts_total",
			Help: "Total number of ColdStart/WarmStart readiness timeouts",
		},
	)

	BuildFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "zeta_build_failures_total",
			Help: "Total number of runner image build failures",
		},
	)

	ReapsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "zeta_reaps_total",
			Help: "Total number of containers removed by the idle reaper",
		},
	)

	FunctionsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "zeta_functions_total",
			Help: "Total number of registered functions",
		},
	)

	RunningContainersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "zeta_running_containers_total",
			Help: "Total number of live runner containers",
		},
	)

	// Invocation metrics.
	InvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zeta_invocations_total",
			Help: "Total number of invocations by function and outcome",
		},
		[]string{"function", "outcome"},
	)

	InvocationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zeta_invocation_duration_seconds",
			Help:    "Runner /run round-trip duration in seconds, excluding any cold or warm start",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"function"},
	)

	ColdStartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "zeta_cold_start_duration_seconds",
			Help:    "Time from ColdStart invocation to container readiness",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 45, 60},
		},
	)

	BuildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "zeta_build_duration_seconds",
			Help:    "Time taken to build a runner image",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReaperCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "zeta_reaper_cycle_duration_seconds",
			Help:    "Time taken for one reaper scan cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	// API metrics.
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zeta_api_requests_total",
			Help: "Total number of control-plane API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zeta_api_request_duration_seconds",
			Help:    "Control-plane API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(ColdStartsTotal)
	prometheus.MustRegister(WarmStartsTotal)
	prometheus.MustRegister(StartTimeoutsTotal)
	prometheus.MustRegister(BuildFailuresTotal)
	prometheus.MustRegister(ReapsTotal)
	prometheus.MustRegister(FunctionsTotal)
	prometheus.MustRegister(RunningContainersTotal)
	prometheus.MustRegister(InvocationsTotal)
	prometheus.MustRegister(InvocationDuration)
	prometheus.MustRegister(ColdStartDuration)
	prometheus.MustRegister(BuildDuration)
	prometheus.MustRegister(ReaperCycleDuration)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
