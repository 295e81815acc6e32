// Package metrics provides Prometheus metrics for the detection and solving pipeline.
package metrics

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts local server requests by route and status code.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turnstile_http_requests_total",
			Help: "Total HTTP requests handled by the local solving server",
		},
		[]string{"route", "status"},
	)

	// HTTPRequestDuration tracks local server latency by route.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "turnstile_http_request_duration_seconds",
			Help:    "Local solving server request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"route"},
	)

	// DetectionsTotal counts detection passes by whether anything was found.
	DetectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turnstile_detections_total",
			Help: "Widget detection passes by result",
		},
		[]string{"result"},
	)

	// DetectionDuration tracks how long a detection pass takes, including the readiness wait.
	DetectionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "turnstile_detection_duration_seconds",
			Help:    "Widget detection pass duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
	)

	// WidgetsDetected counts detected widget records by tag kind.
	WidgetsDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turnstile_widgets_detected_total",
			Help: "Widget records produced by detection, by kind",
		},
		[]string{"kind"},
	)

	// StrategyAttempts counts solve strategy runs by strategy and outcome.
	StrategyAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turnstile_strategy_attempts_total",
			Help: "Solve strategy attempts by strategy and outcome",
		},
		[]string{"strategy", "outcome"},
	)

	// SolveOutcomes counts finished solve runs.
	SolveOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turnstile_solve_outcomes_total",
			Help: "Solve runs by final outcome",
		},
		[]string{"outcome"},
	)

	// SolveDuration tracks whole solve runs.
	SolveDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "turnstile_solve_duration_seconds",
			Help:    "Solve run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)

	// ActiveSessions shows the local server's session table size.
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "turnstile_local_sessions",
			Help: "Sessions held by the local solving server",
		},
	)

	// TokensReceived counts tokens posted back to the local server.
	TokensReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turnstile_tokens_received_total",
			Help: "Token callbacks received by the local solving server",
		},
		[]string{"result"},
	)

	// ProviderSolves counts third-party solver calls by provider and status.
	ProviderSolves = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turnstile_provider_solves_total",
			Help: "Third-party captcha solver calls by provider and status",
		},
		[]string{"provider", "status"},
	)

	// MemoryUsageBytes shows current memory usage.
	MemoryUsageBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "turnstile_memory_usage_bytes",
			Help: "Current memory usage in bytes (alloc)",
		},
	)

	// GoroutineCount shows current goroutine count.
	GoroutineCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "turnstile_goroutines",
			Help: "Current number of goroutines",
		},
	)

	// BuildInfo provides build information as labels.
	BuildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "turnstile_build_info",
			Help: "Build information",
		},
		[]string{"version", "go_version"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		DetectionsTotal,
		DetectionDuration,
		WidgetsDetected,
		StrategyAttempts,
		SolveOutcomes,
		SolveDuration,
		ActiveSessions,
		TokensReceived,
		ProviderSolves,
		MemoryUsageBytes,
		GoroutineCount,
		BuildInfo,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, goVersion string) {
	BuildInfo.WithLabelValues(version, goVersion).Set(1)
}

// StartMemoryCollector periodically samples memory and goroutine counts until stopCh closes.
func StartMemoryCollector(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			updateMemoryMetrics()
		case <-stopCh:
			return
		}
	}
}

func updateMemoryMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	MemoryUsageBytes.Set(float64(m.Alloc))
	GoroutineCount.Set(float64(runtime.NumGoroutine()))
}

// RecordHTTPRequest records one local server request.
func RecordHTTPRequest(route string, status int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordDetection records a detection pass and the kinds it found.
func RecordDetection(kinds []string, duration time.Duration) {
	result := "empty"
	if len(kinds) > 0 {
		result = "found"
	}
	DetectionsTotal.WithLabelValues(result).Inc()
	DetectionDuration.Observe(duration.Seconds())
	for _, k := range kinds {
		WidgetsDetected.WithLabelValues(k).Inc()
	}
}

// RecordStrategy records one strategy attempt.
func RecordStrategy(strategy string, success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	StrategyAttempts.WithLabelValues(strategy, outcome).Inc()
}

// RecordSolve records a finished solve run.
func RecordSolve(outcome string, duration time.Duration) {
	SolveOutcomes.WithLabelValues(outcome).Inc()
	SolveDuration.Observe(duration.Seconds())
}

// RecordToken records a token callback result ("accepted", "duplicate", "unknown_session").
func RecordToken(result string) {
	TokensReceived.WithLabelValues(result).Inc()
}

// RecordProviderSolve records a third-party solver call.
func RecordProviderSolve(provider, status string) {
	ProviderSolves.WithLabelValues(provider, status).Inc()
}

// UpdateSessionMetrics updates the session count gauge.
func UpdateSessionMetrics(count int) {
	ActiveSessions.Set(float64(count))
}
