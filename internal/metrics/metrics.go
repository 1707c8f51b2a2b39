// Package metrics provides Prometheus instrumentation for scamscore.
package metrics

import (
	"context"
	"database/sql"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scamscore",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, route pattern, and status code.",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration observes request latency by method and route.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "scamscore",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// AssessmentsTotal counts successful assessments by risk tier.
	AssessmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scamscore",
			Name:      "assessments_total",
			Help:      "Total completed assessments by risk tier.",
		},
		[]string{"tier"},
	)

	// AssessmentErrorsTotal counts failed assessments by error kind.
	AssessmentErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scamscore",
			Name:      "assessment_errors_total",
			Help:      "Total failed assessments by error kind.",
		},
		[]string{"kind"},
	)

	// AssessmentDuration observes end-to-end assessment latency.
	AssessmentDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "scamscore",
		Name:      "assessment_duration_seconds",
		Help:      "Assessment latency in seconds, including history lookups.",
		Buckets:   []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
	})

	// ScamProbability observes the distribution of scored probabilities.
	ScamProbability = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "scamscore",
		Name:      "scam_probability",
		Help:      "Distribution of scam probabilities returned by the model.",
		Buckets:   prometheus.LinearBuckets(0.1, 0.1, 9),
	})

	// EventsPublishedTotal counts bus publications by topic and result.
	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scamscore",
			Name:      "events_published_total",
			Help:      "Total events published to the bus by topic and result.",
		},
		[]string{"topic", "result"},
	)

	// EventsDroppedTotal counts events a subscriber could not accept.
	EventsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scamscore",
			Name:      "events_dropped_total",
			Help:      "Total events dropped because a subscriber buffer was full.",
		},
		[]string{"topic"},
	)

	// ReplaysTotal counts assessment lookups by request ID.
	ReplaysTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scamscore",
			Name:      "replay_lookups_total",
			Help:      "Lookups of previously computed assessments by request ID.",
		},
		[]string{"result"},
	)

	// ModelInfo is 1 for the model currently loaded.
	ModelInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "scamscore",
			Name:      "model_info",
			Help:      "Loaded model version and kind.",
		},
		[]string{"version", "kind"},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "scamscore", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "scamscore", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "scamscore", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		AssessmentsTotal,
		AssessmentErrorsTotal,
		AssessmentDuration,
		ScamProbability,
		EventsPublishedTotal,
		EventsDroppedTotal,
		ReplaysTotal,
		ModelInfo,
		DBOpenConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// ObserveAssessment records one assessment outcome. errKind is empty on success.
func ObserveAssessment(tier string, probability float64, errKind string, d time.Duration) {
	AssessmentDuration.Observe(d.Seconds())
	if errKind != "" {
		AssessmentErrorsTotal.WithLabelValues(errKind).Inc()
		return
	}
	AssessmentsTotal.WithLabelValues(tier).Inc()
	ScamProbability.Observe(probability)
}

// ObservePublish records one bus publication.
func ObservePublish(topic string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	EventsPublishedTotal.WithLabelValues(topic, result).Inc()
}

// ObserveReplay records a replay cache lookup.
func ObserveReplay(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	ReplaysTotal.WithLabelValues(result).Inc()
}

// SetModel marks version/kind as the loaded model.
func SetModel(version, kind string) {
	ModelInfo.Reset()
	ModelInfo.WithLabelValues(version, kind).Set(1)
}

// StartDBStatsCollector periodically samples sql.DBStats and the goroutine
// count into gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware records request count and latency per chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		// Route pattern instead of path keeps label cardinality bounded.
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		HTTPRequestsTotal.WithLabelValues(r.Method, route, statusBucket(rw.status)).Inc()
	})
}

// Handler returns the Prometheus metrics HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}
