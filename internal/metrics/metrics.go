package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the lifecycle engine collectors.
	Registry = prometheus.NewRegistry()

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lifecycle",
			Subsystem: "engine",
			Name:      "transitions_total",
			Help:      "Status transitions applied by the engine.",
		},
		[]string{"entity", "from", "to"},
	)

	batchRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lifecycle",
			Subsystem: "batch",
			Name:      "runs_total",
			Help:      "Batch invocations by job.",
		},
		[]string{"job", "result"},
	)

	batchRecordErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lifecycle",
			Subsystem: "batch",
			Name:      "record_errors_total",
			Help:      "Per-record failures collected during batches.",
		},
		[]string{"job"},
	)

	batchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lifecycle",
			Subsystem: "batch",
			Name:      "duration_seconds",
			Help:      "Duration of batch invocations.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"job"},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lifecycle",
			Subsystem: "notify",
			Name:      "sends_total",
			Help:      "Notification attempts by channel and outcome.",
		},
		[]string{"channel", "result"},
	)

	providerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lifecycle",
			Subsystem: "payment",
			Name:      "requests_total",
			Help:      "Payment provider calls by operation, mode and outcome.",
		},
		[]string{"operation", "mode", "result"},
	)

	profileResyncs = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lifecycle",
			Subsystem: "consistency",
			Name:      "profile_resyncs_total",
			Help:      "Profiles re-synced from their authoritative subscription row.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lifecycle",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)
)

func init() {
	Registry.MustRegister(
		transitions,
		batchRuns,
		batchRecordErrors,
		batchDuration,
		notifications,
		providerRequests,
		profileResyncs,
		httpRequests,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func RecordTransition(entity, from, to string) {
	transitions.WithLabelValues(entity, from, to).Inc()
}

// RecordBatch records one batch invocation.
func RecordBatch(job string, duration time.Duration, recordErrors int, err error) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	result := "ok"
	if err != nil {
		result = "failed"
	} else if recordErrors > 0 {
		result = "partial"
	}
	batchRuns.WithLabelValues(job, result).Inc()
	batchDuration.WithLabelValues(job).Observe(duration.Seconds())
	if recordErrors > 0 {
		batchRecordErrors.WithLabelValues(job).Add(float64(recordErrors))
	}
}

func RecordNotification(channel string, success, mock bool) {
	result := "failure"
	switch {
	case mock:
		result = "mock"
	case success:
		result = "success"
	}
	notifications.WithLabelValues(channel, result).Inc()
}

func RecordProviderRequest(operation string, mock bool, err error) {
	mode := "live"
	if mock {
		mode = "mock"
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	providerRequests.WithLabelValues(operation, mode, result).Inc()
}

func RecordProfileResync() {
	profileResyncs.Inc()
}

// InstrumentHandler records request counts by chi route pattern.
// Must be mounted with Router.Use so the route context is populated.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		httpRequests.WithLabelValues(strings.ToUpper(r.Method), routePattern(r), strconv.Itoa(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// routePattern отдаёт шаблон маршрута, чтобы id не раздували кардинальность.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
