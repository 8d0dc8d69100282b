package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	JobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_enqueued_total",
			Help: "Total number of GPU jobs enqueued",
		},
		[]string{"kind"},
	)
	JobsProcessing = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobs_processing",
			Help: "Number of GPU jobs currently processing",
		},
		[]string{"kind"},
	)
	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total number of GPU jobs completed",
		},
		[]string{"kind"},
	)
	JobsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_failed_total",
			Help: "Total number of GPU jobs failed",
		},
		[]string{"kind"},
	)
	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "job_duration_seconds",
			Help:    "GPU job duration in seconds",
			Buckets: []float64{1, 2, 5, 10, 30, 60, 120, 240, 360},
		},
		[]string{"kind"},
	)

	GatewayRejectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_rejects_total",
			Help: "Requests rejected at the gateway before reaching an upstream",
		},
		[]string{"reason"},
	)
	GPUMemoryUsedBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gpu_memory_used_bytes",
			Help: "GPU memory in use as last sampled by the telemetry loop",
		},
	)
)

// InitMetrics registers all collectors once per process.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(JobsEnqueuedTotal)
	prometheus.MustRegister(JobsProcessing)
	prometheus.MustRegister(JobsCompletedTotal)
	prometheus.MustRegister(JobsFailedTotal)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(GatewayRejectsTotal)
	prometheus.MustRegister(GPUMemoryUsedBytes)
}

// EnqueueJob increments the enqueued counter for a task kind.
func EnqueueJob(kind string) { JobsEnqueuedTotal.WithLabelValues(kind).Inc() }

// StartProcessingJob marks a job as processing.
func StartProcessingJob(kind string) { JobsProcessing.WithLabelValues(kind).Inc() }

// CompleteJob records a successful job.
func CompleteJob(kind string, dur time.Duration) {
	JobsProcessing.WithLabelValues(kind).Dec()
	JobsCompletedTotal.WithLabelValues(kind).Inc()
	JobDuration.WithLabelValues(kind).Observe(dur.Seconds())
}

// FailJob records a failed job.
func FailJob(kind string, dur time.Duration) {
	JobsProcessing.WithLabelValues(kind).Dec()
	JobsFailedTotal.WithLabelValues(kind).Inc()
	JobDuration.WithLabelValues(kind).Observe(dur.Seconds())
}

// GatewayReject counts a gateway-side rejection (auth, rate_limit, route).
func GatewayReject(reason string) { GatewayRejectsTotal.WithLabelValues(reason).Inc() }

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		HTTPRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(dur)
	})
}
