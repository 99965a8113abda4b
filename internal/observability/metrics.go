package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	bodySizeBuckets     = []float64{100, 1024, 10240, 102400, 1048576}
	uploadSizeBuckets   = []float64{10240, 102400, 1048576, 5242880, 10485760}
)

// Metrics holds all Prometheus metric instruments for GovFlow.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Service request lifecycle metrics
	RequestsCreatedTotal     *prometheus.CounterVec
	RequestTransitionsTotal  *prometheus.CounterVec
	RequestCompletionsTotal  *prometheus.CounterVec
	RequestsActive           *prometheus.GaugeVec
	TransitionsRejectedTotal *prometheus.CounterVec
	FormValidationFailures   *prometheus.CounterVec

	// Auth metrics
	AuthLoginsTotal     *prometheus.CounterVec
	PasswordResetsTotal *prometheus.CounterVec

	// Document metrics
	DocumentUploadsTotal *prometheus.CounterVec
	DocumentUploadBytes  prometheus.Histogram

	// System metrics
	SeedRecordsLoaded *prometheus.GaugeVec
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "govflow_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "govflow_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "govflow_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "govflow_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Service requests
		RequestsCreatedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "govflow_service_requests_created_total",
			Help: "Total number of service requests created.",
		}, []string{"workflow_id"}),
		RequestTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "govflow_service_request_transitions_total",
			Help: "Total number of accepted lifecycle actions.",
		}, []string{"workflow_id", "action", "to_status"}),
		RequestCompletionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "govflow_service_request_completions_total",
			Help: "Total number of service requests reaching a terminal status.",
		}, []string{"workflow_id", "final_status"}),
		RequestsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "govflow_service_requests_active",
			Help: "Number of non-terminal service requests created by this process.",
		}, []string{"workflow_id"}),
		TransitionsRejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "govflow_service_request_transitions_rejected_total",
			Help: "Total number of rejected lifecycle actions.",
		}, []string{"action", "reason"}),
		FormValidationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "govflow_form_validation_failures_total",
			Help: "Total number of step submissions rejected by form validation.",
		}, []string{"workflow_id", "step_id"}),

		// Auth
		AuthLoginsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "govflow_auth_logins_total",
			Help: "Total number of login attempts.",
		}, []string{"result"}),
		PasswordResetsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "govflow_password_resets_total",
			Help: "Total number of password reset operations.",
		}, []string{"stage", "result"}),

		// Documents
		DocumentUploadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "govflow_document_uploads_total",
			Help: "Total number of document uploads.",
		}, []string{"result"}),
		DocumentUploadBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "govflow_document_upload_bytes",
			Help:    "Size of accepted document uploads in bytes.",
			Buckets: uploadSizeBuckets,
		}),

		// System
		SeedRecordsLoaded: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "govflow_seed_records_loaded",
			Help: "Number of records loaded from seed files.",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Service requests
		m.RequestsCreatedTotal,
		m.RequestTransitionsTotal,
		m.RequestCompletionsTotal,
		m.RequestsActive,
		m.TransitionsRejectedTotal,
		m.FormValidationFailures,
		// Auth
		m.AuthLoginsTotal,
		m.PasswordResetsTotal,
		// Documents
		m.DocumentUploadsTotal,
		m.DocumentUploadBytes,
		// System
		m.SeedRecordsLoaded,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordRequestCreated records a new service request.
func (m *Metrics) RecordRequestCreated(workflowID string) {
	m.RequestsCreatedTotal.WithLabelValues(workflowID).Inc()
	m.RequestsActive.WithLabelValues(workflowID).Inc()
}

// RecordTransition records an accepted lifecycle action. Terminal statuses
// also count as completions.
func (m *Metrics) RecordTransition(workflowID, action, toStatus string, terminal bool) {
	m.RequestTransitionsTotal.WithLabelValues(workflowID, action, toStatus).Inc()
	if terminal {
		m.RequestCompletionsTotal.WithLabelValues(workflowID, toStatus).Inc()
		m.RequestsActive.WithLabelValues(workflowID).Dec()
	}
}

// RecordTransitionRejected records a refused lifecycle action.
func (m *Metrics) RecordTransitionRejected(action, reason string) {
	m.TransitionsRejectedTotal.WithLabelValues(action, reason).Inc()
}

// RecordValidationFailure records a submission rejected by form validation.
func (m *Metrics) RecordValidationFailure(workflowID, stepID string) {
	m.FormValidationFailures.WithLabelValues(workflowID, stepID).Inc()
}

// RecordLogin records a login attempt ("success" or "failure").
func (m *Metrics) RecordLogin(result string) {
	m.AuthLoginsTotal.WithLabelValues(result).Inc()
}

// RecordPasswordReset records a reset stage ("requested", "completed").
func (m *Metrics) RecordPasswordReset(stage, result string) {
	m.PasswordResetsTotal.WithLabelValues(stage, result).Inc()
}

// RecordDocumentUpload records an upload attempt. size is observed only for
// accepted uploads.
func (m *Metrics) RecordDocumentUpload(result string, size int64) {
	m.DocumentUploadsTotal.WithLabelValues(result).Inc()
	if result == "accepted" {
		m.DocumentUploadBytes.Observe(float64(size))
	}
}

// SetSeedRecordsLoaded sets the number of seed records loaded for a kind.
func (m *Metrics) SetSeedRecordsLoaded(kind string, count float64) {
	m.SeedRecordsLoaded.WithLabelValues(kind).Set(count)
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		pathPattern := routePattern(r)
		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}

		m.RecordHTTPRequest(r.Method, pathPattern, sw.status, duration, reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
