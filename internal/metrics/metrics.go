// Package metrics holds the Prometheus collectors shared by the API and the AI client.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buglens_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "buglens_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	aiRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buglens_ai_requests_total",
			Help: "AI analysis calls by outcome",
		},
		[]string{"outcome"},
	)

	aiRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "buglens_ai_request_duration_seconds",
			Help:    "Wall time of one AI analysis including retries",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
	)

	analysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buglens_analyses_total",
			Help: "Persisted analyses by success flag",
		},
		[]string{"success"},
	)

	securityAlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buglens_security_alerts_total",
			Help: "Auth failure thresholds reached, by event",
		},
		[]string{"event"},
	)
)

// AI outcome labels.
const (
	OutcomeSuccess     = "success"
	OutcomePlaceholder = "placeholder"
	OutcomeTruncated   = "truncated"
	OutcomeFailed      = "failed"
)

// ObserveAI records one finished AI analysis.
func ObserveAI(outcome string, elapsed time.Duration) {
	aiRequestsTotal.WithLabelValues(outcome).Inc()
	aiRequestDuration.Observe(elapsed.Seconds())
}

// ObserveAnalysis counts a persisted analysis record.
func ObserveAnalysis(success bool) {
	analysesTotal.WithLabelValues(strconv.FormatBool(success)).Inc()
}

// ObserveSecurityAlert counts a reached auth failure threshold.
func ObserveSecurityAlert(event string) {
	securityAlertsTotal.WithLabelValues(event).Inc()
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Middleware records request counts and latency labelled by the chi route
// pattern, so path ids do not explode label cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
