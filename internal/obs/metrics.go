package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Общие HTTP-метрики
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets, // [0.005..10]
		},
		[]string{"method", "path", "status"},
	)

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "authority_ready",
		Help: "1 when the service passed its last readiness check.",
	})
)

// Доменные метрики
var (
	// Validations counts token validation outcomes (validated or a denial reason).
	Validations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authority_validations_total",
			Help: "Authority token validation attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// Attestations counts attestation builds and verification results.
	Attestations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authority_attestations_total",
			Help: "Export attestation operations by result.",
		},
		[]string{"result"},
	)

	// RateLimitEntries tracks the size of the in-memory rate limit window map.
	RateLimitEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "authority_ratelimit_entries",
		Help: "Tracked (client, token) pairs in the in-memory rate limiter.",
	})
)

var initOnce sync.Once

// Регистрация метрик в default-регистре.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration, readyGauge,
			Validations, Attestations, RateLimitEntries,
		)
	})
}

// Хэндлер Prometheus.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady records the latest readiness probe result.
func SetReady(ok bool) {
	if ok {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

// Обёртка для измерения RPS/latency/в полёте.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses resource identifiers so metric labels stay bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 3 && parts[0] == "v1" && (parts[1] == "grants" || parts[1] == "tokens") {
		switch {
		case len(parts) == 3:
			parts[2] = ":id"
		case len(parts) == 4 && isResourceAction(parts[3]):
			parts[2] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}

func isResourceAction(s string) bool {
	switch s {
	case "scopes", "tokens", "revoke", "events":
		return true
	}
	return false
}

// statusWriter: локальная копия, чтобы знать код ответа.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
