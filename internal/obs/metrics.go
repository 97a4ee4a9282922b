package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics.
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
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Access-engine metrics.
var (
	accessRequestsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "access_requests_created_total",
		Help: "Access requests filed by partners.",
	})

	accessRequestsResolved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_requests_resolved_total",
			Help: "Access requests leaving the pending state.",
		},
		[]string{"status"},
	)

	accessGrantsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "access_grants_created_total",
		Help: "Access grants materialized by approval or direct grant.",
	})

	accessGrantsRevoked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_grants_revoked_total",
			Help: "Access grants revoked, by cause.",
		},
		[]string{"cause"},
	)

	accessGrantsExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "access_grants_expired_total",
		Help: "Grants stamped expired by the sweep.",
	})

	accessSweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "access_sweep_duration_seconds",
		Help:    "Duration of expiry sweep runs.",
		Buckets: prometheus.DefBuckets,
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		accessRequestsCreated, accessRequestsResolved,
		accessGrantsCreated, accessGrantsRevoked,
		accessGrantsExpired, accessSweepDuration,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// IncRequestCreated counts a newly filed access request.
func IncRequestCreated() { accessRequestsCreated.Inc() }

// IncRequestResolved counts a terminal request transition.
func IncRequestResolved(status string) { accessRequestsResolved.WithLabelValues(status).Inc() }

// IncGrantCreated counts a materialized grant.
func IncGrantCreated() { accessGrantsCreated.Inc() }

// IncGrantRevoked counts a revocation; cause is "manual" or "cascade".
func IncGrantRevoked(cause string) { accessGrantsRevoked.WithLabelValues(cause).Inc() }

// ObserveSweep records one sweep run.
func ObserveSweep(d time.Duration, expired int) {
	accessSweepDuration.Observe(d.Seconds())
	accessGrantsExpired.Add(float64(expired))
}

// CanonicalPath collapses resource identifiers so metric label cardinality
// stays bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	for _, prefix := range []string{"/v1/access/requests/", "/v1/access/grants/", "/v1/users/"} {
		rest, ok := strings.CutPrefix(path, prefix)
		if !ok {
			continue
		}
		switch {
		case rest == "":
			return path
		case !strings.Contains(rest, "/"):
			return prefix + ":id"
		case strings.Count(rest, "/") == 1:
			id, action, _ := strings.Cut(rest, "/")
			if id != "" && action != "" {
				return prefix + ":id/" + action
			}
		}
	}
	return path
}

// Instrument wraps a handler with RPS/latency/in-flight measurement.
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

// statusWriter captures the response code for metrics.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
