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

// Backend (SAP gateway) metrics.
var (
	backendCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "knmt_backend_calls_total",
			Help: "Calls to the SAP gateway by operation and outcome.",
		},
		[]string{"operation", "system", "outcome"},
	)

	backendCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "knmt_backend_call_duration_seconds",
			Help:    "SAP gateway call latencies in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"operation", "system"},
	)

	envelopeShapesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "knmt_envelope_shapes_total",
			Help: "Normalized backend envelopes by detected shape.",
		},
		[]string{"shape"},
	)

	sessionEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "knmt_session_events_total",
			Help: "Session bridge transitions.",
		},
		[]string{"event"},
	)
)

// buildInfo is a constant 1 labelled with the running version and commit.
var buildInfo = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "knmt_build_info",
		Help: "KNMT gateway build information.",
	},
	[]string{"version", "commit"},
)

var initOnce sync.Once

// Init registers the metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			backendCallsTotal, backendCallDuration,
			envelopeShapesTotal, sessionEventsTotal,
			buildInfo,
		)
	})
}

// SetBuildInfo publishes version and commit as knmt_build_info.
func SetBuildInfo(version, commit string) {
	buildInfo.WithLabelValues(version, commit).Set(1)
}

// Handler exposes the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveBackendCall records one SAP gateway call.
func ObserveBackendCall(operation, system, outcome string, d time.Duration) {
	backendCallsTotal.WithLabelValues(operation, system, outcome).Inc()
	backendCallDuration.WithLabelValues(operation, system).Observe(d.Seconds())
}

// ObserveEnvelope counts a normalized envelope by shape.
func ObserveEnvelope(shape string) {
	envelopeShapesTotal.WithLabelValues(shape).Inc()
}

// ObserveSession counts a session bridge event (restored, issued, expired, ...).
func ObserveSession(event string) {
	sessionEventsTotal.WithLabelValues(event).Inc()
}

// Instrument measures rate, latency and in-flight requests.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// CanonicalPath collapses record keys (kdmat may itself contain slashes)
// so metric label cardinality stays bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	const prefix = "/v1/requests/"
	if strings.HasPrefix(p, prefix) {
		rest := strings.Trim(strings.TrimPrefix(p, prefix), "/")
		if rest == "export.csv" {
			return p
		}
		if len(strings.Split(rest, "/")) >= 4 {
			return prefix + ":kunnr/:vkorg/:vtweg/:kdmat"
		}
	}
	return p
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
