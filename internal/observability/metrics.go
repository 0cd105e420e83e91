package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SnapshotsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "switcher_snapshots_total",
		Help: "Connectivity snapshots processed by the engine",
	})
	IntentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switcher_intents_total",
			Help: "VPN intents issued, by action and result",
		}, []string{"action", "result"},
	)
	IntentRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "switcher_intent_retries_total",
		Help: "Intent attempts beyond the first",
	})
	ActiveVPN = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "switcher_active_vpn",
		Help: "1 while the engine tracks an active VPN",
	})
	DecisionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "switcher_decision_duration_seconds",
		Help:    "Time from snapshot receipt to settled state",
		Buckets: prometheus.DefBuckets,
	})

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switcher_http_requests_total",
			Help: "Status API requests",
		}, []string{"code"},
	)
	Latency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "switcher_http_request_duration_seconds",
		Help:    "Status API request latency seconds",
		Buckets: prometheus.DefBuckets,
	})
	InFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "switcher_http_in_flight",
		Help: "In-flight status API requests",
	})
)

func init() {
	prometheus.MustRegister(
		SnapshotsTotal, IntentsTotal, IntentRetries, ActiveVPN, DecisionDuration,
		RequestsTotal, Latency, InFlight,
	)
}

func MetricsHandler() http.Handler { return promhttp.Handler() }

type rec struct {
	http.ResponseWriter
	code int
}

func (r *rec) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func Measure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		InFlight.Inc()
		defer InFlight.Dec()

		rr := &rec{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rr, r)

		Latency.Observe(time.Since(start).Seconds())
		RequestsTotal.WithLabelValues(strconv.Itoa(rr.code)).Inc()
	})
}
