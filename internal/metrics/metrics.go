// Package metrics provides Prometheus instrumentation for market-core.
package metrics

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TransactionsTotal counts executed transactions by type and side.
	TransactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_core_transactions_total",
		Help: "Total number of transactions executed",
	}, []string{"type", "side"})

	// TransactionLatency tracks the wall time of ExecuteTransaction.
	TransactionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "market_core_transaction_latency_seconds",
		Help:    "Transaction execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	// TransactionRejections counts transactions refused before any write.
	TransactionRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_core_transaction_rejections_total",
		Help: "Transactions rejected by validation",
	}, []string{"reason"})

	// ProfileRepairs counts runs of the duplicate-profile repair and the
	// rows it removed.
	ProfileRepairs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "market_core_profile_repairs_total",
		Help: "Duplicate profile repairs performed",
	})
	ProfileRowsRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "market_core_profile_rows_removed_total",
		Help: "Duplicate profile rows deleted by repair",
	})

	// CoinsAwarded counts coins credited through hunting rewards.
	CoinsAwarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "market_core_coins_awarded_total",
		Help: "Coins awarded by hunting challenges",
	})

	// MarketsCreated counts markets created, partitioned by type.
	MarketsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_core_markets_created_total",
		Help: "Markets created",
	}, []string{"type"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "market_core_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_core_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "market_core_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Label by route pattern, not raw path, to bound cardinality.
		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				path = p
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack is required for the websocket upgrade behind this middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(w.ResponseWriter).Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
