// Package metrics provides Prometheus instrumentation for the trading engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OrdersTotal counts batch order entries processed, partitioned by order
	// kind (buy_by_price, buy_by_shares, sell_by_price, sell_by_shares,
	// fair_launch) and outcome (filled, rejected).
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clob_orders_total",
		Help: "Total number of batch order entries processed",
	}, []string{"kind", "outcome"})

	// OrderLatency tracks batch execution latency by order kind.
	OrderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clob_order_latency_seconds",
		Help:    "Order batch execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	// FeeVolume tracks cumulative collateral collected as fees, by source
	// (trade, resolution, withdrawal).
	FeeVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clob_fee_volume_total",
		Help: "Cumulative collateral collected as fees",
	}, []string{"source"})

	// ClaimsTotal counts winning claims paid out.
	ClaimsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clob_claims_total",
		Help: "Total number of winning claims paid out",
	})

	// ActiveMarkets tracks the number of markets created and not yet fully
	// resolved.
	ActiveMarkets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clob_active_markets",
		Help: "Number of markets with at least one unresolved sub-market",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clob_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clob_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clob_http_request_duration_seconds",
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

		// Use the raw path for the label to avoid per-ID cardinality only on
		// shallow routes; deep routes are bucketed by their first segment.
		path := routeLabel(r.URL.Path)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routeLabel collapses ID-bearing paths (/api/v1/markets/<uuid>/...) to their
// static prefix so Prometheus label cardinality stays bounded.
func routeLabel(path string) string {
	const prefix = "/api/v1/"
	if len(path) <= len(prefix) || path[:len(prefix)] != prefix {
		return path
	}
	rest := path[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			return prefix + rest[:i]
		}
	}
	return path
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
