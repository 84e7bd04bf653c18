package metrics

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
	"strconv"
	"time"
)

type Metrics struct {
	Requests        *prometheus.CounterVec
	LatencyMS       *prometheus.HistogramVec
	Checkouts       *prometheus.CounterVec
	GatewayCalls    *prometheus.HistogramVec
	StockShortfalls prometheus.Counter
	Reconciliations *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers the bookstore collectors on reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction does not panic.
func New(reg *prometheus.Registry, service string) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookstore",
			Subsystem: service,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bookstore",
			Subsystem: service,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"route"}),
		Checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookstore",
			Subsystem: service,
			Name:      "checkout_outcomes_total",
			Help:      "Checkout and capture outcomes by resulting state.",
		}, []string{"state"}),
		GatewayCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bookstore",
			Subsystem: service,
			Name:      "gateway_call_duration_ms",
			Help:      "Payment gateway call latency in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"op", "result"}),
		StockShortfalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bookstore",
			Subsystem: service,
			Name:      "stock_shortfalls_total",
			Help:      "Reservations refused for insufficient stock.",
		}),
		Reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookstore",
			Subsystem: service,
			Name:      "reconciliations_total",
			Help:      "Reconciliation attempts by trigger and result.",
		}, []string{"trigger", "result"}),
		gatherer: reg,
	}
	reg.MustRegister(m.Requests, m.LatencyMS, m.Checkouts, m.GatewayCalls, m.StockShortfalls, m.Reconciliations)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveGateway records one gateway call that started at start.
func (m *Metrics) ObserveGateway(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.GatewayCalls.WithLabelValues(op, result).Observe(float64(time.Since(start).Milliseconds()))
}

// Middleware counts requests per chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.Requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		m.LatencyMS.WithLabelValues(route).Observe(float64(time.Since(start).Milliseconds()))
	})
}
