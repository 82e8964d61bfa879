// Package metrics exposes Prometheus collectors for the storefront.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fjod/go_storefront/internal/cart"
	"github.com/fjod/go_storefront/internal/variant"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "storefront"

type Metrics struct {
	Registry *prometheus.Registry

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	cartActions  *prometheus.CounterVec
	cartSaveErrs prometheus.Counter
	sseClients   prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		}, []string{"method", "route"}),
		cartActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cart",
			Name:      "actions_total",
			Help:      "Cart actions dispatched, by outcome.",
		}, []string{"action", "outcome"}),
		cartSaveErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cart",
			Name:      "save_failures_total",
			Help:      "Cart writes dropped because the store failed.",
		}),
		sseClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "event_streams",
			Help:      "Open session event streams.",
		}),
	}

	m.Registry.MustRegister(
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		m.cartActions,
		m.cartSaveErrs,
		m.sseClients,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Instrument records request counts and latency by chi route pattern.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := routePattern(r)
		method := strings.ToUpper(r.Method)
		m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	})
}

func (m *Metrics) ObserveCartAction(action string, err error) {
	m.cartActions.WithLabelValues(action, outcome(err)).Inc()
}

// CartSaveFailed matches cart.SaveFailureHook.
func (m *Metrics) CartSaveFailed(error) {
	m.cartSaveErrs.Inc()
}

func (m *Metrics) StreamOpened() { m.sseClients.Inc() }
func (m *Metrics) StreamClosed() { m.sseClients.Dec() }

func outcome(err error) string {
	switch {
	case err == nil:
		return "applied"
	case errors.Is(err, cart.ErrInvalidQuantity):
		return "invalid_quantity"
	case errors.Is(err, cart.ErrLineNotFound):
		return "line_not_found"
	case errors.Is(err, variant.ErrIncomplete), errors.Is(err, variant.ErrUnknownAxis), errors.Is(err, variant.ErrUnknownOption):
		return "invalid_variants"
	default:
		return "rejected"
	}
}

// routePattern keeps label cardinality bounded: unmatched paths collapse to one value.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return "unmatched"
	}
	if p := rctx.RoutePattern(); p != "" {
		return p
	}
	return "unmatched"
}
