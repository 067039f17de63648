package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "invopt"

// metrics holds the server's private Prometheus registry. Engine values are
// read at scrape time through Func collectors, so nothing needs updating
// when a cycle publishes.
type metrics struct {
	registry  *prometheus.Registry
	requests  *prometheus.CounterVec
	wsClients *prometheus.GaugeVec
}

func newMetrics(engine Engine) *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		wsClients: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Connected WebSocket clients by stream.",
		}, []string{"stream"}),
	}

	counter := func(name, help string, value func() float64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, value)
	}
	gauge := func(name, help string, value func() float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help}, value)
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.wsClients,
		counter("cycles_total", "Optimization cycles started.",
			func() float64 { return float64(engine.Status().Cycles) }),
		counter("cycles_succeeded_total", "Cycles that published a plan.",
			func() float64 { return float64(engine.Status().Succeeded) }),
		counter("cycles_infeasible_total", "Cycles with no searchable SKU.",
			func() float64 { return float64(engine.Status().Infeasible) }),
		counter("cycles_failed_total", "Cycles that failed unexpectedly.",
			func() float64 { return float64(engine.Status().Failed) }),
		gauge("ready", "1 once the optimizer is initialized.", func() float64 {
			if engine.Status().Ready {
				return 1
			}
			return 0
		}),
		gauge("plan_score", "Fitness score of the published plan.", func() float64 {
			if res, ok := engine.CurrentOptimization(); ok {
				return res.Fitness.Score
			}
			return 0
		}),
		gauge("plan_snapshot_version", "Snapshot version of the published plan.", func() float64 {
			if res, ok := engine.CurrentOptimization(); ok {
				return float64(res.Version)
			}
			return 0
		}),
		gauge("alerts_active", "Alerts in the latest alert set.", func() float64 {
			if set, ok := engine.CurrentAlerts(); ok {
				return float64(len(set.Alerts))
			}
			return 0
		}),
		gauge("telemetry_cost_mean", "Rolling mean plan cost.",
			func() float64 { return engine.CurrentTelemetry().Cost.Mean }),
		gauge("telemetry_fill_rate_mean", "Rolling mean fill rate.",
			func() float64 { return engine.CurrentTelemetry().FillRate.Mean }),
		gauge("telemetry_service_level_mean", "Rolling mean service level.",
			func() float64 { return engine.CurrentTelemetry().ServiceLevel.Mean }),
		gauge("telemetry_search_seconds_mean", "Rolling mean cycle duration in seconds.",
			func() float64 { return engine.CurrentTelemetry().Duration.Mean }),
	)
	return m
}

// instrument counts requests by matched route pattern.
func (m *metrics) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		m.requests.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()
	})
}
