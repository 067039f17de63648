// Package server exposes the optimization engine over HTTP and WebSocket.
//
// The server only reads: every handler takes the latest published value from
// the engine and never waits on an optimization cycle.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/stockflow/invopt/optim"
	"github.com/stockflow/invopt/optim/inventory"
	"github.com/stockflow/invopt/optim/trace"
)

// Engine is the read side of the optimizer the server depends on.
type Engine interface {
	CurrentOptimization() (*optim.OptimizationResult, bool)
	CurrentTelemetry() optim.Telemetry
	CurrentAlerts() (*optim.AlertSet, bool)
	Status() inventory.Status
	Config() optim.Config
	Strategy() string
	Trace() *trace.Recorder
}

// shutdownTimeout bounds how long in-flight requests may take on shutdown.
const shutdownTimeout = 10 * time.Second

// Server serves the REST API, the WebSocket streams and /metrics.
type Server struct {
	engine   Engine
	cfg      optim.ServerConfig
	router   *chi.Mux
	upgrader websocket.Upgrader
	metrics  *metrics
	started  time.Time
}

// New builds a Server with its routes registered.
func New(engine Engine, cfg optim.ServerConfig) *Server {
	s := &Server{
		engine: engine,
		cfg:    cfg,
		router: chi.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		started: time.Now(),
	}
	s.metrics = newMetrics(engine)

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler)
	s.router.Use(s.metrics.instrument)
	s.RegisterRoutes(s.router)
	return s
}

// RegisterRoutes mounts every endpoint on r.
func (s *Server) RegisterRoutes(r *chi.Mux) {
	r.Get("/", s.index)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/optimization", s.getOptimization)
		r.Get("/optimization/telemetry", s.getTelemetry)
		r.Get("/optimization/alerts", s.getAlerts)
		r.Get("/algorithms", s.getAlgorithms)
		r.Get("/health", s.getHealth)
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))

	r.Get("/ws/optimization", s.streamHandler("optimization", s.cfg.PlanInterval, s.planMessage))
	r.Get("/ws/performance", s.streamHandler("performance", s.cfg.TelemetryInterval, s.telemetryMessage))
	r.Get("/ws/alerts", s.streamHandler("alerts", s.cfg.AlertsInterval, s.alertsMessage))
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Registry returns the Prometheus registry backing /metrics.
func (s *Server) Registry() *prometheus.Registry { return s.metrics.registry }

// ListenAndServe serves on cfg.Addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logrus.Infof("server: listening on %s", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	if serveErr := <-errCh; serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return serveErr
	}
	logrus.Infof("server: stopped")
	return err
}
