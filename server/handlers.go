package server

import (
	"net/http"
	"time"

	"github.com/stockflow/invopt/optim"
	"github.com/stockflow/invopt/optim/trace"
)

// notAvailable is the body returned before the first value is published.
var notAvailable = map[string]string{"status": "not_available"}

func (s *Server) index(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, map[string]any{
		"service": "invopt",
		"status":  "running",
		"uptime":  time.Since(s.started).Round(time.Second).String(),
		"endpoints": map[string]string{
			"optimization": "/api/v1/optimization",
			"telemetry":    "/api/v1/optimization/telemetry",
			"alerts":       "/api/v1/optimization/alerts",
			"algorithms":   "/api/v1/algorithms",
			"health":       "/api/v1/health",
			"metrics":      "/metrics",
			"ws_plan":      "/ws/optimization",
			"ws_telemetry": "/ws/performance",
			"ws_alerts":    "/ws/alerts",
		},
	})
}

func (s *Server) getOptimization(w http.ResponseWriter, _ *http.Request) {
	res, ok := s.engine.CurrentOptimization()
	if !ok {
		respond(w, http.StatusServiceUnavailable, notAvailable)
		return
	}
	respond(w, http.StatusOK, res)
}

func (s *Server) getTelemetry(w http.ResponseWriter, _ *http.Request) {
	t := s.engine.CurrentTelemetry()
	if t.Samples == 0 {
		respond(w, http.StatusServiceUnavailable, notAvailable)
		return
	}
	respond(w, http.StatusOK, t)
}

func (s *Server) getAlerts(w http.ResponseWriter, _ *http.Request) {
	set, ok := s.engine.CurrentAlerts()
	if !ok {
		respond(w, http.StatusServiceUnavailable, notAvailable)
		return
	}
	respond(w, http.StatusOK, set)
}

type algorithmsResponse struct {
	Strategy string               `json:"strategy"`
	Search   optim.SearchConfig   `json:"search"`
	Fitness  optim.FitnessConfig  `json:"fitness"`
	Forecast optim.ForecastConfig `json:"forecast"`
	Seed     int64                `json:"seed"`
	Cycles   *trace.Summary       `json:"cycles"`
}

func (s *Server) getAlgorithms(w http.ResponseWriter, _ *http.Request) {
	cfg := s.engine.Config()
	respond(w, http.StatusOK, algorithmsResponse{
		Strategy: s.engine.Strategy(),
		Search:   cfg.Search,
		Fitness:  cfg.Fitness,
		Forecast: cfg.Forecast,
		Seed:     s.engine.Status().Seed,
		Cycles:   trace.Summarize(s.engine.Trace()),
	})
}

func (s *Server) getHealth(w http.ResponseWriter, _ *http.Request) {
	status := s.engine.Status()
	code := http.StatusOK
	state := "healthy"
	if !status.Ready {
		code, state = http.StatusServiceUnavailable, "starting"
	}
	respond(w, code, map[string]any{
		"status": state,
		"cycles": status,
	})
}
