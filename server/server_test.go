package server

import (
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockflow/invopt/optim"
	"github.com/stockflow/invopt/optim/inventory"
	"github.com/stockflow/invopt/optim/trace"
)

// fakeEngine serves fixed values; zero fields mean "not yet available".
type fakeEngine struct {
	mu        sync.Mutex
	result    *optim.OptimizationResult
	alerts    *optim.AlertSet
	telemetry optim.Telemetry
	status    inventory.Status
	recorder  *trace.Recorder
}

func (f *fakeEngine) CurrentOptimization() (*optim.OptimizationResult, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result, f.result != nil
}

func (f *fakeEngine) CurrentTelemetry() optim.Telemetry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.telemetry
}

func (f *fakeEngine) CurrentAlerts() (*optim.AlertSet, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alerts, f.alerts != nil
}

func (f *fakeEngine) Status() inventory.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeEngine) Config() optim.Config   { return optim.DefaultConfig() }
func (f *fakeEngine) Strategy() string       { return "weighted-sum" }
func (f *fakeEngine) Trace() *trace.Recorder { return f.recorder }

func (f *fakeEngine) set(fn func(*fakeEngine)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func sampleResult() *optim.OptimizationResult {
	return &optim.OptimizationResult{
		CycleID: "c-1",
		Version: 4,
		Plan:    optim.Plan{Lines: []optim.PlanLine{{SKU: "A", Quantity: 50, Max: 100}}},
		Fitness: optim.FitnessBreakdown{Score: 0.7, ServiceLevel: 1, FillRate: 1},
	}
}

func testServerConfig() optim.ServerConfig {
	return optim.ServerConfig{
		Addr:              "127.0.0.1:0",
		PlanInterval:      20 * time.Millisecond,
		TelemetryInterval: 20 * time.Millisecond,
		AlertsInterval:    20 * time.Millisecond,
	}
}

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestReads_NotAvailableBeforeFirstCycle(t *testing.T) {
	h := New(&fakeEngine{recorder: trace.NewRecorder(4)}, testServerConfig()).Handler()
	for _, path := range []string{"/api/v1/optimization", "/api/v1/optimization/telemetry", "/api/v1/optimization/alerts"} {
		t.Run(path, func(t *testing.T) {
			rec, body := get(t, h, path)
			assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
			assert.Equal(t, "not_available", body["status"])
		})
	}
}

func TestReads_ServePublishedValues(t *testing.T) {
	engine := &fakeEngine{
		result:    sampleResult(),
		alerts:    &optim.AlertSet{Alerts: []optim.Alert{}, Version: 4},
		telemetry: optim.Telemetry{Samples: 3, FillRate: optim.Moments{Mean: 0.9}},
		recorder:  trace.NewRecorder(4),
	}
	h := New(engine, testServerConfig()).Handler()

	rec, body := get(t, h, "/api/v1/optimization")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "c-1", body["cycle_id"])
	assert.EqualValues(t, 4, body["version"])

	rec, body = get(t, h, "/api/v1/optimization/telemetry")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 3, body["samples"])

	rec, body = get(t, h, "/api/v1/optimization/alerts")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, body["alerts"], "an empty alert set is a valid answer")
}

func TestHealth(t *testing.T) {
	engine := &fakeEngine{recorder: trace.NewRecorder(4)}
	h := New(engine, testServerConfig()).Handler()

	rec, body := get(t, h, "/api/v1/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "starting", body["status"])

	engine.set(func(f *fakeEngine) { f.status = inventory.Status{Ready: true, Cycles: 5, Succeeded: 4, Failed: 1} })
	rec, body = get(t, h, "/api/v1/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	cycles := body["cycles"].(map[string]any)
	assert.EqualValues(t, 5, cycles["cycles"])
}

func TestAlgorithmsAndIndex(t *testing.T) {
	recorder := trace.NewRecorder(4)
	recorder.Record(trace.CycleRecord{Outcome: trace.OutcomePublished, Generations: 12, Duration: time.Second})
	h := New(&fakeEngine{recorder: recorder}, testServerConfig()).Handler()

	rec, body := get(t, h, "/api/v1/algorithms")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "weighted-sum", body["strategy"])
	search := body["search"].(map[string]any)
	assert.EqualValues(t, 60, search["population_size"])
	cycles := body["cycles"].(map[string]any)
	assert.EqualValues(t, 1, cycles["retained"])

	rec, body = get(t, h, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "invopt", body["service"])
	assert.Contains(t, body["endpoints"], "ws_alerts")
}

func TestCORS(t *testing.T) {
	h := New(&fakeEngine{recorder: trace.NewRecorder(1)}, testServerConfig()).Handler()
	tests := []struct {
		name     string
		method   string
		headers  map[string]string
		wantCode int
	}{
		{
			name:     "preflight",
			method:   http.MethodOptions,
			headers:  map[string]string{"Origin": "http://dashboard.local", "Access-Control-Request-Method": http.MethodGet},
			wantCode: http.StatusNoContent,
		},
		{
			name:     "cross-origin read",
			method:   http.MethodGet,
			headers:  map[string]string{"Origin": "http://dashboard.local"},
			wantCode: http.StatusServiceUnavailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/v1/optimization", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestRespond_UnencodableValueIsServerError(t *testing.T) {
	// GIVEN a payload json cannot encode
	rec := httptest.NewRecorder()

	// WHEN it is written
	respond(rec, http.StatusOK, map[string]float64{"score": math.NaN()})

	// THEN the client gets a 500, not a 200 with a truncated body
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "encoding_error")
}

func TestMetrics(t *testing.T) {
	engine := &fakeEngine{
		result:   sampleResult(),
		status:   inventory.Status{Ready: true, Cycles: 7, Succeeded: 6, Infeasible: 1},
		recorder: trace.NewRecorder(1),
	}
	h := New(engine, testServerConfig()).Handler()
	get(t, h, "/api/v1/optimization")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	out, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(out)

	assert.Contains(t, text, "invopt_cycles_total 7")
	assert.Contains(t, text, "invopt_cycles_infeasible_total 1")
	assert.Contains(t, text, "invopt_ready 1")
	assert.Contains(t, text, "invopt_plan_score 0.7")
	assert.Contains(t, text, `invopt_http_requests_total{code="200",route="/api/v1/optimization"} 1`)
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestStream_Optimization(t *testing.T) {
	engine := &fakeEngine{result: sampleResult(), recorder: trace.NewRecorder(1)}
	srv := httptest.NewServer(New(engine, testServerConfig()).Handler())
	defer srv.Close()

	conn := dial(t, srv, "/ws/optimization")
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var msg struct {
		Type string                   `json:"type"`
		Data optim.OptimizationResult `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "optimization", msg.Type)
	assert.Equal(t, "c-1", msg.Data.CycleID)

	// Pushes repeat on the interval.
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "optimization", msg.Type)
}

func TestStream_AlertsOnlyWhenNonEmpty(t *testing.T) {
	// GIVEN an engine whose alert set is empty
	engine := &fakeEngine{alerts: &optim.AlertSet{Alerts: []optim.Alert{}}, recorder: trace.NewRecorder(1)}
	srv := httptest.NewServer(New(engine, testServerConfig()).Handler())
	defer srv.Close()
	conn := dial(t, srv, "/ws/alerts")

	// WHEN nothing triggers, THEN nothing is pushed
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	var netErr interface{ Timeout() bool }
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())

	// WHEN an alert appears, THEN it is pushed on a fresh connection
	engine.set(func(f *fakeEngine) {
		f.alerts = &optim.AlertSet{Alerts: []optim.Alert{{SKU: "A", Reason: optim.ReasonProjectedStockout}}, Version: 2}
	})
	conn = dial(t, srv, "/ws/alerts")
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg struct {
		Type string         `json:"type"`
		Data optim.AlertSet `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "alerts", msg.Type)
	require.Len(t, msg.Data.Alerts, 1)
	assert.Equal(t, "A", msg.Data.Alerts[0].SKU)
}

func TestStream_Performance(t *testing.T) {
	engine := &fakeEngine{telemetry: optim.Telemetry{Samples: 1}, recorder: trace.NewRecorder(1)}
	srv := httptest.NewServer(New(engine, testServerConfig()).Handler())
	defer srv.Close()

	conn := dial(t, srv, "/ws/performance")
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg struct {
		Type string          `json:"type"`
		Data optim.Telemetry `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "performance", msg.Type)
	assert.Equal(t, int64(1), msg.Data.Samples)
}
