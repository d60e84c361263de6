package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ferdinandre/tradingdemo/internal/events"
	"github.com/ferdinandre/tradingdemo/internal/position"
	"github.com/ferdinandre/tradingdemo/internal/tradelog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

type fakeStatus map[string]interface{}

func (f fakeStatus) GetStatus() map[string]interface{} {
	out := make(map[string]interface{}, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

type fakeHealth struct{ err error }

func (f fakeHealth) HealthCheck(ctx context.Context) error { return f.err }

type failingLister struct{}

func (failingLister) ListTrades(ctx context.Context, symbol string, limit int) ([]position.TradeRecord, error) {
	return nil, errors.New("connection refused")
}

func newTestServer(deps Deps) *Server {
	return NewServer(ServerConfig{ProductionMode: true}, deps, zerolog.Nop())
}

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var body map[string]interface{}
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("Failed to parse response: %v", err)
		}
	}
	return w, body
}

func TestHealthEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		health   HealthChecker
		code     int
		database string
	}{
		{"no database", nil, http.StatusOK, "disabled"},
		{"healthy", fakeHealth{}, http.StatusOK, "healthy"},
		{"unhealthy", fakeHealth{err: errors.New("down")}, http.StatusServiceUnavailable, "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(Deps{Health: tt.health})
			w, body := get(t, s.Handler(), "/healthz")
			if w.Code != tt.code {
				t.Errorf("Expected status %d, got %d", tt.code, w.Code)
			}
			if body["database"] != tt.database {
				t.Errorf("Expected database %q, got %v", tt.database, body["database"])
			}
		})
	}
}

func TestStatusEndpoint(t *testing.T) {
	s := newTestServer(Deps{})
	if w, _ := get(t, s.Handler(), "/api/status"); w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 without a driver, got %d", w.Code)
	}

	s = newTestServer(Deps{Status: fakeStatus{"symbol": "SPY", "state": "OPEN"}})
	w, body := get(t, s.Handler(), "/api/status")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	data, _ := body["data"].(map[string]interface{})
	if data["symbol"] != "SPY" || data["state"] != "OPEN" {
		t.Errorf("Unexpected status %v", data)
	}
}

func TestTradesEndpoint(t *testing.T) {
	sink := tradelog.NewMemorySink()
	for i, symbol := range []string{"SPY", "QQQ", "SPY"} {
		_ = sink.Record(context.Background(), position.TradeRecord{ID: string(rune('a' + i)), Symbol: symbol, PnL: float64(i)})
	}
	s := newTestServer(Deps{Trades: sink})

	tests := []struct {
		path  string
		code  int
		count int
	}{
		{"/api/trades", http.StatusOK, 3},
		{"/api/trades?symbol=spy", http.StatusOK, 2},
		{"/api/trades?limit=1", http.StatusOK, 1},
		{"/api/trades?limit=0", http.StatusBadRequest, -1},
		{"/api/trades?limit=abc", http.StatusBadRequest, -1},
	}
	for _, tt := range tests {
		w, body := get(t, s.Handler(), tt.path)
		if w.Code != tt.code {
			t.Errorf("%s: expected status %d, got %d", tt.path, tt.code, w.Code)
			continue
		}
		if tt.count < 0 {
			continue
		}
		data, _ := body["data"].([]interface{})
		if len(data) != tt.count {
			t.Errorf("%s: expected %d trades, got %d", tt.path, tt.count, len(data))
		}
	}
}

func TestTradesEndpointErrors(t *testing.T) {
	s := newTestServer(Deps{Trades: failingLister{}})
	if w, _ := get(t, s.Handler(), "/api/trades"); w.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", w.Code)
	}

	s = newTestServer(Deps{})
	w, body := get(t, s.Handler(), "/api/trades")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 without a lister, got %d", w.Code)
	}
	if data, ok := body["data"].([]interface{}); !ok || len(data) != 0 {
		t.Errorf("Expected empty list, got %v", body["data"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "fvg_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Add(3)

	s := newTestServer(Deps{Gatherer: reg})
	w, _ := get(t, s.Handler(), "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "fvg_test_total 3") {
		t.Errorf("Metric missing from output:\n%s", w.Body.String())
	}
}

func TestCORSHeaders(t *testing.T) {
	s := NewServer(ServerConfig{ProductionMode: true, AllowOrigins: []string{"http://localhost:3000"}}, Deps{}, zerolog.Nop())
	req := httptest.NewRequest(http.MethodOptions, "/api/status", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Expected allowed origin, got %q", got)
	}
}

func TestWebSocketStreamsEvents(t *testing.T) {
	bus := events.NewSyncEventBus()
	s := newTestServer(Deps{EventBus: bus})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.hub.Run(ctx)

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for s.hub.GetClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	bus.PublishSignal("SPY", "LONG", 11.2, false, time.Now())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev events.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if ev.Type != events.EventSignalGenerated || ev.Data["symbol"] != "SPY" {
		t.Errorf("Unexpected event %+v", ev)
	}
}
