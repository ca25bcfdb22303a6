package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"datafeed-sentinel/internal/alerting"
	"datafeed-sentinel/internal/cache"
	"datafeed-sentinel/internal/classify"
	"datafeed-sentinel/internal/events"
	"datafeed-sentinel/internal/healing"
	"datafeed-sentinel/internal/health"
	"datafeed-sentinel/internal/learning"
	"datafeed-sentinel/internal/monitor"
)

func newTestServer(t *testing.T) (*Server, *health.Tracker, *monitor.Monitor) {
	t.Helper()
	log := zerolog.Nop()

	bus := events.NewBus()
	tracker := health.NewTracker()
	registry := healing.NewRegistry()
	learner := learning.NewLearner(registry, tracker, time.Hour, log)
	alerts := alerting.NewManager(bus, nil, time.Hour, time.Hour, log)

	mon := monitor.New(monitor.Config{
		Classifier:  classify.NewClassifier(0),
		Tracker:     tracker,
		Coordinator: healing.NewCoordinator(registry, time.Second, log),
		Alerts:      alerts,
		Learner:     learner,
		Cache:       cache.NewEmergency(cache.Config{}, log),
		Bus:         bus,
		Logger:      log,
	})

	srv := NewServer(ServerConfig{ProductionMode: true}, Deps{
		Tracker:  tracker,
		Registry: registry,
		Learner:  learner,
		Alerts:   alerts,
		Monitor:  mon,
		Bus:      bus,
		Logger:   log,
	})
	return srv, tracker, mon
}

func doRequest(srv *Server, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	srv.router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := doRequest(srv, http.MethodGet, "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if resp["database"] != "disabled" {
		t.Errorf("database = %q, want disabled", resp["database"])
	}
}

func TestGetAllHealthWorstFirst(t *testing.T) {
	srv, tracker, _ := newTestServer(t)

	tracker.Record("good", "a", true, time.Millisecond)
	tracker.Record("bad", "b", false, time.Millisecond)

	w := doRequest(srv, http.MethodGet, "/api/sources/health")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp struct {
		Data []health.EndpointHealth `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(resp.Data) != 2 {
		t.Fatalf("records = %d, want 2", len(resp.Data))
	}
	if resp.Data[0].Source != "bad" {
		t.Errorf("first record source = %q, want bad (worst first)", resp.Data[0].Source)
	}
}

func TestGetSourceHealthUnknown(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := doRequest(srv, http.MethodGet, "/api/sources/nope/health")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestPredictionsSortedByRisk(t *testing.T) {
	srv, tracker, _ := newTestServer(t)

	for i := 0; i < 10; i++ {
		tracker.Record("risky", "x", false, time.Millisecond)
		tracker.Record("safe", "y", true, time.Millisecond)
	}

	w := doRequest(srv, http.MethodGet, "/api/predictions")
	var resp struct {
		Data []prediction `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(resp.Data) != 2 {
		t.Fatalf("predictions = %d, want 2", len(resp.Data))
	}
	if resp.Data[0].Source != "risky" {
		t.Errorf("first prediction = %q, want risky", resp.Data[0].Source)
	}
	if resp.Data[0].FailureProbability <= resp.Data[1].FailureProbability {
		t.Error("predictions not sorted by descending probability")
	}
}

func TestPauseAndResumeTarget(t *testing.T) {
	srv, _, mon := newTestServer(t)

	target := &monitor.Target{
		Source:   "alpha",
		Endpoint: "prices",
		Check: func(ctx context.Context, params map[string]interface{}) ([]byte, int, error) {
			return []byte(`{}`), 200, nil
		},
	}
	mon.AddTarget(target)

	w := doRequest(srv, http.MethodPost, "/api/targets/alpha/prices/pause")
	if w.Code != http.StatusOK {
		t.Fatalf("pause status = %d, want 200", w.Code)
	}
	if !target.Paused() {
		t.Fatal("target not paused")
	}

	w = doRequest(srv, http.MethodPost, "/api/targets/alpha/prices/resume")
	if w.Code != http.StatusOK {
		t.Fatalf("resume status = %d, want 200", w.Code)
	}
	if target.Paused() {
		t.Fatal("target still paused")
	}

	w = doRequest(srv, http.MethodPost, "/api/targets/alpha/nope/pause")
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown target status = %d, want 404", w.Code)
	}
}

func TestImmediateCheck(t *testing.T) {
	srv, tracker, mon := newTestServer(t)

	mon.AddTarget(&monitor.Target{
		Source:   "alpha",
		Endpoint: "prices",
		Check: func(ctx context.Context, params map[string]interface{}) ([]byte, int, error) {
			return []byte(`{}`), 200, nil
		},
	})

	w := doRequest(srv, http.MethodPost, "/api/targets/alpha/prices/check")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	h, ok := tracker.Get("alpha", "prices")
	if !ok || h.TotalRequests != 1 {
		t.Fatalf("check did not record, got %+v", h)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !rl.Allow("key") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.Allow("key") {
		t.Fatal("fourth request should be blocked")
	}
	if !rl.Allow("other") {
		t.Fatal("separate key should be unaffected")
	}
}
