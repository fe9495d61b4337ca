package dashboard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"krakenfeed/config"
	"krakenfeed/internal/metrics"
	"krakenfeed/logger"
)

func TestNormalizeAddress(t *testing.T) {
	cases := map[string]string{
		"":                               "0.0.0.0:8080",
		"  :9090  ":                      "0.0.0.0:9090",
		"localhost":                      "localhost:8080",
		"0.0.0.0:80":                     "0.0.0.0:80",
		"[::1]:443":                      "[::1]:443",
		"::1":                            "[::1]:8080",
		"*:8080":                         "0.0.0.0:8080",
		"http://13.200.112.203:8080":     "13.200.112.203:8080",
		"https://13.200.112.203":         "13.200.112.203:8080",
		"http://:7070":                   "0.0.0.0:7070",
		"tcp://localhost:5050":           "localhost:5050",
		"https://dashboard.example.com/": "dashboard.example.com:8080",
	}

	for input, want := range cases {
		if got := normalizeAddress(input); got != want {
			t.Fatalf("normalizeAddress(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestNewServerDisabled(t *testing.T) {
	if srv := NewServer(config.DashboardConfig{Enabled: false}, logger.Logger(), nil); srv != nil {
		t.Fatal("expected nil server when disabled")
	}
}

func TestNewServerNormalizesConfiguredAddress(t *testing.T) {
	srv := NewServer(config.DashboardConfig{Enabled: true, Address: ":9000"}, logger.Logger(), nil)
	if srv == nil {
		t.Fatal("expected dashboard server, got nil")
	}
	defer srv.cleanup()

	if got := srv.Address(); got != "0.0.0.0:9000" {
		t.Fatalf("server address = %q, want %q", got, "0.0.0.0:9000")
	}
}

func TestMetricsEndpointServesStoredMetrics(t *testing.T) {
	log := logger.Logger()
	srv := NewServer(config.DashboardConfig{Enabled: true, RefreshInterval: time.Second, MetricsHistory: 10, LogHistory: 10}, log, nil)
	if srv == nil {
		t.Fatal("expected non-nil server")
	}
	t.Cleanup(srv.cleanup)

	metrics.EmitMetric(log, "kraken_feed", "frames_received", 5, "counter", nil)

	res := httptest.NewRecorder()
	srv.handler("krakenfeed").ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/metrics", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", res.Code)
	}

	var body struct {
		Metrics []map[string]interface{} `json:"metrics"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	found := false
	for _, m := range body.Metrics {
		if m["name"] == "frames_received" && m["component"] == "kraken_feed" {
			found = true
		}
	}
	if !found {
		t.Fatalf("frames_received missing from %s", res.Body.String())
	}
}

func TestLogsEndpointServesCapturedLogs(t *testing.T) {
	log := logger.Logger()
	srv := NewServer(config.DashboardConfig{Enabled: true, LogHistory: 10}, log, nil)
	t.Cleanup(srv.cleanup)

	log.WithComponent("kraken_feed").Info("connected to the server")

	res := httptest.NewRecorder()
	srv.handler("krakenfeed").ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/logs", nil))

	var body struct {
		Logs []logRecord `json:"logs"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Logs) != 1 || body.Logs[0].Component != "kraken_feed" || body.Logs[0].Message != "connected to the server" {
		t.Fatalf("unexpected logs: %#v", body.Logs)
	}
}

func TestStatusEndpointReportsFeed(t *testing.T) {
	status := func() interface{} {
		return map[string]interface{}{"state": "subscribed", "frames_received": 3}
	}
	srv := NewServer(config.DashboardConfig{Enabled: true}, logger.Logger(), status)
	t.Cleanup(srv.cleanup)

	res := httptest.NewRecorder()
	srv.handler("krakenfeed").ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	var body struct {
		App  string                 `json:"app"`
		Feed map[string]interface{} `json:"feed"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.App != "krakenfeed" || body.Feed["state"] != "subscribed" {
		t.Fatalf("unexpected status body: %s", res.Body.String())
	}
}
