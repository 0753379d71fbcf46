package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/quantsphere/qmail/internal/config"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := config.Default()
	cfg.Proxy.DevOracle = true
	cfg.Proxy.RateLimit = 0

	s, err := newServer(cfg, slog.New(slog.DiscardHandler), prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("newServer() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ts := httptest.NewServer(s.handler)
	t.Cleanup(ts.Close)
	return ts
}

func TestServer_ProxiesToDevOracle(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/ring-lwe/keygen", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var kp struct {
		PublicKey string `json:"public_key"`
		SecretKey string `json:"secret_key"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&kp); err != nil {
		t.Fatal(err)
	}
	if kp.PublicKey == "" || kp.SecretKey == "" {
		t.Errorf("keygen response = %+v", kp)
	}
}

func TestServer_RejectsUnknownAction(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/ring-lwe/deleteAll", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest || strings.TrimSpace(string(body)) != `{"error":"Invalid action"}` {
		t.Errorf("got %d %s", resp.StatusCode, body)
	}
}

func TestServer_MetricsAndHealth(t *testing.T) {
	ts := newTestServer(t)
	http.Post(ts.URL+"/api/ring-lwe/nope", "application/json", strings.NewReader(`{}`))

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `qmail_proxy_requests_total{action="invalid",code="400"} 1`) {
		t.Errorf("metrics missing request counter:\n%s", body)
	}

	resp, err = http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d", resp.StatusCode)
	}
}

func TestNewServer_RequiresUpstream(t *testing.T) {
	cfg := config.Default()
	if _, err := newServer(cfg, slog.New(slog.DiscardHandler), prometheus.NewRegistry()); err == nil {
		t.Error("expected error without upstream or dev oracle")
	}
}
