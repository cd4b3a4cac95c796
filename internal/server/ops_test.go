package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fixedClock struct {
	now time.Time
}

func (f fixedClock) Now() time.Time {
	return f.now
}

type healthBody struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
}

func opsGet(t *testing.T, h *OpsHandler, path string) *http.Response {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec.Result()
}

func TestHealthzReportsDependencyChecks(t *testing.T) {
	startedAt := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	h := &OpsHandler{
		version:   "test-version",
		startedAt: startedAt,
		clk:       fixedClock{now: startedAt.Add(5 * time.Minute)},
		checks: map[string]Pinger{
			"store": func(context.Context) error { return nil },
			"cache": func(context.Context) error { return nil },
		},
	}

	resp := opsGet(t, h, "/healthz")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code: got=%d want=%d", resp.StatusCode, http.StatusOK)
	}
	var body healthBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode health body: %v", err)
	}
	if body.Status != "ok" || body.Version != "test-version" {
		t.Fatalf("unexpected health body: %+v", body)
	}
	if body.UptimeSeconds != 300 {
		t.Fatalf("uptime: got=%d want=300", body.UptimeSeconds)
	}
	if body.Checks["store"] != "ok" || body.Checks["cache"] != "ok" {
		t.Fatalf("checks not all ok: %+v", body.Checks)
	}
}

func TestHealthzDegradesWhenDependencyFails(t *testing.T) {
	h := NewOpsHandler("dev", fixedClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}, map[string]Pinger{
		"store": func(context.Context) error { return nil },
		"cache": func(context.Context) error { return errors.New("connection refused") },
	})

	resp := opsGet(t, h, "/healthz")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status code: got=%d want=%d", resp.StatusCode, http.StatusServiceUnavailable)
	}
	var body healthBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode health body: %v", err)
	}
	if body.Status != "degraded" {
		t.Fatalf("status: got=%q want=degraded", body.Status)
	}
	if body.Checks["store"] != "ok" {
		t.Fatalf("healthy check was not reported ok: %+v", body.Checks)
	}
	if body.Checks["cache"] != "connection refused" {
		t.Fatalf("failing check lost its error: %+v", body.Checks)
	}
}

func TestMetricsEndpointServesScrape(t *testing.T) {
	h := NewOpsHandler("dev", nil, nil)

	resp := opsGet(t, h, "/metrics")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code: got=%d want=%d", resp.StatusCode, http.StatusOK)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read scrape: %v", err)
	}
	if len(raw) == 0 {
		t.Fatal("scrape body is empty")
	}
}
