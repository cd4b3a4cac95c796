package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wizardbeardstudio/open-transfer-go/internal/platform/clock"
)

const healthCheckTimeout = 2 * time.Second

// Pinger reports whether one backing dependency currently answers.
type Pinger func(ctx context.Context) error

// OpsHandler serves the operational surface: liveness with dependency
// pings on /healthz and the prometheus scrape endpoint on /metrics.
type OpsHandler struct {
	version   string
	startedAt time.Time
	clk       clock.Clock
	checks    map[string]Pinger
}

func NewOpsHandler(version string, clk clock.Clock, checks map[string]Pinger) *OpsHandler {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &OpsHandler{
		version:   version,
		startedAt: clk.Now(),
		clk:       clk,
		checks:    checks,
	}
}

func (h *OpsHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", h.health)
	mux.Handle("/metrics", promhttp.Handler())
}

func (h *OpsHandler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := "ok"
	checks := make(map[string]string, len(h.checks))
	for name, ping := range h.checks {
		if err := ping(ctx); err != nil {
			status = "degraded"
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":         status,
		"version":        h.version,
		"uptime_seconds": int64(h.clk.Now().Sub(h.startedAt).Seconds()),
		"checks":         checks,
	})
}
