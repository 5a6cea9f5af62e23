package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/kubo-market/sensorwatch/internal/service"
)

// Pinger checks connectivity to an external dependency.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) PingContext(ctx context.Context) error { return f(ctx) }

// HealthHandler handles health check and metrics endpoints.
type HealthHandler struct {
	svc    *service.MonitoringService
	checks map[string]Pinger
}

// NewHealthHandler creates a new HealthHandler. checks maps a dependency
// name to its connectivity probe and may be empty.
func NewHealthHandler(svc *service.MonitoringService, checks map[string]Pinger) *HealthHandler {
	return &HealthHandler{svc: svc, checks: checks}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status, code := "healthy", http.StatusOK
	deps := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.checks[name].PingContext(ctx); err != nil {
			deps[name] = "disconnected"
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		deps[name] = "connected"
	}

	writeJSON(w, code, map[string]interface{}{
		"status":       status,
		"dependencies": deps,
	})
}

// Metrics handles GET /v1/metrics
func (h *HealthHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Metrics())
}
