package api

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const readinessTimeout = 2 * time.Second

// Check probes one backing service. It returns nil when the service is usable.
type Check func(ctx context.Context) error

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	checks map[string]Check
	logger *zap.Logger
}

// NewHealthHandler creates a HealthHandler running the given readiness checks,
// keyed by service name.
func NewHealthHandler(checks map[string]Check, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{checks: checks, logger: logger.Named("health")}
}

// Live handles GET /healthz. The process answering is enough.
func (h *HealthHandler) Live(w http.ResponseWriter, _ *http.Request) {
	Ok(w, map[string]string{"status": "ok"})
}

// Ready handles GET /readyz. It returns 503 when any check fails, listing
// each service as "ok" or "down" in the error details.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	status := make(map[string]string, len(h.checks))
	ready := true
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("readiness check failed", zap.String("service", name), zap.Error(err))
			status[name] = "down"
			ready = false
			continue
		}
		status[name] = "ok"
	}

	if !ready {
		ErrUnavailable(w, "service not ready", status)
		return
	}
	Ok(w, status)
}
