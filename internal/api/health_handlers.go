package api

import (
	"context"
	"net/http"
	"time"
)

// Health handles GET /healthz, probing the catalog repository and the
// session store.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	checks := map[string]string{"store": "ok", "sessions": "ok"}
	healthy := true
	if err := h.Store.Ping(ctx); err != nil {
		checks["store"] = err.Error()
		healthy = false
	}
	if err := h.sessionManager().Ping(ctx); err != nil {
		checks["sessions"] = err.Error()
		healthy = false
	}
	status := http.StatusOK
	payload := map[string]interface{}{"status": "ok", "checks": checks}
	if !healthy {
		status = http.StatusServiceUnavailable
		payload["status"] = "degraded"
	}
	writeJSON(w, status, payload)
}
