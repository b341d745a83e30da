package http

import (
	"net/http"
	"time"

	"github.com/go-chi/render"
)

// HealthHandler serves liveness checks.
type HealthHandler struct {
	startedAt time.Time
	version   string
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{startedAt: time.Now(), version: version}
}

// Health reports process liveness and uptime.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]interface{}{
		"status":         "ok",
		"version":        h.version,
		"uptime_seconds": time.Since(h.startedAt).Seconds(),
	})
}
