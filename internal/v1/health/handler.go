// Package health exposes liveness and readiness probes.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/triviaroyale/server/internal/v1/logging"
	"github.com/triviaroyale/server/internal/v1/store"
)

// Handler manages health check endpoints.
type Handler struct {
	store *store.Service
}

// NewHandler creates a health check handler.
func NewHandler(st *store.Service) *Handler {
	return &Handler{store: st}
}

// LivenessResponse represents the liveness probe response.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles GET /health/live. Returns 200 if the process is
// alive; no dependency checks.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles GET /health/ready. Returns 200 only when the
// shared store is reachable; this replica cannot admit players or
// deliver broadcasts without it.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{"redis": h.checkStore(ctx)}

	status := "ready"
	statusCode := http.StatusOK
	if checks["redis"] != "healthy" {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) checkStore(ctx context.Context) string {
	if h.store == nil {
		return "unhealthy"
	}
	if err := h.store.Ping(ctx); err != nil {
		logging.Error(ctx, "store health check failed", zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}
