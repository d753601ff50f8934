package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/streamvault-go/internal/app"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	orchestrator *app.Orchestrator
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(orchestrator *app.Orchestrator) *HealthHandler {
	return &HealthHandler{orchestrator: orchestrator}
}

// Health handles GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "ready",
		"active_count": h.orchestrator.ActiveCount(),
	})
}
