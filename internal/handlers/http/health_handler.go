package http

import (
	"net/http"

	"edulive/internal/core/ports"
	"edulive/internal/infrastructure/repositories"

	"github.com/gin-gonic/gin"
)

// HealthHandler exposes liveness and gateway load for the platform's
// health checks.
type HealthHandler struct {
	registry ports.ConnectionRegistry
	presence ports.PresenceTracker
	repos    *repositories.RepositoryFactory
}

func NewHealthHandler(registry ports.ConnectionRegistry, presence ports.PresenceTracker, repos *repositories.RepositoryFactory) *HealthHandler {
	return &HealthHandler{
		registry: registry,
		presence: presence,
		repos:    repos,
	}
}

func (h *HealthHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
}

func (h *HealthHandler) Health(c *gin.Context) {
	status := "ok"
	httpStatus := http.StatusOK

	if err := h.repos.HealthCheck(c.Request.Context()); err != nil {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":      status,
		"connections": h.registry.ConnectionCount(),
		"rooms":       h.presence.RoomCount(),
	})
}
