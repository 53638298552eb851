package http

import (
	"net/http"

	"edulive/internal/core/domain"
	"edulive/internal/core/ports"
	"edulive/pkg/validation"

	"github.com/gin-gonic/gin"
)

// StatsHandler lets the platform backend inspect live room state over
// plain HTTP, without holding a websocket open.
type StatsHandler struct {
	registry ports.ConnectionRegistry
	presence ports.PresenceTracker
}

func NewStatsHandler(registry ports.ConnectionRegistry, presence ports.PresenceTracker) *StatsHandler {
	return &StatsHandler{registry: registry, presence: presence}
}

func (h *StatsHandler) SetupRoutes(router *gin.Engine, auth gin.HandlerFunc) {
	api := router.Group("/api/v1", auth)
	api.GET("/rooms/:id/presence", h.RoomPresence)
	api.GET("/users/:id/online", h.UserOnline)
}

// RoomPresence returns the users currently online in a room.
func (h *StatsHandler) RoomPresence(c *gin.Context) {
	roomID := c.Param("id")
	if err := validation.ValidateID(roomID, "room_id"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	users := h.presence.OnlineUsers(domain.RoomID(roomID))
	if users == nil {
		users = []domain.UserID{}
	}
	c.JSON(http.StatusOK, gin.H{
		"room_id":     roomID,
		"online":      users,
		"connections": len(h.registry.RoomConnections(domain.RoomID(roomID))),
	})
}

// UserOnline reports whether a user has any live connection.
func (h *StatsHandler) UserOnline(c *gin.Context) {
	userID := c.Param("id")
	if err := validation.ValidateID(userID, "user_id"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id": userID,
		"online":  h.presence.IsOnline(domain.UserID(userID)),
		"devices": len(h.registry.ConnectionsForUser(domain.UserID(userID))),
	})
}
