package http

import (
	"net/http"
	"strings"
	"time"

	"edulive/internal/core/domain"
	"edulive/internal/core/services"
	"edulive/pkg/errors"
	"edulive/pkg/validation"

	"github.com/gin-gonic/gin"
)

// AuthHandler mints gateway tokens. The platform backend normally issues
// these as part of its login flow; this endpoint serves development and
// service-to-service use.
type AuthHandler struct {
	authService services.AuthService
	tokenTTL    time.Duration
}

func NewAuthHandler(authService services.AuthService, tokenTTL time.Duration) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		tokenTTL:    tokenTTL,
	}
}

func (h *AuthHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1/auth")
	{
		api.POST("/token", h.IssueToken)
	}
}

type TokenRequest struct {
	UserID string `json:"user_id" binding:"required,max=100"`
	Role   string `json:"role" binding:"required,max=20"`
}

func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req TokenRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInput("invalid request format"))
		return
	}

	req.UserID = strings.TrimSpace(req.UserID)
	if err := validation.ValidateID(req.UserID, "user_id"); err != nil {
		c.Error(errors.NewInvalidInput(err.Error()))
		return
	}

	role := domain.Role(req.Role)
	switch role {
	case domain.RoleStudent, domain.RoleTeacher, domain.RoleAdmin:
	default:
		c.Error(errors.NewInvalidInput("role must be student, teacher or admin"))
		return
	}

	token, err := h.authService.GenerateToken(domain.UserID(req.UserID), role)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":      req.UserID,
		"role":         req.Role,
		"access_token": token,
		"expires_in":   int(h.tokenTTL / time.Second),
	})
}
