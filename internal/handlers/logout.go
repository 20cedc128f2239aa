package handlers

import (
	"log"
	"net/http"

	"taskboard/backend/internal/identity"
	"taskboard/backend/internal/middleware"
	"taskboard/backend/internal/services"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type LogoutHandler struct {
	db          *gorm.DB
	authService services.AuthService
	notifier    *identity.Notifier
}

type LogoutRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

func NewLogoutHandler(db *gorm.DB, authService services.AuthService, notifier *identity.Notifier) *LogoutHandler {
	return &LogoutHandler{db: db, authService: authService, notifier: notifier}
}

// Logout revokes the caller's refresh token and announces the sign-out. It always
// reports success so a stale token cannot keep a client signed in.
func (h *LogoutHandler) Logout(c *gin.Context) {
	var req LogoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request format",
			"details": err.Error(),
		})
		return
	}

	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	if err := h.authService.RevokeToken(h.db, userID, req.RefreshToken); err != nil {
		log.Printf("Failed to revoke refresh token for user %s: %v", userID, err)
	}

	if h.notifier != nil {
		h.notifier.SignOut(userID)
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Successfully logged out",
	})
}
