package handlers

import (
	"errors"
	"log"
	"net/http"

	"taskboard/backend/internal/services"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type RefreshHandler struct {
	db          *gorm.DB
	authService services.AuthService
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

func NewRefreshHandler(db *gorm.DB, authService services.AuthService) *RefreshHandler {
	return &RefreshHandler{db: db, authService: authService}
}

func (h *RefreshHandler) Refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	pair, _, err := h.authService.RefreshToken(h.db, req.RefreshToken)
	if err != nil {
		if errors.Is(err, services.ErrInvalidRefreshToken) {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "invalid_refresh_token",
				"message": "Refresh token is invalid or expired",
			})
			return
		}
		log.Printf("Token refresh failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_refresh_failed"})
		return
	}

	c.JSON(http.StatusOK, pair)
}
