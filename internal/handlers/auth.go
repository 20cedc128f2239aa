package handlers

import (
	"errors"
	"log"
	"net/http"
	"time"

	"taskboard/backend/internal/identity"
	"taskboard/backend/internal/models"
	"taskboard/backend/internal/services"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type AuthHandler struct {
	db          *gorm.DB
	authService services.AuthService
	notifier    *identity.Notifier
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	AccessToken  string               `json:"access_token"`
	RefreshToken string               `json:"refresh_token"`
	TokenType    string               `json:"token_type"`
	ExpiresIn    int64                `json:"expires_in"`
	User         *UserProfileResponse `json:"user"`
}

type UserProfileResponse struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	DisplayName string     `json:"display_name"`
	IsActive    bool       `json:"is_active"`
	LastLoginAt *time.Time `json:"last_login_at"`
}

func profileOf(user *models.User) *UserProfileResponse {
	return &UserProfileResponse{
		ID:          user.ID.String(),
		Email:       user.Email,
		DisplayName: user.DisplayName,
		IsActive:    user.IsActive,
		LastLoginAt: user.LastLoginAt,
	}
}

func NewAuthHandler(db *gorm.DB, authService services.AuthService, notifier *identity.Notifier) *AuthHandler {
	return &AuthHandler{db: db, authService: authService, notifier: notifier}
}

// Token logs a user in and announces the sign-in.
func (h *AuthHandler) Token(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request format",
			"details": err.Error(),
		})
		return
	}

	user, err := h.authService.LoginUser(h.db, req.Email, req.Password)
	switch {
	case errors.Is(err, services.ErrAccountDisabled):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "account_disabled",
			"message": "Your account has been disabled. Please contact support.",
		})
		return
	case errors.Is(err, services.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "invalid_credentials",
			"message": "Invalid email or password",
		})
		return
	case err != nil:
		log.Printf("Login failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "login_failed",
			"message": "Failed to log in",
		})
		return
	}

	pair, err := h.authService.GenerateToken(h.db, user.ID)
	if err != nil {
		log.Printf("Token generation failed for user %s: %v", user.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "token_generation_failed",
			"message": "Failed to generate authentication tokens",
		})
		return
	}

	if h.notifier != nil {
		h.notifier.SignIn(user.ID)
	}

	c.JSON(http.StatusOK, LoginResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    pair.TokenType,
		ExpiresIn:    pair.ExpiresIn,
		User:         profileOf(user),
	})
}
