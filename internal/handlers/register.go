package handlers

import (
	"errors"
	"log"
	"net/http"

	"taskboard/backend/internal/services"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type RegisterHandler struct {
	db          *gorm.DB
	authService services.AuthService
}

func NewRegisterHandler(db *gorm.DB, authService services.AuthService) *RegisterHandler {
	return &RegisterHandler{db: db, authService: authService}
}

type RegistrationResponse struct {
	Message string               `json:"message"`
	User    *UserProfileResponse `json:"user"`
}

func (h *RegisterHandler) Registration(c *gin.Context) {
	var req services.RegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	user, err := h.authService.Register(h.db, req)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrWeakPassword):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Validation failed",
				"details": err.Error(),
			})
		case errors.Is(err, services.ErrDuplicateEmail):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "Registration failed",
				"details": "An account with this email already exists",
			})
		default:
			log.Printf("Registration error: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "Registration failed",
				"details": "Internal server error",
			})
		}
		return
	}

	log.Printf("User registered: %s", user.Email)
	c.JSON(http.StatusCreated, RegistrationResponse{
		Message: "User registered successfully",
		User:    profileOf(user),
	})
}
