package middleware_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"taskboard/backend/internal/middleware"

	"github.com/gin-gonic/gin"
)

func TestRecoveryWithLog(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(middleware.RecoveryWithLog())
	router.GET("/tasks", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"tasks": []string{}})
	})
	router.GET("/panic", func(c *gin.Context) {
		panic("board view missing")
	})
	router.GET("/panic-error", func(c *gin.Context) {
		panic(errors.New("store client is nil"))
	})

	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
	}{
		{"/tasks", http.StatusOK, `{"tasks":[]}`},
		{"/panic", http.StatusInternalServerError, `{"error":"internal server error"}`},
		{"/panic-error", http.StatusInternalServerError, `{"error":"internal server error"}`},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req, _ := http.NewRequest("GET", tt.path, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, w.Code)
			}
			if w.Body.String() != tt.wantBody {
				t.Errorf("Expected body %s, got %s", tt.wantBody, w.Body.String())
			}
		})
	}
}
