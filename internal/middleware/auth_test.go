package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-demo/watchparty/internal/pkg/utils"
)

func setupTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func createTestJWTManager() *utils.JWTManager {
	return utils.NewJWTManager("test-secret-key", 15*time.Minute, "test-issuer")
}

func TestAuth_Rejects(t *testing.T) {
	jwtManager := createTestJWTManager()
	expired := utils.NewJWTManager("test-secret-key", -time.Minute, "test-issuer")
	expiredToken, _, _ := expired.GenerateAccessToken("user-123", "testuser")

	tests := []struct {
		name   string
		header string
	}{
		{"no token", ""},
		{"invalid format", "InvalidFormat token"},
		{"empty bearer", "Bearer "},
		{"invalid token", "Bearer invalid-token"},
		{"expired token", "Bearer " + expiredToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := setupTestRouter()
			router.GET("/protected", Auth(jwtManager), func(c *gin.Context) {
				c.Status(http.StatusOK)
			})

			req := httptest.NewRequest("GET", "/protected", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("Expected status 401, got %d", w.Code)
			}
		})
	}
}

func TestAuth_ValidToken(t *testing.T) {
	router := setupTestRouter()
	jwtManager := createTestJWTManager()

	token, _, err := jwtManager.GenerateAccessToken("user-123", "testuser")
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}

	var capturedUserID, capturedUsername string
	router.GET("/protected", Auth(jwtManager), func(c *gin.Context) {
		capturedUserID = GetUserID(c)
		capturedUsername = GetUsername(c)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if capturedUserID != "user-123" {
		t.Errorf("Expected user_id 'user-123', got '%s'", capturedUserID)
	}
	if capturedUsername != "testuser" {
		t.Errorf("Expected username 'testuser', got '%s'", capturedUsername)
	}
}

func TestAuth_QueryToken(t *testing.T) {
	router := setupTestRouter()
	jwtManager := createTestJWTManager()

	token, _, _ := jwtManager.GenerateAccessToken("user-123", "testuser")

	router.GET("/ws", Auth(jwtManager), func(c *gin.Context) {
		c.String(http.StatusOK, GetUserID(c))
	})

	req := httptest.NewRequest("GET", "/ws?token="+token, nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK || w.Body.String() != "user-123" {
		t.Errorf("Expected 200 for user-123, got %d %q", w.Code, w.Body.String())
	}
}

func TestGetUserID_NoAuth(t *testing.T) {
	router := setupTestRouter()

	var capturedUserID = "unset"
	router.GET("/test", func(c *gin.Context) {
		capturedUserID = GetUserID(c)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/test", nil)
	router.ServeHTTP(httptest.NewRecorder(), req)

	if capturedUserID != "" {
		t.Errorf("Expected empty user_id, got '%s'", capturedUserID)
	}
}
