package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-demo/watchparty/internal/dto/response"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

func TestHealthHandler_Check_NoDependencies(t *testing.T) {
	gin.SetMode(gin.TestMode)

	h := NewHealthHandler(nil, nil, "test")
	router := gin.New()
	router.GET("/health", h.Check)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var resp response.HealthResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Status != "healthy" {
		t.Errorf("Expected healthy, got %s", resp.Status)
	}
	if resp.Version != "test" {
		t.Errorf("Expected version test, got %s", resp.Version)
	}
	if len(resp.Services) != 0 {
		t.Errorf("Expected no services, got %v", resp.Services)
	}
}

func TestHealthHandler_Check_DatabaseDown(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// Opening does not dial; nothing listens on port 1
	db, err := sqlx.Open("postgres", "host=127.0.0.1 port=1 user=postgres dbname=watchparty sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to open: %v", err)
	}
	defer db.Close()

	h := NewHealthHandler(db, nil, "test")
	router := gin.New()
	router.GET("/health", h.Check)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}

	var resp response.HealthResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Status != "degraded" || resp.Services["postgres"] != "down" {
		t.Errorf("Expected degraded with postgres down, got %+v", resp)
	}
}
