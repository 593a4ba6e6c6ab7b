package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) *ErrorInfo {
	t.Helper()

	var body Response
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to parse response JSON: %v", err)
	}
	if body.Success {
		t.Error("Expected success false")
	}
	if body.Error == nil {
		t.Fatal("Expected error info")
	}
	return body.Error
}

func TestErrorHelpers_DefaultMessages(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name    string
		send    func(c *gin.Context, message string)
		status  int
		message string
	}{
		{"forbidden", Forbidden, http.StatusForbidden, "禁止存取"},
		{"not found", NotFound, http.StatusNotFound, "資源不存在"},
		{"internal", InternalError, http.StatusInternalServerError, "伺服器內部錯誤"},
		{"unauthorized", Unauthorized, http.StatusUnauthorized, "未授權的請求"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)

			tt.send(c, "")

			if w.Code != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, w.Code)
			}
			info := decodeError(t, w)
			if info.Code != tt.status || info.Message != tt.message {
				t.Errorf("Expected %d %q, got %d %q", tt.status, tt.message, info.Code, info.Message)
			}
		})
	}
}

func TestNotFound_UnknownRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.NoRoute(func(c *gin.Context) {
		NotFound(c, "")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/nope", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
	if info := decodeError(t, w); info.Message != "資源不存在" {
		t.Errorf("Expected not found message, got %q", info.Message)
	}
}

func TestValidationError_CarriesDetails(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	ValidationError(c, []map[string]string{{"field": "name", "message": "此欄位為必填"}})

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
	info := decodeError(t, w)
	details, ok := info.Details.([]interface{})
	if info.Message != "驗證失敗" || !ok || len(details) != 1 {
		t.Errorf("Unexpected validation error %+v", info)
	}
}
