package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-demo/watchparty/internal/dto/response"
	"github.com/go-demo/watchparty/internal/pkg/database"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

type HealthHandler struct {
	db        *sqlx.DB      // nil with the memory store
	redis     *redis.Client // nil when redis is disabled
	version   string
	startedAt time.Time
}

func NewHealthHandler(db *sqlx.DB, redisClient *redis.Client, version string) *HealthHandler {
	return &HealthHandler{
		db:        db,
		redis:     redisClient,
		version:   version,
		startedAt: time.Now(),
	}
}

// Check godoc
// @Summary 健康檢查
// @Description 回報服務與其依賴的狀態
// @Tags 系統
// @Produce json
// @Success 200 {object} response.HealthResponse
// @Failure 503 {object} response.HealthResponse
// @Router /health [get]
func (h *HealthHandler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := "healthy"
	services := make(map[string]string)

	if h.db != nil {
		services["postgres"] = "up"
		if err := database.Ping(ctx, h.db); err != nil {
			services["postgres"] = "down"
			status = "degraded"
		}
	}

	if h.redis != nil {
		services["redis"] = "up"
		if err := h.redis.Ping(ctx).Err(); err != nil {
			services["redis"] = "down"
			status = "degraded"
		}
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, &response.HealthResponse{
		Status:    status,
		Version:   h.version,
		Uptime:    time.Since(h.startedAt).Round(time.Second).String(),
		Timestamp: time.Now().Format(time.RFC3339),
		Services:  services,
	})
}
