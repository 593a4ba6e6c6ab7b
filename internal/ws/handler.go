package ws

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-demo/watchparty/internal/dto/response"
	"github.com/go-demo/watchparty/internal/middleware"
	"github.com/go-demo/watchparty/internal/pkg/utils"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handler handles WebSocket connections
type Handler struct {
	hub        *Hub
	jwtManager *utils.JWTManager
	upgrader   websocket.Upgrader
	logger     *zap.Logger
}

// NewHandler creates a new WebSocket handler. checkOrigin may be nil to
// accept any origin.
func NewHandler(hub *Hub, jwtManager *utils.JWTManager, checkOrigin func(*http.Request) bool, logger *zap.Logger) *Handler {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Handler{
		hub:        hub,
		jwtManager: jwtManager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		logger: logger,
	}
}

// ServeWS handles WebSocket connection requests
// @Summary WebSocket 連線
// @Description 建立 WebSocket 連線以接收放映室的播放同步事件
// @Tags WebSocket
// @Param token query string true "JWT Token"
// @Success 101 {string} string "Switching Protocols"
// @Failure 401 {object} response.Response
// @Router /ws [get]
func (h *Handler) ServeWS(c *gin.Context) {
	token, _ := middleware.ExtractToken(c)
	if token == "" {
		response.Unauthorized(c, "缺少認證 Token")
		return
	}

	claims, err := h.jwtManager.ValidateAccessToken(token)
	if err != nil {
		h.logger.Warn("Invalid token for WebSocket",
			zap.Error(err),
		)
		response.Unauthorized(c, "無效的 Token")
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket",
			zap.Error(err),
		)
		return
	}

	client := NewClient(h.hub, conn, claims.UserID, h.logger)
	h.hub.register <- client

	go client.WritePump()
	go client.ReadPump()
}

// GetStats returns WebSocket hub statistics
// @Summary 獲取 WebSocket 統計資訊
// @Description 獲取 WebSocket 連線與放映室訂閱統計資訊
// @Tags WebSocket
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=map[string]int}
// @Router /api/v1/ws/stats [get]
func (h *Handler) GetStats(c *gin.Context) {
	response.Success(c, h.hub.GetStats())
}

// GetRoomStats returns subscription statistics for one room
// @Summary 獲取放映室連線統計
// @Description 獲取放映室的訂閱數與在線成員數
// @Tags WebSocket
// @Produce json
// @Security BearerAuth
// @Param id path string true "放映室 ID"
// @Success 200 {object} response.Response{data=map[string]int}
// @Failure 400 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/ws/stats/rooms/{id} [get]
func (h *Handler) GetRoomStats(c *gin.Context) {
	id := c.Param("id")
	if !utils.ValidateUUID(id) {
		response.BadRequest(c, "無效的放映室 ID")
		return
	}

	stats, err := h.hub.GetRoomStats(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, stats)
}
