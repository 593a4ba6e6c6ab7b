package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-demo/watchparty/internal/dto/request"
	"github.com/go-demo/watchparty/internal/dto/response"
	"github.com/go-demo/watchparty/internal/middleware"
	"github.com/go-demo/watchparty/internal/model"
	"github.com/go-demo/watchparty/internal/pkg/utils"
	"github.com/go-demo/watchparty/internal/service"
)

type RoomHandler struct {
	session *service.SessionService
}

func NewRoomHandler(session *service.SessionService) *RoomHandler {
	useJSONFieldNames()
	return &RoomHandler{
		session: session,
	}
}

// roomID reads and checks the :id path parameter
func roomID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if !utils.ValidateUUID(id) {
		response.BadRequest(c, "無效的放映室 ID")
		return "", false
	}
	return id, true
}

// Create godoc
// @Summary 創建放映室
// @Description 創建新的放映室，創建者成為房主
// @Tags 放映室
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body request.CreateRoomRequest true "放映室資料"
// @Success 201 {object} response.Response{data=response.RoomResponse}
// @Failure 400 {object} response.Response
// @Router /api/v1/rooms [post]
func (h *RoomHandler) Create(c *gin.Context) {
	var req request.CreateRoomRequest
	if !bindJSON(c, &req) {
		return
	}

	userID := middleware.GetUserID(c)

	room, err := h.session.CreateRoom(c.Request.Context(), userID, &service.CreateRoomInput{
		Name:        req.Name,
		Description: req.Description,
		IsPrivate:   req.IsPrivate,
		MaxCapacity: req.MaxCapacity,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, response.NewRoomResponse(&model.RoomWithMemberCount{Room: *room, MemberCount: 1}))
}

// GetByID godoc
// @Summary 獲取放映室詳情
// @Description 獲取指定放映室的資訊與成員數
// @Tags 放映室
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "放映室 ID"
// @Success 200 {object} response.Response{data=response.RoomResponse}
// @Failure 404 {object} response.Response
// @Router /api/v1/rooms/{id} [get]
func (h *RoomHandler) GetByID(c *gin.Context) {
	id, ok := roomID(c)
	if !ok {
		return
	}

	room, err := h.session.GetRoom(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, response.NewRoomResponse(room))
}

// Update godoc
// @Summary 更新放映室
// @Description 更新放映室資訊（僅房主可操作）
// @Tags 放映室
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "放映室 ID"
// @Param request body request.UpdateRoomRequest true "更新資料"
// @Success 200 {object} response.Response{data=response.RoomResponse}
// @Failure 400 {object} response.Response
// @Failure 403 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/rooms/{id} [put]
func (h *RoomHandler) Update(c *gin.Context) {
	id, ok := roomID(c)
	if !ok {
		return
	}

	var req request.UpdateRoomRequest
	if !bindJSON(c, &req) {
		return
	}

	userID := middleware.GetUserID(c)

	if _, err := h.session.UpdateRoom(c.Request.Context(), id, userID, &service.UpdateRoomInput{
		Name:        req.Name,
		Description: req.Description,
		IsPrivate:   req.IsPrivate,
		MaxCapacity: req.MaxCapacity,
	}); err != nil {
		response.Error(c, err)
		return
	}

	room, err := h.session.GetRoom(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, response.NewRoomResponse(room))
}

// Delete godoc
// @Summary 刪除放映室
// @Description 刪除放映室及其成員與播放狀態（僅房主可操作）
// @Tags 放映室
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "放映室 ID"
// @Success 204
// @Failure 403 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/rooms/{id} [delete]
func (h *RoomHandler) Delete(c *gin.Context) {
	id, ok := roomID(c)
	if !ok {
		return
	}

	userID := middleware.GetUserID(c)

	if err := h.session.DeleteRoom(c.Request.Context(), id, userID); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// ListPublic godoc
// @Summary 獲取公開放映室列表
// @Description 獲取所有公開的放映室
// @Tags 放映室
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param page query int false "頁碼" default(1)
// @Param limit query int false "每頁數量" default(20)
// @Success 200 {object} response.Response{data=[]response.RoomResponse}
// @Router /api/v1/rooms [get]
func (h *RoomHandler) ListPublic(c *gin.Context) {
	var req request.PaginationRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		req = request.PaginationRequest{Page: 1, Limit: 20}
	}

	rooms, err := h.session.ListPublicRooms(c.Request.Context(), req.Limit, req.Offset())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, response.NewRoomResponses(rooms))
}

// ListMyRooms godoc
// @Summary 獲取我的放映室
// @Description 獲取當前用戶加入的放映室
// @Tags 放映室
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param page query int false "頁碼" default(1)
// @Param limit query int false "每頁數量" default(20)
// @Success 200 {object} response.Response{data=[]response.RoomResponse}
// @Router /api/v1/rooms/me [get]
func (h *RoomHandler) ListMyRooms(c *gin.Context) {
	var req request.PaginationRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		req = request.PaginationRequest{Page: 1, Limit: 20}
	}

	userID := middleware.GetUserID(c)

	rooms, err := h.session.ListMyRooms(c.Request.Context(), userID, req.Limit, req.Offset())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, response.NewRoomResponses(rooms))
}

// Join godoc
// @Summary 加入放映室
// @Description 以觀眾身分加入放映室
// @Tags 放映室
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "放映室 ID"
// @Success 200 {object} response.Response{data=response.RoomMemberResponse}
// @Failure 404 {object} response.Response
// @Failure 409 {object} response.Response
// @Failure 422 {object} response.Response
// @Router /api/v1/rooms/{id}/join [post]
func (h *RoomHandler) Join(c *gin.Context) {
	id, ok := roomID(c)
	if !ok {
		return
	}

	userID := middleware.GetUserID(c)

	member, err := h.session.JoinRoom(c.Request.Context(), id, userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMessage(c, "已加入放映室", response.NewRoomMemberResponse(member))
}

// Leave godoc
// @Summary 離開放映室
// @Description 離開放映室；重複離開不會出錯
// @Tags 放映室
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "放映室 ID"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Router /api/v1/rooms/{id}/leave [post]
func (h *RoomHandler) Leave(c *gin.Context) {
	id, ok := roomID(c)
	if !ok {
		return
	}

	userID := middleware.GetUserID(c)

	if err := h.session.LeaveRoom(c.Request.Context(), id, userID); err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMessage(c, "已離開放映室", nil)
}

// ListMembers godoc
// @Summary 獲取成員列表
// @Description 獲取放映室成員列表
// @Tags 放映室
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "放映室 ID"
// @Success 200 {object} response.Response{data=[]response.RoomMemberResponse}
// @Failure 404 {object} response.Response
// @Router /api/v1/rooms/{id}/members [get]
func (h *RoomHandler) ListMembers(c *gin.Context) {
	id, ok := roomID(c)
	if !ok {
		return
	}

	members, err := h.session.GetMembers(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	memberResponses := make([]*response.RoomMemberResponse, len(members))
	for i, m := range members {
		memberResponses[i] = response.NewRoomMemberResponse(m)
	}

	response.Success(c, memberResponses)
}

// GetPlayback godoc
// @Summary 獲取播放狀態
// @Description 獲取放映室目前的播放狀態
// @Tags 播放同步
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "放映室 ID"
// @Success 200 {object} response.Response{data=response.PlaybackStateResponse}
// @Failure 404 {object} response.Response
// @Failure 503 {object} response.Response
// @Router /api/v1/rooms/{id}/playback [get]
func (h *RoomHandler) GetPlayback(c *gin.Context) {
	id, ok := roomID(c)
	if !ok {
		return
	}

	state, err := h.session.GetPlaybackState(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, response.NewPlaybackStateResponse(state, time.Now()))
}

// UpdatePlayback godoc
// @Summary 更新播放狀態
// @Description 部分更新播放狀態（房主或主持人）；帶 expected_version 時版本不符回傳 409 與目前狀態
// @Tags 播放同步
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "放映室 ID"
// @Param request body request.UpdatePlaybackRequest true "播放狀態"
// @Success 200 {object} response.Response{data=response.PlaybackStateResponse}
// @Failure 400 {object} response.Response
// @Failure 403 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 409 {object} response.Response{error=response.ErrorInfo{details=response.PlaybackStateResponse}}
// @Failure 503 {object} response.Response
// @Router /api/v1/rooms/{id}/playback [put]
func (h *RoomHandler) UpdatePlayback(c *gin.Context) {
	id, ok := roomID(c)
	if !ok {
		return
	}

	var req request.UpdatePlaybackRequest
	if !bindJSON(c, &req) {
		return
	}

	userID := middleware.GetUserID(c)

	state, err := h.session.UpdatePlaybackState(c.Request.Context(), id, userID, model.PlaybackPatch{
		MediaID:         req.MediaID,
		PositionSeconds: req.PositionSeconds,
		DurationSeconds: req.DurationSeconds,
		IsPlaying:       req.IsPlaying,
	}, req.ExpectedVersion)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, response.NewPlaybackStateResponse(state, time.Now()))
}

// ListHosts godoc
// @Summary 獲取主持人列表
// @Description 獲取被授權控制播放的成員
// @Tags 播放同步
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "放映室 ID"
// @Success 200 {object} response.Response{data=response.HostListResponse}
// @Failure 404 {object} response.Response
// @Router /api/v1/rooms/{id}/hosts [get]
func (h *RoomHandler) ListHosts(c *gin.Context) {
	id, ok := roomID(c)
	if !ok {
		return
	}

	room, err := h.session.GetRoom(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	hosts, err := h.session.ListHosts(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, &response.HostListResponse{
		RoomID:  id,
		OwnerID: room.OwnerID,
		Hosts:   hosts,
	})
}

// GrantHost godoc
// @Summary 授權主持人
// @Description 授權成員控制播放（僅房主可操作）
// @Tags 播放同步
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "放映室 ID"
// @Param user_id path string true "用戶 ID"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Failure 403 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/rooms/{id}/hosts/{user_id} [post]
func (h *RoomHandler) GrantHost(c *gin.Context) {
	id, ok := roomID(c)
	if !ok {
		return
	}

	userID := middleware.GetUserID(c)

	if err := h.session.GrantHost(c.Request.Context(), id, userID, c.Param("user_id")); err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMessage(c, "已授權主持人", nil)
}

// RevokeHost godoc
// @Summary 撤銷主持人
// @Description 撤銷成員的播放控制權（僅房主可操作）
// @Tags 播放同步
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "放映室 ID"
// @Param user_id path string true "用戶 ID"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Failure 403 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/rooms/{id}/hosts/{user_id} [delete]
func (h *RoomHandler) RevokeHost(c *gin.Context) {
	id, ok := roomID(c)
	if !ok {
		return
	}

	userID := middleware.GetUserID(c)

	if err := h.session.RevokeHost(c.Request.Context(), id, userID, c.Param("user_id")); err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMessage(c, "已撤銷主持人", nil)
}
