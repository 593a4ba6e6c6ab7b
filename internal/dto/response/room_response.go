package response

import (
	"time"

	"github.com/go-demo/watchparty/internal/model"
)

// RoomResponse represents a room response
type RoomResponse struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	IsPrivate      bool   `json:"is_private"`
	OwnerID        string `json:"owner_id"`
	MaxCapacity    int    `json:"max_capacity"`
	MemberCount    int    `json:"member_count"`
	CurrentMediaID string `json:"current_media_id,omitempty"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

// NewRoomResponse creates a room response from model
func NewRoomResponse(room *model.RoomWithMemberCount) *RoomResponse {
	return &RoomResponse{
		ID:             room.ID,
		Name:           room.Name,
		Description:    room.GetDescription(),
		IsPrivate:      room.IsPrivate,
		OwnerID:        room.OwnerID,
		MaxCapacity:    room.MaxCapacity,
		MemberCount:    room.MemberCount,
		CurrentMediaID: room.GetCurrentMediaID(),
		CreatedAt:      room.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      room.UpdatedAt.Format(time.RFC3339),
	}
}

// NewRoomResponses converts a room list
func NewRoomResponses(rooms []*model.RoomWithMemberCount) []*RoomResponse {
	out := make([]*RoomResponse, len(rooms))
	for i, r := range rooms {
		out[i] = NewRoomResponse(r)
	}
	return out
}

// RoomMemberResponse represents a room member response
type RoomMemberResponse struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	Role     string `json:"role"`
	JoinedAt string `json:"joined_at"`
}

// NewRoomMemberResponse creates a room member response from model
func NewRoomMemberResponse(m *model.RoomMember) *RoomMemberResponse {
	return &RoomMemberResponse{
		ID:       m.ID,
		UserID:   m.UserID,
		Role:     string(m.Role),
		JoinedAt: m.JoinedAt.Format(time.RFC3339),
	}
}

// HostListResponse lists the delegated hosts of a room
type HostListResponse struct {
	RoomID  string   `json:"room_id"`
	OwnerID string   `json:"owner_id"`
	Hosts   []string `json:"hosts"`
}
