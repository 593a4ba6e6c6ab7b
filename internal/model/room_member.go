package model

import "time"

type MemberRole string

const (
	MemberRoleOwner  MemberRole = "OWNER"
	MemberRoleViewer MemberRole = "VIEWER"
)

type RoomMember struct {
	ID       string     `db:"id" json:"id"`
	RoomID   string     `db:"room_id" json:"room_id"`
	UserID   string     `db:"user_id" json:"user_id"`
	Role     MemberRole `db:"role" json:"role"`
	JoinedAt time.Time  `db:"joined_at" json:"joined_at"`
}

// IsOwner checks if member is room owner
func (rm *RoomMember) IsOwner() bool {
	return rm.Role == MemberRoleOwner
}
