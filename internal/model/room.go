package model

import (
	"database/sql"
	"time"
)

type Room struct {
	ID             string         `db:"id" json:"id"`
	OwnerID        string         `db:"owner_id" json:"owner_id"`
	Name           string         `db:"name" json:"name"`
	Description    sql.NullString `db:"description" json:"description,omitempty"`
	IsPrivate      bool           `db:"is_private" json:"is_private"`
	MaxCapacity    int            `db:"max_capacity" json:"max_capacity"`
	CurrentMediaID sql.NullString `db:"current_media_id" json:"current_media_id,omitempty"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

// GetDescription returns description or empty string
func (r *Room) GetDescription() string {
	if r.Description.Valid {
		return r.Description.String
	}
	return ""
}

// GetCurrentMediaID returns the loaded media ID or empty string
func (r *Room) GetCurrentMediaID() string {
	if r.CurrentMediaID.Valid {
		return r.CurrentMediaID.String
	}
	return ""
}

// IsOwnedBy checks if the user owns the room
func (r *Room) IsOwnedBy(userID string) bool {
	return userID != "" && r.OwnerID == userID
}

// RoomWithMemberCount includes member count
type RoomWithMemberCount struct {
	Room
	MemberCount int `db:"member_count" json:"member_count"`
}
