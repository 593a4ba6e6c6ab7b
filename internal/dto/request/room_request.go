package request

// CreateRoomRequest represents a room creation request
type CreateRoomRequest struct {
	Name        string `json:"name" binding:"required,max=100"`
	Description string `json:"description,omitempty" binding:"omitempty,max=500"`
	IsPrivate   bool   `json:"is_private,omitempty"`
	MaxCapacity int    `json:"max_capacity,omitempty" binding:"omitempty,min=1"` // default from config
}

// UpdateRoomRequest represents a room update request; omitted fields are kept
type UpdateRoomRequest struct {
	Name        *string `json:"name,omitempty" binding:"omitempty,max=100"`
	Description *string `json:"description,omitempty" binding:"omitempty,max=500"`
	IsPrivate   *bool   `json:"is_private,omitempty"`
	MaxCapacity *int    `json:"max_capacity,omitempty" binding:"omitempty,min=1"`
}

// UpdatePlaybackRequest represents a partial playback update. An empty
// media_id unloads the current media.
type UpdatePlaybackRequest struct {
	MediaID         *string  `json:"media_id,omitempty" binding:"omitempty,max=255"`
	PositionSeconds *float64 `json:"position_seconds,omitempty"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
	IsPlaying       *bool    `json:"is_playing,omitempty"`
	ExpectedVersion *int64   `json:"expected_version,omitempty" binding:"omitempty,min=0"`
}
