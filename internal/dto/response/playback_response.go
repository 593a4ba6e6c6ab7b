package response

import (
	"time"

	"github.com/go-demo/watchparty/internal/model"
)

// PlaybackStateResponse represents a playback snapshot. CurrentPosition is
// extrapolated to ServerTime while playing.
type PlaybackStateResponse struct {
	RoomID          string   `json:"room_id"`
	MediaID         string   `json:"media_id,omitempty"`
	PositionSeconds float64  `json:"position_seconds"`
	CurrentPosition float64  `json:"current_position"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
	IsPlaying       bool     `json:"is_playing"`
	Version         int64    `json:"version"`
	LastUpdatedBy   string   `json:"last_updated_by,omitempty"`
	UpdatedAt       string   `json:"updated_at"`
	ServerTime      string   `json:"server_time"`
}

// NewPlaybackStateResponse converts a state snapshot taken at now
func NewPlaybackStateResponse(state *model.PlaybackState, now time.Time) *PlaybackStateResponse {
	resp := &PlaybackStateResponse{
		RoomID:          state.RoomID,
		MediaID:         state.GetMediaID(),
		PositionSeconds: state.PositionSeconds,
		CurrentPosition: state.PositionAt(now),
		IsPlaying:       state.IsPlaying,
		Version:         state.Version,
		LastUpdatedBy:   state.GetLastUpdatedBy(),
		UpdatedAt:       state.UpdatedAt.Format(time.RFC3339Nano),
		ServerTime:      now.Format(time.RFC3339Nano),
	}
	if state.DurationSeconds.Valid {
		d := state.DurationSeconds.Float64
		resp.DurationSeconds = &d
	}
	return resp
}
