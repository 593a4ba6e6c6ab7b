package model

import (
	"database/sql"
	"time"
)

// PlaybackState is the authoritative shared transport state of a room.
type PlaybackState struct {
	RoomID          string          `db:"room_id" json:"room_id"`
	MediaID         sql.NullString  `db:"media_id" json:"media_id,omitempty"`
	PositionSeconds float64         `db:"position_seconds" json:"position_seconds"`
	DurationSeconds sql.NullFloat64 `db:"duration_seconds" json:"duration_seconds,omitempty"`
	IsPlaying       bool            `db:"is_playing" json:"is_playing"`
	Version         int64           `db:"version" json:"version"`
	LastUpdatedBy   sql.NullString  `db:"last_updated_by" json:"last_updated_by,omitempty"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// NewPlaybackState returns the initial state created alongside a room
func NewPlaybackState(roomID string, now time.Time) *PlaybackState {
	return &PlaybackState{
		RoomID:    roomID,
		Version:   0,
		IsPlaying: false,
		UpdatedAt: now,
	}
}

// GetMediaID returns media ID or empty string
func (p *PlaybackState) GetMediaID() string {
	if p.MediaID.Valid {
		return p.MediaID.String
	}
	return ""
}

// GetLastUpdatedBy returns the last writer or empty string
func (p *PlaybackState) GetLastUpdatedBy() string {
	if p.LastUpdatedBy.Valid {
		return p.LastUpdatedBy.String
	}
	return ""
}

// ClampPosition bounds pos to [0, duration] when the duration is known.
func (p *PlaybackState) ClampPosition(pos float64) float64 {
	if pos < 0 {
		return 0
	}
	if p.DurationSeconds.Valid && pos > p.DurationSeconds.Float64 {
		return p.DurationSeconds.Float64
	}
	return pos
}

// PositionAt extrapolates the position at now while playing.
func (p *PlaybackState) PositionAt(now time.Time) float64 {
	if !p.IsPlaying {
		return p.PositionSeconds
	}
	elapsed := now.Sub(p.UpdatedAt).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	return p.ClampPosition(p.PositionSeconds + elapsed)
}

// Clone returns a copy safe to hand to other goroutines
func (p *PlaybackState) Clone() *PlaybackState {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

// PlaybackPatch is a partial update; nil fields keep their current value.
// An empty MediaID unloads the current media.
type PlaybackPatch struct {
	MediaID         *string
	PositionSeconds *float64
	DurationSeconds *float64
	IsPlaying       *bool
}

// IsEmpty reports whether the patch changes nothing
func (p *PlaybackPatch) IsEmpty() bool {
	return p.MediaID == nil && p.PositionSeconds == nil && p.DurationSeconds == nil && p.IsPlaying == nil
}
