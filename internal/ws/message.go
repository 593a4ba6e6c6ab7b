package ws

import (
	"encoding/json"
	"time"

	"github.com/go-demo/watchparty/internal/model"
	"github.com/go-demo/watchparty/internal/service"
)

// MessageType represents the type of WebSocket message
type MessageType string

const (
	// Client -> Server messages
	MessageTypeSubscribe      MessageType = "subscribe"
	MessageTypeUnsubscribe    MessageType = "unsubscribe"
	MessageTypeUpdatePlayback MessageType = "update_playback"
	MessageTypeSync           MessageType = "sync"
	MessageTypePing           MessageType = "ping"

	// Server -> Client messages
	MessageTypeSubscribed    MessageType = "subscribed"
	MessageTypeUnsubscribed  MessageType = "unsubscribed"
	MessageTypePlaybackState MessageType = MessageType(service.EventPlaybackState)
	MessageTypeMemberJoined  MessageType = MessageType(service.EventMemberJoined)
	MessageTypeMemberLeft    MessageType = MessageType(service.EventMemberLeft)
	MessageTypeRoomUpdated   MessageType = MessageType(service.EventRoomUpdated)
	MessageTypeRoomDeleted   MessageType = MessageType(service.EventRoomDeleted)
	MessageTypeHostGranted   MessageType = MessageType(service.EventHostGranted)
	MessageTypeHostRevoked   MessageType = MessageType(service.EventHostRevoked)
	MessageTypePong          MessageType = "pong"
	MessageTypeError         MessageType = "error"
	MessageTypeAck           MessageType = "ack"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	RequestID string          `json:"request_id,omitempty"`
}

// RoomPayload addresses a room
type RoomPayload struct {
	RoomID string `json:"room_id"`
}

// UpdatePlaybackPayload is a partial playback update; omitted fields are kept
type UpdatePlaybackPayload struct {
	RoomID          string   `json:"room_id"`
	MediaID         *string  `json:"media_id,omitempty"`
	PositionSeconds *float64 `json:"position_seconds,omitempty"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
	IsPlaying       *bool    `json:"is_playing,omitempty"`
	ExpectedVersion *int64   `json:"expected_version,omitempty"`
}

// Patch converts the payload to a playback patch
func (p *UpdatePlaybackPayload) Patch() model.PlaybackPatch {
	return model.PlaybackPatch{
		MediaID:         p.MediaID,
		PositionSeconds: p.PositionSeconds,
		DurationSeconds: p.DurationSeconds,
		IsPlaying:       p.IsPlaying,
	}
}

// PlaybackStatePayload is a playback snapshot. CurrentPosition is the
// position extrapolated to ServerTime; clients should drop snapshots whose
// Version is not newer than one already applied.
type PlaybackStatePayload struct {
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

// NewPlaybackStatePayload converts a state snapshot taken at now
func NewPlaybackStatePayload(state *model.PlaybackState, now time.Time) *PlaybackStatePayload {
	p := &PlaybackStatePayload{
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
		p.DurationSeconds = &d
	}
	return p
}

// SubscribedPayload confirms a subscription with the current snapshot.
// State is omitted when a newer broadcast already reached the client.
type SubscribedPayload struct {
	RoomID      string                `json:"room_id"`
	RoomName    string                `json:"room_name"`
	MemberCount int                   `json:"member_count"`
	State       *PlaybackStatePayload `json:"state,omitempty"`
}

// MemberPayload announces a membership change
type MemberPayload struct {
	RoomID      string `json:"room_id"`
	UserID      string `json:"user_id"`
	Role        string `json:"role,omitempty"`
	MemberCount int    `json:"member_count"`
}

// RoomUpdatedPayload carries the new room metadata
type RoomUpdatedPayload struct {
	RoomID      string `json:"room_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IsPrivate   bool   `json:"is_private"`
	MaxCapacity int    `json:"max_capacity"`
}

// HostPayload announces a host grant change
type HostPayload struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
}

// ErrorPayload represents error message
type ErrorPayload struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// AckPayload acknowledges an accepted update_playback
type AckPayload struct {
	RequestID string                `json:"request_id"`
	Success   bool                  `json:"success"`
	State     *PlaybackStatePayload `json:"state,omitempty"`
}

// NewMessage creates a new message
func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Message{
		Type:      msgType,
		Payload:   payloadBytes,
		Timestamp: time.Now(),
	}, nil
}

// NewErrorMessage creates a new error message
func NewErrorMessage(code int, message string) (*Message, error) {
	return NewMessage(MessageTypeError, &ErrorPayload{
		Code:    code,
		Message: message,
	})
}

// ParsePayload parses message payload into the given type
func (m *Message) ParsePayload(v interface{}) error {
	return json.Unmarshal(m.Payload, v)
}

// messageFromEvent renders a committed event for room subscribers
func messageFromEvent(e *service.Event) (*Message, error) {
	switch e.Type {
	case service.EventPlaybackState:
		return NewMessage(MessageTypePlaybackState, NewPlaybackStatePayload(e.State, e.OccurredAt))
	case service.EventMemberJoined:
		payload := &MemberPayload{RoomID: e.RoomID, UserID: e.UserID, MemberCount: e.MemberCount}
		if e.Member != nil {
			payload.Role = string(e.Member.Role)
		}
		return NewMessage(MessageTypeMemberJoined, payload)
	case service.EventMemberLeft:
		return NewMessage(MessageTypeMemberLeft, &MemberPayload{
			RoomID:      e.RoomID,
			UserID:      e.UserID,
			MemberCount: e.MemberCount,
		})
	case service.EventRoomUpdated:
		return NewMessage(MessageTypeRoomUpdated, &RoomUpdatedPayload{
			RoomID:      e.Room.ID,
			Name:        e.Room.Name,
			Description: e.Room.GetDescription(),
			IsPrivate:   e.Room.IsPrivate,
			MaxCapacity: e.Room.MaxCapacity,
		})
	case service.EventRoomDeleted:
		return NewMessage(MessageTypeRoomDeleted, &RoomPayload{RoomID: e.RoomID})
	case service.EventHostGranted:
		return NewMessage(MessageTypeHostGranted, &HostPayload{RoomID: e.RoomID, UserID: e.UserID})
	case service.EventHostRevoked:
		return NewMessage(MessageTypeHostRevoked, &HostPayload{RoomID: e.RoomID, UserID: e.UserID})
	}
	return nil, errUnknownEvent
}
