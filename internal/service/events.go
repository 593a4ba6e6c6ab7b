package service

import (
	"time"

	"github.com/go-demo/watchparty/internal/model"
)

type EventType string

const (
	EventPlaybackState EventType = "playback_state"
	EventMemberJoined  EventType = "member_joined"
	EventMemberLeft    EventType = "member_left"
	EventRoomUpdated   EventType = "room_updated"
	EventRoomDeleted   EventType = "room_deleted"
	EventHostGranted   EventType = "host_granted"
	EventHostRevoked   EventType = "host_revoked"
)

// Event is an immutable snapshot of a committed change. Only the fields
// relevant to Type are set.
type Event struct {
	Type        EventType
	RoomID      string
	UserID      string
	Room        *model.Room
	Member      *model.RoomMember
	MemberCount int
	State       *model.PlaybackState
	OccurredAt  time.Time
}

// Publisher receives events from inside the per-room critical section, so
// events for one room arrive in commit order. Publish must not block.
type Publisher interface {
	Publish(event *Event)
}

// NopPublisher discards events
type NopPublisher struct{}

func (NopPublisher) Publish(*Event) {}

// PublisherFunc adapts a function to Publisher
type PublisherFunc func(event *Event)

func (f PublisherFunc) Publish(event *Event) { f(event) }
