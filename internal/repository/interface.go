package repository

import (
	"context"
	"errors"

	"github.com/go-demo/watchparty/internal/model"
)

var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrNotRoomMember     = errors.New("not a room member")
	ErrAlreadyRoomMember = errors.New("already a room member")
	ErrRoomFull          = errors.New("room is full")
	ErrVersionConflict   = errors.New("playback version conflict")

	// ErrTransient marks failures that may succeed on retry (lock timeouts,
	// serialization failures, deadlocks).
	ErrTransient = errors.New("transient storage failure")
)

// RoomStore persists rooms, their members and their playback state.
// Implementations must make CreateRoom and DeleteRoom atomic across all three
// record kinds, and AddMember/UpdatePlaybackState serializable per room.
type RoomStore interface {
	CreateRoom(ctx context.Context, room *model.Room, owner *model.RoomMember, state *model.PlaybackState) error
	GetRoom(ctx context.Context, id string) (*model.Room, error)
	GetRoomWithMemberCount(ctx context.Context, id string) (*model.RoomWithMemberCount, error)
	UpdateRoom(ctx context.Context, room *model.Room) error
	DeleteRoom(ctx context.Context, id string) error
	ListPublic(ctx context.Context, limit, offset int) ([]*model.RoomWithMemberCount, error)
	ListByUserID(ctx context.Context, userID string, limit, offset int) ([]*model.RoomWithMemberCount, error)

	AddMember(ctx context.Context, member *model.RoomMember) error
	RemoveMember(ctx context.Context, roomID, userID string) error
	GetMember(ctx context.Context, roomID, userID string) (*model.RoomMember, error)
	ListMembers(ctx context.Context, roomID string) ([]*model.RoomMember, error)
	CountMembers(ctx context.Context, roomID string) (int, error)

	GetPlaybackState(ctx context.Context, roomID string) (*model.PlaybackState, error)
	// UpdatePlaybackState stores state only if the stored version equals
	// expectedVersion, otherwise ErrVersionConflict. The room's current media
	// is updated in the same write.
	UpdatePlaybackState(ctx context.Context, state *model.PlaybackState, expectedVersion int64) error
}

// IsTransient reports whether err is worth retrying
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
