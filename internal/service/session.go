package service

import (
	"context"
	"strings"

	"github.com/go-demo/watchparty/internal/model"
	apperrors "github.com/go-demo/watchparty/internal/pkg/errors"
	"github.com/go-demo/watchparty/internal/pkg/utils"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// SessionService is the entry point for every watch-party operation. It
// validates input, consults the AuthorityGate and delegates writes to the
// component that owns the record.
type SessionService struct {
	membership      *MembershipCoordinator
	playback        *PlaybackSynchronizer
	gate            *AuthorityGate
	defaultCapacity int
	maxCapacity     int
	logger          *zap.Logger
}

func NewSessionService(
	membership *MembershipCoordinator,
	playback *PlaybackSynchronizer,
	gate *AuthorityGate,
	defaultCapacity, maxCapacity int,
	logger *zap.Logger,
) *SessionService {
	return &SessionService{
		membership:      membership,
		playback:        playback,
		gate:            gate,
		defaultCapacity: defaultCapacity,
		maxCapacity:     maxCapacity,
		logger:          logger,
	}
}

// CreateRoom creates a room owned by ownerID. A zero MaxCapacity takes the
// configured default.
func (s *SessionService) CreateRoom(ctx context.Context, ownerID string, input *CreateRoomInput) (*model.Room, error) {
	if ownerID == "" {
		return nil, apperrors.ErrUnauthorized
	}

	in := *input
	in.OwnerID = ownerID
	in.Name = utils.SanitizeString(in.Name)
	in.Description = utils.SanitizeString(in.Description)
	if in.MaxCapacity == 0 {
		in.MaxCapacity = s.defaultCapacity
	}

	v := utils.NewValidator()
	v.ValidateRoomName("name", in.Name)
	v.ValidateDescription("description", in.Description)
	v.ValidateCapacity("max_capacity", in.MaxCapacity, s.maxCapacity)
	if v.HasErrors() {
		return nil, apperrors.ErrInvalidInput.WithDetails(v.Errors())
	}

	return s.membership.Create(ctx, &in)
}

// GetRoom returns a room with its member count
func (s *SessionService) GetRoom(ctx context.Context, roomID string) (*model.RoomWithMemberCount, error) {
	return s.membership.Get(ctx, roomID)
}

// ListPublicRooms lists public rooms, newest first
func (s *SessionService) ListPublicRooms(ctx context.Context, limit, offset int) ([]*model.RoomWithMemberCount, error) {
	limit, offset = normalizePage(limit, offset)
	return s.membership.ListPublic(ctx, limit, offset)
}

// ListMyRooms lists the rooms userID belongs to
func (s *SessionService) ListMyRooms(ctx context.Context, userID string, limit, offset int) ([]*model.RoomWithMemberCount, error) {
	limit, offset = normalizePage(limit, offset)
	return s.membership.ListByUserID(ctx, userID, limit, offset)
}

// UpdateRoom changes room metadata; owner only
func (s *SessionService) UpdateRoom(ctx context.Context, roomID, callerID string, input *UpdateRoomInput) (*model.Room, error) {
	in := *input
	v := utils.NewValidator()
	if in.Name != nil {
		name := utils.SanitizeString(*in.Name)
		in.Name = &name
		v.ValidateRoomName("name", name)
	}
	if in.Description != nil {
		desc := utils.SanitizeString(*in.Description)
		in.Description = &desc
		v.ValidateDescription("description", desc)
	}
	if in.MaxCapacity != nil {
		v.ValidateCapacity("max_capacity", *in.MaxCapacity, s.maxCapacity)
	}

	room, err := s.authorizeRoom(ctx, roomID, callerID)
	if err != nil {
		return nil, err
	}
	if v.HasErrors() {
		return nil, apperrors.ErrInvalidInput.WithDetails(v.Errors())
	}

	return s.membership.Update(ctx, room.ID, &in)
}

// DeleteRoom removes the room and everything it owns; owner only
func (s *SessionService) DeleteRoom(ctx context.Context, roomID, callerID string) error {
	room, err := s.authorizeRoom(ctx, roomID, callerID)
	if err != nil {
		return err
	}
	return s.membership.Delete(ctx, room.ID)
}

// JoinRoom admits userID to the room
func (s *SessionService) JoinRoom(ctx context.Context, roomID, userID string) (*model.RoomMember, error) {
	if userID == "" {
		return nil, apperrors.ErrUnauthorized
	}
	return s.membership.Join(ctx, roomID, userID)
}

// LeaveRoom is idempotent
func (s *SessionService) LeaveRoom(ctx context.Context, roomID, userID string) error {
	if userID == "" {
		return apperrors.ErrUnauthorized
	}
	return s.membership.Leave(ctx, roomID, userID)
}

// GetMembers lists the room's members, owner first
func (s *SessionService) GetMembers(ctx context.Context, roomID string) ([]*model.RoomMember, error) {
	return s.membership.Members(ctx, roomID)
}

// IsMember reports whether userID belongs to the room
func (s *SessionService) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	return s.membership.IsMember(ctx, roomID, userID)
}

// GetPlaybackState returns the room's latest committed playback state
func (s *SessionService) GetPlaybackState(ctx context.Context, roomID string) (*model.PlaybackState, error) {
	return s.playback.Get(ctx, roomID)
}

// UpdatePlaybackState applies patch on behalf of callerID. When
// expectedVersion is set the update only applies to that version.
func (s *SessionService) UpdatePlaybackState(ctx context.Context, roomID, callerID string, patch model.PlaybackPatch, expectedVersion *int64) (*model.PlaybackState, error) {
	if callerID == "" {
		return nil, apperrors.ErrUnauthorized
	}
	return s.playback.Update(ctx, &UpdatePlaybackInput{
		RoomID:          roomID,
		CallerID:        callerID,
		Patch:           patch,
		ExpectedVersion: expectedVersion,
	})
}

// GrantHost delegates playback control to a member; owner only
func (s *SessionService) GrantHost(ctx context.Context, roomID, callerID, targetID string) error {
	return s.setHost(ctx, roomID, callerID, targetID, true)
}

// RevokeHost withdraws a delegated grant; owner only
func (s *SessionService) RevokeHost(ctx context.Context, roomID, callerID, targetID string) error {
	return s.setHost(ctx, roomID, callerID, targetID, false)
}

// ListHosts lists delegated hosts of a room
func (s *SessionService) ListHosts(ctx context.Context, roomID string) ([]string, error) {
	if _, err := s.membership.Get(ctx, roomID); err != nil {
		return nil, err
	}
	return s.membership.Hosts(ctx, roomID)
}

func (s *SessionService) setHost(ctx context.Context, roomID, callerID, targetID string, grant bool) error {
	if strings.TrimSpace(targetID) == "" {
		return apperrors.ErrInvalidInput.WithDetails(map[string]string{"user_id": "此欄位為必填"})
	}
	room, err := s.authorizeRoom(ctx, roomID, callerID)
	if err != nil {
		return err
	}
	return s.membership.SetHost(ctx, room.ID, targetID, grant)
}

// authorizeRoom loads the room and checks the caller may mutate it.
// The owner never changes, so the check holds for the locked write that follows.
func (s *SessionService) authorizeRoom(ctx context.Context, roomID, callerID string) (*model.Room, error) {
	if callerID == "" {
		return nil, apperrors.ErrUnauthorized
	}

	room, err := s.membership.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}

	if !s.gate.CanMutateRoom(&room.Room, callerID) {
		s.logger.Debug("Room mutation denied",
			zap.String("room_id", roomID),
			zap.String("caller_id", callerID),
		)
		return nil, apperrors.ErrForbidden
	}

	return &room.Room, nil
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
