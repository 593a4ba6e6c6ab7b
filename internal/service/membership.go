package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-demo/watchparty/internal/model"
	"github.com/go-demo/watchparty/internal/pkg/cache"
	apperrors "github.com/go-demo/watchparty/internal/pkg/errors"
	"github.com/go-demo/watchparty/internal/repository"
	"go.uber.org/zap"
)

// MembershipCoordinator owns room lifecycle and the member set. Every
// mutation of a room runs under that room's lock so capacity and
// uniqueness checks never interleave.
type MembershipCoordinator struct {
	store  repository.RoomStore
	locker RoomLocker
	gate   *AuthorityGate
	cache  cache.PlaybackCache
	events Publisher
	retry  retrier
	now    func() time.Time
	logger *zap.Logger
}

func NewMembershipCoordinator(
	store repository.RoomStore,
	locker RoomLocker,
	gate *AuthorityGate,
	playbackCache cache.PlaybackCache,
	events Publisher,
	backoff time.Duration,
	logger *zap.Logger,
) *MembershipCoordinator {
	if events == nil {
		events = NopPublisher{}
	}
	return &MembershipCoordinator{
		store:  store,
		locker: locker,
		gate:   gate,
		cache:  playbackCache,
		events: events,
		retry:  retrier{backoff: backoff},
		now:    time.Now,
		logger: logger,
	}
}

// CreateRoomInput represents room creation input
type CreateRoomInput struct {
	OwnerID     string
	Name        string
	Description string
	IsPrivate   bool
	MaxCapacity int
}

// Create stores the room, its owner membership and its initial playback
// state in one atomic write
func (m *MembershipCoordinator) Create(ctx context.Context, input *CreateRoomInput) (*model.Room, error) {
	room := &model.Room{
		OwnerID:     input.OwnerID,
		Name:        input.Name,
		IsPrivate:   input.IsPrivate,
		MaxCapacity: input.MaxCapacity,
	}
	if input.Description != "" {
		room.Description = sql.NullString{String: input.Description, Valid: true}
	}

	owner := &model.RoomMember{
		UserID: input.OwnerID,
		Role:   model.MemberRoleOwner,
	}

	err := m.retry.do(ctx, func() error {
		return m.store.CreateRoom(ctx, room, owner, model.NewPlaybackState("", m.now()))
	})
	if err != nil {
		m.logger.Error("Failed to create room", zap.Error(err))
		return nil, mapStoreError(err)
	}

	m.logger.Info("Room created",
		zap.String("room_id", room.ID),
		zap.String("name", room.Name),
		zap.String("owner_id", input.OwnerID),
		zap.Int("max_capacity", room.MaxCapacity),
	)

	return room, nil
}

// UpdateRoomInput carries a partial metadata update; nil fields are kept
type UpdateRoomInput struct {
	Name        *string
	Description *string
	IsPrivate   *bool
	MaxCapacity *int
}

// Update applies metadata changes. MaxCapacity may not drop below the
// current member count.
func (m *MembershipCoordinator) Update(ctx context.Context, roomID string, input *UpdateRoomInput) (*model.Room, error) {
	var updated *model.Room

	err := m.retry.do(ctx, func() error {
		unlock, err := m.locker.Lock(ctx, roomID)
		if err != nil {
			return err
		}
		defer unlock()

		room, err := m.store.GetRoom(ctx, roomID)
		if err != nil {
			return err
		}

		if input.MaxCapacity != nil {
			count, err := m.store.CountMembers(ctx, roomID)
			if err != nil {
				return err
			}
			if *input.MaxCapacity < count {
				return apperrors.ErrInvalidInput.WithDetails(map[string]interface{}{
					"max_capacity": "不可小於目前成員數",
					"member_count": count,
				})
			}
			room.MaxCapacity = *input.MaxCapacity
		}
		if input.Name != nil {
			room.Name = *input.Name
		}
		if input.Description != nil {
			room.Description = sql.NullString{String: *input.Description, Valid: *input.Description != ""}
		}
		if input.IsPrivate != nil {
			room.IsPrivate = *input.IsPrivate
		}

		if err := m.store.UpdateRoom(ctx, room); err != nil {
			return err
		}

		updated = room
		m.events.Publish(&Event{
			Type:       EventRoomUpdated,
			RoomID:     roomID,
			Room:       copyRoom(room),
			OccurredAt: m.now(),
		})
		return nil
	})
	if err != nil {
		return nil, m.fail("Failed to update room", roomID, "", err)
	}

	return updated, nil
}

// Delete removes the room with its members, playback state and host grants
func (m *MembershipCoordinator) Delete(ctx context.Context, roomID string) error {
	err := m.retry.do(ctx, func() error {
		unlock, err := m.locker.Lock(ctx, roomID)
		if err != nil {
			return err
		}
		defer unlock()

		if err := m.store.DeleteRoom(ctx, roomID); err != nil {
			return err
		}

		if grants := m.gate.Grants(); grants != nil {
			if err := grants.Clear(ctx, roomID); err != nil {
				m.logger.Warn("Failed to clear host grants", zap.String("room_id", roomID), zap.Error(err))
			}
		}
		if m.cache != nil {
			if err := m.cache.Delete(ctx, roomID); err != nil {
				m.logger.Warn("Failed to drop cached playback state", zap.String("room_id", roomID), zap.Error(err))
			}
		}

		m.events.Publish(&Event{
			Type:       EventRoomDeleted,
			RoomID:     roomID,
			OccurredAt: m.now(),
		})
		return nil
	})
	if err != nil {
		return m.fail("Failed to delete room", roomID, "", err)
	}

	m.logger.Info("Room deleted", zap.String("room_id", roomID))
	return nil
}

// Join admits userID as a viewer, or as owner when the owner returns.
// Existence, uniqueness and capacity are checked in that order.
func (m *MembershipCoordinator) Join(ctx context.Context, roomID, userID string) (*model.RoomMember, error) {
	var joined *model.RoomMember

	err := m.retry.do(ctx, func() error {
		unlock, err := m.locker.Lock(ctx, roomID)
		if err != nil {
			return err
		}
		defer unlock()

		room, err := m.store.GetRoom(ctx, roomID)
		if err != nil {
			return err
		}

		member := &model.RoomMember{
			RoomID: roomID,
			UserID: userID,
			Role:   model.MemberRoleViewer,
		}
		if room.IsOwnedBy(userID) {
			member.Role = model.MemberRoleOwner
		}

		if err := m.store.AddMember(ctx, member); err != nil {
			return err
		}

		count, err := m.store.CountMembers(ctx, roomID)
		if err != nil {
			m.logger.Warn("Failed to count members", zap.String("room_id", roomID), zap.Error(err))
		}

		joined = member
		m.events.Publish(&Event{
			Type:        EventMemberJoined,
			RoomID:      roomID,
			UserID:      userID,
			Member:      copyMember(member),
			MemberCount: count,
			OccurredAt:  m.now(),
		})
		return nil
	})
	if err != nil {
		return nil, m.fail("Failed to join room", roomID, userID, err)
	}

	m.logger.Info("User joined room",
		zap.String("room_id", roomID),
		zap.String("user_id", userID),
		zap.String("role", string(joined.Role)),
	)

	return joined, nil
}

// Leave removes userID from the room. Leaving a room one is not in, or a
// room that no longer exists, succeeds without effect. The owner may leave;
// the room keeps its owner and the owner keeps authority.
func (m *MembershipCoordinator) Leave(ctx context.Context, roomID, userID string) error {
	err := m.retry.do(ctx, func() error {
		unlock, err := m.locker.Lock(ctx, roomID)
		if err != nil {
			return err
		}
		defer unlock()

		if err := m.store.RemoveMember(ctx, roomID, userID); err != nil {
			if errors.Is(err, repository.ErrNotRoomMember) || errors.Is(err, repository.ErrRoomNotFound) {
				return nil
			}
			return err
		}

		if grants := m.gate.Grants(); grants != nil {
			if err := grants.Revoke(ctx, roomID, userID); err != nil {
				m.logger.Warn("Failed to revoke host grant on leave",
					zap.String("room_id", roomID),
					zap.String("user_id", userID),
					zap.Error(err),
				)
			}
		}

		count, err := m.store.CountMembers(ctx, roomID)
		if err != nil {
			m.logger.Warn("Failed to count members", zap.String("room_id", roomID), zap.Error(err))
		}

		m.events.Publish(&Event{
			Type:        EventMemberLeft,
			RoomID:      roomID,
			UserID:      userID,
			MemberCount: count,
			OccurredAt:  m.now(),
		})

		m.logger.Info("User left room",
			zap.String("room_id", roomID),
			zap.String("user_id", userID),
		)
		return nil
	})
	if err != nil {
		return m.fail("Failed to leave room", roomID, userID, err)
	}

	return nil
}

// SetHost grants or revokes delegated playback control. The target must be
// a member when granting.
func (m *MembershipCoordinator) SetHost(ctx context.Context, roomID, userID string, grant bool) error {
	grants := m.gate.Grants()
	if grants == nil {
		return apperrors.ErrInvalidInput.WithDetails(map[string]string{
			"host_policy": "此伺服器未啟用主持人委派",
		})
	}

	err := m.retry.do(ctx, func() error {
		unlock, err := m.locker.Lock(ctx, roomID)
		if err != nil {
			return err
		}
		defer unlock()

		room, err := m.store.GetRoom(ctx, roomID)
		if err != nil {
			return err
		}
		if room.IsOwnedBy(userID) {
			return apperrors.ErrInvalidInput.WithDetails(map[string]string{
				"user_id": "房主本身即擁有播放控制權",
			})
		}

		eventType := EventHostRevoked
		if grant {
			if _, err := m.store.GetMember(ctx, roomID, userID); err != nil {
				if errors.Is(err, repository.ErrNotRoomMember) {
					return apperrors.ErrInvalidInput.WithDetails(map[string]string{
						"user_id": "對象不是放映室成員",
					})
				}
				return err
			}
			if err := grants.Grant(ctx, roomID, userID); err != nil {
				return err
			}
			eventType = EventHostGranted
		} else if err := grants.Revoke(ctx, roomID, userID); err != nil {
			return err
		}

		m.events.Publish(&Event{
			Type:       eventType,
			RoomID:     roomID,
			UserID:     userID,
			OccurredAt: m.now(),
		})
		return nil
	})
	if err != nil {
		return m.fail("Failed to change host grant", roomID, userID, err)
	}

	m.logger.Info("Host grant changed",
		zap.String("room_id", roomID),
		zap.String("user_id", userID),
		zap.Bool("granted", grant),
	)

	return nil
}

// Hosts lists users holding a delegated grant
func (m *MembershipCoordinator) Hosts(ctx context.Context, roomID string) ([]string, error) {
	grants := m.gate.Grants()
	if grants == nil {
		return []string{}, nil
	}
	hosts, err := grants.List(ctx, roomID)
	if err != nil {
		return nil, m.fail("Failed to list hosts", roomID, "", err)
	}
	return hosts, nil
}

// Get returns a room with its member count
func (m *MembershipCoordinator) Get(ctx context.Context, roomID string) (*model.RoomWithMemberCount, error) {
	room, err := m.store.GetRoomWithMemberCount(ctx, roomID)
	if err != nil {
		return nil, m.fail("Failed to get room", roomID, "", err)
	}
	return room, nil
}

// Members lists members, owner first
func (m *MembershipCoordinator) Members(ctx context.Context, roomID string) ([]*model.RoomMember, error) {
	if _, err := m.store.GetRoom(ctx, roomID); err != nil {
		return nil, m.fail("Failed to get room", roomID, "", err)
	}

	members, err := m.store.ListMembers(ctx, roomID)
	if err != nil {
		return nil, m.fail("Failed to list members", roomID, "", err)
	}
	return members, nil
}

// IsMember reports whether userID currently belongs to the room
func (m *MembershipCoordinator) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	_, err := m.store.GetMember(ctx, roomID, userID)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, repository.ErrNotRoomMember) {
		return false, nil
	}
	return false, m.fail("Failed to get member", roomID, userID, err)
}

// ListPublic lists public rooms, newest first
func (m *MembershipCoordinator) ListPublic(ctx context.Context, limit, offset int) ([]*model.RoomWithMemberCount, error) {
	rooms, err := m.store.ListPublic(ctx, limit, offset)
	if err != nil {
		return nil, m.fail("Failed to list public rooms", "", "", err)
	}
	return rooms, nil
}

// ListByUserID lists rooms the user is a member of, most recently joined first
func (m *MembershipCoordinator) ListByUserID(ctx context.Context, userID string, limit, offset int) ([]*model.RoomWithMemberCount, error) {
	rooms, err := m.store.ListByUserID(ctx, userID, limit, offset)
	if err != nil {
		return nil, m.fail("Failed to list user rooms", "", userID, err)
	}
	return rooms, nil
}

// fail logs unexpected errors and maps them for the caller. Domain
// rejections are not logged as errors.
func (m *MembershipCoordinator) fail(msg, roomID, userID string, err error) error {
	mapped := mapStoreError(err)
	if apperrors.GetHTTPStatus(mapped) >= 500 {
		m.logger.Error(msg,
			zap.String("room_id", roomID),
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
	return mapped
}

func copyRoom(r *model.Room) *model.Room {
	cp := *r
	return &cp
}

func copyMember(rm *model.RoomMember) *model.RoomMember {
	cp := *rm
	return &cp
}
