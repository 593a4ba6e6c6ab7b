package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-demo/watchparty/internal/model"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// RoomRepository is the PostgreSQL RoomStore
type RoomRepository struct {
	db *sqlx.DB
}

func NewRoomRepository(db *sqlx.DB) *RoomRepository {
	return &RoomRepository{db: db}
}

var _ RoomStore = (*RoomRepository)(nil)

// Postgres error codes worth a retry
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
	pgQueryCanceled        = "57014"
	pgUniqueViolation      = "23505"
	pgInvalidText          = "22P02"
)

func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable, pgQueryCanceled:
			return fmt.Errorf("%w: %v", ErrTransient, err)
		case pgInvalidText:
			// Room IDs are the only UUID inputs; a malformed one names no room
			return ErrRoomNotFound
		}
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation
}

func (r *RoomRepository) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return classify(err)
	}

	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// CreateRoom inserts the room, its owner membership and its initial playback
// state in one transaction
func (r *RoomRepository) CreateRoom(ctx context.Context, room *model.Room, owner *model.RoomMember, state *model.PlaybackState) error {
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		roomQuery := `
			INSERT INTO rooms (owner_id, name, description, is_private, max_capacity)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, created_at, updated_at`

		if err := tx.QueryRowxContext(ctx, roomQuery,
			room.OwnerID,
			room.Name,
			room.Description,
			room.IsPrivate,
			room.MaxCapacity,
		).Scan(&room.ID, &room.CreatedAt, &room.UpdatedAt); err != nil {
			return fmt.Errorf("failed to create room: %w", err)
		}

		owner.RoomID = room.ID
		memberQuery := `
			INSERT INTO room_members (room_id, user_id, role)
			VALUES ($1, $2, $3)
			RETURNING id, joined_at`

		if err := tx.QueryRowxContext(ctx, memberQuery,
			owner.RoomID,
			owner.UserID,
			owner.Role,
		).Scan(&owner.ID, &owner.JoinedAt); err != nil {
			return fmt.Errorf("failed to add owner: %w", err)
		}

		state.RoomID = room.ID
		stateQuery := `
			INSERT INTO playback_states (room_id, version, is_playing, position_seconds)
			VALUES ($1, $2, $3, $4)
			RETURNING updated_at`

		if err := tx.QueryRowxContext(ctx, stateQuery,
			state.RoomID,
			state.Version,
			state.IsPlaying,
			state.PositionSeconds,
		).Scan(&state.UpdatedAt); err != nil {
			return fmt.Errorf("failed to create playback state: %w", err)
		}

		return nil
	})
}

// GetRoom retrieves a room by ID
func (r *RoomRepository) GetRoom(ctx context.Context, id string) (*model.Room, error) {
	var room model.Room
	query := `SELECT * FROM rooms WHERE id = $1`

	if err := r.db.GetContext(ctx, &room, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, classify(fmt.Errorf("failed to get room by id: %w", err))
	}

	return &room, nil
}

// GetRoomWithMemberCount retrieves a room by ID with member count
func (r *RoomRepository) GetRoomWithMemberCount(ctx context.Context, id string) (*model.RoomWithMemberCount, error) {
	var room model.RoomWithMemberCount
	query := `
		SELECT r.*, COUNT(rm.id) as member_count
		FROM rooms r
		LEFT JOIN room_members rm ON r.id = rm.room_id
		WHERE r.id = $1
		GROUP BY r.id`

	if err := r.db.GetContext(ctx, &room, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, classify(fmt.Errorf("failed to get room with member count: %w", err))
	}

	return &room, nil
}

// UpdateRoom updates the room's display metadata and capacity
func (r *RoomRepository) UpdateRoom(ctx context.Context, room *model.Room) error {
	query := `
		UPDATE rooms
		SET name = $2, description = $3, is_private = $4, max_capacity = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	err := r.db.QueryRowxContext(ctx, query,
		room.ID,
		room.Name,
		room.Description,
		room.IsPrivate,
		room.MaxCapacity,
	).Scan(&room.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrRoomNotFound
		}
		return classify(fmt.Errorf("failed to update room: %w", err))
	}

	return nil
}

// DeleteRoom deletes a room; members and playback state go with it via
// ON DELETE CASCADE
func (r *RoomRepository) DeleteRoom(ctx context.Context, id string) error {
	query := `DELETE FROM rooms WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return classify(fmt.Errorf("failed to delete room: %w", err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrRoomNotFound
	}

	return nil
}

// ListPublic lists rooms that are not private
func (r *RoomRepository) ListPublic(ctx context.Context, limit, offset int) ([]*model.RoomWithMemberCount, error) {
	query := `
		SELECT r.*, COUNT(rm.id) as member_count
		FROM rooms r
		LEFT JOIN room_members rm ON r.id = rm.room_id
		WHERE r.is_private = FALSE
		GROUP BY r.id
		ORDER BY r.created_at DESC
		LIMIT $1 OFFSET $2`

	rooms := make([]*model.RoomWithMemberCount, 0)
	if err := r.db.SelectContext(ctx, &rooms, query, limit, offset); err != nil {
		return nil, classify(fmt.Errorf("failed to list public rooms: %w", err))
	}

	return rooms, nil
}

// ListByUserID lists rooms that user is a member of
func (r *RoomRepository) ListByUserID(ctx context.Context, userID string, limit, offset int) ([]*model.RoomWithMemberCount, error) {
	query := `
		SELECT r.*, COUNT(rm2.id) as member_count
		FROM rooms r
		INNER JOIN room_members rm ON r.id = rm.room_id AND rm.user_id = $1
		LEFT JOIN room_members rm2 ON r.id = rm2.room_id
		GROUP BY r.id, rm.joined_at
		ORDER BY rm.joined_at DESC
		LIMIT $2 OFFSET $3`

	rooms := make([]*model.RoomWithMemberCount, 0)
	if err := r.db.SelectContext(ctx, &rooms, query, userID, limit, offset); err != nil {
		return nil, classify(fmt.Errorf("failed to list user rooms: %w", err))
	}

	return rooms, nil
}

// AddMember adds a user to a room. The room row is locked for the duration of
// the capacity check so concurrent joins on other instances cannot overshoot.
func (r *RoomRepository) AddMember(ctx context.Context, member *model.RoomMember) error {
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		var maxCapacity int
		lockQuery := `SELECT max_capacity FROM rooms WHERE id = $1 FOR UPDATE`
		if err := tx.GetContext(ctx, &maxCapacity, lockQuery, member.RoomID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrRoomNotFound
			}
			return fmt.Errorf("failed to lock room: %w", err)
		}

		var exists bool
		existsQuery := `SELECT EXISTS(SELECT 1 FROM room_members WHERE room_id = $1 AND user_id = $2)`
		if err := tx.GetContext(ctx, &exists, existsQuery, member.RoomID, member.UserID); err != nil {
			return fmt.Errorf("failed to check membership: %w", err)
		}
		if exists {
			return ErrAlreadyRoomMember
		}

		var count int
		countQuery := `SELECT COUNT(*) FROM room_members WHERE room_id = $1`
		if err := tx.GetContext(ctx, &count, countQuery, member.RoomID); err != nil {
			return fmt.Errorf("failed to count members: %w", err)
		}
		if count >= maxCapacity {
			return ErrRoomFull
		}

		query := `
			INSERT INTO room_members (room_id, user_id, role)
			VALUES ($1, $2, $3)
			RETURNING id, joined_at`

		err := tx.QueryRowxContext(ctx, query,
			member.RoomID,
			member.UserID,
			member.Role,
		).Scan(&member.ID, &member.JoinedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrAlreadyRoomMember
			}
			return fmt.Errorf("failed to add member: %w", err)
		}

		return nil
	})
}

// RemoveMember removes a user from a room
func (r *RoomRepository) RemoveMember(ctx context.Context, roomID, userID string) error {
	query := `DELETE FROM room_members WHERE room_id = $1 AND user_id = $2`

	result, err := r.db.ExecContext(ctx, query, roomID, userID)
	if err != nil {
		return classify(fmt.Errorf("failed to remove member: %w", err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotRoomMember
	}

	return nil
}

// GetMember retrieves a room member
func (r *RoomRepository) GetMember(ctx context.Context, roomID, userID string) (*model.RoomMember, error) {
	var member model.RoomMember
	query := `SELECT * FROM room_members WHERE room_id = $1 AND user_id = $2`

	if err := r.db.GetContext(ctx, &member, query, roomID, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotRoomMember
		}
		return nil, classify(fmt.Errorf("failed to get member: %w", err))
	}

	return &member, nil
}

// ListMembers lists all members of a room, owner first
func (r *RoomRepository) ListMembers(ctx context.Context, roomID string) ([]*model.RoomMember, error) {
	query := `
		SELECT *
		FROM room_members
		WHERE room_id = $1
		ORDER BY (role = 'OWNER') DESC, joined_at`

	members := make([]*model.RoomMember, 0)
	if err := r.db.SelectContext(ctx, &members, query, roomID); err != nil {
		return nil, classify(fmt.Errorf("failed to list members: %w", err))
	}

	return members, nil
}

// CountMembers counts room members
func (r *RoomRepository) CountMembers(ctx context.Context, roomID string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM room_members WHERE room_id = $1`

	if err := r.db.GetContext(ctx, &count, query, roomID); err != nil {
		return 0, classify(fmt.Errorf("failed to count members: %w", err))
	}

	return count, nil
}

// GetPlaybackState retrieves the playback state of a room
func (r *RoomRepository) GetPlaybackState(ctx context.Context, roomID string) (*model.PlaybackState, error) {
	var state model.PlaybackState
	query := `SELECT * FROM playback_states WHERE room_id = $1`

	if err := r.db.GetContext(ctx, &state, query, roomID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, classify(fmt.Errorf("failed to get playback state: %w", err))
	}

	return &state, nil
}

// UpdatePlaybackState is a compare-and-set on the version column
func (r *RoomRepository) UpdatePlaybackState(ctx context.Context, state *model.PlaybackState, expectedVersion int64) error {
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		query := `
			UPDATE playback_states
			SET media_id = $3, position_seconds = $4, duration_seconds = $5, is_playing = $6,
				version = $7, last_updated_by = $8, updated_at = $9
			WHERE room_id = $1 AND version = $2`

		result, err := tx.ExecContext(ctx, query,
			state.RoomID,
			expectedVersion,
			state.MediaID,
			state.PositionSeconds,
			state.DurationSeconds,
			state.IsPlaying,
			state.Version,
			state.LastUpdatedBy,
			state.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to update playback state: %w", err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			var exists bool
			existsQuery := `SELECT EXISTS(SELECT 1 FROM playback_states WHERE room_id = $1)`
			if err := tx.GetContext(ctx, &exists, existsQuery, state.RoomID); err != nil {
				return fmt.Errorf("failed to check playback state: %w", err)
			}
			if !exists {
				return ErrRoomNotFound
			}
			return ErrVersionConflict
		}

		roomQuery := `UPDATE rooms SET current_media_id = $2, updated_at = NOW() WHERE id = $1`
		if _, err := tx.ExecContext(ctx, roomQuery, state.RoomID, state.MediaID); err != nil {
			return fmt.Errorf("failed to update current media: %w", err)
		}

		return nil
	})
}
